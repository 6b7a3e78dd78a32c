package intent

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quantumflow/assistcore/internal/models"
)

// cachedIntent holds a cached classification
type cachedIntent struct {
	intent   models.Intent
	cachedAt time.Time
}

// Cache is a bounded, TTL-expiring cache of rule classifications.
// Overflow evicts the least recently used entry.
type Cache struct {
	entries *lru.Cache[string, cachedIntent]
	ttl     time.Duration
	now     func() time.Time

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewCache creates a cache holding up to size entries for ttl.
// A background janitor drops expired entries until Close is called.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 512
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	entries, _ := lru.New[string, cachedIntent](size)
	c := &Cache{
		entries: entries,
		ttl:     ttl,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	c.wg.Add(1)
	go c.cleanup()
	return c
}

// Get retrieves a cached intent if still valid
func (c *Cache) Get(text string) (*models.Intent, bool) {
	key := normalizeQuery(text)
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.cachedAt) >= c.ttl {
		c.entries.Remove(key)
		return nil, false
	}
	in := entry.intent
	return &in, true
}

// Set stores a classification
func (c *Cache) Set(text string, in *models.Intent) {
	c.entries.Add(normalizeQuery(text), cachedIntent{intent: *in, cachedAt: c.now()})
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Close stops the janitor. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

// cleanup removes expired entries periodically
func (c *Cache) cleanup() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) purgeExpired() {
	now := c.now()
	for _, key := range c.entries.Keys() {
		if entry, ok := c.entries.Peek(key); ok && now.Sub(entry.cachedAt) >= c.ttl {
			c.entries.Remove(key)
		}
	}
}

// normalizeQuery creates a cache key from text
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
