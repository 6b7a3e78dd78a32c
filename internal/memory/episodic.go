package memory

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const commandKeyPrefix = "assist:cmd:"

// indexedTags are metadata keys stored as TAG fields and filtered server-side.
// Other filter keys are checked after retrieval.
var indexedTags = []string{MetaIntent, MetaSuccess, MetaUserID, MetaSessionID, MetaKind}

// RedisSearchStore implements SearchStore using Redis with vector indexing
type RedisSearchStore struct {
	client    *redis.Client
	embedder  EmbeddingGenerator
	indexName string
	ttl       time.Duration
}

// RedisOptions configures a RedisSearchStore
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Index    string
	TTL      time.Duration
}

// NewRedisSearchStore connects to Redis and ensures the vector index exists
func NewRedisSearchStore(ctx context.Context, opts RedisOptions, embedder EmbeddingGenerator) (*RedisSearchStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	index := opts.Index
	if index == "" {
		index = "assist:commands:idx"
	}

	store := &RedisSearchStore{
		client:    client,
		embedder:  embedder,
		indexName: index,
		ttl:       opts.TTL,
	}

	if err := store.createIndex(pingCtx, embedder.Dimensions()); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}

	return store, nil
}

// createIndex creates a Redis vector search index
func (s *RedisSearchStore) createIndex(ctx context.Context, dimensions int) error {
	if _, err := s.client.Do(ctx, "FT.INFO", s.indexName).Result(); err == nil {
		return nil
	}

	args := []interface{}{
		"FT.CREATE", s.indexName,
		"ON", "HASH",
		"PREFIX", "1", commandKeyPrefix,
		"SCHEMA",
		"content", "TEXT",
		"embedding", "VECTOR", "FLAT", "6",
		"DIM", dimensions,
		"DISTANCE_METRIC", "COSINE",
		"TYPE", "FLOAT32",
		"timestamp", "NUMERIC", "SORTABLE",
	}
	for _, tag := range indexedTags {
		args = append(args, tag, "TAG")
	}

	if err := s.client.Do(ctx, args...).Err(); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Store writes the record as a hash
func (s *RedisSearchStore) Store(ctx context.Context, content string, metadata map[string]string) (string, error) {
	emb, err := s.embedder.Generate(ctx, content)
	if err != nil {
		return "", fmt.Errorf("failed to generate embedding: %w", err)
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	id := commandKeyPrefix + uuid.NewString()
	fields := map[string]interface{}{
		"content":   content,
		"embedding": serializeEmbedding(emb),
		"timestamp": time.Now().Unix(),
		"metadata":  metadataJSON,
	}
	for _, tag := range indexedTags {
		if v, ok := metadata[tag]; ok {
			fields[tag] = v
		}
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, id, fields)
	if s.ttl > 0 {
		pipe.Expire(ctx, id, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to store record: %w", err)
	}

	return id, nil
}

// Search performs a KNN vector query with tag pre-filtering
func (s *RedisSearchStore) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	emb, err := s.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	k := opts.Limit
	if k <= 0 {
		k = 10
	}

	args := []interface{}{
		"FT.SEARCH", s.indexName,
		buildKNNQuery(opts.Filter, k),
		"PARAMS", "2", "query_vec", serializeEmbedding(emb),
		"SORTBY", "dist",
		"RETURN", "3", "content", "metadata", "dist",
		"LIMIT", "0", k,
		"DIALECT", "2",
	}

	raw, err := s.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := parseSearchResults(raw)

	filtered := results[:0]
	for _, r := range results {
		if matchesFilter(r.Metadata, opts.Filter) {
			filtered = append(filtered, r)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Similarity > filtered[j].Similarity
	})
	return filtered, nil
}

// Close closes the Redis connection
func (s *RedisSearchStore) Close() error {
	return s.client.Close()
}

// buildKNNQuery builds "(@tag:{v} ...)=>[KNN k @embedding $query_vec AS dist]"
func buildKNNQuery(filter map[string]string, k int) string {
	var clauses []string
	for _, tag := range indexedTags {
		if v, ok := filter[tag]; ok {
			clauses = append(clauses, fmt.Sprintf("@%s:{%s}", tag, escapeTag(v)))
		}
	}

	pre := "*"
	if len(clauses) > 0 {
		pre = "(" + strings.Join(clauses, " ") + ")"
	}
	return fmt.Sprintf("%s=>[KNN %d @embedding $query_vec AS dist]", pre, k)
}

// escapeTag escapes RediSearch tag punctuation
func escapeTag(v string) string {
	var b strings.Builder
	for _, r := range v {
		if strings.ContainsRune(",.<>{}[]\"':;!@#$%^&*()-+=~|/\\ ", r) {
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseSearchResults parses a RESP2 FT.SEARCH reply:
// [total, key1, [field, value, ...], key2, [...], ...]
func parseSearchResults(raw interface{}) []SearchResult {
	items, ok := raw.([]interface{})
	if !ok || len(items) < 3 {
		return []SearchResult{}
	}

	results := make([]SearchResult, 0, (len(items)-1)/2)
	for i := 1; i+1 < len(items); i += 2 {
		fields, ok := items[i+1].([]interface{})
		if !ok {
			continue
		}

		res := SearchResult{ID: fmt.Sprint(items[i]), Metadata: map[string]string{}}
		for j := 0; j+1 < len(fields); j += 2 {
			value := fmt.Sprint(fields[j+1])
			switch fmt.Sprint(fields[j]) {
			case "content":
				res.Content = value
			case "metadata":
				_ = json.Unmarshal([]byte(value), &res.Metadata)
			case "dist":
				if d, err := strconv.ParseFloat(value, 64); err == nil {
					res.Similarity = 1 - d
				}
			}
		}
		results = append(results, res)
	}
	return results
}

// serializeEmbedding converts a float32 slice to little-endian bytes for Redis
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, val := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}
	return buf
}
