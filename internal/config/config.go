package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the assistant core configuration
type Config struct {
	Log          LogConfig          `yaml:"log"`
	Recognition  RecognitionConfig  `yaml:"recognition"`
	Conversation ConversationConfig `yaml:"conversation"`
	Patterns     PatternConfig      `yaml:"patterns"`
	Learning     LearningConfig     `yaml:"learning"`
	Code         CodeConfig         `yaml:"code"`
	Memory       MemoryConfig       `yaml:"memory"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Mode  string `yaml:"mode"`  // development, production
	Level string `yaml:"level"` // debug, info, warn, error
}

// RecognitionConfig tunes the intent recognizer
type RecognitionConfig struct {
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	FallbackConfidence  float64       `yaml:"fallback_confidence"`
	NeighborLimit       int           `yaml:"neighbor_limit"`
	CacheSize           int           `yaml:"cache_size"`
	CacheTTL            time.Duration `yaml:"cache_ttl"`
}

// ConversationConfig bounds per-session state
type ConversationConfig struct {
	WindowSize          int           `yaml:"window_size"`
	EntityTTL           time.Duration `yaml:"entity_ttl"`
	TopicLimit          int           `yaml:"topic_limit"`
	DemonstrativeWindow int           `yaml:"demonstrative_window"` // turns
}

// PatternConfig tunes the pattern matcher
type PatternConfig struct {
	MatchThreshold     float64 `yaml:"match_threshold"`
	HistoryLimit       int     `yaml:"history_limit"`
	AutoApplyThreshold float64 `yaml:"auto_apply_threshold"`
}

// LearningConfig tunes the learning engine
type LearningConfig struct {
	PatternConfidence    float64 `yaml:"pattern_confidence"`
	MaxPatternConfidence float64 `yaml:"max_pattern_confidence"`
	LearningRate         float64 `yaml:"learning_rate"`
	MinLearningRate      float64 `yaml:"min_learning_rate"`
	MaxLearningRate      float64 `yaml:"max_learning_rate"`
	CorrectionBumpEvery  int     `yaml:"correction_bump_every"`
	TimePatternLimit     int     `yaml:"time_pattern_limit"`
	FeedbackLimit        int     `yaml:"feedback_limit"`
	OutcomeWindow        int     `yaml:"outcome_window"`
	SuggestionMinUses    int     `yaml:"suggestion_min_uses"`
}

// CodeConfig tunes the code analyzer
type CodeConfig struct {
	CacheSize int `yaml:"cache_size"`
}

// MemoryConfig selects persistence and embedding backends
type MemoryConfig struct {
	SearchBackend  string `yaml:"search_backend"`  // memory, redis
	PatternBackend string `yaml:"pattern_backend"` // memory, badger

	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisIndex    string `yaml:"redis_index"`

	BadgerPath     string `yaml:"badger_path"`
	CorrectionsDB  string `yaml:"corrections_db"`  // sqlite path, empty disables the journal
	DgraphAlphaURL string `yaml:"dgraph_alpha_url"` // empty disables the entity graph

	EmbeddingProvider   string  `yaml:"embedding_provider"` // hash, ollama
	EmbeddingDimensions int     `yaml:"embedding_dimensions"`
	OllamaURL           string  `yaml:"ollama_url"`
	EmbeddingModel      string  `yaml:"embedding_model"`
	EmbeddingRPS        float64 `yaml:"embedding_rps"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Mode: "development", Level: "info"},
		Recognition: RecognitionConfig{
			SimilarityThreshold: 0.8,
			FallbackConfidence:  0.5,
			NeighborLimit:       5,
			CacheSize:           512,
			CacheTTL:            10 * time.Minute,
		},
		Conversation: ConversationConfig{
			WindowSize:          10,
			EntityTTL:           5 * time.Minute,
			TopicLimit:          5,
			DemonstrativeWindow: 3,
		},
		Patterns: PatternConfig{
			MatchThreshold:     0.75,
			HistoryLimit:       100,
			AutoApplyThreshold: 0.9,
		},
		Learning: LearningConfig{
			PatternConfidence:    0.7,
			MaxPatternConfidence: 0.9,
			LearningRate:         1.0,
			MinLearningRate:      0.5,
			MaxLearningRate:      2.0,
			CorrectionBumpEvery:  10,
			TimePatternLimit:     500,
			FeedbackLimit:        100,
			OutcomeWindow:        20,
			SuggestionMinUses:    3,
		},
		Code: CodeConfig{CacheSize: 128},
		Memory: MemoryConfig{
			SearchBackend:       "memory",
			PatternBackend:      "memory",
			RedisURL:            "localhost:6379",
			RedisIndex:          "assist:commands:idx",
			BadgerPath:          "~/.assistcore/patterns",
			EmbeddingProvider:   "hash",
			EmbeddingDimensions: 384,
			OllamaURL:           "http://localhost:11434",
			EmbeddingModel:      "nomic-embed-text",
			EmbeddingRPS:        20,
		},
	}
}

// Load reads a YAML file over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var problems []string

	inUnit := func(name string, v float64) {
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("%s must be within [0,1], got %v", name, v))
		}
	}
	inUnit("recognition.similarity_threshold", c.Recognition.SimilarityThreshold)
	inUnit("recognition.fallback_confidence", c.Recognition.FallbackConfidence)
	inUnit("patterns.match_threshold", c.Patterns.MatchThreshold)
	inUnit("learning.pattern_confidence", c.Learning.PatternConfidence)

	if c.Conversation.WindowSize <= 0 {
		problems = append(problems, "conversation.window_size must be positive")
	}
	if c.Learning.MinLearningRate > c.Learning.MaxLearningRate {
		problems = append(problems, "learning.min_learning_rate exceeds max_learning_rate")
	}
	switch c.Memory.SearchBackend {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("unknown memory.search_backend %q", c.Memory.SearchBackend))
	}
	switch c.Memory.PatternBackend {
	case "memory", "badger":
	default:
		problems = append(problems, fmt.Sprintf("unknown memory.pattern_backend %q", c.Memory.PatternBackend))
	}
	switch c.Memory.EmbeddingProvider {
	case "hash", "ollama":
	default:
		problems = append(problems, fmt.Sprintf("unknown memory.embedding_provider %q", c.Memory.EmbeddingProvider))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ExpandPath expands ~ to the home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
