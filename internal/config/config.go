package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL      string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"0"`
	DatabaseMinConns int32  `envconfig:"DATABASE_MIN_CONNS" default:"0"`

	EmbeddingEndpoint   string `envconfig:"EMBEDDING_PROVIDER_ENDPOINT"`
	EmbeddingAPIKey     string `envconfig:"EMBEDDING_API_KEY"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`

	SemanticSearchEnabled bool    `envconfig:"SEMANTIC_SEARCH_ENABLED" default:"true"`
	SemanticWeight        float32 `envconfig:"HYBRID_SEMANTIC_WEIGHT" default:"0.6"`
	KeywordWeight         float32 `envconfig:"HYBRID_KEYWORD_WEIGHT" default:"0.4"`
	MinSimilarity         float32 `envconfig:"SEARCH_MIN_SIMILARITY" default:"0.55"`

	CacheTTLSeconds int `envconfig:"SEARCH_CACHE_TTL_SECONDS" default:"300"`
	CacheMaxEntries int `envconfig:"SEARCH_CACHE_MAX_ENTRIES" default:"1000"`

	IndexPollSeconds int `envconfig:"INDEX_POLL_INTERVAL_SECONDS" default:"10"`

	BackfillBatchSize int `envconfig:"BACKFILL_BATCH_SIZE" default:"5"`
	BackfillDelayMs   int `envconfig:"BACKFILL_DELAY_MS" default:"2000"`

	SentryDSN string `envconfig:"SENTRY_DSN"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("SCRY", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate rejects weight and sizing values the search engine cannot work with.
func (c *Config) Validate() error {
	if c.SemanticWeight < 0 || c.SemanticWeight > 1 {
		return fmt.Errorf("HYBRID_SEMANTIC_WEIGHT must be in [0,1], got %v", c.SemanticWeight)
	}
	if c.KeywordWeight < 0 || c.KeywordWeight > 1 {
		return fmt.Errorf("HYBRID_KEYWORD_WEIGHT must be in [0,1], got %v", c.KeywordWeight)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("SEARCH_MIN_SIMILARITY must be in [0,1], got %v", c.MinSimilarity)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive, got %d", c.EmbeddingDimensions)
	}
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("SEARCH_CACHE_MAX_ENTRIES must be positive, got %d", c.CacheMaxEntries)
	}
	if c.BackfillBatchSize <= 0 {
		return fmt.Errorf("BACKFILL_BATCH_SIZE must be positive, got %d", c.BackfillBatchSize)
	}
	return nil
}

// HasEmbeddingProvider reports whether an embedding API key is configured.
// Without one the service runs keyword-only.
func (c *Config) HasEmbeddingProvider() bool {
	return c.EmbeddingAPIKey != ""
}

// SemanticActive reports whether the semantic branch may run at all.
func (c *Config) SemanticActive() bool {
	return c.SemanticSearchEnabled && c.HasEmbeddingProvider()
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) IndexPollInterval() time.Duration {
	return time.Duration(c.IndexPollSeconds) * time.Second
}

func (c *Config) BackfillDelay() time.Duration {
	return time.Duration(c.BackfillDelayMs) * time.Millisecond
}
