// Package config provides configuration loading for the codemap server:
// YAML file, environment overrides, and defaults mirroring the tunables of
// the extraction, indexing, and search pipelines.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// DataDir holds snapshots, locks, the registry, and the symbol store
	DataDir string `yaml:"data_dir"`
	Debug   bool   `yaml:"debug"`

	Extractor   ExtractorConfig   `yaml:"extractor"`
	Indexer     IndexerConfig     `yaml:"indexer"`
	Search      SearchConfig      `yaml:"search"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Reranker    RerankerConfig    `yaml:"reranker"`
}

// ExtractorConfig holds chunk extraction settings
type ExtractorConfig struct {
	MinChunkSize  int `yaml:"min_chunk_size"`
	MaxChunkSize  int `yaml:"max_chunk_size"`
	MergeGap      int `yaml:"merge_gap"`
	FallbackLines int `yaml:"fallback_lines"`
	WindowSize    int `yaml:"window_size"`
	WindowOverlap int `yaml:"window_overlap"`
}

// IndexerConfig holds incremental indexing settings
type IndexerConfig struct {
	// HashRecheckWindow bounds how long after indexing a same-size,
	// same-mtime file still gets its content re-hashed. Same-mtime edits
	// older than this window are missed; that is a deliberate cost
	// trade-off.
	HashRecheckWindow time.Duration `yaml:"hash_recheck_window"`
	LockStaleAfter    time.Duration `yaml:"lock_stale_after"`
	UploadBatchSize   int           `yaml:"upload_batch_size"`
	UploadBatchDelay  time.Duration `yaml:"upload_batch_delay"`
	Concurrency       int           `yaml:"concurrency"`
}

// SearchConfig holds retrieval and fusion settings
type SearchConfig struct {
	RRFK             float64       `yaml:"rrf_k"`
	RRFScale         float64       `yaml:"rrf_scale"`
	VectorWeight     float64       `yaml:"vector_weight"`
	LexicalWeight    float64       `yaml:"lexical_weight"`
	SymbolWeight     float64       `yaml:"symbol_weight"`
	OverlapThreshold float64       `yaml:"overlap_threshold"`
	DependencyBoost  float64       `yaml:"dependency_boost"`
	CacheSize        int           `yaml:"cache_size"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

// EmbeddingConfig holds embedding provider settings
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	CacheSize int    `yaml:"cache_size"`
}

// VectorStoreConfig holds remote vector store settings
type VectorStoreConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RerankerConfig holds rerank service settings
type RerankerConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Default returns the configuration defaults
func Default() *Config {
	dataDir := filepath.Join(os.TempDir(), "codemap")
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".codemap")
	}
	return &Config{
		DataDir: dataDir,
		Extractor: ExtractorConfig{
			MinChunkSize:  100,
			MaxChunkSize:  2000,
			MergeGap:      100,
			FallbackLines: 50,
			WindowSize:    30 * 1024,
			WindowOverlap: 2 * 1024,
		},
		Indexer: IndexerConfig{
			HashRecheckWindow: 24 * time.Hour,
			LockStaleAfter:    30 * time.Minute,
			UploadBatchSize:   30,
			UploadBatchDelay:  200 * time.Millisecond,
			Concurrency:       4,
		},
		Search: SearchConfig{
			RRFK:             60,
			RRFScale:         1.0,
			VectorWeight:     0.6,
			LexicalWeight:    0.4,
			SymbolWeight:     0.3,
			OverlapThreshold: 0.7,
			DependencyBoost:  0.5,
			CacheSize:        1000,
			CacheTTL:         5 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			CacheSize: 10000,
		},
		VectorStore: VectorStoreConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load builds the config from defaults, an optional YAML file, and
// environment overrides, in that order. A missing file is not an error; an
// unreadable or unparsable one is.
func Load(path string) (*Config, error) {
	// Pick up a local .env if present; missing is fine.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipelines cannot run with
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Extractor.MinChunkSize >= c.Extractor.MaxChunkSize {
		return fmt.Errorf("min_chunk_size (%d) must be below max_chunk_size (%d)",
			c.Extractor.MinChunkSize, c.Extractor.MaxChunkSize)
	}
	if c.Extractor.WindowOverlap >= c.Extractor.WindowSize {
		return fmt.Errorf("window_overlap (%d) must be below window_size (%d)",
			c.Extractor.WindowOverlap, c.Extractor.WindowSize)
	}
	if c.Search.OverlapThreshold <= 0 || c.Search.OverlapThreshold > 1 {
		return fmt.Errorf("overlap_threshold must be in (0, 1], got %f", c.Search.OverlapThreshold)
	}
	if c.Indexer.UploadBatchSize <= 0 {
		return fmt.Errorf("upload_batch_size must be positive")
	}
	return nil
}

// applyEnv layers CODEMAP_* environment variables over the config
func applyEnv(cfg *Config) {
	setString(&cfg.DataDir, "CODEMAP_DATA_DIR")
	setBool(&cfg.Debug, "CODEMAP_DEBUG")

	setString(&cfg.Embedding.Provider, "CODEMAP_EMBEDDING_PROVIDER")
	setString(&cfg.Embedding.BaseURL, "CODEMAP_EMBEDDING_BASE_URL")
	setString(&cfg.Embedding.Model, "CODEMAP_EMBEDDING_MODEL")

	setString(&cfg.VectorStore.BaseURL, "CODEMAP_VECTOR_STORE_URL")
	setString(&cfg.Reranker.BaseURL, "CODEMAP_RERANKER_URL")
	setString(&cfg.Reranker.Model, "CODEMAP_RERANKER_MODEL")
	setBool(&cfg.Reranker.Enabled, "CODEMAP_RERANKER_ENABLED")

	setDuration(&cfg.Indexer.HashRecheckWindow, "CODEMAP_HASH_RECHECK_WINDOW")
	setDuration(&cfg.Indexer.LockStaleAfter, "CODEMAP_LOCK_STALE_AFTER")
	setInt(&cfg.Indexer.Concurrency, "CODEMAP_CONCURRENCY")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}
