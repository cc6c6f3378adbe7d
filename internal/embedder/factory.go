package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	BaseURL   string
	APIKey    string
	Model     string
	CacheSize int
}

// NewFromEnv creates an embedder based on environment variables.
// Priority:
// 1. CODEMAP_EMBEDDING_PROVIDER (openai, ollama, local)
// 2. OPENAI_API_KEY present: openai
// 3. Default to local
func NewFromEnv() (Embedder, error) {
	return New(Config{
		Provider: os.Getenv("CODEMAP_EMBEDDING_PROVIDER"),
		BaseURL:  os.Getenv("CODEMAP_EMBEDDING_BASE_URL"),
		APIKey:   os.Getenv("OPENAI_API_KEY"),
		Model:    os.Getenv("CODEMAP_EMBEDDING_MODEL"),
	})
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	cache := NewCache(cfg.CacheSize)

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = detect(cfg)
	}

	switch provider {
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cache)
		if err != nil {
			return nil, err
		}
		if cfg.Model != "" {
			p.model = cfg.Model
		}
		return p, nil
	case ProviderOllama:
		return NewOllamaProvider(cfg.BaseURL, cfg.Model, cache)
	case ProviderLocal:
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be selected from the current
// environment
func DetectProvider() string {
	return detect(Config{
		Provider: os.Getenv("CODEMAP_EMBEDDING_PROVIDER"),
		APIKey:   os.Getenv("OPENAI_API_KEY"),
	})
}

func detect(cfg Config) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}
	if cfg.APIKey != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}
