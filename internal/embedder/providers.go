package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// Provider names
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"
)

// Batch limits
const (
	MaxBatchSize     = 100
	DefaultBatchSize = 50
)

// Default endpoints and models
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "text-embedding-3-small"
	OpenAIDimension      = 1536

	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "nomic-embed-text"
	OllamaDimension      = 768

	LocalDimension = 384
)

const providerTimeout = 60 * time.Second

// NormalizeVector scales a vector to unit length in place. Zero vectors are
// left untouched.
func NormalizeVector(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// OpenAIProvider calls any OpenAI-compatible /embeddings endpoint
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	cache   *Cache
	retry   RetryConfig
}

// NewOpenAIProvider creates an OpenAI-compatible embedding provider
func NewOpenAIProvider(baseURL, apiKey string, cache *Cache) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai requires an API key", ErrInvalidInput)
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if cache == nil {
		cache = NewCache(0)
	}
	return &OpenAIProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   DefaultOpenAIModel,
		client:  &http.Client{Timeout: providerTimeout},
		cache:   cache,
		retry:   DefaultRetryConfig(),
	}, nil
}

// Dimension returns the embedding dimension
func (p *OpenAIProvider) Dimension() int { return OpenAIDimension }

// Provider returns the provider name
func (p *OpenAIProvider) Provider() string { return ProviderOpenAI }

// Model returns the model name
func (p *OpenAIProvider) Model() string { return p.model }

// Close releases resources
func (p *OpenAIProvider) Close() error { return nil }

// GenerateEmbedding generates a single embedding, consulting the cache first
func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	hash := ComputeHash(req.Text)
	if emb, ok := p.cache.Get(hash); ok {
		return emb, nil
	}

	vectors, err := p.embed(ctx, []string{req.Text}, req.Model)
	if err != nil {
		return nil, err
	}

	emb := &Embedding{
		Vector:    vectors[0],
		Dimension: len(vectors[0]),
		Provider:  ProviderOpenAI,
		Model:     p.modelFor(req.Model),
		Hash:      hash,
	}
	p.cache.Set(hash, emb)
	return emb, nil
}

// GenerateBatch embeds multiple texts, batching API calls and reusing cached
// vectors
func (p *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d texts (limit %d)", ErrBatchTooLarge, len(req.Texts), MaxBatchSize)
	}

	model := p.modelFor(req.Model)
	embeddings := make([]*Embedding, len(req.Texts))

	// Collect cache misses, preserving original positions.
	var missing []string
	var missingIdx []int
	for i, text := range req.Texts {
		hash := ComputeHash(text)
		if emb, ok := p.cache.Get(hash); ok {
			embeddings[i] = emb
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		vectors, err := p.embed(ctx, missing, req.Model)
		if err != nil {
			return nil, err
		}
		for j, vec := range vectors {
			i := missingIdx[j]
			hash := ComputeHash(req.Texts[i])
			emb := &Embedding{
				Vector:    vec,
				Dimension: len(vec),
				Provider:  ProviderOpenAI,
				Model:     model,
				Hash:      hash,
			}
			p.cache.Set(hash, emb)
			embeddings[i] = emb
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOpenAI,
		Model:      model,
	}, nil
}

func (p *OpenAIProvider) modelFor(override string) string {
	if override != "" {
		return override
	}
	return p.model
}

func (p *OpenAIProvider) embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	payload := map[string]any{
		"model": p.modelFor(model),
		"input": texts,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	return retryWithBackoff(ctx, p.retry, func() ([][]float32, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("%w: status %d: %s", ErrProviderFailed, resp.StatusCode, bytes.TrimSpace(data))
		}

		var parsed struct {
			Data []struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", ErrProviderFailed, err)
		}
		if len(parsed.Data) != len(texts) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(parsed.Data), len(texts))
		}

		vectors := make([][]float32, len(texts))
		for _, d := range parsed.Data {
			if d.Index < 0 || d.Index >= len(vectors) {
				return nil, fmt.Errorf("%w: embedding index %d out of range", ErrProviderFailed, d.Index)
			}
			vectors[d.Index] = d.Embedding
		}
		return vectors, nil
	})
}

// OllamaProvider calls a local Ollama instance's /api/embed endpoint
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
	cache   *Cache
	retry   RetryConfig
}

// NewOllamaProvider creates an Ollama embedding provider
func NewOllamaProvider(baseURL, model string, cache *Cache) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if cache == nil {
		cache = NewCache(0)
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: providerTimeout},
		cache:   cache,
		retry:   DefaultRetryConfig(),
	}, nil
}

// Dimension returns the embedding dimension
func (p *OllamaProvider) Dimension() int { return OllamaDimension }

// Provider returns the provider name
func (p *OllamaProvider) Provider() string { return ProviderOllama }

// Model returns the model name
func (p *OllamaProvider) Model() string { return p.model }

// Close releases resources
func (p *OllamaProvider) Close() error { return nil }

// GenerateEmbedding generates a single embedding, consulting the cache first
func (p *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	hash := ComputeHash(req.Text)
	if emb, ok := p.cache.Get(hash); ok {
		return emb, nil
	}

	vectors, err := p.embed(ctx, []string{req.Text})
	if err != nil {
		return nil, err
	}

	emb := &Embedding{
		Vector:    vectors[0],
		Dimension: len(vectors[0]),
		Provider:  ProviderOllama,
		Model:     p.model,
		Hash:      hash,
	}
	p.cache.Set(hash, emb)
	return emb, nil
}

// GenerateBatch embeds multiple texts in one call
func (p *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d texts (limit %d)", ErrBatchTooLarge, len(req.Texts), MaxBatchSize)
	}

	embeddings := make([]*Embedding, len(req.Texts))

	var missing []string
	var missingIdx []int
	for i, text := range req.Texts {
		hash := ComputeHash(text)
		if emb, ok := p.cache.Get(hash); ok {
			embeddings[i] = emb
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		vectors, err := p.embed(ctx, missing)
		if err != nil {
			return nil, err
		}
		for j, vec := range vectors {
			i := missingIdx[j]
			hash := ComputeHash(req.Texts[i])
			emb := &Embedding{
				Vector:    vec,
				Dimension: len(vec),
				Provider:  ProviderOllama,
				Model:     p.model,
				Hash:      hash,
			}
			p.cache.Set(hash, emb)
			embeddings[i] = emb
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOllama,
		Model:      p.model,
	}, nil
}

func (p *OllamaProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]any{
		"model": p.model,
		"input": texts,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	return retryWithBackoff(ctx, p.retry, func() ([][]float32, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("%w: status %d: %s", ErrProviderFailed, resp.StatusCode, bytes.TrimSpace(data))
		}

		var parsed struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", ErrProviderFailed, err)
		}
		if len(parsed.Embeddings) != len(texts) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(parsed.Embeddings), len(texts))
		}
		return parsed.Embeddings, nil
	})
}

// LocalProvider produces deterministic hash-derived vectors. Useful for tests
// and offline development; semantic quality is intentionally not a goal.
type LocalProvider struct {
	cache *Cache
}

// NewLocalProvider creates a local deterministic provider
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	if cache == nil {
		cache = NewCache(0)
	}
	return &LocalProvider{cache: cache}, nil
}

// Dimension returns the embedding dimension
func (p *LocalProvider) Dimension() int { return LocalDimension }

// Provider returns the provider name
func (p *LocalProvider) Provider() string { return ProviderLocal }

// Model returns the model name
func (p *LocalProvider) Model() string { return "hash-v1" }

// Close releases resources
func (p *LocalProvider) Close() error { return nil }

// GenerateEmbedding produces a deterministic vector from the text hash
func (p *LocalProvider) GenerateEmbedding(_ context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	hash := ComputeHash(req.Text)
	if emb, ok := p.cache.Get(hash); ok {
		return emb, nil
	}

	emb := &Embedding{
		Vector:    hashVector(req.Text, LocalDimension),
		Dimension: LocalDimension,
		Provider:  ProviderLocal,
		Model:     p.Model(),
		Hash:      hash,
	}
	p.cache.Set(hash, emb)
	return emb, nil
}

// GenerateBatch embeds multiple texts
func (p *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      p.Model(),
	}, nil
}

// hashVector expands a text into a unit vector by chaining SHA-256 blocks
func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(text)
	i := 0
	for i < dim {
		sum := sha256.Sum256(seed)
		for j := 0; j+4 <= len(sum) && i < dim; j += 4 {
			bits := binary.BigEndian.Uint32(sum[j : j+4])
			// Map to [-1, 1)
			vec[i] = float32(int32(bits)) / float32(math.MaxInt32)
			i++
		}
		seed = sum[:]
	}
	NormalizeVector(vec)
	return vec
}
