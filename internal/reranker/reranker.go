// Package reranker re-scores candidate documents against a query using an
// external cross-encoder service. Reranking is an optional refinement step:
// callers treat failures as non-fatal and keep their original ranking.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a rerank call; the step is optional so a slow service
// should fail fast
const DefaultTimeout = 10 * time.Second

// ErrUnavailable is returned when the rerank service cannot be reached
var ErrUnavailable = errors.New("rerank service unavailable")

// RankedDoc is one reranked document: Index refers to the caller's input
// slice
type RankedDoc struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// Reranker re-orders documents by relevance to a query
type Reranker interface {
	// Rerank scores documents against the query and returns the top N by
	// descending relevance. The returned indices refer to the documents
	// slice.
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]RankedDoc, error)
}

// ClientConfig configures the remote rerank client
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls a rerank HTTP endpoint
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

var _ Reranker = (*Client)(nil)

// NewClient creates a rerank client
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
	}
}

// Rerank scores documents against the query via the remote service
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RankedDoc, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	payload := map[string]any{
		"query":     query,
		"documents": documents,
		"top_n":     topN,
	}
	if c.model != "" {
		payload["model"] = c.model
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(data))
	}

	var parsed struct {
		Results []RankedDoc `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	for _, doc := range parsed.Results {
		if doc.Index < 0 || doc.Index >= len(documents) {
			return nil, fmt.Errorf("rerank index %d out of range", doc.Index)
		}
	}
	return parsed.Results, nil
}

// Nop is a reranker that declines to rerank; callers fall back to their
// original ordering
type Nop struct{}

var _ Reranker = Nop{}

// Rerank always reports the service as unavailable
func (Nop) Rerank(context.Context, string, []string, int) ([]RankedDoc, error) {
	return nil, ErrUnavailable
}
