package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds every call to the remote store so a slow or dead
// service degrades into an error instead of a hang
const DefaultTimeout = 30 * time.Second

// ClientConfig configures the remote vector store client
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a REST client for the remote vector store service
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

var _ Store = (*Client)(nil)

// NewClient creates a remote vector store client
func NewClient(cfg ClientConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Upsert writes rows into a namespace, creating it on first write
func (c *Client) Upsert(ctx context.Context, namespace string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	body := map[string]any{"rows": rows}
	return c.do(ctx, http.MethodPost, c.nsURL(namespace, "upsert"), body, nil)
}

// Query runs a single-list retrieval (vector or text)
func (c *Client) Query(ctx context.Context, namespace string, q Query) ([]ScoredRow, error) {
	body := map[string]any{"limit": q.Limit}
	if len(q.Vector) > 0 {
		body["vector"] = q.Vector
	}
	if q.Text != "" {
		body["text"] = q.Text
	}
	if len(q.Filters) > 0 {
		body["filters"] = q.Filters
	}

	var resp struct {
		Rows []rawScoredRow `json:"rows"`
	}
	if err := c.do(ctx, http.MethodPost, c.nsURL(namespace, "query"), body, &resp); err != nil {
		return nil, err
	}
	return decodeScoredRows(resp.Rows)
}

// HybridQuery runs vector and lexical retrieval in one call and returns both
// ranked lists
func (c *Client) HybridQuery(ctx context.Context, namespace string, q HybridQuery) (*HybridResult, error) {
	body := map[string]any{
		"vector": q.Vector,
		"text":   q.Text,
		"limit":  q.Limit,
	}

	var resp struct {
		VectorRows  []rawScoredRow `json:"vector_rows"`
		LexicalRows []rawScoredRow `json:"lexical_rows"`
	}
	if err := c.do(ctx, http.MethodPost, c.nsURL(namespace, "hybrid_query"), body, &resp); err != nil {
		return nil, err
	}

	vectorRows, err := decodeScoredRows(resp.VectorRows)
	if err != nil {
		return nil, err
	}
	lexicalRows, err := decodeScoredRows(resp.LexicalRows)
	if err != nil {
		return nil, err
	}
	return &HybridResult{VectorRows: vectorRows, LexicalRows: lexicalRows}, nil
}

// NamespaceExists reports whether a namespace has been created
func (c *Client) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nsURL(namespace, ""), nil)
	if err != nil {
		return false, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("vector store request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("vector store returned %d", resp.StatusCode)
	}
}

// DeleteNamespace removes a namespace and all of its rows
func (c *Client) DeleteNamespace(ctx context.Context, namespace string) error {
	return c.do(ctx, http.MethodDelete, c.nsURL(namespace, ""), nil, nil)
}

// DeleteByIDs removes specific rows from a namespace
func (c *Client) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"ids": ids}
	return c.do(ctx, http.MethodPost, c.nsURL(namespace, "delete"), body, nil)
}

func (c *Client) nsURL(namespace, op string) string {
	u := fmt.Sprintf("%s/v1/namespaces/%s", c.baseURL, url.PathEscape(namespace))
	if op != "" {
		u += "/" + op
	}
	return u
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vector store request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNamespaceNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("vector store returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// rawScoredRow is the wire shape before boundary decoding
type rawScoredRow struct {
	Score float64        `json:"score"`
	Row   map[string]any `json:"row"`
}

func decodeScoredRows(raw []rawScoredRow) ([]ScoredRow, error) {
	rows := make([]ScoredRow, 0, len(raw))
	for _, r := range raw {
		row, err := decodeRow(r.Row)
		if err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		rows = append(rows, ScoredRow{Row: row, Score: r.Score})
	}
	return rows, nil
}
