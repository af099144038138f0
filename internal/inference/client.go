// Package inference provides clients for the embedding and generation
// service (an Ollama-compatible HTTP API).
//
// The service's request and response shapes vary across versions, so
// every call site goes through a tagged-union parser that tries each
// known shape in a fixed order and fails closed with ErrNoUsableShape
// rather than returning malformed data.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input text.
	ErrEmptyInput = errors.New("empty or nil input text")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrExternalService indicates the service call failed after
	// exhausting all shape and candidate fallbacks.
	ErrExternalService = errors.New("inference service call failed")

	// ErrNoUsableShape indicates the service responded but no known
	// response shape yielded usable data.
	ErrNoUsableShape = errors.New("no usable shape in inference response")
)

// Config holds inference service settings.
type Config struct {
	// BaseURL is the service base URL, e.g. http://localhost:11434.
	BaseURL string
	// EmbedModels is the ordered embedding-model candidate list.
	EmbedModels []string
	// ChatModel is the generation model.
	ChatModel string

	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

// Client calls the inference service. The embedding model is pinned
// once per process by ResolveEmbedModel; all embedding calls after
// that use the pinned model so one collection never mixes dimensions.
type Client struct {
	config  Config
	client  *http.Client
	logger  *zap.Logger
	metrics *Metrics

	// model is the pinned embedding model. Written once during
	// startup resolution, read-only afterwards.
	model string
}

// NewClient creates an inference client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EmbedTimeout == 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if cfg.GenerateTimeout == 0 {
		cfg.GenerateTimeout = 180 * time.Second
	}
	return &Client{
		config:  cfg,
		client:  &http.Client{},
		logger:  logger,
		metrics: NewMetrics(logger),
	}, nil
}

// Model returns the pinned embedding model, empty until resolution.
func (c *Client) Model() string {
	return c.model
}

// ChatModel returns the configured generation model.
func (c *Client) ChatModel() string {
	return c.config.ChatModel
}

// embedPayloads enumerates the request-field variants accepted by
// different service versions, tried in order.
func embedPayloads(model, text string) []map[string]any {
	return []map[string]any{
		{"model": model, "input": text},
		{"model": model, "prompt": text},
		{"model": model, "inputs": []string{text}},
	}
}

// modelVariants returns the tag variants probed for a model name.
func modelVariants(model string) []string {
	if strings.Contains(model, ":") {
		return []string{model}
	}
	return []string{model, model + ":latest"}
}

// EmbedQuery generates an embedding for one text with the pinned model.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if c.model == "" {
		return nil, fmt.Errorf("%w: no embedding model resolved", ErrInvalidConfig)
	}
	return c.embedWithModel(ctx, c.model, text)
}

// EmbedDocuments generates embeddings for multiple texts with the
// pinned model. It fails fast on the first unembeddable text; callers
// that want skip-and-continue semantics call EmbedQuery per text.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	start := time.Now()
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.EmbedQuery(ctx, text)
		if err != nil {
			c.metrics.RecordEmbedding(ctx, c.model, "embed_documents", time.Since(start), len(texts), err)
			return nil, err
		}
		vectors[i] = vec
	}
	c.metrics.RecordEmbedding(ctx, c.model, "embed_documents", time.Since(start), len(texts), nil)
	return vectors, nil
}

// embedWithModel tries every model variant and payload shape in order
// before declaring failure.
func (c *Client) embedWithModel(ctx context.Context, model, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	start := time.Now()
	var lastErr error
	for _, variant := range modelVariants(model) {
		for _, payload := range embedPayloads(variant, text) {
			body, err := c.post(ctx, "/api/embeddings", payload, c.config.EmbedTimeout)
			if err != nil {
				lastErr = err
				continue
			}
			vec, err := parseEmbedding(body)
			if err != nil {
				lastErr = err
				continue
			}
			c.metrics.RecordEmbedding(ctx, model, "embed_query", time.Since(start), 1, nil)
			return vec, nil
		}
	}

	err := fmt.Errorf("%w: embedding model %s: %v", ErrExternalService, model, lastErr)
	c.metrics.RecordEmbedding(ctx, model, "embed_query", time.Since(start), 1, err)
	return nil, err
}

// Generate calls the generation endpoint with stream disabled and
// parses the response across known shapes.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt cannot be empty", ErrEmptyInput)
	}

	payload := map[string]any{
		"model":  c.config.ChatModel,
		"prompt": prompt,
		"stream": false,
	}
	body, err := c.post(ctx, "/api/generate", payload, c.config.GenerateTimeout)
	if err != nil {
		return "", fmt.Errorf("%w: generation: %v", ErrExternalService, err)
	}

	text, err := parseGeneration(body)
	if err != nil {
		return "", err
	}
	return text, nil
}

// post issues a JSON POST and returns the raw response body.
func (c *Client) post(ctx context.Context, path string, payload any, timeout time.Duration) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.config.BaseURL, "/")+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

// get issues a GET and returns the raw response body.
func (c *Client) get(ctx context.Context, path string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(c.config.BaseURL, "/")+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return body, nil
}

// Healthy reports whether the service's model-listing endpoint responds.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.get(ctx, "/api/tags", 5*time.Second)
	return err == nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
