package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/scrylabs/scry/internal/metrics"
)

const (
	// DefaultModel is the embedding model used when none is configured
	DefaultModel = "text-embedding-3-small"
	// DefaultDimensions is the vector width of the default model
	DefaultDimensions = 1536

	// Provider batch limits. maxBatchChars approximates the provider's
	// 8,000-token request budget at 4 chars per token.
	maxBatchItems = 16
	maxBatchChars = 32000

	requestTimeout      = 30 * time.Second
	maxRateLimitRetries = 5
	maxTransientRetries = 3
)

// EmbeddingAPI is the provider call surface. One call embeds one batch;
// the returned slice is aligned with the input order.
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIAdapter implements EmbeddingAPI against an OpenAI-compatible endpoint.
type OpenAIAdapter struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewOpenAIAdapter creates an adapter for the configured provider endpoint.
// An empty endpoint uses the default OpenAI base URL.
func NewOpenAIAdapter(apiKey, endpoint string, model openai.EmbeddingModel, dimensions int) *OpenAIAdapter {
	if model == "" {
		model = openai.EmbeddingModel(DefaultModel)
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		clientCfg.BaseURL = endpoint
	}
	return &OpenAIAdapter{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		dimensions: dimensions,
	}
}

// CreateEmbeddings calls the provider and returns vectors in input order.
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: a.model,
	}
	// Only v3 models accept an explicit dimensions parameter.
	if a.dimensions > 0 && strings.HasPrefix(string(a.model), "text-embedding-3") {
		req.Dimensions = a.dimensions
	}

	resp, err := a.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	// The provider reports an index per datum; trust it over response order.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("provider returned out-of-range embedding index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Config configures the embedding client.
type Config struct {
	APIKey     string
	Endpoint   string
	Model      string
	Dimensions int
}

// Client batches, retries and validates embedding generation.
type Client struct {
	api        EmbeddingAPI
	model      string
	dimensions int

	// Delay schedules are per-batch; overridable in tests.
	newRateLimitDelay func() backoff.BackOff
	newTransientDelay func() backoff.BackOff
}

// NewClient creates a client backed by the OpenAI-compatible provider.
func NewClient(cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return NewClientWithAPI(
		NewOpenAIAdapter(cfg.APIKey, cfg.Endpoint, openai.EmbeddingModel(model), dimensions),
		model,
		dimensions,
	)
}

// NewClientWithAPI creates a client over an existing EmbeddingAPI.
func NewClientWithAPI(api EmbeddingAPI, model string, dimensions int) *Client {
	if model == "" {
		model = DefaultModel
	}
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Client{
		api:               api,
		model:             model,
		dimensions:        dimensions,
		newRateLimitDelay: newRateLimitBackOff,
		newTransientDelay: newTransientBackOff,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Embed returns one vector per input text, in input order. Inputs are split
// into provider-sized batches transparently; a failure in any batch fails
// the whole call with a typed *Error.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, newError(KindInvalidInput, ErrEmptyBatch)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, newError(KindInvalidInput, fmt.Errorf("text %d: %w", i, ErrEmptyText))
		}
	}

	out := make([][]float32, 0, len(texts))
	for _, batch := range splitBatches(texts) {
		vectors, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	rateLimitDelay := c.newRateLimitDelay()
	transientDelay := c.newTransientDelay()
	rateLimitRetries := 0
	transientRetries := 0

	for {
		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		vectors, err := c.api.CreateEmbeddings(callCtx, batch)
		cancel()
		metrics.EmbeddingRequestDuration.WithLabelValues(c.model).Observe(time.Since(start).Seconds())
		metrics.EmbeddingBatchSize.Observe(float64(len(batch)))

		if err == nil {
			if dimErr := c.checkDimensions(vectors); dimErr != nil {
				metrics.EmbeddingRequestsTotal.WithLabelValues(c.model, string(KindInvalidInput)).Inc()
				return nil, newError(KindInvalidInput, dimErr)
			}
			metrics.EmbeddingRequestsTotal.WithLabelValues(c.model, "ok").Inc()
			return vectors, nil
		}

		kind := classify(err)
		switch kind {
		case KindRateLimited:
			rateLimitRetries++
			if rateLimitRetries > maxRateLimitRetries {
				metrics.EmbeddingRequestsTotal.WithLabelValues(c.model, string(kind)).Inc()
				return nil, newError(KindRateLimited, err)
			}
			if waitErr := wait(ctx, rateLimitDelay.NextBackOff()); waitErr != nil {
				metrics.EmbeddingRequestsTotal.WithLabelValues(c.model, string(KindTimeout)).Inc()
				return nil, newError(KindTimeout, waitErr)
			}
		case KindProviderUnavailable:
			transientRetries++
			if transientRetries > maxTransientRetries {
				metrics.EmbeddingRequestsTotal.WithLabelValues(c.model, string(kind)).Inc()
				return nil, newError(KindProviderUnavailable, err)
			}
			if waitErr := wait(ctx, transientDelay.NextBackOff()); waitErr != nil {
				metrics.EmbeddingRequestsTotal.WithLabelValues(c.model, string(KindTimeout)).Inc()
				return nil, newError(KindTimeout, waitErr)
			}
		default:
			metrics.EmbeddingRequestsTotal.WithLabelValues(c.model, string(kind)).Inc()
			return nil, newError(kind, err)
		}
	}
}

func (c *Client) checkDimensions(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != c.dimensions {
			return fmt.Errorf("vector %d has %d dimensions, expected %d: %w", i, len(v), c.dimensions, ErrWrongDimensions)
		}
	}
	return nil
}

// splitBatches packs texts greedily while respecting the provider's item
// and char budgets. A single oversized text still gets its own batch.
func splitBatches(texts []string) [][]string {
	batches := make([][]string, 0, 1)
	current := make([]string, 0, maxBatchItems)
	chars := 0

	for _, t := range texts {
		size := utf8.RuneCountInString(t)
		if len(current) > 0 && (len(current) >= maxBatchItems || chars+size > maxBatchChars) {
			batches = append(batches, current)
			current = make([]string, 0, maxBatchItems)
			chars = 0
		}
		current = append(current, t)
		chars += size
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// classify maps a provider failure onto the retry taxonomy.
func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return kindForStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return kindForStatus(reqErr.HTTPStatusCode)
	}

	// Transport-level failure (DNS, connection refused, reset).
	return KindProviderUnavailable
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindProviderUnavailable
	case status >= 400:
		return KindInvalidInput
	default:
		return KindProviderUnavailable
	}
}

// newRateLimitBackOff doubles from 500ms up to the 30s ceiling.
func newRateLimitBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// newTransientBackOff keeps delays short and jittered for network blips.
func newTransientBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Second
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
