// Package search implements hybrid retrieval over searchable items,
// fusing semantic vector hits with lexical keyword hits.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/scrylabs/scry/internal/domain"
	"github.com/scrylabs/scry/internal/embedding"
	"github.com/scrylabs/scry/internal/metrics"
	"github.com/scrylabs/scry/internal/telemetry"
	"github.com/scrylabs/scry/internal/textprep"
)

// Mode selects which retrieval branches a search runs.
type Mode string

const (
	ModeHybrid   Mode = "hybrid"
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
)

// ParseMode validates a caller-supplied mode string. Empty defaults to
// hybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeHybrid, nil
	case ModeHybrid, ModeSemantic, ModeKeyword:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidSearchMode, s)
	}
}

const (
	// DefaultTopK applies when a request does not say how many results it
	// wants. MaxTopK caps what it may ask for.
	DefaultTopK = 10
	MaxTopK     = 100
)

// Request describes one search call.
type Request struct {
	Query      string
	OwnerScope string
	Mode       Mode
	TopK       int
}

// Response is the outcome of a search call. The Results slice may be
// shared with other requests and must be treated as read-only.
type Response struct {
	Results  []*domain.SearchResult
	Mode     Mode
	Degraded bool
	Cached   bool
	TookMS   int64
}

// LogEntry records one served search for offline quality analysis.
type LogEntry struct {
	Query       string
	OwnerScope  string
	Mode        Mode
	ResultCount int
	Degraded    bool
	DurationMS  int64
}

// VectorSearcher runs nearest-neighbor retrieval over stored embeddings.
type VectorSearcher interface {
	SearchByVector(ctx context.Context, query []float32, model, ownerScope string, topK int, minSimilarity float32) ([]*domain.ScoredItem, error)
}

// KeywordSearcher runs lexical retrieval over item text.
type KeywordSearcher interface {
	SearchByQuery(ctx context.Context, query, ownerScope string, topK int) ([]*domain.ScoredItem, error)
}

// Embedder turns query text into a vector.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// ResultCache stores recently served responses keyed by request shape.
// Get must hand back a copy the caller may modify.
type ResultCache interface {
	Get(key string) (*Response, bool)
	Set(key string, resp *Response, ownerScope string)
}

// LogWriter persists search log entries.
type LogWriter interface {
	Create(ctx context.Context, entry *LogEntry) (string, error)
}

// Config carries the ranking knobs for an Engine.
type Config struct {
	SemanticWeight  float32
	KeywordWeight   float32
	MinSimilarity   float32
	SemanticEnabled bool
}

// Engine coordinates the retrieval branches, fallback, caching and
// logging for search requests.
type Engine struct {
	vectors  VectorSearcher
	keywords KeywordSearcher
	embedder Embedder
	cache    ResultCache
	logs     LogWriter
	cfg      Config

	flight singleflight.Group
}

// NewEngine creates a search engine. embedder may be nil when
// cfg.SemanticEnabled is false; the semantic branch is never entered then.
func NewEngine(vectors VectorSearcher, keywords KeywordSearcher, embedder Embedder, cache ResultCache, logs LogWriter, cfg Config) *Engine {
	return &Engine{
		vectors:  vectors,
		keywords: keywords,
		embedder: embedder,
		cache:    cache,
		logs:     logs,
		cfg:      cfg,
	}
}

// Search serves one request: validate, consult the cache, run the branches,
// fuse, and record the outcome. Identical concurrent misses are collapsed
// into a single execution.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "Engine.Search", telemetry.SpanAttributes{
		OwnerScope: req.OwnerScope,
		Mode:       string(req.Mode),
		Operation:  "search",
	})
	defer span.End()

	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid search mode", err)
	}
	if mode == ModeSemantic && !e.cfg.SemanticEnabled {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeUnavailable, "semantic search is not enabled", domain.ErrSemanticSearchUnavailable)
	}

	query := textprep.Normalize(req.Query)
	if query == "" {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "query must not be empty", domain.ErrInvalidQuery)
	}
	if req.OwnerScope == "" {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "owner scope is required", domain.ErrScopeRequired)
	}
	topK := clampTopK(req.TopK)

	key := cacheKey(query, req.OwnerScope, mode, topK)
	if resp, ok := e.cache.Get(key); ok {
		metrics.SearchCacheTotal.WithLabelValues("hit").Inc()
		resp.Cached = true
		e.finish(ctx, query, req.OwnerScope, mode, resp, start)
		return resp, nil
	}
	metrics.SearchCacheTotal.WithLabelValues("miss").Inc()

	v, err, _ := e.flight.Do(key, func() (any, error) {
		return e.runSearch(ctx, query, req.OwnerScope, mode, topK, key)
	})
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(string(mode), "error").Inc()
		metrics.SearchDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
		return nil, err
	}

	// The flight result is shared between collapsed callers and may sit in
	// the cache; each caller gets its own envelope around the result set.
	shared := v.(*Response)
	resp := &Response{
		Results:  shared.Results,
		Mode:     shared.Mode,
		Degraded: shared.Degraded,
	}
	e.finish(ctx, query, req.OwnerScope, mode, resp, start)

	return resp, nil
}

// runSearch executes the branch fan-out and fusion for a cache miss.
func (e *Engine) runSearch(ctx context.Context, query, ownerScope string, mode Mode, topK int, key string) (*Response, error) {
	wantSemantic := e.cfg.SemanticEnabled && mode != ModeKeyword
	wantKeyword := mode != ModeSemantic

	var (
		semHits, kwHits []*domain.ScoredItem
		semErr, kwErr   error
	)

	// The branches run concurrently without a shared cancel so a semantic
	// failure cannot abort the keyword branch it falls back to.
	var wg sync.WaitGroup
	if wantKeyword {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kwHits, kwErr = e.keywords.SearchByQuery(ctx, query, ownerScope, topK)
		}()
	}
	if wantSemantic {
		semHits, semErr = e.semanticSearch(ctx, query, ownerScope, topK)
	}
	wg.Wait()

	// The keyword tier is the fallback and never fails a request. A broken
	// lexical query serves zero keyword hits under an unchanged contract, the
	// same as a query that matched nothing.
	kwDegraded := false
	if kwErr != nil {
		if errors.Is(kwErr, context.Canceled) || errors.Is(kwErr, context.DeadlineExceeded) {
			return nil, kwErr
		}
		log.Printf("keyword branch degraded, dropping lexical hits: %v", kwErr)
		metrics.SearchBranchDegradedTotal.WithLabelValues("keyword").Inc()
		kwHits = nil
		kwDegraded = true
	}

	degraded := false
	if semErr != nil {
		if mode == ModeSemantic {
			return nil, semanticFailure(semErr)
		}
		if !isDegradable(semErr) {
			return nil, semErr
		}
		log.Printf("semantic branch degraded, serving keyword only: %v", semErr)
		metrics.SearchBranchDegradedTotal.WithLabelValues("semantic").Inc()
		semHits = nil
		degraded = true
	}

	// Weights shape scores only when both branches really fused. A single
	// surviving branch reports its raw score.
	semWeight, kwWeight := float32(1), float32(1)
	if mode == ModeHybrid && e.cfg.SemanticEnabled && !degraded {
		semWeight, kwWeight = e.cfg.SemanticWeight, e.cfg.KeywordWeight
	}

	resp := &Response{
		Results:  fuse(semHits, kwHits, semWeight, kwWeight, topK),
		Mode:     mode,
		Degraded: degraded,
	}

	// Responses that lost a branch are not cached; the next request should
	// probe the failed branch again instead of pinning the loss for the TTL.
	if !degraded && !kwDegraded {
		e.cache.Set(key, resp, ownerScope)
	}

	return resp, nil
}

// semanticSearch embeds the query and retrieves its nearest items.
func (e *Engine) semanticSearch(ctx context.Context, query, ownerScope string, topK int) ([]*domain.ScoredItem, error) {
	vector, err := e.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}

	return e.vectors.SearchByVector(ctx, vector, e.embedder.Model(), ownerScope, topK, e.cfg.MinSimilarity)
}

// finish stamps timing on a response and records the serve in metrics and
// the search log.
func (e *Engine) finish(ctx context.Context, query, ownerScope string, mode Mode, resp *Response, start time.Time) {
	resp.TookMS = time.Since(start).Milliseconds()

	outcome := "ok"
	if resp.Degraded {
		outcome = "degraded"
	}
	metrics.SearchRequestsTotal.WithLabelValues(string(mode), outcome).Inc()
	metrics.SearchDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())

	entry := &LogEntry{
		Query:       query,
		OwnerScope:  ownerScope,
		Mode:        mode,
		ResultCount: len(resp.Results),
		Degraded:    resp.Degraded,
		DurationMS:  resp.TookMS,
	}
	if _, err := e.logs.Create(ctx, entry); err != nil {
		log.Printf("failed to write search log: %v", err)
	}
}

// isDegradable reports whether a semantic branch failure should fall back
// to keyword results instead of failing the request.
func isDegradable(err error) bool {
	var embedErr *embedding.Error
	if errors.As(err, &embedErr) {
		return true
	}
	return errors.Is(err, domain.ErrVectorIndexUnavailable)
}

func semanticFailure(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var embedErr *embedding.Error
	if errors.As(err, &embedErr) && embedErr.Kind == embedding.KindRateLimited {
		return domain.NewDomainErrorWithCause(domain.ErrCodeRateLimited, "embedding provider rate limited", err)
	}
	return domain.NewDomainErrorWithCause(domain.ErrCodeUnavailable, "semantic search is unavailable", fmt.Errorf("%w: %v", domain.ErrSemanticSearchUnavailable, err))
}

func clampTopK(topK int) int {
	if topK <= 0 {
		return DefaultTopK
	}
	if topK > MaxTopK {
		return MaxTopK
	}
	return topK
}

// cacheKey derives a stable key from the request shape after query
// normalization, so trivially different spellings of the same request
// share an entry.
func cacheKey(query, ownerScope string, mode Mode, topK int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d", query, ownerScope, mode, topK)
	return hex.EncodeToString(h.Sum(nil))
}
