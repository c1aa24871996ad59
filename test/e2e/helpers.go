//go:build e2e

// Package e2e exercises the full service stack end to end: a real Postgres
// container with the pgvector extension, the HTTP server wired the same way
// the serve command wires it, and a local stand-in for the embedding
// provider so vector scores are reproducible across runs.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/scrylabs/scry/internal/api/handlers"
	"github.com/scrylabs/scry/internal/cache"
	"github.com/scrylabs/scry/internal/domain"
	"github.com/scrylabs/scry/internal/embedding"
	"github.com/scrylabs/scry/internal/jobs"
	"github.com/scrylabs/scry/internal/metrics"
	"github.com/scrylabs/scry/internal/repository"
	"github.com/scrylabs/scry/internal/search"
	"github.com/scrylabs/scry/internal/server"
	"github.com/scrylabs/scry/internal/testutil"
)

// E2ETestEnv holds all resources for an end-to-end test run.
type E2ETestEnv struct {
	T   *testing.T
	Ctx context.Context

	PostgresC *testutil.PostgresContainer
	Pool      *pgxpool.Pool
	Provider  *FakeEmbeddingProvider

	Items      *repository.ItemRepository
	Embeddings *repository.EmbeddingRepository
	Jobs       *repository.IndexJobRepository
	Cache      *cache.SearchCache
	Processor  *jobs.IndexProcessor
	Embedder   *embedding.Client

	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a fresh environment: container, schema, fake provider
// and a running HTTP server on a free port.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	t.Helper()
	ctx := context.Background()

	pc := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pc,
		Pool:       pool,
		Provider:   NewFakeEmbeddingProvider(),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	env.startServer()
	return env
}

// Cleanup releases all environment resources in reverse setup order.
func (env *E2ETestEnv) Cleanup() {
	if env.ServerCloser != nil {
		env.ServerCloser()
	}
	if env.Provider != nil {
		env.Provider.Close()
	}
	if env.Pool != nil {
		env.Pool.Close()
	}
	if env.PostgresC != nil {
		if err := env.PostgresC.Terminate(env.Ctx); err != nil {
			env.T.Logf("failed to terminate postgres container: %v", err)
		}
	}
}

// startServer wires repositories, cache, engine and router exactly as the
// serve command does, then serves them on a free localhost port. The index
// worker loop is deliberately not started: tests drain the job queue
// through ProcessIndexJobs so indexing happens at known points.
func (env *E2ETestEnv) startServer() {
	t := env.T
	t.Helper()

	metrics.Register()

	items := repository.NewItemRepository(env.Pool)
	embeddings := repository.NewEmbeddingRepository(env.Pool)
	keywords := repository.NewKeywordRepository(env.Pool)
	jobQueue := repository.NewIndexJobRepository(env.Pool)
	logs := repository.NewSearchLogRepository(env.Pool)

	searchCache, err := cache.New(1024, 5*time.Minute)
	require.NoError(t, err)

	embedder := embedding.NewClient(embedding.Config{
		APIKey:   "test-key",
		Endpoint: env.Provider.URL(),
	})

	engine := search.NewEngine(embeddings, keywords, embedder, searchCache, logs, search.Config{
		SemanticWeight:  0.6,
		KeywordWeight:   0.4,
		MinSimilarity:   0.55,
		SemanticEnabled: true,
	})

	router := server.NewRouter(server.RouterConfig{
		SearchHandler: handlers.NewSearchHandler(engine),
	})

	port := getFreePort(t)
	srv := &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", port),
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("test server stopped: %v", err)
		}
	}()

	env.Items = items
	env.Embeddings = embeddings
	env.Jobs = jobQueue
	env.Cache = searchCache
	env.Processor = jobs.NewIndexProcessor(jobQueue, items, embeddings, embedder, searchCache)
	env.Embedder = embedder
	env.ServerURL = fmt.Sprintf("http://localhost:%d", port)
	env.ServerCloser = func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			t.Logf("server shutdown: %v", err)
		}
	}

	waitForServer(t, env.ServerURL+"/health", 10*time.Second)
}

// SeedItem inserts an item through the repository. The insert trigger
// enqueues an index job; call ProcessIndexJobs when the test needs the
// item's embeddings materialized.
func (env *E2ETestEnv) SeedItem(id, ownerScope, title, body string, tags ...string) *domain.Item {
	env.T.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	item := domain.NewItem(id, domain.ItemTypeDocument, title, body, tags, ownerScope, now, now)
	require.NoError(env.T, env.Items.Create(env.Ctx, item))
	return item
}

// ProcessIndexJobs drains the pending job queue synchronously so tests
// control exactly when embeddings appear.
func (env *E2ETestEnv) ProcessIndexJobs() {
	env.T.Helper()
	for attempt := 0; attempt < 10; attempt++ {
		pending, err := env.Jobs.CountByStatus(env.Ctx, domain.JobStatusPending)
		require.NoError(env.T, err)
		if pending == 0 {
			return
		}
		require.NoError(env.T, env.Processor.ProcessJobs(env.Ctx))
	}
	env.T.Fatal("index jobs still pending after draining the queue")
}

// APIResponse is the envelope every JSON endpoint wraps its payload in.
// Error responses leave Data empty and fill the flat error fields.
type APIResponse struct {
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

// SearchPayload mirrors the search endpoint's data payload.
type SearchPayload struct {
	Results []struct {
		ItemID    string  `json:"item_id"`
		Title     string  `json:"title"`
		Snippet   string  `json:"snippet"`
		Score     float64 `json:"score"`
		Match     string  `json:"match"`
		Type      string  `json:"type"`
		UpdatedAt string  `json:"updated_at"`
	} `json:"results"`
	Mode     string `json:"mode"`
	Degraded bool   `json:"degraded"`
	Cached   bool   `json:"cached"`
	TookMS   int64  `json:"took_ms"`
}

// Search posts a search request and decodes the payload.
func (env *E2ETestEnv) Search(body map[string]any) (*SearchPayload, error) {
	resp, err := env.Post("/api/v1/search", body)
	if err != nil {
		return nil, err
	}
	var payload SearchPayload
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode search payload: %w", err)
	}
	return &payload, nil
}

// Get performs a GET request against the test server.
func (env *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return env.doRequest(http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body against the test server.
func (env *E2ETestEnv) Post(path string, body any) (*APIResponse, error) {
	return env.doRequest(http.MethodPost, path, body)
}

func (env *E2ETestEnv) doRequest(method, path string, body any) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(env.Ctx, method, env.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := env.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed APIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response envelope: %w", err)
	}
	return &parsed, nil
}

// FakeEmbeddingProvider serves the provider's embeddings endpoint with
// deterministic vectors. Each text becomes a unit vector over hashed word
// axes, so texts sharing words score high under cosine similarity while
// unrelated texts land on the 0.5 floor and fall below the similarity
// cutoff. A forced status code simulates provider outages.
type FakeEmbeddingProvider struct {
	server     *httptest.Server
	failStatus atomic.Int32
	requests   atomic.Int64
}

// NewFakeEmbeddingProvider starts the fake provider on a local listener.
func NewFakeEmbeddingProvider() *FakeEmbeddingProvider {
	f := &FakeEmbeddingProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", f.handleEmbeddings)
	f.server = httptest.NewServer(mux)
	return f
}

// URL returns the provider base URL for the embedding client's endpoint.
func (f *FakeEmbeddingProvider) URL() string {
	return f.server.URL
}

// Close shuts the provider down.
func (f *FakeEmbeddingProvider) Close() {
	f.server.Close()
}

// FailWith makes every subsequent request answer with the given status.
func (f *FakeEmbeddingProvider) FailWith(status int) {
	f.failStatus.Store(int32(status))
}

// Recover restores normal responses after FailWith.
func (f *FakeEmbeddingProvider) Recover() {
	f.failStatus.Store(0)
}

// Requests reports how many embedding calls the provider has served.
func (f *FakeEmbeddingProvider) Requests() int64 {
	return f.requests.Load()
}

func (f *FakeEmbeddingProvider) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)

	if status := f.failStatus.Load(); status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(status))
		fmt.Fprint(w, `{"error":{"message":"forced provider failure","type":"server_error"}}`)
		return
	}

	var req struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	type datum struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	}
	data := make([]datum, len(req.Input))
	for i, text := range req.Input {
		data[i] = datum{Object: "embedding", Embedding: wordVector(text), Index: i}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
		"model":  req.Model,
		"usage":  map[string]int{"prompt_tokens": 0, "total_tokens": 0},
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// wordVector embeds text as a normalized bag of words over hashed axes.
// Cosine similarity between two texts is then the overlap of their word
// sets, which makes ranking outcomes predictable from the seeded fixtures.
func wordVector(text string) []float32 {
	v := make([]float32, embedding.DefaultDimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()[]")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(word))
		v[h.Sum32()%embedding.DefaultDimensions]++
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		v[0] = 1
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server at %s did not become ready within %s", url, timeout)
}

func getFreePort(t *testing.T) int {
	t.Helper()
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	require.NoError(t, err)
	l, err := net.ListenTCP("tcp", addr)
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
