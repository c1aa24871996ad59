package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrylabs/scry/internal/domain"
	"github.com/scrylabs/scry/internal/embedding"
)

type MockVectorSearcher struct {
	mock.Mock
}

func (m *MockVectorSearcher) SearchByVector(ctx context.Context, query []float32, model, ownerScope string, topK int, minSimilarity float32) ([]*domain.ScoredItem, error) {
	args := m.Called(ctx, query, model, ownerScope, topK, minSimilarity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ScoredItem), args.Error(1)
}

type MockKeywordSearcher struct {
	mock.Mock
}

func (m *MockKeywordSearcher) SearchByQuery(ctx context.Context, query, ownerScope string, topK int) ([]*domain.ScoredItem, error) {
	args := m.Called(ctx, query, ownerScope, topK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ScoredItem), args.Error(1)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbedder) Model() string {
	return "text-embedding-3-small"
}

type fakeCache struct {
	mu    sync.Mutex
	store map[string]*Response
	sets  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: make(map[string]*Response)}
}

func (f *fakeCache) Get(key string) (*Response, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp, ok := f.store[key]
	if !ok {
		return nil, false
	}
	copied := *resp
	return &copied, true
}

func (f *fakeCache) Set(key string, resp *Response, ownerScope string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[key] = resp
	f.sets++
}

type fakeLogWriter struct {
	mu      sync.Mutex
	entries []*LogEntry
}

func (f *fakeLogWriter) Create(ctx context.Context, entry *LogEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return "log-1", nil
}

func (f *fakeLogWriter) last() *LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return nil
	}
	return f.entries[len(f.entries)-1]
}

func scored(id string, score float32, updatedAt time.Time) *domain.ScoredItem {
	return &domain.ScoredItem{
		ItemID:    id,
		Type:      domain.ItemTypeDocument,
		Title:     "title " + id,
		Body:      "body " + id,
		Score:     score,
		UpdatedAt: updatedAt,
	}
}

func testConfig() Config {
	return Config{
		SemanticWeight:  0.6,
		KeywordWeight:   0.4,
		MinSimilarity:   0.55,
		SemanticEnabled: true,
	}
}

func TestEngine_HybridMergesBranches(t *testing.T) {
	vectors := new(MockVectorSearcher)
	keywords := new(MockKeywordSearcher)
	embedder := new(MockEmbedder)
	cache := newFakeCache()
	logs := &fakeLogWriter{}
	engine := NewEngine(vectors, keywords, embedder, cache, logs, testConfig())

	now := time.Now()
	vec := []float32{0.1, 0.2}
	embedder.On("EmbedOne", mock.Anything, "database timeout").Return(vec, nil)
	vectors.On("SearchByVector", mock.Anything, vec, "text-embedding-3-small", "scope-a", 10, float32(0.55)).
		Return([]*domain.ScoredItem{
			scored("item-a", 0.9, now),
			scored("item-b", 0.8, now),
		}, nil)
	keywords.On("SearchByQuery", mock.Anything, "database timeout", "scope-a", 10).
		Return([]*domain.ScoredItem{
			scored("item-c", 1.0, now),
			scored("item-b", 0.5, now),
		}, nil)

	resp, err := engine.Search(context.Background(), Request{
		Query:      "database timeout",
		OwnerScope: "scope-a",
	})

	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, resp.Mode)
	assert.False(t, resp.Degraded)
	assert.False(t, resp.Cached)
	require.Len(t, resp.Results, 3)

	// 0.6*0.9 > 0.6*0.8 > 0.4*1.0
	assert.Equal(t, "item-a", resp.Results[0].ItemID)
	assert.InDelta(t, 0.54, resp.Results[0].Score, 1e-6)
	assert.Equal(t, domain.MatchKindSemantic, resp.Results[0].Match)

	assert.Equal(t, "item-b", resp.Results[1].ItemID)
	assert.InDelta(t, 0.48, resp.Results[1].Score, 1e-6)
	assert.Equal(t, domain.MatchKindHybrid, resp.Results[1].Match)

	assert.Equal(t, "item-c", resp.Results[2].ItemID)
	assert.InDelta(t, 0.40, resp.Results[2].Score, 1e-6)
	assert.Equal(t, domain.MatchKindKeyword, resp.Results[2].Match)

	assert.Equal(t, 1, cache.sets)
	require.NotNil(t, logs.last())
	assert.Equal(t, 3, logs.last().ResultCount)
	assert.False(t, logs.last().Degraded)

	vectors.AssertExpectations(t)
	keywords.AssertExpectations(t)
	embedder.AssertExpectations(t)
}

func TestEngine_CacheHitSkipsBranches(t *testing.T) {
	vectors := new(MockVectorSearcher)
	keywords := new(MockKeywordSearcher)
	embedder := new(MockEmbedder)
	cache := newFakeCache()
	logs := &fakeLogWriter{}
	engine := NewEngine(vectors, keywords, embedder, cache, logs, testConfig())

	keywords.On("SearchByQuery", mock.Anything, "flaky deploys", "scope-a", 10).
		Return([]*domain.ScoredItem{scored("item-a", 0.7, time.Now())}, nil).Once()

	req := Request{Query: "flaky deploys", OwnerScope: "scope-a", Mode: ModeKeyword}

	first, err := engine.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := engine.Search(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	require.Len(t, second.Results, 1)
	assert.Equal(t, "item-a", second.Results[0].ItemID)

	keywords.AssertNumberOfCalls(t, "SearchByQuery", 1)
}

func TestEngine_NormalizedQueriesShareCacheEntry(t *testing.T) {
	vectors := new(MockVectorSearcher)
	keywords := new(MockKeywordSearcher)
	embedder := new(MockEmbedder)
	cache := newFakeCache()
	logs := &fakeLogWriter{}
	engine := NewEngine(vectors, keywords, embedder, cache, logs, testConfig())

	keywords.On("SearchByQuery", mock.Anything, "flaky deploys", "scope-a", 10).
		Return([]*domain.ScoredItem{scored("item-a", 0.7, time.Now())}, nil).Once()

	_, err := engine.Search(context.Background(), Request{Query: "  flaky \t deploys ", OwnerScope: "scope-a", Mode: ModeKeyword})
	require.NoError(t, err)

	resp, err := engine.Search(context.Background(), Request{Query: "flaky deploys", OwnerScope: "scope-a", Mode: ModeKeyword})
	require.NoError(t, err)
	assert.True(t, resp.Cached)
	assert.Equal(t, 1, cache.sets)
}

func TestEngine_DegradesToKeywordOnEmbedderFailure(t *testing.T) {
	vectors := new(MockVectorSearcher)
	keywords := new(MockKeywordSearcher)
	embedder := new(MockEmbedder)
	cache := newFakeCache()
	logs := &fakeLogWriter{}
	engine := NewEngine(vectors, keywords, embedder, cache, logs, testConfig())

	now := time.Now()
	embedder.On("EmbedOne", mock.Anything, "login fails").
		Return(nil, &embedding.Error{Kind: embedding.KindProviderUnavailable, Err: errors.New("bad gateway")})
	keywords.On("SearchByQuery", mock.Anything, "login fails", "scope-a", 10).
		Return([]*domain.ScoredItem{scored("item-a", 1.0, now)}, nil)

	resp, err := engine.Search(context.Background(), Request{Query: "login fails", OwnerScope: "scope-a"})

	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, ModeHybrid, resp.Mode)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, domain.MatchKindKeyword, resp.Results[0].Match)
	// Raw keyword score, not 0.4-weighted: only one branch survived.
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-6)

	assert.Equal(t, 0, cache.sets)
	require.NotNil(t, logs.last())
	assert.True(t, logs.last().Degraded)
	vectors.AssertNotCalled(t, "SearchByVector")
}

func TestEngine_DegradesOnVectorStoreFailure(t *testing.T) {
	vectors := new(MockVectorSearcher)
	keywords := new(MockKeywordSearcher)
	embedder := new(MockEmbedder)
	cache := newFakeCache()
	logs := &fakeLogWriter{}
	engine := NewEngine(vectors, keywords, embedder, cache, logs, testConfig())

	vec := []float32{0.3}
	embedder.On("EmbedOne", mock.Anything, "login fails").Return(vec, nil)
	vectors.On("SearchByVector", mock.Anything, vec, "text-embedding-3-small", "scope-a", 10, float32(0.55)).
		Return(nil, fmt.Errorf("%w: %v", domain.ErrVectorIndexUnavailable, errors.New("connection refused")))
	keywords.On("SearchByQuery", mock.Anything, "login fails", "scope-a", 10).
		Return([]*domain.ScoredItem{scored("item-a", 0.8, time.Now())}, nil)

	resp, err := engine.Search(context.Background(), Request{Query: "login fails", OwnerScope: "scope-a"})

	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, domain.MatchKindKeyword, resp.Results[0].Match)
	assert.Equal(t, 0, cache.sets)
}

func TestEngine_SemanticModeFailureReturnsTypedError(t *testing.T) {
	vectors := new(MockVectorSearcher)
	keywords := new(MockKeywordSearcher)
	embedder := new(MockEmbedder)
	engine := NewEngine(vectors, keywords, embedder, newFakeCache(), &fakeLogWriter{}, testConfig())

	embedder.On("EmbedOne", mock.Anything, "login fails").
		Return(nil, &embedding.Error{Kind: embedding.KindProviderUnavailable, Err: errors.New("bad gateway")})

	resp, err := engine.Search(context.Background(), Request{Query: "login fails", OwnerScope: "scope-a", Mode: ModeSemantic})

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, domain.ErrSemanticSearchUnavailable)
	assert.True(t, domain.IsRetryable(err))

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeUnavailable, domainErr.Code)
	keywords.AssertNotCalled(t, "SearchByQuery")
}

func TestEngine_SemanticModeRateLimited(t *testing.T) {
	vectors := new(MockVectorSearcher)
	keywords := new(MockKeywordSearcher)
	embedder := new(MockEmbedder)
	engine := NewEngine(vectors, keywords, embedder, newFakeCache(), &fakeLogWriter{}, testConfig())

	embedder.On("EmbedOne", mock.Anything, "login fails").
		Return(nil, &embedding.Error{Kind: embedding.KindRateLimited, Err: errors.New("too many requests")})

	_, err := engine.Search(context.Background(), Request{Query: "login fails", OwnerScope: "scope-a", Mode: ModeSemantic})

	require.Error(t, err)
	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeRateLimited, domainErr.Code)
	assert.True(t, domain.IsRetryable(err))
}

func TestEngine_KeywordModeSkipsSemanticBranch(t *testing.T) {
	vectors := new(MockVectorSearcher)
	keywords := new(MockKeywordSearcher)
	embedder := new(MockEmbedder)
	engine := NewEngine(vectors, keywords, embedder, newFakeCache(), &fakeLogWriter{}, testConfig())

	keywords.On("SearchByQuery", mock.Anything, "login fails", "scope-a", 10).
		Return([]*domain.ScoredItem{scored("item-a", 0.9, time.Now())}, nil)

	resp, err := engine.Search(context.Background(), Request{Query: "login fails", OwnerScope: "scope-a", Mode: ModeKeyword})

	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.InDelta(t, 0.9, resp.Results[0].Score, 1e-6)
	embedder.AssertNotCalled(t, "EmbedOne")
	vectors.AssertNotCalled(t, "SearchByVector")
}

func TestEngine_SemanticDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.SemanticEnabled = false

	vectors := new(MockVectorSearcher)
	keywords := new(MockKeywordSearcher)
	cache := newFakeCache()
	engine := NewEngine(vectors, keywords, nil, cache, &fakeLogWriter{}, cfg)

	keywords.On("SearchByQuery", mock.Anything, "login fails", "scope-a", 10).
		Return([]*domain.ScoredItem{scored("item-a", 0.9, time.Now())}, nil)

	// Hybrid serves keyword results without flagging degradation; nothing
	// failed, semantic simply is not configured.
	resp, err := engine.Search(context.Background(), Request{Query: "login fails", OwnerScope: "scope-a"})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.InDelta(t, 0.9, resp.Results[0].Score, 1e-6)
	assert.Equal(t, 1, cache.sets)

	// Explicitly asking for semantic is a hard error.
	_, err = engine.Search(context.Background(), Request{Query: "login fails", OwnerScope: "scope-a", Mode: ModeSemantic})
	assert.ErrorIs(t, err, domain.ErrSemanticSearchUnavailable)
}

func TestEngine_KeywordFailureDoesNotAbortHybrid(t *testing.T) {
	vectors := new(MockVectorSearcher)
	keywords := new(MockKeywordSearcher)
	embedder := new(MockEmbedder)
	cache := newFakeCache()
	engine := NewEngine(vectors, keywords, embedder, cache, &fakeLogWriter{}, testConfig())

	vec := []float32{0.3}
	embedder.On("EmbedOne", mock.Anything, "login fails").Return(vec, nil)
	vectors.On("SearchByVector", mock.Anything, vec, "text-embedding-3-small", "scope-a", 10, float32(0.55)).
		Return([]*domain.ScoredItem{scored("item-a", 0.9, time.Now())}, nil)
	keywords.On("SearchByQuery", mock.Anything, "login fails", "scope-a", 10).
		Return(nil, fmt.Errorf("%w: %v", domain.ErrKeywordIndexDegraded, errors.New("relation missing")))

	resp, err := engine.Search(context.Background(), Request{Query: "login fails", OwnerScope: "scope-a"})

	// Losing the lexical branch looks like a keyword query that matched
	// nothing: semantic results come back weighted and undegraded.
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "item-a", resp.Results[0].ItemID)
	assert.Equal(t, domain.MatchKindSemantic, resp.Results[0].Match)
	assert.InDelta(t, 0.54, resp.Results[0].Score, 1e-6)
	assert.Equal(t, 0, cache.sets)
}

func TestEngine_KeywordModeFailureServesEmpty(t *testing.T) {
	vectors := new(MockVectorSearcher)
	keywords := new(MockKeywordSearcher)
	cache := newFakeCache()
	engine := NewEngine(vectors, keywords, new(MockEmbedder), cache, &fakeLogWriter{}, testConfig())

	keywords.On("SearchByQuery", mock.Anything, "login fails", "scope-a", 10).
		Return(nil, fmt.Errorf("%w: %v", domain.ErrKeywordIndexDegraded, errors.New("relation missing")))

	resp, err := engine.Search(context.Background(), Request{Query: "login fails", OwnerScope: "scope-a", Mode: ModeKeyword})

	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.False(t, resp.Degraded)
	assert.Equal(t, 0, cache.sets)
}

func TestEngine_Validation(t *testing.T) {
	engine := NewEngine(new(MockVectorSearcher), new(MockKeywordSearcher), new(MockEmbedder), newFakeCache(), &fakeLogWriter{}, testConfig())

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "empty query",
			req:     Request{Query: "", OwnerScope: "scope-a"},
			wantErr: domain.ErrInvalidQuery,
		},
		{
			name:    "whitespace query",
			req:     Request{Query: "   \n\t ", OwnerScope: "scope-a"},
			wantErr: domain.ErrInvalidQuery,
		},
		{
			name:    "missing scope",
			req:     Request{Query: "login fails"},
			wantErr: domain.ErrScopeRequired,
		},
		{
			name:    "unknown mode",
			req:     Request{Query: "login fails", OwnerScope: "scope-a", Mode: "fuzzy"},
			wantErr: domain.ErrInvalidSearchMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Search(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, domain.IsRetryable(err))
		})
	}
}

func TestEngine_TopKClamping(t *testing.T) {
	vectors := new(MockVectorSearcher)
	keywords := new(MockKeywordSearcher)
	engine := NewEngine(vectors, keywords, new(MockEmbedder), newFakeCache(), &fakeLogWriter{}, testConfig())

	keywords.On("SearchByQuery", mock.Anything, "a", "scope-a", 10).
		Return([]*domain.ScoredItem{}, nil).Once()
	keywords.On("SearchByQuery", mock.Anything, "b", "scope-a", 100).
		Return([]*domain.ScoredItem{}, nil).Once()

	_, err := engine.Search(context.Background(), Request{Query: "a", OwnerScope: "scope-a", Mode: ModeKeyword})
	require.NoError(t, err)

	_, err = engine.Search(context.Background(), Request{Query: "b", OwnerScope: "scope-a", Mode: ModeKeyword, TopK: 5000})
	require.NoError(t, err)

	keywords.AssertExpectations(t)
}

func TestEngine_CollapsesConcurrentIdenticalMisses(t *testing.T) {
	vectors := new(MockVectorSearcher)
	keywords := new(MockKeywordSearcher)
	cache := newFakeCache()
	engine := NewEngine(vectors, keywords, new(MockEmbedder), cache, &fakeLogWriter{}, Config{SemanticEnabled: false})

	keywords.On("SearchByQuery", mock.Anything, "login fails", "scope-a", 10).
		Run(func(args mock.Arguments) { time.Sleep(30 * time.Millisecond) }).
		Return([]*domain.ScoredItem{scored("item-a", 0.9, time.Now())}, nil)

	var wg sync.WaitGroup
	responses := make([]*Response, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], errs[i] = engine.Search(context.Background(), Request{Query: "login fails", OwnerScope: "scope-a", Mode: ModeKeyword})
		}(i)
	}
	wg.Wait()

	keywords.AssertNumberOfCalls(t, "SearchByQuery", 1)
	for i := 0; i < 5; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, responses[i])
		require.Len(t, responses[i].Results, 1)
		assert.Equal(t, "item-a", responses[i].Results[0].ItemID)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{input: "", want: ModeHybrid},
		{input: "hybrid", want: ModeHybrid},
		{input: "semantic", want: ModeSemantic},
		{input: "keyword", want: ModeKeyword},
		{input: "fuzzy", wantErr: true},
		{input: "HYBRID", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("mode "+tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidSearchMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
