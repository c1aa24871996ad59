package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrylabs/scry/internal/domain"
)

type MockEmbeddingStore struct {
	mock.Mock
}

func (m *MockEmbeddingStore) CountItemsMissingEmbedding(ctx context.Context, model string) (int, error) {
	args := m.Called(ctx, model)
	return args.Int(0), args.Error(1)
}

func (m *MockEmbeddingStore) ListItemsMissingEmbedding(ctx context.Context, model string, limit, offset int) ([]*domain.Item, error) {
	args := m.Called(ctx, model, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Item), args.Error(1)
}

func (m *MockEmbeddingStore) UpsertMany(ctx context.Context, records []*domain.EmbeddingRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockEmbeddingStore) DeleteOrphans(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbedder) Model() string {
	return "text-embedding-3-small"
}

const testModel = "text-embedding-3-small"

func testItem(id, title, body string) *domain.Item {
	return &domain.Item{
		ID:         id,
		Type:       domain.ItemTypeDocument,
		Title:      title,
		Body:       body,
		OwnerScope: "scope-a",
	}
}

func vectorsFor(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 0.5}
	}
	return out
}

func TestRunner_Run_ProcessesMissingItems(t *testing.T) {
	store := new(MockEmbeddingStore)
	embedder := new(MockEmbedder)
	runner := NewRunner(store, embedder, 5, 0)

	items := []*domain.Item{
		testItem("item-1", "first title", "first body"),
		testItem("item-2", "second title", "second body"),
	}
	texts := []string{"first title", "first body", "second title", "second body"}

	store.On("CountItemsMissingEmbedding", mock.Anything, testModel).Return(2, nil)
	store.On("ListItemsMissingEmbedding", mock.Anything, testModel, 5, 0).Return(items, nil).Once()
	store.On("ListItemsMissingEmbedding", mock.Anything, testModel, 5, 0).Return([]*domain.Item{}, nil).Once()
	embedder.On("Embed", mock.Anything, texts).Return(vectorsFor(texts), nil)
	store.On("UpsertMany", mock.Anything, mock.Anything).Return(nil)
	store.On("DeleteOrphans", mock.Anything).Return(int64(0), nil)

	stats, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 2, stats.Total)

	records := store.Calls[2].Arguments.Get(1).([]*domain.EmbeddingRecord)
	require.Len(t, records, 4)
	assert.Equal(t, "item-1", records[0].ItemID)
	assert.Equal(t, domain.FieldKindTitle, records[0].Field)
	assert.Equal(t, testModel, records[0].Model)
	assert.Equal(t, domain.FieldKindBody, records[1].Field)
	assert.False(t, records[0].Stale)

	store.AssertExpectations(t)
	embedder.AssertExpectations(t)
}

func TestRunner_Run_NothingMissing(t *testing.T) {
	store := new(MockEmbeddingStore)
	embedder := new(MockEmbedder)
	runner := NewRunner(store, embedder, 5, 0)

	store.On("CountItemsMissingEmbedding", mock.Anything, testModel).Return(0, nil)
	store.On("ListItemsMissingEmbedding", mock.Anything, testModel, 5, 0).Return([]*domain.Item{}, nil)
	store.On("DeleteOrphans", mock.Anything).Return(int64(0), nil)

	stats, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)
	assert.Equal(t, 0, stats.Total)
	embedder.AssertNotCalled(t, "Embed")
}

func TestRunner_Run_SkipsItemsWithoutText(t *testing.T) {
	store := new(MockEmbeddingStore)
	embedder := new(MockEmbedder)
	runner := NewRunner(store, embedder, 5, 0)

	store.On("CountItemsMissingEmbedding", mock.Anything, testModel).Return(1, nil)
	store.On("ListItemsMissingEmbedding", mock.Anything, testModel, 5, 0).
		Return([]*domain.Item{testItem("item-1", "", "   \n ")}, nil).Once()
	// The empty item stays missing; the next page starts past it.
	store.On("ListItemsMissingEmbedding", mock.Anything, testModel, 5, 1).
		Return([]*domain.Item{}, nil).Once()
	store.On("DeleteOrphans", mock.Anything).Return(int64(0), nil)

	stats, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)
	assert.Equal(t, 1, stats.Skipped)
	embedder.AssertNotCalled(t, "Embed")
	store.AssertExpectations(t)
}

func TestRunner_Run_FailedPageDoesNotStopTheRun(t *testing.T) {
	store := new(MockEmbeddingStore)
	embedder := new(MockEmbedder)
	runner := NewRunner(store, embedder, 2, 0)

	pageOne := []*domain.Item{
		testItem("item-1", "one", ""),
		testItem("item-2", "two", ""),
	}
	pageTwo := []*domain.Item{
		testItem("item-3", "three", ""),
	}

	store.On("CountItemsMissingEmbedding", mock.Anything, testModel).Return(3, nil)
	store.On("ListItemsMissingEmbedding", mock.Anything, testModel, 2, 0).Return(pageOne, nil).Once()
	embedder.On("Embed", mock.Anything, []string{"one", "two"}).
		Return(nil, errors.New("provider unavailable")).Once()
	store.On("ListItemsMissingEmbedding", mock.Anything, testModel, 2, 2).Return(pageTwo, nil).Once()
	embedder.On("Embed", mock.Anything, []string{"three"}).
		Return(vectorsFor([]string{"three"}), nil).Once()
	store.On("UpsertMany", mock.Anything, mock.Anything).Return(nil).Once()
	store.On("ListItemsMissingEmbedding", mock.Anything, testModel, 2, 2).Return([]*domain.Item{}, nil).Once()
	store.On("DeleteOrphans", mock.Anything).Return(int64(0), nil)

	stats, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 2, stats.Failed)
	store.AssertExpectations(t)
	embedder.AssertExpectations(t)
}

func TestRunner_Run_StoreFailureCountsPageAsFailed(t *testing.T) {
	store := new(MockEmbeddingStore)
	embedder := new(MockEmbedder)
	runner := NewRunner(store, embedder, 5, 0)

	store.On("CountItemsMissingEmbedding", mock.Anything, testModel).Return(1, nil)
	store.On("ListItemsMissingEmbedding", mock.Anything, testModel, 5, 0).
		Return([]*domain.Item{testItem("item-1", "one", "")}, nil).Once()
	embedder.On("Embed", mock.Anything, []string{"one"}).Return(vectorsFor([]string{"one"}), nil)
	store.On("UpsertMany", mock.Anything, mock.Anything).Return(errors.New("connection reset"))
	store.On("ListItemsMissingEmbedding", mock.Anything, testModel, 5, 1).
		Return([]*domain.Item{}, nil).Once()
	store.On("DeleteOrphans", mock.Anything).Return(int64(0), nil)

	stats, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Processed)
}

func TestRunner_Run_SweepsOrphans(t *testing.T) {
	store := new(MockEmbeddingStore)
	embedder := new(MockEmbedder)
	runner := NewRunner(store, embedder, 5, 0)

	store.On("CountItemsMissingEmbedding", mock.Anything, testModel).Return(0, nil)
	store.On("ListItemsMissingEmbedding", mock.Anything, testModel, 5, 0).Return([]*domain.Item{}, nil)
	store.On("DeleteOrphans", mock.Anything).Return(int64(3), nil)

	_, err := runner.Run(context.Background())

	require.NoError(t, err)
	store.AssertCalled(t, "DeleteOrphans", mock.Anything)
}

func TestRunner_Run_ContextCanceled(t *testing.T) {
	store := new(MockEmbeddingStore)
	embedder := new(MockEmbedder)
	runner := NewRunner(store, embedder, 5, time.Second)

	ctx, cancel := context.WithCancel(context.Background())

	store.On("CountItemsMissingEmbedding", mock.Anything, testModel).Return(2, nil)
	store.On("ListItemsMissingEmbedding", mock.Anything, testModel, 5, 0).
		Return([]*domain.Item{testItem("item-1", "one", "")}, nil).Once()
	embedder.On("Embed", mock.Anything, []string{"one"}).
		Run(func(args mock.Arguments) { cancel() }).
		Return(vectorsFor([]string{"one"}), nil)
	store.On("UpsertMany", mock.Anything, mock.Anything).Return(nil)

	stats, err := runner.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stats.Processed)
	store.AssertNotCalled(t, "DeleteOrphans", mock.Anything)
}
