package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/scrylabs/scry/internal/domain"
	"github.com/scrylabs/scry/internal/metrics"
	"github.com/scrylabs/scry/internal/telemetry"
	"github.com/scrylabs/scry/internal/textprep"
)

const (
	// MaxRetries is the maximum number of retries for a failed job
	MaxRetries = 3

	// DefaultClaimLimit bounds how many jobs one poll drains.
	DefaultClaimLimit = 10
)

// JobQueue defines the persistence surface for claiming and settling jobs.
type JobQueue interface {
	ClaimPending(ctx context.Context, limit int) ([]*domain.IndexJob, error)
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMsg string) error
	IncrementRetries(ctx context.Context, id string) error
}

// ItemReader loads items to index.
type ItemReader interface {
	GetByID(ctx context.Context, id string) (*domain.Item, error)
}

// EmbeddingWriter stores generated vectors and flags outdated ones.
type EmbeddingWriter interface {
	UpsertMany(ctx context.Context, records []*domain.EmbeddingRecord) error
	MarkStale(ctx context.Context, itemID string) error
}

// Embedder turns item text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// CacheInvalidator drops cached search responses that an index update may
// have invalidated.
type CacheInvalidator interface {
	InvalidateScope(ownerScope string) int
}

// IndexProcessor consumes index jobs: it re-embeds changed items, retires
// the vectors of deleted ones, and invalidates affected cached searches.
type IndexProcessor struct {
	queue      JobQueue
	items      ItemReader
	store      EmbeddingWriter
	embedder   Embedder
	cache      CacheInvalidator
	claimLimit int
}

// NewIndexProcessor creates a new IndexProcessor instance
func NewIndexProcessor(queue JobQueue, items ItemReader, store EmbeddingWriter, embedder Embedder, cache CacheInvalidator) *IndexProcessor {
	return &IndexProcessor{
		queue:      queue,
		items:      items,
		store:      store,
		embedder:   embedder,
		cache:      cache,
		claimLimit: DefaultClaimLimit,
	}
}

// ProcessJobs implements the JobProcessor interface
func (p *IndexProcessor) ProcessJobs(ctx context.Context) error {
	jobs, err := p.queue.ClaimPending(ctx, p.claimLimit)
	if err != nil {
		return fmt.Errorf("failed to claim pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Processing %d pending index jobs", len(jobs))

	for _, job := range jobs {
		if err := p.processJob(ctx, job); err != nil {
			log.Printf("Error processing job %s: %v", job.ID, err)
		}
	}

	return nil
}

func (p *IndexProcessor) processJob(ctx context.Context, job *domain.IndexJob) error {
	ctx, span := telemetry.StartSpan(ctx, "IndexProcessor.ProcessJob", telemetry.SpanAttributes{
		OwnerScope: job.OwnerScope,
		ItemID:     job.ItemID,
		Operation:  "index",
	})
	defer span.End()

	if err := p.indexItem(ctx, job); err != nil {
		return p.handleJobFailure(ctx, job, err)
	}

	if err := p.queue.UpdateStatus(ctx, job.ID, domain.JobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}
	metrics.IndexJobsTotal.WithLabelValues("completed").Inc()

	log.Printf("Job %s completed successfully", job.ID)
	return nil
}

// indexItem brings the stored vectors for a job's item up to date with its
// current text.
func (p *IndexProcessor) indexItem(ctx context.Context, job *domain.IndexJob) error {
	item, err := p.items.GetByID(ctx, job.ItemID)
	if errors.Is(err, domain.ErrItemNotFound) {
		// Deleted item. Its vectors are swept lazily; mark them stale now
		// and drop the scope's cached responses so it stops appearing.
		if err := p.store.MarkStale(ctx, job.ItemID); err != nil {
			return fmt.Errorf("failed to mark embeddings stale: %w", err)
		}
		p.cache.InvalidateScope(job.OwnerScope)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load item: %w", err)
	}

	var texts []string
	var fieldKinds []domain.FieldKind
	if title := textprep.Normalize(item.Title); title != "" {
		texts = append(texts, title)
		fieldKinds = append(fieldKinds, domain.FieldKindTitle)
	}
	if body := textprep.Normalize(item.Body); body != "" {
		texts = append(texts, body)
		fieldKinds = append(fieldKinds, domain.FieldKindBody)
	}
	if len(texts) == 0 {
		p.cache.InvalidateScope(item.OwnerScope)
		return nil
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed item %s: %w", item.ID, err)
	}

	now := time.Now()
	records := make([]*domain.EmbeddingRecord, len(vectors))
	for i, vector := range vectors {
		records[i] = &domain.EmbeddingRecord{
			ItemID:      item.ID,
			Field:       fieldKinds[i],
			Model:       p.embedder.Model(),
			Vector:      vector,
			GeneratedAt: now,
		}
	}
	if err := p.store.UpsertMany(ctx, records); err != nil {
		return fmt.Errorf("failed to store embeddings for item %s: %w", item.ID, err)
	}

	p.cache.InvalidateScope(item.OwnerScope)
	return nil
}

// handleJobFailure handles a failed job with retry logic
func (p *IndexProcessor) handleJobFailure(ctx context.Context, job *domain.IndexJob, jobErr error) error {
	log.Printf("Job %s failed: %v", job.ID, jobErr)

	if err := p.queue.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if job.Retries+1 >= MaxRetries {
		log.Printf("Job %s exceeded max retries (%d), marking as failed", job.ID, MaxRetries)
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := p.queue.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		metrics.IndexJobsTotal.WithLabelValues("failed").Inc()
		return nil
	}

	log.Printf("Job %s will be retried (attempt %d/%d)", job.ID, job.Retries+1, MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := p.queue.UpdateStatus(ctx, job.ID, domain.JobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}
	metrics.IndexJobsTotal.WithLabelValues("retried").Inc()

	return nil
}
