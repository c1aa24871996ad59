// Package backfill walks items without stored embeddings and generates
// them in rate-friendly batches.
package backfill

import (
	"context"
	"log"
	"time"

	"github.com/scrylabs/scry/internal/domain"
	"github.com/scrylabs/scry/internal/metrics"
	"github.com/scrylabs/scry/internal/telemetry"
	"github.com/scrylabs/scry/internal/textprep"
)

// DefaultBatchSize bounds how many items one page embeds together. Two
// texts per item keeps a full page inside a single provider batch.
const DefaultBatchSize = 5

// EmbeddingStore is the persistence surface the runner needs.
type EmbeddingStore interface {
	CountItemsMissingEmbedding(ctx context.Context, model string) (int, error)
	ListItemsMissingEmbedding(ctx context.Context, model string, limit, offset int) ([]*domain.Item, error)
	UpsertMany(ctx context.Context, records []*domain.EmbeddingRecord) error
	DeleteOrphans(ctx context.Context) (int64, error)
}

// Embedder turns batches of text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Stats summarizes one backfill run. Processed items got embeddings,
// skipped items had no text to embed, failed items hit provider or
// storage errors and stay missing for the next run.
type Stats struct {
	Processed int
	Failed    int
	Skipped   int
	Total     int
}

// Runner pages through items missing embeddings and fills them in.
type Runner struct {
	store     EmbeddingStore
	embedder  Embedder
	batchSize int
	delay     time.Duration
}

// NewRunner creates a backfill runner. delay spaces out pages to stay
// polite to the embedding provider.
func NewRunner(store EmbeddingStore, embedder Embedder, batchSize int, delay time.Duration) *Runner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Runner{
		store:     store,
		embedder:  embedder,
		batchSize: batchSize,
		delay:     delay,
	}
}

// Run embeds every item currently missing an embedding and finishes with
// an orphan sweep. Items that skip or fail are left in place; paging
// offsets past them so the run always terminates, and a later run picks
// the failures up again. Run is idempotent: once everything has fresh
// embeddings it processes nothing.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	ctx, span := telemetry.StartSpan(ctx, "Runner.Run", telemetry.SpanAttributes{
		Operation: "backfill",
	})
	defer span.End()

	model := r.embedder.Model()

	total, err := r.store.CountItemsMissingEmbedding(ctx, model)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Total: total}
	log.Printf("backfill: %d items missing embeddings for model %s", total, model)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		// Everything already processed no longer matches the missing
		// predicate, so the page window starts past the skip and failure
		// residue only.
		offset := stats.Failed + stats.Skipped
		items, err := r.store.ListItemsMissingEmbedding(ctx, model, r.batchSize, offset)
		if err != nil {
			return stats, err
		}
		if len(items) == 0 {
			break
		}

		r.processPage(ctx, model, items, stats)

		if r.delay > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(r.delay):
			}
		}
	}

	swept, err := r.store.DeleteOrphans(ctx)
	if err != nil {
		log.Printf("backfill: orphan sweep failed: %v", err)
	} else if swept > 0 {
		log.Printf("backfill: swept %d orphaned embeddings", swept)
	}

	log.Printf("backfill: done processed=%d failed=%d skipped=%d total=%d",
		stats.Processed, stats.Failed, stats.Skipped, stats.Total)

	return stats, nil
}

// processPage embeds one page of items in a single provider call and
// stores the records atomically. A failure marks the whole page failed;
// items in it stay missing and are retried by a later run.
func (r *Runner) processPage(ctx context.Context, model string, items []*domain.Item, stats *Stats) {
	var (
		texts     []string
		fields    []domain.FieldKind
		owners    []string
		pageItems int
	)

	for _, item := range items {
		title := textprep.Normalize(item.Title)
		body := textprep.Normalize(item.Body)
		if title == "" && body == "" {
			stats.Skipped++
			metrics.BackfillItemsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		if title != "" {
			texts = append(texts, title)
			fields = append(fields, domain.FieldKindTitle)
			owners = append(owners, item.ID)
		}
		if body != "" {
			texts = append(texts, body)
			fields = append(fields, domain.FieldKindBody)
			owners = append(owners, item.ID)
		}
		pageItems++
	}
	if len(texts) == 0 {
		return
	}

	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		log.Printf("backfill: embedding page failed: %v", err)
		r.failPage(stats, pageItems)
		return
	}

	now := time.Now()
	records := make([]*domain.EmbeddingRecord, len(vectors))
	for i, vector := range vectors {
		records[i] = &domain.EmbeddingRecord{
			ItemID:      owners[i],
			Field:       fields[i],
			Model:       model,
			Vector:      vector,
			GeneratedAt: now,
		}
	}

	if err := r.store.UpsertMany(ctx, records); err != nil {
		log.Printf("backfill: storing page failed: %v", err)
		r.failPage(stats, pageItems)
		return
	}

	stats.Processed += pageItems
	metrics.BackfillItemsTotal.WithLabelValues("processed").Add(float64(pageItems))
}

func (r *Runner) failPage(stats *Stats, pageItems int) {
	stats.Failed += pageItems
	metrics.BackfillItemsTotal.WithLabelValues("failed").Add(float64(pageItems))
}
