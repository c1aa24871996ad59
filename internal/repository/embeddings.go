package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/scrylabs/scry/internal/domain"
)

// EmbeddingRepository handles embedding record persistence and vector search.
type EmbeddingRepository struct {
	db dbtx
}

// NewEmbeddingRepository creates a new embedding repository backed by a pool.
func NewEmbeddingRepository(db dbtx) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

// NewEmbeddingRepositoryWithTx creates an embedding repository that runs
// inside an existing transaction.
func NewEmbeddingRepositoryWithTx(tx pgx.Tx) *EmbeddingRepository {
	return &EmbeddingRepository{db: tx}
}

// Upsert writes an embedding record, replacing any previous vector for the
// same (item, field, model) and clearing the stale flag.
func (r *EmbeddingRepository) Upsert(ctx context.Context, record *domain.EmbeddingRecord) error {
	query := `
		INSERT INTO item_embeddings (item_id, field_kind, model, vector, generated_at, stale)
		VALUES ($1, $2, $3, $4, $5, false)
		ON CONFLICT (item_id, field_kind, model)
		DO UPDATE SET vector = EXCLUDED.vector, generated_at = EXCLUDED.generated_at, stale = false
	`

	_, err := r.db.Exec(ctx, query,
		record.ItemID,
		string(record.Field),
		record.Model,
		pgvector.NewVector(record.Vector),
		record.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}

	return nil
}

// UpsertMany writes a batch of embedding records in a single transaction.
// An item's title and body vectors land together or not at all, which keeps
// the missing-embedding predicate honest across crashes.
func (r *EmbeddingRepository) UpsertMany(ctx context.Context, records []*domain.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		txRepo := NewEmbeddingRepositoryWithTx(tx)
		for _, record := range records {
			if err := txRepo.Upsert(ctx, record); err != nil {
				return err
			}
		}
		return nil
	})
}

// SearchByVector returns the items most similar to the query vector within
// an owner scope. Each item scores as the maximum similarity across its
// field vectors, mapped from cosine distance to [0,1]. Stale vectors still
// participate so recently edited items do not vanish from results.
func (r *EmbeddingRepository) SearchByVector(ctx context.Context, query []float32, model, ownerScope string, topK int, minSimilarity float32) ([]*domain.ScoredItem, error) {
	sql := `
		SELECT i.id, i.item_type, i.title, i.body,
		       MAX((2 - (e.vector <=> $1)) / 2)::float8 AS similarity,
		       i.updated_at
		FROM item_embeddings e
		JOIN searchable_items i ON i.id = e.item_id
		WHERE e.model = $2
		  AND i.owner_scope = $3
		GROUP BY i.id
		HAVING MAX((2 - (e.vector <=> $1)) / 2) >= $4
		ORDER BY similarity DESC, i.updated_at DESC
		LIMIT $5
	`

	rows, err := r.db.Query(ctx, sql,
		pgvector.NewVector(query),
		model,
		ownerScope,
		minSimilarity,
		topK,
	)
	if err != nil {
		return nil, vectorSearchError(err)
	}
	defer rows.Close()

	results, err := scanScoredItems(rows)
	if err != nil {
		return nil, vectorSearchError(err)
	}

	return results, nil
}

// MarkStale flags every embedding of an item as outdated. Missing rows are
// not an error; an item without embeddings has nothing to invalidate.
func (r *EmbeddingRepository) MarkStale(ctx context.Context, itemID string) error {
	_, err := r.db.Exec(ctx, `UPDATE item_embeddings SET stale = true WHERE item_id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("failed to mark embeddings stale: %w", err)
	}

	return nil
}

// DeleteOrphans removes embedding rows whose item no longer exists and
// returns how many were swept.
func (r *EmbeddingRepository) DeleteOrphans(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM item_embeddings e
		WHERE NOT EXISTS (
			SELECT 1 FROM searchable_items i WHERE i.id = e.item_id
		)
	`

	cmdTag, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned embeddings: %w", err)
	}

	return cmdTag.RowsAffected(), nil
}

// CountItemsMissingEmbedding counts items with no fresh embedding for the
// given model. Stale rows count as missing so re-embedding picks them up.
func (r *EmbeddingRepository) CountItemsMissingEmbedding(ctx context.Context, model string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM searchable_items i
		WHERE NOT EXISTS (
			SELECT 1 FROM item_embeddings e
			WHERE e.item_id = i.id AND e.model = $1 AND NOT e.stale
		)
	`

	var count int
	if err := r.db.QueryRow(ctx, query, model).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items missing embeddings: %w", err)
	}

	return count, nil
}

// ListItemsMissingEmbedding pages through items with no fresh embedding for
// the given model, oldest first. The ordering is stable across calls so a
// caller can advance by offset past permanently failing items.
func (r *EmbeddingRepository) ListItemsMissingEmbedding(ctx context.Context, model string, limit, offset int) ([]*domain.Item, error) {
	query := `
		SELECT i.id, i.item_type, i.title, i.body, i.tags, i.owner_scope, i.created_at, i.updated_at
		FROM searchable_items i
		WHERE NOT EXISTS (
			SELECT 1 FROM item_embeddings e
			WHERE e.item_id = i.id AND e.model = $1 AND NOT e.stale
		)
		ORDER BY i.created_at, i.id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, model, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list items missing embeddings: %w", err)
	}
	defer rows.Close()

	return scanItemRows(rows)
}

// GetByItem returns all embedding records stored for an item.
func (r *EmbeddingRepository) GetByItem(ctx context.Context, itemID string) ([]*domain.EmbeddingRecord, error) {
	query := `
		SELECT item_id, field_kind, model, vector, generated_at, stale
		FROM item_embeddings
		WHERE item_id = $1
		ORDER BY field_kind, model
	`

	rows, err := r.db.Query(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get embeddings: %w", err)
	}
	defer rows.Close()

	var records []*domain.EmbeddingRecord
	for rows.Next() {
		record := &domain.EmbeddingRecord{}
		var field string
		var vec pgvector.Vector
		err := rows.Scan(
			&record.ItemID,
			&field,
			&record.Model,
			&vec,
			&record.GeneratedAt,
			&record.Stale,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		record.Field = domain.FieldKind(field)
		record.Vector = vec.Slice()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read embeddings: %w", err)
	}

	return records, nil
}

// scanScoredItems collects branch search hits from a result set. The score
// column is scanned as float8 to keep SQL expression types out of callers.
func scanScoredItems(rows pgx.Rows) ([]*domain.ScoredItem, error) {
	var results []*domain.ScoredItem
	for rows.Next() {
		hit := &domain.ScoredItem{}
		var itemType string
		var score float64
		err := rows.Scan(
			&hit.ItemID,
			&itemType,
			&hit.Title,
			&hit.Body,
			&score,
			&hit.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hit.Type = domain.ItemType(itemType)
		hit.Score = float32(score)
		results = append(results, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search hits: %w", err)
	}

	return results, nil
}

// vectorSearchError wraps storage failures so callers can detect an
// unavailable vector index with errors.Is. Context cancellation passes
// through untouched.
func vectorSearchError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrVectorIndexUnavailable, err)
}
