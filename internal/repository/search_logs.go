package repository

import (
	"context"
	"fmt"

	"github.com/scrylabs/scry/internal/search"
)

// SearchLogRepository persists served searches for quality analysis.
type SearchLogRepository struct {
	db dbtx
}

// NewSearchLogRepository creates a new search log repository backed by a pool.
func NewSearchLogRepository(db dbtx) *SearchLogRepository {
	return &SearchLogRepository{db: db}
}

// Create inserts one search log entry and returns its generated id.
func (r *SearchLogRepository) Create(ctx context.Context, entry *search.LogEntry) (string, error) {
	query := `
		INSERT INTO search_logs (query, owner_scope, mode, result_count, degraded, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id::text
	`

	var id string
	err := r.db.QueryRow(ctx, query,
		entry.Query,
		entry.OwnerScope,
		string(entry.Mode),
		entry.ResultCount,
		entry.Degraded,
		entry.DurationMS,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create search log: %w", err)
	}

	return id, nil
}
