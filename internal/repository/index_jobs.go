package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/scrylabs/scry/internal/domain"
)

// IndexJobRepository handles the index job queue. Jobs are normally
// enqueued by the database trigger on item writes; Create exists for
// manual requeues and tests.
type IndexJobRepository struct {
	db dbtx
}

// NewIndexJobRepository creates a new index job repository backed by a pool.
func NewIndexJobRepository(db dbtx) *IndexJobRepository {
	return &IndexJobRepository{db: db}
}

// Create inserts a new index job and fills in the generated id and
// creation time.
func (r *IndexJobRepository) Create(ctx context.Context, job *domain.IndexJob) error {
	query := `
		INSERT INTO index_jobs (item_id, owner_scope, status, retries, error)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text, created_at
	`

	err := r.db.QueryRow(ctx, query,
		job.ItemID,
		job.OwnerScope,
		string(job.Status),
		job.Retries,
		job.Error,
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create index job: %w", err)
	}

	return nil
}

// GetByID retrieves an index job by its identifier.
func (r *IndexJobRepository) GetByID(ctx context.Context, id string) (*domain.IndexJob, error) {
	query := `
		SELECT id::text, item_id, owner_scope, status, retries, error, created_at, processed_at
		FROM index_jobs
		WHERE id = $1
	`

	job := &domain.IndexJob{}
	var status string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.ItemID,
		&job.OwnerScope,
		&status,
		&job.Retries,
		&job.Error,
		&job.CreatedAt,
		&job.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get index job: %w", err)
	}
	job.Status = domain.JobStatus(status)

	return job, nil
}

// ClaimPending atomically claims up to limit pending jobs, oldest first,
// and moves them to processing. SKIP LOCKED keeps concurrent workers from
// claiming the same job.
func (r *IndexJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.IndexJob, error) {
	query := `
		WITH pending AS (
			SELECT id
			FROM index_jobs
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE index_jobs j
		SET status = 'processing'
		FROM pending
		WHERE j.id = pending.id
		RETURNING j.id::text, j.item_id, j.owner_scope, j.status, j.retries, j.error, j.created_at, j.processed_at
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending jobs: %w", err)
	}
	defer rows.Close()

	return scanJobRows(rows)
}

// UpdateStatus moves a job to a new status. Terminal states stamp
// processed_at; moving back to pending leaves it untouched.
func (r *IndexJobRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMsg string) error {
	query := `
		UPDATE index_jobs
		SET status = $2,
		    error = $3,
		    processed_at = CASE WHEN $2 IN ('completed', 'failed') THEN now() ELSE processed_at END
		WHERE id = $1
	`

	cmdTag, err := r.db.Exec(ctx, query, id, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}

	return nil
}

// IncrementRetries bumps a job's retry counter.
func (r *IndexJobRepository) IncrementRetries(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE index_jobs SET retries = retries + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment job retries: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}

	return nil
}

// CountByStatus reports how many jobs sit in a given status.
func (r *IndexJobRepository) CountByStatus(ctx context.Context, status domain.JobStatus) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM index_jobs WHERE status = $1`, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	return count, nil
}

// scanJobRows collects index job rows from a result set.
func scanJobRows(rows pgx.Rows) ([]*domain.IndexJob, error) {
	var jobs []*domain.IndexJob
	for rows.Next() {
		job := &domain.IndexJob{}
		var status string
		err := rows.Scan(
			&job.ID,
			&job.ItemID,
			&job.OwnerScope,
			&status,
			&job.Retries,
			&job.Error,
			&job.CreatedAt,
			&job.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan index job: %w", err)
		}
		job.Status = domain.JobStatus(status)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read index jobs: %w", err)
	}

	return jobs, nil
}
