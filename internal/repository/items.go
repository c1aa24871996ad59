package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/scrylabs/scry/internal/domain"
)

// ItemRepository handles searchable item persistence.
type ItemRepository struct {
	db dbtx
}

// NewItemRepository creates a new item repository backed by a pool.
func NewItemRepository(db dbtx) *ItemRepository {
	return &ItemRepository{db: db}
}

// Create inserts a new searchable item.
func (r *ItemRepository) Create(ctx context.Context, item *domain.Item) error {
	query := `
		INSERT INTO searchable_items (id, item_type, title, body, tags, owner_scope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Exec(ctx, query,
		item.ID,
		string(item.Type),
		item.Title,
		item.Body,
		item.Tags,
		item.OwnerScope,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}

	return nil
}

// GetByID retrieves an item by its identifier.
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	query := `
		SELECT id, item_type, title, body, tags, owner_scope, created_at, updated_at
		FROM searchable_items
		WHERE id = $1
	`

	item := &domain.Item{}
	var itemType string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&item.ID,
		&itemType,
		&item.Title,
		&item.Body,
		&item.Tags,
		&item.OwnerScope,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	item.Type = domain.ItemType(itemType)

	return item, nil
}

// Update rewrites the mutable fields of an item.
func (r *ItemRepository) Update(ctx context.Context, item *domain.Item) error {
	query := `
		UPDATE searchable_items
		SET item_type = $2, title = $3, body = $4, tags = $5, owner_scope = $6, updated_at = $7
		WHERE id = $1
	`

	cmdTag, err := r.db.Exec(ctx, query,
		item.ID,
		string(item.Type),
		item.Title,
		item.Body,
		item.Tags,
		item.OwnerScope,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}

	return nil
}

// Delete removes an item. Embedding rows are cleaned up lazily by the
// orphan sweep, and the index job trigger records the deletion.
func (r *ItemRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM searchable_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}

	return nil
}

// scanItemRows collects full item rows from a result set.
func scanItemRows(rows pgx.Rows) ([]*domain.Item, error) {
	var items []*domain.Item
	for rows.Next() {
		item := &domain.Item{}
		var itemType string
		err := rows.Scan(
			&item.ID,
			&itemType,
			&item.Title,
			&item.Body,
			&item.Tags,
			&item.OwnerScope,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.Type = domain.ItemType(itemType)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}

	return items, nil
}
