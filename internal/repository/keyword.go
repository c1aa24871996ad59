package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/scrylabs/scry/internal/domain"
)

// KeywordRepository runs lexical search over searchable items.
type KeywordRepository struct {
	db dbtx
}

// NewKeywordRepository creates a new keyword repository backed by a pool.
func NewKeywordRepository(db dbtx) *KeywordRepository {
	return &KeywordRepository{db: db}
}

// SearchByQuery ranks items in an owner scope against free text. An item
// scores as the best of two signals: full-text rank over the weighted
// tsvector, normalized to [0,1) with rank/(rank+1), and a literal signal
// that pins exact id or tag matches at 1.0 and scores substring hits by
// trigram word similarity with a 0.30 floor.
func (r *KeywordRepository) SearchByQuery(ctx context.Context, query, ownerScope string, topK int) ([]*domain.ScoredItem, error) {
	sql := `
		SELECT id, item_type, title, body, score::float8, updated_at
		FROM (
			SELECT i.id, i.item_type, i.title, i.body, i.updated_at,
			       GREATEST(
			           CASE WHEN i.tsv @@ websearch_to_tsquery('english', $2)
			                THEN ts_rank_cd(i.tsv, websearch_to_tsquery('english', $2), 32)
			                ELSE 0
			           END,
			           CASE WHEN i.id = $2 OR $2 = ANY(i.tags) THEN 1.0
			                WHEN i.title ILIKE $3 OR i.body ILIKE $3
			                THEN GREATEST(word_similarity($2, i.title), word_similarity($2, i.body), 0.30)
			                ELSE 0
			           END
			       ) AS score
			FROM searchable_items i
			WHERE i.owner_scope = $1
		) ranked
		WHERE score > 0
		ORDER BY score DESC, updated_at DESC
		LIMIT $4
	`

	rows, err := r.db.Query(ctx, sql, ownerScope, query, likePattern(query), topK)
	if err != nil {
		return nil, keywordSearchError(err)
	}
	defer rows.Close()

	results, err := scanScoredItems(rows)
	if err != nil {
		return nil, keywordSearchError(err)
	}

	return results, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern builds a contains pattern for ILIKE, escaping the LIKE
// metacharacters in the user's query.
func likePattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}

func keywordSearchError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrKeywordIndexDegraded, err)
}
