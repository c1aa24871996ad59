package search

import (
	"sort"

	"github.com/scrylabs/scry/internal/domain"
)

// fused tracks one item across both retrieval branches.
type fused struct {
	item     *domain.ScoredItem
	semantic float32
	keyword  float32
	inSem    bool
	inKw     bool
}

// fuse merges branch hits into ranked results. Each item's combined score
// is the better of its weighted branch scores; ties rank newer items
// first, then break on id so ordering is stable.
func fuse(semantic, keyword []*domain.ScoredItem, semWeight, kwWeight float32, topK int) []*domain.SearchResult {
	byID := make(map[string]*fused, len(semantic)+len(keyword))
	entries := make([]*fused, 0, len(semantic)+len(keyword))

	for _, hit := range semantic {
		f := &fused{item: hit, semantic: hit.Score, inSem: true}
		byID[hit.ItemID] = f
		entries = append(entries, f)
	}
	for _, hit := range keyword {
		if f, ok := byID[hit.ItemID]; ok {
			f.keyword = hit.Score
			f.inKw = true
			continue
		}
		f := &fused{item: hit, keyword: hit.Score, inKw: true}
		byID[hit.ItemID] = f
		entries = append(entries, f)
	}

	results := make([]*domain.SearchResult, 0, len(entries))
	for _, f := range entries {
		score := semWeight * f.semantic
		if kw := kwWeight * f.keyword; kw > score {
			score = kw
		}
		results = append(results, &domain.SearchResult{
			ItemID:    f.item.ItemID,
			Title:     f.item.Title,
			Snippet:   makeSnippet(f.item.Body),
			Score:     score,
			Match:     matchKind(f.inSem, f.inKw),
			Type:      f.item.Type,
			UpdatedAt: f.item.UpdatedAt,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
			return results[i].UpdatedAt.After(results[j].UpdatedAt)
		}
		return results[i].ItemID < results[j].ItemID
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results
}

func matchKind(inSem, inKw bool) domain.MatchKind {
	switch {
	case inSem && inKw:
		return domain.MatchKindHybrid
	case inSem:
		return domain.MatchKindSemantic
	default:
		return domain.MatchKindKeyword
	}
}
