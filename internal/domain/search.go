package domain

import "time"

// MatchKind records which retrieval branch produced a search result
type MatchKind string

const (
	MatchKindSemantic MatchKind = "semantic"
	MatchKindKeyword  MatchKind = "keyword"
	MatchKindHybrid   MatchKind = "hybrid"
)

// SearchResult represents one ranked hit returned to a caller.
// Score is the combined hybrid score in [0,1].
type SearchResult struct {
	ItemID    string
	Title     string
	Snippet   string
	Score     float32
	Match     MatchKind
	Type      ItemType
	UpdatedAt time.Time
}

// ScoredItem is a single-signal retrieval hit, before hybrid merging.
// Score carries the raw branch score, normalized to [0,1].
type ScoredItem struct {
	ItemID    string
	Type      ItemType
	Title     string
	Body      string
	Score     float32
	UpdatedAt time.Time
}
