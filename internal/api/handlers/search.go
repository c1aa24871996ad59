package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/scrylabs/scry/internal/api"
	"github.com/scrylabs/scry/internal/domain"
	"github.com/scrylabs/scry/internal/search"
)

type SearchEngine interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

type SearchHandler struct {
	engine SearchEngine
}

func NewSearchHandler(engine SearchEngine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

type SearchRequest struct {
	Query      string `json:"query"`
	OwnerScope string `json:"owner_scope"`
	Mode       string `json:"mode,omitempty"`
	TopK       int    `json:"top_k,omitempty"`
}

type SearchResultResponse struct {
	ItemID    string  `json:"item_id"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet,omitempty"`
	Score     float32 `json:"score"`
	Match     string  `json:"match"`
	Type      string  `json:"type"`
	UpdatedAt string  `json:"updated_at"`
}

type SearchResponse struct {
	Results  []*SearchResultResponse `json:"results"`
	Mode     string                  `json:"mode"`
	Degraded bool                    `json:"degraded"`
	Cached   bool                    `json:"cached"`
	TookMS   int64                   `json:"took_ms"`
}

func searchToResponse(resp *search.Response) *SearchResponse {
	results := make([]*SearchResultResponse, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = resultToResponse(r)
	}
	return &SearchResponse{
		Results:  results,
		Mode:     string(resp.Mode),
		Degraded: resp.Degraded,
		Cached:   resp.Cached,
		TookMS:   resp.TookMS,
	}
}

func resultToResponse(r *domain.SearchResult) *SearchResultResponse {
	return &SearchResultResponse{
		ItemID:    r.ItemID,
		Title:     r.Title,
		Snippet:   r.Snippet,
		Score:     r.Score,
		Match:     string(r.Match),
		Type:      string(r.Type),
		UpdatedAt: r.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// Search runs a hybrid search request. Validation lives in the engine so
// HTTP and CLI callers surface identical errors.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.engine.Search(r.Context(), search.Request{
		Query:      req.Query,
		OwnerScope: req.OwnerScope,
		Mode:       search.Mode(req.Mode),
		TopK:       req.TopK,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, searchToResponse(resp))
}
