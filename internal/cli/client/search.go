package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const envOwnerScope = "SCRY_OWNER_SCOPE"

// SearchRequest mirrors the search endpoint's request body.
type SearchRequest struct {
	Query      string `json:"query"`
	OwnerScope string `json:"owner_scope"`
	Mode       string `json:"mode,omitempty"`
	TopK       int    `json:"top_k,omitempty"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	ItemID    string  `json:"item_id"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet,omitempty"`
	Score     float32 `json:"score"`
	Match     string  `json:"match"`
	Type      string  `json:"type"`
	UpdatedAt string  `json:"updated_at"`
}

// SearchResponse mirrors the search endpoint's payload.
type SearchResponse struct {
	Results  []SearchResult `json:"results"`
	Mode     string         `json:"mode"`
	Degraded bool           `json:"degraded"`
	Cached   bool           `json:"cached"`
	TookMS   int64          `json:"took_ms"`
}

// SearchCmd creates the search command.
func SearchCmd() *cobra.Command {
	var (
		scope string
		mode  string
		topK  int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed items",
		Long:  "Runs a hybrid, semantic, or keyword search against a scry server.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api := NewAPIClient(ResolveServerURL(cmd))
			return runSearch(os.Stdout, api, SearchRequest{
				Query:      args[0],
				OwnerScope: scope,
				Mode:       mode,
				TopK:       topK,
			}, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Owner scope to search in (or SCRY_OWNER_SCOPE)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Search mode: hybrid, semantic, or keyword (default hybrid)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Maximum number of results (default 10)")

	return cmd
}

func runSearch(w io.Writer, api *APIClient, req SearchRequest, outputJSON bool) error {
	if req.OwnerScope == "" {
		req.OwnerScope = os.Getenv(envOwnerScope)
	}

	resp, err := api.Post("/api/v1/search", req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	var searchResp SearchResponse
	if err := json.Unmarshal(resp.Data, &searchResp); err != nil {
		return fmt.Errorf("failed to parse search results: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(searchResp, "", "  ")
		fmt.Fprintln(w, string(output))
		return nil
	}

	renderResults(w, &searchResp)
	return nil
}

func renderResults(w io.Writer, resp *SearchResponse) {
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	if resp.Degraded {
		fmt.Fprintf(w, "Warning: semantic search unavailable, showing keyword results only.\n\n")
	}

	fmt.Fprintf(w, "Found %d results (%s, %dms):\n\n", len(resp.Results), resp.Mode, resp.TookMS)
	for i, result := range resp.Results {
		fmt.Fprintf(w, "%d. %s (%.2f, %s)\n", i+1, result.Title, result.Score, result.Match)
		if result.Snippet != "" {
			snippet := result.Snippet
			if len(snippet) > 100 {
				snippet = snippet[:97] + "..."
			}
			fmt.Fprintf(w, "   %s\n", snippet)
		}
		fmt.Fprintf(w, "   %s %s, updated %s\n", result.Type, result.ItemID, result.UpdatedAt)
		if i < len(resp.Results)-1 {
			fmt.Fprintln(w, strings.Repeat("-", 40))
		}
	}
}
