package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchTestServer(t *testing.T, resp SearchResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/search", r.URL.Path)

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Query)

		data, err := json.Marshal(resp)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":` + string(data) + `}`))
	}))
}

func TestRunSearch_RendersResults(t *testing.T) {
	server := searchTestServer(t, SearchResponse{
		Results: []SearchResult{
			{ItemID: "doc-1", Title: "Fixing login failures", Score: 0.82, Match: "hybrid", Type: "document", UpdatedAt: "2026-03-01T10:00:00Z", Snippet: "login failures after session expiry"},
			{ItemID: "ISSUE-7", Title: "Session bug", Score: 0.40, Match: "keyword", Type: "issue", UpdatedAt: "2026-02-20T09:00:00Z"},
		},
		Mode:   "hybrid",
		TookMS: 12,
	})
	defer server.Close()

	var buf bytes.Buffer
	err := runSearch(&buf, NewAPIClient(server.URL), SearchRequest{Query: "login failures", OwnerScope: "team-auth"}, false)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Found 2 results (hybrid, 12ms):")
	assert.Contains(t, out, "1. Fixing login failures (0.82, hybrid)")
	assert.Contains(t, out, "login failures after session expiry")
	assert.Contains(t, out, "document doc-1, updated 2026-03-01T10:00:00Z")
	assert.Contains(t, out, "2. Session bug (0.40, keyword)")
	assert.NotContains(t, out, "Warning")
}

func TestRunSearch_DegradedWarning(t *testing.T) {
	server := searchTestServer(t, SearchResponse{
		Results:  []SearchResult{{ItemID: "doc-1", Title: "Pager rotation", Score: 1.0, Match: "keyword", Type: "document", UpdatedAt: "2026-03-01T10:00:00Z"}},
		Mode:     "hybrid",
		Degraded: true,
		TookMS:   5,
	})
	defer server.Close()

	var buf bytes.Buffer
	err := runSearch(&buf, NewAPIClient(server.URL), SearchRequest{Query: "pager", OwnerScope: "team-ops"}, false)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Warning: semantic search unavailable")
}

func TestRunSearch_NoResults(t *testing.T) {
	server := searchTestServer(t, SearchResponse{Mode: "keyword", TookMS: 2})
	defer server.Close()

	var buf bytes.Buffer
	err := runSearch(&buf, NewAPIClient(server.URL), SearchRequest{Query: "kubernetes", OwnerScope: "team-auth", Mode: "keyword"}, false)
	require.NoError(t, err)
	assert.Equal(t, "No results found.\n", buf.String())
}

func TestRunSearch_JSONOutput(t *testing.T) {
	server := searchTestServer(t, SearchResponse{
		Results: []SearchResult{{ItemID: "doc-1", Title: "Guide", Score: 0.55, Match: "semantic", Type: "document", UpdatedAt: "2026-03-01T10:00:00Z"}},
		Mode:    "semantic",
		TookMS:  8,
	})
	defer server.Close()

	var buf bytes.Buffer
	err := runSearch(&buf, NewAPIClient(server.URL), SearchRequest{Query: "guide", OwnerScope: "team-docs"}, true)
	require.NoError(t, err)

	var parsed SearchResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Len(t, parsed.Results, 1)
	assert.Equal(t, "doc-1", parsed.Results[0].ItemID)
	assert.Equal(t, "semantic", parsed.Mode)
}

func TestRunSearch_ScopeFromEnv(t *testing.T) {
	var gotScope string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotScope = req.OwnerScope
		w.Write([]byte(`{"data":{"results":[],"mode":"hybrid"}}`))
	}))
	defer server.Close()

	t.Setenv(envOwnerScope, "team-env")

	var buf bytes.Buffer
	err := runSearch(&buf, NewAPIClient(server.URL), SearchRequest{Query: "anything"}, false)
	require.NoError(t, err)
	assert.Equal(t, "team-env", gotScope)
}
