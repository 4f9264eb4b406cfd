package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPReranker_Score(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Texts, 3)

		// Service returns relevance-ordered results tagged with
		// source indexes, not input order.
		json.NewEncoder(w).Encode([]rerankResult{
			{Index: 2, Score: 0.91},
			{Index: 0, Score: 0.40},
			{Index: 1, Score: 0.05},
		})
	}))
	defer server.Close()

	t.Setenv("RERANKER_URL", server.URL)
	reranker, err := NewHTTPReranker()
	require.NoError(t, err)

	scores, err := reranker.Score(context.Background(), "q", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.40, 0.05, 0.91}, scores, "scores map back to input positions")
}

func TestHTTPReranker_EmptyDocs(t *testing.T) {
	t.Setenv("RERANKER_URL", "http://unused")
	reranker, err := NewHTTPReranker()
	require.NoError(t, err)

	scores, err := reranker.Score(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestHTTPReranker_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	t.Setenv("RERANKER_URL", server.URL)
	reranker, err := NewHTTPReranker()
	require.NoError(t, err)

	_, err = reranker.Score(context.Background(), "q", []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
