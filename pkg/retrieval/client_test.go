package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryKeepsRelevantSnippetsInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p queryPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "kb", p.Collection)
		assert.Equal(t, 10, p.NResults)
		_ = json.NewEncoder(w).Encode(queryResponse{
			Documents: []string{"best match", "ok match", "far away", "never reached"},
			Distances: []float64{0.1, 0.4, 1.5, 0.2},
		})
	}))
	defer srv.Close()

	r := NewHTTPRetriever(srv.URL, "kb")
	snippets, err := r.Query(context.Background(), "opening hours", 10, 2)
	require.NoError(t, err)
	require.Len(t, snippets, 2)
	assert.Equal(t, "best match", snippets[0].Text)
	assert.Equal(t, "ok match", snippets[1].Text)
}

func TestQueryEmptyWhenNothingRelevant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(queryResponse{
			Documents: []string{"irrelevant"},
			Distances: []float64{3.0},
		})
	}))
	defer srv.Close()

	r := NewHTTPRetriever(srv.URL, "kb")
	snippets, err := r.Query(context.Background(), "anything", 5, 3)
	require.NoError(t, err)
	assert.Empty(t, snippets)
}

func TestJoinRendersBullets(t *testing.T) {
	out := Join([]Snippet{{Text: "a"}, {Text: "b"}})
	assert.Equal(t, "- a\n- b", out)
	assert.Equal(t, "", Join(nil))
}
