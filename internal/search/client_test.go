package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "golang", req["query"])
		assert.Equal(t, float64(3), req["max_results"])

		json.NewEncoder(w).Encode(map[string]any{
			"results": []Result{{Title: "Go", URL: "https://go.dev", Content: "The Go programming language"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "key-1")
	results, err := c.Search(context.Background(), "golang", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://go.dev", results[0].URL)
}

func TestSearchDefaultsMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, float64(5), req["max_results"])
		json.NewEncoder(w).Encode(map[string]any{"results": []Result{}})
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k").Search(context.Background(), "q", 0)
	require.NoError(t, err)
}

func TestExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"results": []Extraction{{URL: "https://go.dev", Text: "page text"}},
		})
	}))
	defer srv.Close()

	ex, err := New(srv.URL, "k").Extract(context.Background(), "https://go.dev")
	require.NoError(t, err)
	assert.Equal(t, "page text", ex.Text)
}

func TestNon200IsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k").Search(context.Background(), "q", 1)
	assert.Error(t, err)
}
