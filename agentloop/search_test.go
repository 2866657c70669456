package agentloop

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSearch(t *testing.T, handler http.HandlerFunc, key string) *BraveSearch {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b := NewBraveSearch(WithSearchEndpoint(srv.URL), WithSearchCount(2))
	b.getenv = func(name string) string {
		if name == DefaultSearchKeyEnv {
			return key
		}
		return ""
	}
	return b
}

func TestBraveSearch(t *testing.T) {
	var gotQuery, gotCount, gotToken string
	b := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotCount = r.URL.Query().Get("count")
		gotToken = r.Header.Get("X-Subscription-Token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"Go","url":"https://go.dev","description":"The Go language","extra_snippets":["fast","simple"]},
			{"title":"Tour","url":"https://go.dev/tour","description":"A tour"}
		]}}`))
	}, "secret")

	results, err := b.Search(context.Background(), "golang")
	require.NoError(t, err)
	assert.Equal(t, "golang", gotQuery)
	assert.Equal(t, "2", gotCount)
	assert.Equal(t, "secret", gotToken)

	require.Len(t, results, 2)
	assert.Equal(t, SearchResult{Title: "Go", URL: "https://go.dev", Description: "The Go language", ExtraSnippets: []string{"fast", "simple"}}, results[0])
	assert.Empty(t, results[1].ExtraSnippets)
}

func TestBraveSearchMissingCredential(t *testing.T) {
	called := false
	b := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) { called = true }, "")

	_, err := b.Search(context.Background(), "x")
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.False(t, called)
}

func TestBraveSearchHTTPError(t *testing.T) {
	b := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}, "secret")

	_, err := b.Search(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestBraveSearchInvalidJSON(t *testing.T) {
	b := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}, "secret")

	_, err := b.Search(context.Background(), "x")
	assert.Error(t, err)
}

func TestFormatSearchResults(t *testing.T) {
	assert.Equal(t, `No results found for "x".`, formatSearchResults("x", nil))

	out := formatSearchResults("go", []SearchResult{
		{Title: "A", URL: "u1", Description: "d1"},
		{Title: "B", URL: "u2", Description: "d2", ExtraSnippets: []string{"s1", "s2"}},
	})
	assert.Equal(t, "Search Results:\n\n"+
		"Title: A\nURL: u1\nDescription: d1\nExtra Snippets: \n\n"+
		"Title: B\nURL: u2\nDescription: d2\nExtra Snippets: s1, s2", out)
}
