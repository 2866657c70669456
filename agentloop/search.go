package agentloop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// ErrMissingCredential is returned when the search API key variable is unset.
var ErrMissingCredential = errors.New("search credential is not set")

const (
	DefaultSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"
	DefaultSearchKeyEnv   = "BRAVE_API_KEY"
	DefaultSearchCount    = 10
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title         string
	URL           string
	Description   string
	ExtraSnippets []string
}

func (r SearchResult) String() string {
	return fmt.Sprintf("Title: %s\nURL: %s\nDescription: %s\nExtra Snippets: %s",
		r.Title, r.URL, r.Description, strings.Join(r.ExtraSnippets, ", "))
}

// Searcher runs web searches for the google_search tool.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// BraveSearch queries the Brave web search API. The API key is read from
// the environment on every call so a missing key only matters once the
// model actually searches.
type BraveSearch struct {
	client   *resty.Client
	endpoint string
	keyEnv   string
	count    int
	getenv   func(string) string
}

// BraveOption configures a BraveSearch.
type BraveOption func(*BraveSearch)

// WithSearchEndpoint overrides the API URL.
func WithSearchEndpoint(url string) BraveOption {
	return func(b *BraveSearch) { b.endpoint = url }
}

// WithSearchKeyEnv sets the environment variable holding the API key.
func WithSearchKeyEnv(name string) BraveOption {
	return func(b *BraveSearch) { b.keyEnv = name }
}

// WithSearchCount sets how many results are requested.
func WithSearchCount(n int) BraveOption {
	return func(b *BraveSearch) {
		if n > 0 {
			b.count = n
		}
	}
}

// WithSearchTimeout sets the HTTP timeout.
func WithSearchTimeout(d time.Duration) BraveOption {
	return func(b *BraveSearch) {
		if d > 0 {
			b.client.SetTimeout(d)
		}
	}
}

// NewBraveSearch creates a Brave search client.
func NewBraveSearch(opts ...BraveOption) *BraveSearch {
	b := &BraveSearch{
		client:   resty.New().SetTimeout(30*time.Second).SetHeader("Accept", "application/json"),
		endpoint: DefaultSearchEndpoint,
		keyEnv:   DefaultSearchKeyEnv,
		count:    DefaultSearchCount,
		getenv:   os.Getenv,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Search returns the web results for query.
func (b *BraveSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	key := b.getenv(b.keyEnv)
	if key == "" {
		return nil, fmt.Errorf("%s: %w", b.keyEnv, ErrMissingCredential)
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("X-Subscription-Token", key).
		SetQueryParams(map[string]string{
			"q":     query,
			"count": strconv.Itoa(b.count),
		}).
		Get(b.endpoint)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("search request: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return nil, errors.New("search response is not valid JSON")
	}

	var results []SearchResult
	gjson.GetBytes(body, "web.results").ForEach(func(_, item gjson.Result) bool {
		r := SearchResult{
			Title:       item.Get("title").String(),
			URL:         item.Get("url").String(),
			Description: item.Get("description").String(),
		}
		for _, s := range item.Get("extra_snippets").Array() {
			r.ExtraSnippets = append(r.ExtraSnippets, s.String())
		}
		results = append(results, r)
		return true
	})
	return results, nil
}

// formatSearchResults renders results for re-injection into the transcript.
func formatSearchResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = r.String()
	}
	return "Search Results:\n\n" + strings.Join(blocks, "\n\n")
}
