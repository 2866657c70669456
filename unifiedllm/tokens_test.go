package unifiedllm

import (
	"errors"
	"os"
	"testing"

	"github.com/pkoukk/tiktoken-go"
)

type countingLoader struct{ calls int }

func (c *countingLoader) LoadTiktokenBpe(string) (map[string]int, error) {
	c.calls++
	return map[string]int{"a": 0}, nil
}

func TestCachedBpeLoaderSkipsUncachedDownloads(t *testing.T) {
	t.Setenv("TIKTOKEN_CACHE_DIR", t.TempDir())
	next := &countingLoader{}
	loader := cachedBpeLoader{next: next}

	_, err := loader.LoadTiktokenBpe("https://example.com/enc.tiktoken")
	if err == nil {
		t.Fatal("expected an error for an uncached encoding")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
	if next.calls != 0 {
		t.Errorf("uncached encoding must not reach the default loader, got %d calls", next.calls)
	}
}

func TestCachedBpeLoaderUsesCache(t *testing.T) {
	t.Setenv("TIKTOKEN_CACHE_DIR", t.TempDir())
	url := "https://example.com/enc.tiktoken"
	if err := os.WriteFile(bpeCachePath(url), []byte("YQ== 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ranks, err := cachedBpeLoader{next: tiktoken.NewDefaultBpeLoader()}.LoadTiktokenBpe(url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranks["a"] != 0 || len(ranks) != 1 {
		t.Errorf("unexpected ranks %v", ranks)
	}
}
