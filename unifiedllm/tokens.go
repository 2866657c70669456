package unifiedllm

import (
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// EstimateTokens returns an approximate token count for text. It uses the
// cl100k_base encoding when it is already in the local tiktoken cache and
// falls back to four bytes per token otherwise. It never downloads.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	encoderOnce.Do(func() {
		tiktoken.SetBpeLoader(cachedBpeLoader{next: tiktoken.NewDefaultBpeLoader()})
		tke, err := tiktoken.GetEncoding(defaultEncoding)
		if err == nil {
			encoder = tke
		}
	})
	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateMessageTokens sums EstimateTokens over the text of each message.
func EstimateMessageTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg.TextContent())
	}
	return total
}

// cachedBpeLoader loads remote encodings only when tiktoken has already
// cached them on disk. Local paths pass through.
type cachedBpeLoader struct {
	next tiktoken.BpeLoader
}

func (l cachedBpeLoader) LoadTiktokenBpe(file string) (map[string]int, error) {
	if strings.HasPrefix(file, "http://") || strings.HasPrefix(file, "https://") {
		path := bpeCachePath(file)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("encoding %s is not cached: %w", file, err)
		}
	}
	return l.next.LoadTiktokenBpe(file)
}

// bpeCachePath mirrors the cache layout used by tiktoken-go.
func bpeCachePath(url string) string {
	dir := strings.TrimSpace(os.Getenv("TIKTOKEN_CACHE_DIR"))
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv("DATA_GYM_CACHE_DIR"))
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "data-gym-cache")
	}
	return filepath.Join(dir, fmt.Sprintf("%x", sha1.Sum([]byte(url))))
}
