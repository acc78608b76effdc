package history

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Source fetches historical chunks by index.
// Implementations must be safe for concurrent use; the loader fetches every
// chunk at once.
type Source interface {
	Fetch(ctx context.Context, i int) (*Chunk, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, i int) (*Chunk, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context, i int) (*Chunk, error) {
	return f(ctx, i)
}

// HTTPSource fetches chunks from {BaseURL}/chunks/chunk_{i}.json.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSource creates a chunk source rooted at baseURL.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Fetch downloads and parses chunk i.
func (s *HTTPSource) Fetch(ctx context.Context, i int) (*Chunk, error) {
	url := fmt.Sprintf("%s/chunks/%s", s.baseURL, ChunkName(i))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for chunk %d: %w", i, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunk %d: %w", i, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chunk %d: status %d", i, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %d: %w", i, err)
	}

	chunk, err := ParseChunk(data)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", i, err)
	}
	return chunk, nil
}

// DirSource reads chunk_{i}.json files from a local directory.
type DirSource struct {
	Dir string
}

// Fetch reads and parses chunk i.
func (s DirSource) Fetch(ctx context.Context, i int) (*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.Dir, ChunkName(i)))
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %d: %w", i, err)
	}

	chunk, err := ParseChunk(data)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", i, err)
	}
	return chunk, nil
}

// CountChunks returns how many consecutive chunk files, starting at 0, exist in dir.
func CountChunks(dir string) int {
	n := 0
	for {
		if _, err := os.Stat(filepath.Join(dir, ChunkName(n))); err != nil {
			return n
		}
		n++
	}
}
