package workorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	artworkFetchLimit = 4
	artworkMaxBytes   = 8 << 20
)

// ArtworkFetcher downloads artwork images referenced by order lines.
// Fetches are best effort: a missing or broken image falls back to the
// placeholder on the printed sheet.
type ArtworkFetcher struct {
	logger *slog.Logger
	client *http.Client
}

// NewArtworkFetcher constructs a fetcher.
func NewArtworkFetcher(logger *slog.Logger) *ArtworkFetcher {
	return &ArtworkFetcher{
		logger: logger,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchAll downloads the given urls concurrently and returns the bodies
// keyed by url. Failed downloads are logged and omitted.
func (f *ArtworkFetcher) FetchAll(ctx context.Context, urls []string) map[string][]byte {
	out := make(map[string][]byte)
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(artworkFetchLimit)
	for _, raw := range urls {
		g.Go(func() error {
			data, err := f.fetch(ctx, raw)
			if err != nil {
				f.logger.Warn("artwork fetch failed", slog.String("url", raw), slog.Any("error", err))
				return nil
			}
			mu.Lock()
			out[raw] = data
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (f *ArtworkFetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, artworkMaxBytes))
}

// assetName derives a stable multipart filename for an artwork url.
func assetName(rawURL string, n int) string {
	ext := ".png"
	if u, err := url.Parse(rawURL); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); e == ".jpg" || e == ".jpeg" || e == ".png" || e == ".gif" || e == ".webp" {
			ext = e
		}
	}
	return fmt.Sprintf("art_%d%s", n, ext)
}
