package receiving

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	worklistTTL    = time.Minute
	worklistVerKey = "receiving:worklist:ver"
)

// OpenPOCache is a redis read-through cache for the receiving worklist.
// Invalidation bumps a version counter so stale pages simply miss instead
// of requiring a key scan.
type OpenPOCache struct {
	rdb redis.UniversalClient
}

// NewOpenPOCache constructs the cache.
func NewOpenPOCache(rdb redis.UniversalClient) *OpenPOCache {
	return &OpenPOCache{rdb: rdb}
}

type worklistPage struct {
	Items []POListItem `json:"items"`
	Total int          `json:"total"`
}

// Get returns a cached page, reporting a miss on any redis error.
func (c *OpenPOCache) Get(ctx context.Context, limit, offset int) ([]POListItem, int, bool) {
	raw, err := c.rdb.Get(ctx, c.pageKey(ctx, limit, offset)).Bytes()
	if err != nil {
		return nil, 0, false
	}
	var page worklistPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, 0, false
	}
	return page.Items, page.Total, true
}

// Set stores a page under the current version. Failures are ignored, the
// cache is best effort.
func (c *OpenPOCache) Set(ctx context.Context, limit, offset int, items []POListItem, total int) {
	raw, err := json.Marshal(worklistPage{Items: items, Total: total})
	if err != nil {
		return
	}
	c.rdb.Set(ctx, c.pageKey(ctx, limit, offset), raw, worklistTTL)
}

// Invalidate bumps the version so every cached page goes stale at once.
func (c *OpenPOCache) Invalidate(ctx context.Context) {
	c.rdb.Incr(ctx, worklistVerKey)
}

func (c *OpenPOCache) pageKey(ctx context.Context, limit, offset int) string {
	ver, err := c.rdb.Get(ctx, worklistVerKey).Result()
	if err != nil {
		ver = "0"
	}
	return fmt.Sprintf("receiving:worklist:%s:%d:%d", ver, limit, offset)
}
