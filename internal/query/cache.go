package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/reservemap/reservemap/internal/model"
)

// CacheOption adjusts the underlying Redis client.
type CacheOption func(*redis.Options)

func WithPoolSize(n int) CacheOption {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) CacheOption {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) CacheOption {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) CacheOption {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) CacheOption {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

// CellCache stores candidate record-id lists in Redis, one list per
// H3 cell and filter combination.
type CellCache struct {
	rdb *redis.Client
}

func NewCellCache(ctx context.Context, addr string, opts ...CacheOption) (*CellCache, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &CellCache{rdb: rdb}, nil
}

func (c *CellCache) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

// Key builds the candidate-list key for one cell and filter set. Equal
// filters produce equal canonical strings (model.Filter.Canonical), so
// the hash is stable across processes.
func Key(res int, cell string, f model.Filter) string {
	return fmt.Sprintf("rm:cand:%d:%s:f=%016x", res, cell, xxhash.Sum64String(f.Canonical()))
}

// GetIDs returns the cached candidate ids for the cell, or nil when no
// entry exists.
func (c *CellCache) GetIDs(ctx context.Context, res int, cell string, f model.Filter) ([]string, error) {
	key := Key(res, cell, f)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("candidate cache GET %q: %w", key, err)
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("candidate cache decode %q: %w", key, err)
	}
	return ids, nil
}

// SetIDs caches the candidate ids for the cell. An empty list deletes
// the key instead, so an empty cell is re-read from the store rather
// than pinned empty until the TTL runs out.
func (c *CellCache) SetIDs(ctx context.Context, res int, cell string, f model.Filter, ids []string, ttl time.Duration) error {
	key := Key(res, cell, f)

	if len(ids) == 0 {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("candidate cache DEL %q: %w", key, err)
		}
		return nil
	}

	uniq := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}

	payload, err := json.Marshal(uniq)
	if err != nil {
		return fmt.Errorf("candidate cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("candidate cache SET %q: %w", key, err)
	}
	return nil
}

// Drop removes the unfiltered candidate list for each cell. Filtered
// variants are left to age out with their TTL.
func (c *CellCache) Drop(ctx context.Context, res int, cellIDs []string) error {
	if len(cellIDs) == 0 {
		return nil
	}
	keys := make([]string, len(cellIDs))
	for i, cell := range cellIDs {
		keys[i] = Key(res, cell, model.Filter{})
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("candidate cache DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// DropAll removes every candidate list at the resolution, filtered
// variants included, and returns the number of keys deleted. Used when
// an invalidation covers an area too large to enumerate cell by cell.
func (c *CellCache) DropAll(ctx context.Context, res int) (int64, error) {
	pattern := fmt.Sprintf("rm:cand:%d:*", res)
	iter := c.rdb.Scan(ctx, 0, pattern, 512).Iterator()

	var total int64
	batch := make([]string, 0, 512)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("candidate cache DEL %d keys: %w", len(batch), err)
		}
		total += n
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return total, fmt.Errorf("candidate cache SCAN %q: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
