package app

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PageCache keeps sliced page texts so repeated chat turns on the same
// position skip the object store.
type PageCache interface {
	Get(ctx context.Context, bookID string, page int) (string, bool)
	Set(ctx context.Context, bookID string, page int, text string)
	Invalidate(ctx context.Context, bookID string)
}

// RedisPageCache stores one hash per book, one field per page.
type RedisPageCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisPageCache returns a cache whose per-book hashes expire ttl after
// the last write.
func NewRedisPageCache(client redis.UniversalClient, ttl time.Duration) *RedisPageCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisPageCache{client: client, prefix: "socratium:pages:", ttl: ttl}
}

func (c *RedisPageCache) Get(ctx context.Context, bookID string, page int) (string, bool) {
	text, err := c.client.HGet(ctx, c.prefix+bookID, strconv.Itoa(page)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("page cache get failed", "book_id", bookID, "err", err)
		}
		return "", false
	}
	return text, true
}

func (c *RedisPageCache) Set(ctx context.Context, bookID string, page int, text string) {
	key := c.prefix + bookID
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(page), text)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Debug("page cache set failed", "book_id", bookID, "err", err)
	}
}

func (c *RedisPageCache) Invalidate(ctx context.Context, bookID string) {
	if err := c.client.Del(ctx, c.prefix+bookID).Err(); err != nil {
		slog.Warn("page cache invalidate failed", "book_id", bookID, "err", err)
	}
}
