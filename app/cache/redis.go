package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// FeedCache keeps the generated RSS document of each source in Redis until
// the next run stores new records for that source or the TTL expires.
type FeedCache struct {
	client *redis.Client
	ttl    time.Duration
}

type cachedFeed struct {
	Content  string `json:"content"`
	Items    int    `json:"items"`
	CachedAt int64  `json:"cached_at"`
}

func NewFeedCache(ctx context.Context, addr string, ttl time.Duration) (*FeedCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", addr, "ttl", ttl)

	return &FeedCache{client: client, ttl: ttl}, nil
}

func FeedKey(sourceCode string) string {
	return "tender-comb:feed:" + sourceCode
}

// GetFeed returns the cached document and its item count. A miss or an
// unreadable entry reports ok=false without error.
func (c *FeedCache) GetFeed(ctx context.Context, sourceCode string) (string, int, bool, error) {
	key := FeedKey(sourceCode)

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	var entry cachedFeed
	if err := json.Unmarshal(data, &entry); err != nil {
		c.client.Del(ctx, key)
		return "", 0, false, nil
	}

	return entry.Content, entry.Items, true, nil
}

func (c *FeedCache) SetFeed(ctx context.Context, sourceCode, content string, items int) error {
	data, err := json.Marshal(cachedFeed{Content: content, Items: items, CachedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("failed to marshal feed %s: %w", sourceCode, err)
	}

	if err := c.client.Set(ctx, FeedKey(sourceCode), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set feed %s: %w", sourceCode, err)
	}
	return nil
}

// Invalidate drops the cached document of a source.
func (c *FeedCache) Invalidate(ctx context.Context, sourceCode string) error {
	if err := c.client.Del(ctx, FeedKey(sourceCode)).Err(); err != nil {
		return fmt.Errorf("failed to delete feed %s: %w", sourceCode, err)
	}
	return nil
}

func (c *FeedCache) Close() error {
	return c.client.Close()
}
