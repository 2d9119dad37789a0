package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NoahRocket/X/internal/core/domain"
	"github.com/NoahRocket/X/internal/core/ports"
)

const feedCacheKey = "feed:posts"

// CachedPostStore keeps a short-lived snapshot of the global feed in redis
// so the hot ListPosts read stays off Postgres. Writes pass through and
// invalidate; realtime inserts from other instances invalidate via the
// event handler.
type CachedPostStore struct {
	ports.PostStore
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedPostStore(inner ports.PostStore, rdb *redis.Client, ttl time.Duration) *CachedPostStore {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &CachedPostStore{PostStore: inner, rdb: rdb, ttl: ttl}
}

func (c *CachedPostStore) ListPosts(ctx context.Context) ([]domain.Post, error) {
	raw, err := c.rdb.Get(ctx, feedCacheKey).Bytes()
	if err == nil {
		var posts []domain.Post
		if jerr := json.Unmarshal(raw, &posts); jerr == nil {
			return posts, nil
		}
		// Corrupt snapshot: drop it and fall through to the store.
		c.Invalidate(ctx)
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("feed cache read failed", "error", err)
	}

	posts, err := c.PostStore.ListPosts(ctx)
	if err != nil {
		return nil, err
	}

	if raw, jerr := json.Marshal(posts); jerr == nil {
		if serr := c.rdb.Set(ctx, feedCacheKey, raw, c.ttl).Err(); serr != nil {
			slog.Warn("feed cache write failed", "error", serr)
		}
	}
	return posts, nil
}

func (c *CachedPostStore) CreatePost(ctx context.Context, authorID, question, response string, tags []string) (domain.Post, error) {
	post, err := c.PostStore.CreatePost(ctx, authorID, question, response, tags)
	if err != nil {
		return domain.Post{}, err
	}
	c.Invalidate(ctx)
	return post, nil
}

func (c *CachedPostStore) AddLike(ctx context.Context, postID, userID string) error {
	if err := c.PostStore.AddLike(ctx, postID, userID); err != nil {
		return err
	}
	c.Invalidate(ctx)
	return nil
}

func (c *CachedPostStore) RemoveLike(ctx context.Context, postID, userID string) error {
	if err := c.PostStore.RemoveLike(ctx, postID, userID); err != nil {
		return err
	}
	c.Invalidate(ctx)
	return nil
}

func (c *CachedPostStore) Invalidate(ctx context.Context) {
	if err := c.rdb.Del(ctx, feedCacheKey).Err(); err != nil {
		slog.Warn("feed cache invalidate failed", "error", fmt.Errorf("del %s: %w", feedCacheKey, err))
	}
}
