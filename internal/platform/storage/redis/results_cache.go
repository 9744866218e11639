package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairvote/fairvote/internal/domain"
)

// ResultsCache keeps published results hot for the public read path. Entries
// expire on their own; Publish invalidates eagerly so a re-publish is visible
// immediately.
type ResultsCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewResultsCache(client *redis.Client, prefix string, ttl time.Duration) *ResultsCache {
	if prefix == "" {
		prefix = "results"
	}
	return &ResultsCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *ResultsCache) Get(ctx context.Context, id domain.ElectionID) (domain.PublicResult, bool, error) {
	raw, err := c.client.Get(ctx, c.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.PublicResult{}, false, nil
	}
	if err != nil {
		return domain.PublicResult{}, false, fmt.Errorf("redis results: get: %w", err)
	}

	var result domain.PublicResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return domain.PublicResult{}, false, fmt.Errorf("redis results: invalid payload: %w", err)
	}
	return result, true, nil
}

func (c *ResultsCache) Set(ctx context.Context, id domain.ElectionID, result domain.PublicResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("redis results: encode: %w", err)
	}
	if err := c.client.Set(ctx, c.key(id), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis results: set: %w", err)
	}
	return nil
}

func (c *ResultsCache) Invalidate(ctx context.Context, id domain.ElectionID) error {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		return fmt.Errorf("redis results: invalidate: %w", err)
	}
	return nil
}

func (c *ResultsCache) key(id domain.ElectionID) string {
	return fmt.Sprintf("%s:%s", c.prefix, id)
}

var _ domain.ResultsCache = (*ResultsCache)(nil)
