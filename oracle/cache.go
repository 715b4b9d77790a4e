package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// LRUCache is an in-process price cache with per-entry expiry.
type LRUCache struct {
	lru *expirable.LRU[string, Price]
}

// NewLRUCache returns a cache of up to size entries living for ttl.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = 1024
	}
	return &LRUCache{lru: expirable.NewLRU[string, Price](size, nil, ttl)}
}

func (c *LRUCache) Get(_ context.Context, assetID string) (Price, bool) {
	return c.lru.Get(assetID)
}

func (c *LRUCache) Set(_ context.Context, assetID string, price Price) {
	c.lru.Add(assetID, price)
}

// RedisCache shares prices across replicas so they lock the same price within
// one TTL window.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisCache wraps an existing redis client.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "burn:price:"}
}

func (c *RedisCache) Get(ctx context.Context, assetID string) (Price, bool) {
	raw, err := c.client.Get(ctx, c.prefix+assetID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("[Oracle] redis cache get failed", "asset", assetID, "error", err)
		}
		return Price{}, false
	}
	var p Price
	if err := json.Unmarshal(raw, &p); err != nil {
		return Price{}, false
	}
	return p, true
}

func (c *RedisCache) Set(ctx context.Context, assetID string, price Price) {
	raw, err := json.Marshal(price)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+assetID, raw, c.ttl).Err(); err != nil {
		slog.Warn("[Oracle] redis cache set failed", "asset", assetID, "error", err)
	}
}

// TieredCache reads the local cache first and falls back to the shared one.
type TieredCache struct {
	Local  Cache
	Shared Cache
}

func (c TieredCache) Get(ctx context.Context, assetID string) (Price, bool) {
	if p, ok := c.Local.Get(ctx, assetID); ok {
		return p, true
	}
	p, ok := c.Shared.Get(ctx, assetID)
	if ok {
		c.Local.Set(ctx, assetID, p)
	}
	return p, ok
}

func (c TieredCache) Set(ctx context.Context, assetID string, price Price) {
	c.Local.Set(ctx, assetID, price)
	c.Shared.Set(ctx, assetID, price)
}
