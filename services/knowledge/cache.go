// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache fronts the business-data store. Entries are keyed by
// (station, section set) and expire on a short TTL so menu or pricing edits
// propagate within minutes. Cache failures are soft: a miss or an error
// falls through to the store, never to the customer.
type Cache interface {
	Get(ctx context.Context, stationID string, sectionKey string) (string, bool)
	Set(ctx context.Context, stationID string, sectionKey string, text string)
	Invalidate(ctx context.Context, stationID string)
}

func cacheKey(stationID, sectionKey string) string {
	return fmt.Sprintf("knowledge:%s:%s", stationID, sectionKey)
}

// RedisCache stores formatted snapshots in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing Redis client. A zero ttl gets the
// 5 minute default.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, stationID, sectionKey string) (string, bool) {
	text, err := c.client.Get(ctx, cacheKey(stationID, sectionKey)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		slog.Warn("Knowledge cache read failed, falling through to store",
			"station_id", stationID, "error", err)
		return "", false
	}
	return text, true
}

// Set implements Cache. Write failures are logged and swallowed; the next
// request simply re-fetches from the store.
func (c *RedisCache) Set(ctx context.Context, stationID, sectionKey, text string) {
	if err := c.client.Set(ctx, cacheKey(stationID, sectionKey), text, c.ttl).Err(); err != nil {
		slog.Warn("Knowledge cache write failed", "station_id", stationID, "error", err)
	}
}

// Invalidate implements Cache by dropping every section-set entry for the
// station. Called when the surrounding application announces a data edit.
func (c *RedisCache) Invalidate(ctx context.Context, stationID string) {
	pattern := cacheKey(stationID, "*")
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			slog.Warn("Knowledge cache invalidation delete failed",
				"station_id", stationID, "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		slog.Warn("Knowledge cache invalidation scan failed",
			"station_id", stationID, "error", err)
	}
}

type memoryCacheEntry struct {
	text      string
	expiresAt time.Time
}

// MemoryCache is an in-process Cache for tests and single-node runs.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates a MemoryCache. A zero ttl gets the 5 minute default.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCache{
		entries: make(map[string]memoryCacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, stationID, sectionKey string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[cacheKey(stationID, sectionKey)]
	if !ok {
		return "", false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, cacheKey(stationID, sectionKey))
		return "", false
	}
	return entry.text, true
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, stationID, sectionKey, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(stationID, sectionKey)] = memoryCacheEntry{
		text:      text,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate implements Cache.
func (c *MemoryCache) Invalidate(_ context.Context, stationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := cacheKey(stationID, "")
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
}
