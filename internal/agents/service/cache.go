package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix  = "agents:oel:"
	defaultCacheTTL = 10 * time.Minute
)

// Cache keeps each organization's agent-key to OEL map in Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a read-through cache; a non-positive ttl uses the default.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(organizationID uuid.UUID) string {
	return cacheKeyPrefix + organizationID.String()
}

// Get returns the cached directory and whether it was present.
func (c *Cache) Get(ctx context.Context, organizationID uuid.UUID) (map[string]float64, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(organizationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read agent cache: %w", err)
	}
	var out map[string]float64
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("decode agent cache: %w", err)
	}
	return out, true, nil
}

// Set stores the directory with the configured TTL.
func (c *Cache) Set(ctx context.Context, organizationID uuid.UUID, directory map[string]float64) error {
	raw, err := json.Marshal(directory)
	if err != nil {
		return fmt.Errorf("encode agent cache: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(organizationID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write agent cache: %w", err)
	}
	return nil
}

// Invalidate drops the organization's cached directory.
func (c *Cache) Invalidate(ctx context.Context, organizationID uuid.UUID) error {
	if err := c.client.Del(ctx, cacheKey(organizationID)).Err(); err != nil {
		return fmt.Errorf("invalidate agent cache: %w", err)
	}
	return nil
}
