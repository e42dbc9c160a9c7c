package ratecard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-fern/internal/obs"
)

// Cache wraps Redis helpers for JSON payloads of rate-card reads. It is a
// pure performance layer: a nil, stale, or unreachable cache never changes
// resolution semantics.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper with the given TTL.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// ActiveCardKey is the cache key for an organization's active rate card.
func ActiveCardKey(orgID uuid.UUID) string {
	return "ratecard:org:" + orgID.String() + ":active"
}

// ItemsKey is the cache key for a rate card's full item list.
func ItemsKey(rateCardID uuid.UUID) string {
	return "ratecard:" + rateCardID.String() + ":items"
}

// ItemKey is the cache key for a single item-code lookup within a rate card.
func ItemKey(rateCardID uuid.UUID, code string) string {
	return "ratecard:" + rateCardID.String() + ":item:" + code
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the
// key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			recordCache("miss")
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	recordCache("hit")
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Bust drops every cached read for the organization and rate card. The
// catalog's write path calls this after mutating rate-card rows.
func (c *Cache) Bust(ctx context.Context, orgID, rateCardID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	keys := []string{ActiveCardKey(orgID), ItemsKey(rateCardID)}
	itemKeys, err := c.client.Keys(ctx, "ratecard:"+rateCardID.String()+":item:*").Result()
	if err == nil {
		keys = append(keys, itemKeys...)
	}
	return c.client.Del(ctx, keys...).Err()
}

func recordCache(result string) {
	if obs.RateCardCacheTotal == nil {
		return
	}
	obs.RateCardCacheTotal.WithLabelValues(result).Inc()
}
