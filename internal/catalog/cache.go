package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/toko-storefront/internal/obs"
)

// Cache wraps Redis helpers for JSON payloads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	jitter time.Duration
}

// NewCache constructs a cache helper. Entries expire after ttl plus up to
// jitter so keys written together do not expire together.
func NewCache(client *redis.Client, ttl, jitter time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl, jitter: jitter}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
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
	return c.client.Set(ctx, key, data, c.expiry()).Err()
}

// Delete removes keys from the cache.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Cache) expiry() time.Duration {
	if c.jitter <= 0 {
		return c.ttl
	}
	return c.ttl + time.Duration(rand.Int63n(int64(c.jitter)))
}

// Cached is a read-through Source. Concurrent misses for the same SKU set
// share one backend lookup.
type Cached struct {
	Next  Source
	Cache *Cache
	group singleflight.Group
}

// NewCached wraps next with a Redis cache.
func NewCached(next Source, cache *Cache) *Cached {
	return &Cached{Next: next, Cache: cache}
}

func variantKey(sku string) string {
	return "catalog:variant:" + sku
}

// Variants implements Source.
func (c *Cached) Variants(ctx context.Context, skus []string) (map[string]Variant, error) {
	out := make(map[string]Variant, len(skus))
	missing := make([]string, 0, len(skus))
	for _, sku := range skus {
		var v Variant
		ok, err := c.Cache.GetJSON(ctx, variantKey(sku), &v)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("sku", sku).Msg("catalog: cache read failed")
		}
		if ok {
			out[sku] = v
			obs.Count(obs.CatalogCacheTotal, "hit")
			continue
		}
		obs.Count(obs.CatalogCacheTotal, "miss")
		missing = append(missing, sku)
	}
	if len(missing) == 0 {
		return out, nil
	}

	sort.Strings(missing)
	res, err, _ := c.group.Do(strings.Join(missing, ","), func() (any, error) {
		found, err := c.Next.Variants(ctx, missing)
		if err != nil {
			return nil, err
		}
		for sku, v := range found {
			if err := c.Cache.SetJSON(ctx, variantKey(sku), v); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("sku", sku).Msg("catalog: cache write failed")
			}
		}
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	for sku, v := range res.(map[string]Variant) {
		out[sku] = v
	}
	return out, nil
}

// Invalidate drops cached variants, typically after a stock or price change.
func (c *Cached) Invalidate(ctx context.Context, skus ...string) error {
	keys := make([]string, 0, len(skus))
	for _, sku := range skus {
		keys = append(keys, variantKey(sku))
	}
	return c.Cache.Delete(ctx, keys...)
}
