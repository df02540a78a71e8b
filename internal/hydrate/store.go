package hydrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-storefront/internal/cart"
)

// Record is the persisted authoritative state of one cart.
type Record struct {
	Cart    *cart.Cart `json:"cart"`
	OrderID string     `json:"orderId,omitempty"`
}

// Store persists cart records.
type Store interface {
	Get(ctx context.Context, id string) (Record, error)
	Put(ctx context.Context, rec Record) error
}

// RedisStore keeps records as JSON strings that expire after TTL of inactivity.
type RedisStore struct {
	R      *redis.Client
	TTL    time.Duration
	Prefix string
}

func (s RedisStore) key(id string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "cart:record:"
	}
	return prefix + id
}

func (s RedisStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return 30 * 24 * time.Hour
	}
	return s.TTL
}

// Get implements Store.
func (s RedisStore) Get(ctx context.Context, id string) (Record, error) {
	data, err := s.R.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("redis get cart %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode cart %s: %w", id, err)
	}
	if rec.Cart == nil {
		return Record{}, fmt.Errorf("decode cart %s: empty record", id)
	}
	return rec, nil
}

// Put implements Store. Every write refreshes the expiry.
func (s RedisStore) Put(ctx context.Context, rec Record) error {
	if rec.Cart == nil || rec.Cart.ID == "" {
		return errors.New("hydrate: record without cart id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", rec.Cart.ID, err)
	}
	if err := s.R.Set(ctx, s.key(rec.Cart.ID), data, s.ttl()).Err(); err != nil {
		return fmt.Errorf("redis set cart %s: %w", rec.Cart.ID, err)
	}
	return nil
}
