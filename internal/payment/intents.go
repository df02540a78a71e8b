package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ErrUnknownOrder is returned when a provider reports an order this service never opened.
var ErrUnknownOrder = errors.New("payment: unknown order")

// IntentRecord links a provider order back to the cart it was opened for.
type IntentRecord struct {
	OrderID   string          `json:"orderId"`
	CartID    string          `json:"cartId"`
	Provider  string          `json:"provider"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Token     string          `json:"token,omitempty"`
	Redirect  string          `json:"redirectUrl,omitempty"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// IntentStore remembers opened intents until their provider callbacks arrive.
type IntentStore interface {
	Save(ctx context.Context, rec IntentRecord, ttl time.Duration) error
	Get(ctx context.Context, orderID string) (IntentRecord, error)
}

// RedisIntents stores intent records as JSON keyed by order id.
type RedisIntents struct {
	R *redis.Client
}

func intentKey(orderID string) string {
	return "payment:intent:" + orderID
}

// Save implements IntentStore.
func (s RedisIntents) Save(ctx context.Context, rec IntentRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.R.Set(ctx, intentKey(rec.OrderID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save intent %s: %w", rec.OrderID, err)
	}
	return nil
}

// Get implements IntentStore.
func (s RedisIntents) Get(ctx context.Context, orderID string) (IntentRecord, error) {
	data, err := s.R.Get(ctx, intentKey(orderID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return IntentRecord{}, ErrUnknownOrder
		}
		return IntentRecord{}, fmt.Errorf("load intent %s: %w", orderID, err)
	}
	var rec IntentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return IntentRecord{}, fmt.Errorf("decode intent %s: %w", orderID, err)
	}
	return rec, nil
}
