package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/obs"
)

var errProvider = errors.New("payment provider")

// Carts is the part of the authoritative cart backend payments drive.
type Carts interface {
	Place(ctx context.Context, id string) (*cart.Cart, error)
	Fulfill(ctx context.Context, id, orderID string) (*cart.Cart, error)
	Reopen(ctx context.Context, id string) (*cart.Cart, error)
}

// Intent is the checkout handle returned to the storefront.
type Intent struct {
	Provider    string       `json:"provider"`
	Token       string       `json:"token,omitempty"`
	RedirectURL string       `json:"redirectUrl,omitempty"`
	ExpiresAt   *time.Time   `json:"expiresAt,omitempty"`
	Order       OrderPayload `json:"order"`
}

// Service opens payment intents for carts.
type Service struct {
	Carts           Carts
	Provider        Provider
	Intents         IntentStore
	IntentTTL       time.Duration
	CallbackBaseURL string
	TaxBps          int
	Now             func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CreateIntent places the cart and opens (or reuses) a provider intent for
// its current revision.
func (s *Service) CreateIntent(ctx context.Context, cartID, channel string) (Intent, error) {
	if s == nil || s.Carts == nil || s.Provider == nil || s.Intents == nil {
		return Intent{}, errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateIntent")
	defer span.End()

	providerName := normaliseLabel(s.Provider.Name())
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", providerName),
			attribute.String("payment.intent.result", result),
		)
		obs.Count(obs.PaymentIntentTotal, providerName, result)
	}()

	placed, err := s.Carts.Place(ctx, cartID)
	if err != nil {
		span.RecordError(err)
		return Intent{}, err
	}
	order, err := OrderIntent(placed, s.TaxBps)
	if err != nil {
		return Intent{}, err
	}
	span.SetAttributes(attribute.String("cart.id", cartID), attribute.String("order.id", order.OrderID))

	if existing, err := s.Intents.Get(ctx, order.OrderID); err == nil {
		if existing.ExpiresAt.After(s.now()) {
			result = "reused"
			return intentFrom(existing, order), nil
		}
	} else if !errors.Is(err, ErrUnknownOrder) {
		return Intent{}, err
	}

	ttl := s.IntentTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	resp, err := s.Provider.CreateIntent(ctx, IntentRequest{
		OrderID:         order.OrderID,
		Description:     fmt.Sprintf("Order %s (%d items)", order.OrderID, len(order.Lines)),
		Amount:          order.Summary.Total.Round(0).IntPart(),
		Currency:        order.Currency,
		Channel:         strings.TrimSpace(channel),
		TTL:             ttl,
		CallbackBaseURL: s.CallbackBaseURL,
		Lines:           order.Lines,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Intent{}, fmt.Errorf("%w: create intent: %w", errProvider, err)
	}
	expiresAt := resp.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(ttl)
	}
	rec := IntentRecord{
		OrderID:   order.OrderID,
		CartID:    placed.ID,
		Provider:  normaliseLabel(resp.Provider),
		Amount:    order.Summary.Total,
		Currency:  order.Currency,
		Token:     resp.Token,
		Redirect:  resp.RedirectURL,
		ExpiresAt: expiresAt,
	}
	// Callbacks can arrive long after the intent itself expires.
	if err := s.Intents.Save(ctx, rec, ttl+24*time.Hour); err != nil {
		return Intent{}, err
	}
	result = "success"
	return intentFrom(rec, order), nil
}

func intentFrom(rec IntentRecord, order OrderPayload) Intent {
	expires := rec.ExpiresAt
	return Intent{
		Provider:    rec.Provider,
		Token:       rec.Token,
		RedirectURL: rec.Redirect,
		ExpiresAt:   &expires,
		Order:       order,
	}
}

func normaliseLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
