package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Status is a gateway payment state normalised across providers.
type Status string

const (
	StatusPaid     Status = "PAID"
	StatusPending  Status = "PENDING"
	StatusFailed   Status = "FAILED"
	StatusExpired  Status = "EXPIRED"
	StatusRefunded Status = "REFUNDED"
)

// Settles reports whether the payment completes the order.
func (s Status) Settles() bool { return s == StatusPaid }

// Releases reports whether the cart goes back to the shopper for editing.
func (s Status) Releases() bool { return s == StatusFailed || s == StatusExpired }

// ErrInvalidSignature marks a callback whose authenticity could not be proven.
var ErrInvalidSignature = errors.New("payment: invalid webhook signature")

const defaultIntentTTL = 15 * time.Minute

// IntentRequest describes the order a provider should collect payment for.
// Amount is in whole currency units.
type IntentRequest struct {
	OrderID         string
	Description     string
	Amount          int64
	Currency        string
	Channel         string
	TTL             time.Duration
	CallbackBaseURL string
	Lines           []OrderLine
}

func (r IntentRequest) validate() error {
	if strings.TrimSpace(r.OrderID) == "" {
		return errors.New("order id is required")
	}
	if r.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	return nil
}

func (r IntentRequest) ttl() time.Duration {
	if r.TTL <= 0 {
		return defaultIntentTTL
	}
	return r.TTL
}

func (r IntentRequest) finishURL() string {
	base := strings.TrimRight(strings.TrimSpace(r.CallbackBaseURL), "/")
	if base == "" {
		return ""
	}
	return base + "/checkout/finish"
}

// IntentResponse is the hosted checkout a provider opened.
type IntentResponse struct {
	Provider    string
	Token       string
	RedirectURL string
	ExpiresAt   time.Time
}

// Notification is a verified provider callback.
type Notification struct {
	OrderID string
	// Amount is zero when the provider omitted it.
	Amount int64
	Status Status
	Raw    []byte
}

// Provider is an upstream payment gateway.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error)
	// VerifyWebhook authenticates and decodes a callback. Forged callbacks
	// fail with ErrInvalidSignature; anything else is a malformed payload.
	VerifyWebhook(r *http.Request, body []byte) (Notification, error)
}
