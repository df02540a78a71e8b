package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Doer sends provider requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Midtrans implements the Provider interface for Midtrans SNAP.
type Midtrans struct {
	ServerKey string
	BaseURL   string
	Sandbox   bool
	// HTTP performs SNAP calls. Without it intents are synthesised locally,
	// which keeps development setups offline.
	HTTP Doer
}

// Name implements Provider.
func (Midtrans) Name() string { return "midtrans" }

func (m Midtrans) snapHost() string {
	if base := strings.TrimSpace(m.BaseURL); base != "" {
		return base
	}
	if m.Sandbox {
		return "https://app.sandbox.midtrans.com"
	}
	return "https://app.midtrans.com"
}

type snapRequest struct {
	TransactionDetails struct {
		OrderID     string `json:"order_id"`
		GrossAmount int64  `json:"gross_amount"`
	} `json:"transaction_details"`
	EnabledPayments []string `json:"enabled_payments,omitempty"`
	Expiry          struct {
		Unit     string `json:"unit"`
		Duration int    `json:"duration"`
	} `json:"expiry"`
	Callbacks *struct {
		Finish string `json:"finish"`
	} `json:"callbacks,omitempty"`
}

type snapResponse struct {
	Token         string   `json:"token"`
	RedirectURL   string   `json:"redirect_url"`
	ErrorMessages []string `json:"error_messages"`
}

// CreateIntent opens a SNAP transaction for the order.
func (m Midtrans) CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	if err := req.validate(); err != nil {
		return IntentResponse{}, err
	}
	ttl := req.ttl()
	expiresAt := time.Now().Add(ttl)
	if m.HTTP == nil {
		token := "SNAP-" + req.OrderID
		return IntentResponse{
			Provider:    m.Name(),
			Token:       token,
			RedirectURL: fmt.Sprintf("%s/snap/v2/vtweb/%s", strings.TrimRight(m.snapHost(), "/"), token),
			ExpiresAt:   expiresAt,
		}, nil
	}

	var body snapRequest
	body.TransactionDetails.OrderID = req.OrderID
	body.TransactionDetails.GrossAmount = req.Amount
	if req.Channel != "" {
		body.EnabledPayments = []string{req.Channel}
	}
	body.Expiry.Unit = "minute"
	body.Expiry.Duration = int(math.Ceil(ttl.Minutes()))
	if finish := req.finishURL(); finish != "" {
		body.Callbacks = &struct {
			Finish string `json:"finish"`
		}{Finish: finish}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return IntentResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(m.snapHost(), "/")+"/snap/v1/transactions", bytes.NewReader(payload))
	if err != nil {
		return IntentResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(strings.TrimSpace(m.ServerKey), "")

	resp, err := m.HTTP.Do(ctx, httpReq)
	if err != nil {
		return IntentResponse{}, fmt.Errorf("midtrans snap: %w", err)
	}
	defer resp.Body.Close()
	var out snapResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return IntentResponse{}, fmt.Errorf("midtrans snap: decode %s: %w", resp.Status, err)
	}
	if resp.StatusCode >= 300 || out.Token == "" {
		return IntentResponse{}, fmt.Errorf("midtrans snap: %s: %s", resp.Status, strings.Join(out.ErrorMessages, "; "))
	}
	return IntentResponse{
		Provider:    m.Name(),
		Token:       out.Token,
		RedirectURL: out.RedirectURL,
		ExpiresAt:   expiresAt,
	}, nil
}

// VerifyWebhook checks the notification's signature_key and decodes it.
func (m Midtrans) VerifyWebhook(_ *http.Request, body []byte) (Notification, error) {
	var payload struct {
		OrderID           string `json:"order_id"`
		StatusCode        string `json:"status_code"`
		GrossAmount       string `json:"gross_amount"`
		SignatureKey      string `json:"signature_key"`
		TransactionStatus string `json:"transaction_status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Notification{}, fmt.Errorf("midtrans notification: %w", err)
	}
	if payload.OrderID == "" {
		return Notification{}, errors.New("midtrans notification: missing order_id")
	}

	expected := m.computeSignature(payload.OrderID, payload.StatusCode, payload.GrossAmount)
	provided := strings.TrimSpace(payload.SignatureKey)
	if expected == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return Notification{}, ErrInvalidSignature
	}

	amount, err := parseMidtransAmount(payload.GrossAmount)
	if err != nil {
		return Notification{}, fmt.Errorf("midtrans notification: gross_amount: %w", err)
	}
	return Notification{
		OrderID: payload.OrderID,
		Amount:  amount,
		Status:  midtransStatus(payload.TransactionStatus),
		Raw:     body,
	}, nil
}

func (m Midtrans) computeSignature(orderID, statusCode, grossAmount string) string {
	key := strings.TrimSpace(m.ServerKey)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write([]byte(orderID))
	mac.Write([]byte(statusCode))
	mac.Write([]byte(grossAmount))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseMidtransAmount(value string) (int64, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, err
	}
	return d.Round(0).IntPart(), nil
}

func midtransStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "capture", "settlement":
		return StatusPaid
	case "pending":
		return StatusPending
	case "deny", "cancel":
		return StatusFailed
	case "expire":
		return StatusExpired
	case "refund":
		return StatusRefunded
	default:
		return StatusPending
	}
}
