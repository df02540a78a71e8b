package payment

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Xendit opens hosted invoices through the Xendit invoice API.
type Xendit struct {
	SecretKey string
	// CallbackToken is the verification token Xendit echoes in
	// X-Callback-Token on every invoice callback.
	CallbackToken string
	BaseURL       string
	// HTTP performs invoice calls. Without it invoice links are synthesised
	// locally, as with Midtrans.
	HTTP Doer
}

// Name implements Provider.
func (Xendit) Name() string { return "xendit" }

func (x Xendit) host() string {
	if base := strings.TrimRight(strings.TrimSpace(x.BaseURL), "/"); base != "" {
		return base
	}
	return "https://api.xendit.co"
}

type xenditItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type xenditInvoice struct {
	ExternalID         string       `json:"external_id"`
	Amount             int64        `json:"amount"`
	Currency           string       `json:"currency,omitempty"`
	Description        string       `json:"description,omitempty"`
	InvoiceDuration    int64        `json:"invoice_duration"`
	PaymentMethods     []string     `json:"payment_methods,omitempty"`
	SuccessRedirectURL string       `json:"success_redirect_url,omitempty"`
	FailureRedirectURL string       `json:"failure_redirect_url,omitempty"`
	Items              []xenditItem `json:"items,omitempty"`
}

type xenditInvoiceResponse struct {
	ID         string    `json:"id"`
	InvoiceURL string    `json:"invoice_url"`
	ExpiryDate time.Time `json:"expiry_date"`
	ErrorCode  string    `json:"error_code"`
	Message    string    `json:"message"`
}

// CreateIntent creates an invoice for the order.
func (x Xendit) CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	if err := req.validate(); err != nil {
		return IntentResponse{}, err
	}
	ttl := req.ttl()
	if x.HTTP == nil {
		token := "inv-" + req.OrderID
		return IntentResponse{
			Provider:    x.Name(),
			Token:       token,
			RedirectURL: "https://checkout-staging.xendit.co/web/" + token,
			ExpiresAt:   time.Now().Add(ttl),
		}, nil
	}

	invoice := xenditInvoice{
		ExternalID:         req.OrderID,
		Amount:             req.Amount,
		Currency:           req.Currency,
		Description:        req.Description,
		InvoiceDuration:    int64(ttl / time.Second),
		SuccessRedirectURL: req.finishURL(),
		FailureRedirectURL: req.finishURL(),
	}
	if req.Channel != "" {
		invoice.PaymentMethods = []string{strings.ToUpper(req.Channel)}
	}
	for _, line := range req.Lines {
		invoice.Items = append(invoice.Items, xenditItem{
			Name:     line.Name,
			Quantity: line.Quantity,
			Price:    line.UnitGross.Round(0).IntPart(),
		})
	}
	payload, err := json.Marshal(invoice)
	if err != nil {
		return IntentResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, x.host()+"/v2/invoices", bytes.NewReader(payload))
	if err != nil {
		return IntentResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(strings.TrimSpace(x.SecretKey), "")

	resp, err := x.HTTP.Do(ctx, httpReq)
	if err != nil {
		return IntentResponse{}, fmt.Errorf("xendit invoice: %w", err)
	}
	defer resp.Body.Close()
	var out xenditInvoiceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return IntentResponse{}, fmt.Errorf("xendit invoice: decode %s: %w", resp.Status, err)
	}
	if resp.StatusCode >= 300 || out.InvoiceURL == "" {
		return IntentResponse{}, fmt.Errorf("xendit invoice: %s: %s %s", resp.Status, out.ErrorCode, out.Message)
	}
	expiresAt := out.ExpiryDate
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(ttl)
	}
	return IntentResponse{
		Provider:    x.Name(),
		Token:       out.ID,
		RedirectURL: out.InvoiceURL,
		ExpiresAt:   expiresAt,
	}, nil
}

// VerifyWebhook checks the callback token and decodes an invoice callback.
func (x Xendit) VerifyWebhook(r *http.Request, body []byte) (Notification, error) {
	want := strings.TrimSpace(x.CallbackToken)
	got := strings.TrimSpace(r.Header.Get("X-Callback-Token"))
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return Notification{}, ErrInvalidSignature
	}

	var payload struct {
		ExternalID string          `json:"external_id"`
		Amount     decimal.Decimal `json:"amount"`
		PaidAmount decimal.Decimal `json:"paid_amount"`
		Status     string          `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Notification{}, fmt.Errorf("xendit callback: %w", err)
	}
	orderID := strings.TrimSpace(payload.ExternalID)
	if orderID == "" {
		return Notification{}, errors.New("xendit callback: missing external_id")
	}
	amount := payload.PaidAmount
	if amount.IsZero() {
		amount = payload.Amount
	}
	return Notification{
		OrderID: orderID,
		Amount:  amount.Round(0).IntPart(),
		Status:  xenditStatus(payload.Status),
		Raw:     body,
	}, nil
}

func xenditStatus(status string) Status {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PAID", "SETTLED":
		return StatusPaid
	case "EXPIRED":
		return StatusExpired
	case "FAILED":
		return StatusFailed
	default:
		return StatusPending
	}
}
