package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-storefront/internal/payment"
	"github.com/noah-isme/toko-storefront/internal/resilience"
)

func TestXenditCreatesInvoice(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		require.Equal(t, "xnd_test", user)
		require.Equal(t, "/v2/invoices", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":          "inv_123",
			"invoice_url": "https://checkout.xendit.test/web/inv_123",
			"expiry_date": "2030-01-02T03:04:05Z",
		})
	}))
	defer srv.Close()

	x := payment.Xendit{
		SecretKey: "xnd_test",
		BaseURL:   srv.URL,
		HTTP:      resilience.HTTPClient{Client: srv.Client()},
	}
	resp, err := x.CreateIntent(context.Background(), payment.IntentRequest{
		OrderID:         "order-1",
		Amount:          166500,
		Currency:        "IDR",
		Channel:         "ovo",
		TTL:             10 * time.Minute,
		CallbackBaseURL: "https://shop.test/",
		Lines: []payment.OrderLine{
			{SKU: "HEATER-1", Name: "Heater", Quantity: 1, UnitGross: dec("150000")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "inv_123", resp.Token)
	require.Equal(t, "https://checkout.xendit.test/web/inv_123", resp.RedirectURL)
	require.Equal(t, time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC), resp.ExpiresAt.UTC())

	require.Equal(t, "order-1", got["external_id"])
	require.EqualValues(t, 166500, got["amount"])
	require.EqualValues(t, 600, got["invoice_duration"])
	require.Equal(t, []any{"OVO"}, got["payment_methods"])
	require.Equal(t, "https://shop.test/checkout/finish", got["success_redirect_url"])
}

func TestXenditSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_code":"API_VALIDATION_ERROR","message":"amount too small"}`))
	}))
	defer srv.Close()

	x := payment.Xendit{SecretKey: "xnd_test", BaseURL: srv.URL, HTTP: resilience.HTTPClient{Client: srv.Client()}}
	_, err := x.CreateIntent(context.Background(), payment.IntentRequest{OrderID: "order-1", Amount: 1})
	require.ErrorContains(t, err, "API_VALIDATION_ERROR")
}

func TestXenditOfflineIntent(t *testing.T) {
	resp, err := payment.Xendit{}.CreateIntent(context.Background(), payment.IntentRequest{OrderID: "order-9", Amount: 10})
	require.NoError(t, err)
	require.Equal(t, "inv-order-9", resp.Token)
	require.True(t, strings.HasSuffix(resp.RedirectURL, "/inv-order-9"))
	require.WithinDuration(t, time.Now().Add(15*time.Minute), resp.ExpiresAt, time.Minute)

	_, err = payment.Xendit{}.CreateIntent(context.Background(), payment.IntentRequest{OrderID: "order-9"})
	require.ErrorContains(t, err, "amount must be positive")
}

func TestXenditVerifiesCallbackToken(t *testing.T) {
	x := payment.Xendit{CallbackToken: "cb-token"}
	body := []byte(`{"external_id":"order-1","amount":166500,"paid_amount":"166500.00","status":"PAID"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment/xendit", nil)
	req.Header.Set("X-Callback-Token", "cb-token")
	note, err := x.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.Equal(t, "order-1", note.OrderID)
	require.EqualValues(t, 166500, note.Amount)
	require.Equal(t, payment.StatusPaid, note.Status)
	require.True(t, note.Status.Settles())

	req.Header.Set("X-Callback-Token", "guess")
	_, err = x.VerifyWebhook(req, body)
	require.ErrorIs(t, err, payment.ErrInvalidSignature)

	req.Header.Set("X-Callback-Token", "cb-token")
	_, err = x.VerifyWebhook(req, []byte(`{"status":"EXPIRED"}`))
	require.Error(t, err)
	require.NotErrorIs(t, err, payment.ErrInvalidSignature)

	note, err = x.VerifyWebhook(req, []byte(`{"external_id":"order-1","status":"EXPIRED"}`))
	require.NoError(t, err)
	require.True(t, note.Status.Releases())
	require.Zero(t, note.Amount)
}
