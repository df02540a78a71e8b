// Package cartclient talks to the cart API over HTTP. It implements the
// authoritative backend used by reconcile.Session outside the API process.
package cartclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/catalog"
	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/payment"
	"github.com/noah-isme/toko-storefront/internal/resilience"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("cartclient: not found")

// Doer sends requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client calls the cart API rooted at BaseURL.
type Client struct {
	BaseURL string
	HTTP    Doer
}

// New builds a client with retries, a circuit breaker and traced transport.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     resilience.NewBreaker(5, 0.5, 15*time.Second).WithTarget("cart_api"),
			BaseBackoff: 150 * time.Millisecond,
			MaxAttempts: 3,
			Jitter:      0.2,
			Timeout:     timeout,
			Retryable: retryable,
		},
	}
}

// retryable adds busy-cart conflicts to the default policy. The API marks
// those with Retry-After; other conflicts such as OUT_OF_STOCK are final.
// Hydrate input is the full state so resending it is safe.
func retryable(resp *http.Response) bool {
	if resp.StatusCode == http.StatusConflict {
		return resp.Header.Get("Retry-After") != ""
	}
	return resilience.DefaultRetryable(resp)
}

// Hydrate implements reconcile.Backend.
func (c *Client) Hydrate(ctx context.Context, in cart.HydrateInput) (*cart.Cart, error) {
	var out cart.Cart
	if err := c.call(ctx, http.MethodPost, "/api/v1/carts/hydrate", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCart implements reconcile.Backend.
func (c *Client) GetCart(ctx context.Context, id string) (*cart.Cart, error) {
	var out cart.Cart
	if err := c.call(ctx, http.MethodGet, "/api/v1/carts/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Place freezes the cart for checkout.
func (c *Client) Place(ctx context.Context, id string) (*cart.Cart, error) {
	var out cart.Cart
	if err := c.call(ctx, http.MethodPost, "/api/v1/carts/"+url.PathEscape(id)+"/place", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OrderIntent opens a payment intent for the cart.
func (c *Client) OrderIntent(ctx context.Context, id, channel string) (payment.Intent, error) {
	var out payment.Intent
	body := map[string]string{"channel": channel}
	if err := c.call(ctx, http.MethodPost, "/api/v1/carts/"+url.PathEscape(id)+"/order-intent", body, &out); err != nil {
		return payment.Intent{}, err
	}
	return out, nil
}

// Variant looks up what the storefront knows about a sku before adding it.
func (c *Client) Variant(ctx context.Context, sku string) (catalog.Variant, error) {
	var out catalog.Variant
	if err := c.call(ctx, http.MethodGet, "/api/v1/variants/"+url.PathEscape(sku), nil, &out); err != nil {
		return catalog.Variant{}, err
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	if c == nil || c.HTTP == nil {
		return errors.New("cartclient: not configured")
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var body common.ErrorEnvelope
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Code == "" {
		body.Error = common.ErrorBody{Code: http.StatusText(status), Message: strings.TrimSpace(string(data))}
	}
	appErr := common.NewAppError(body.Error.Code, body.Error.Message, status, nil).WithDetails(body.Error.Details)
	if status == http.StatusNotFound {
		appErr.Err = ErrNotFound
	}
	return appErr
}
