package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-storefront/internal/catalog"
	"github.com/noah-isme/toko-storefront/internal/cartid"
	"github.com/noah-isme/toko-storefront/internal/hydrate"
	"github.com/noah-isme/toko-storefront/internal/payment"
	"github.com/noah-isme/toko-storefront/internal/voucher"
)

type harness struct {
	api   string
	state string
	mr    *miniredis.Miniredis
	carts *hydrate.Service
}

func newHarness(t *testing.T) harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	variants := catalog.StaticSource{
		"HEATER-1": {SKU: "HEATER-1", Name: "Default", ProductName: "Heater", UnitGross: decimal.NewFromInt(500), Stock: 10},
		"MUG-1":    {SKU: "MUG-1", Name: "Blue", ProductName: "Mug", UnitGross: decimal.NewFromInt(50), Stock: 3},
	}
	carts := &hydrate.Service{
		Store:    hydrate.RedisStore{R: client},
		Catalog:  variants,
		Vouchers: voucher.StaticSource{"WARM10": {Code: "WARM10", Kind: voucher.KindPercent, PercentBps: 1000}},
		TaxBps:   1100,
	}
	pay := &payment.Handler{Svc: &payment.Service{
		Carts:    carts,
		Provider: payment.Midtrans{ServerKey: "SB-Mid-server-test", Sandbox: true},
		Intents:  payment.RedisIntents{R: client},
		TaxBps:   1100,
	}}

	r := chi.NewRouter()
	r.Route("/api/v1", func(v chi.Router) {
		hydrate.NewHandler(carts, nil).Routes(v)
		v.Post("/carts/{id}/order-intent", pay.Intent)
		cat := catalog.NewHandler(variants)
		v.Get("/variants/{sku}", cat.Variant)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return harness{api: srv.URL, state: filepath.Join(t.TempDir(), "cart.json"), mr: mr, carts: carts}
}

func (h harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &out
	full := append([]string{"cartctl", "--api", h.api, "--state", h.state}, args...)
	err := cmd.Run(context.Background(), full)
	return out.String(), err
}

func TestCartctlShoppingFlow(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "show")
	require.NoError(t, err)
	require.Contains(t, out, "cart is empty")

	out, err = h.run(t, "add", "--qty", "2", "HEATER-1")
	require.NoError(t, err)
	require.Contains(t, out, "HEATER-1")
	require.Contains(t, out, "2 units, total 1000.00 IDR")

	id, ok := cartid.NewFile(h.state).CartID()
	require.True(t, ok, "cart id is remembered between invocations")

	_, err = h.run(t, "add", "MUG-1")
	require.NoError(t, err)
	out, err = h.run(t, "dec", "1")
	require.NoError(t, err)
	require.Contains(t, out, "total 550.00 IDR")

	out, err = h.run(t, "voucher", "WARM10")
	require.NoError(t, err)
	require.Contains(t, out, "promotion WARM10: -55.00")
	require.Contains(t, out, "total 495.00 IDR")

	out, err = h.run(t, "checkout", "--channel", "gopay")
	require.NoError(t, err)
	require.Contains(t, out, "[placed]")
	require.Contains(t, out, "via midtrans: 495.00 IDR")
	require.Contains(t, out, "pay at https://app.sandbox.midtrans.com/")

	again, ok := cartid.NewFile(h.state).CartID()
	require.True(t, ok)
	require.Equal(t, id, again)
}

func TestCartctlRejectsBadInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "add", "NOPE-1")
	require.ErrorContains(t, err, "look up NOPE-1")

	_, err = h.run(t, "inc", "zero")
	require.ErrorContains(t, err, "line must be a positive number")

	_, err = h.run(t, "remove", "3")
	require.Error(t, err)
}

func TestCartctlForgetsExpiredCart(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "add", "MUG-1")
	require.NoError(t, err)
	h.mr.FlushAll()

	out, err := h.run(t, "show")
	require.NoError(t, err)
	require.Contains(t, out, "cart is empty")
	_, ok := cartid.NewFile(h.state).CartID()
	require.False(t, ok)

	out, err = h.run(t, "add", "MUG-1")
	require.NoError(t, err)
	require.Contains(t, out, "total 50.00 IDR")
}

func TestCartctlStartsNewCartAfterOrder(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "add", "HEATER-1")
	require.NoError(t, err)
	_, err = h.run(t, "checkout")
	require.NoError(t, err)
	ordered, ok := cartid.NewFile(h.state).CartID()
	require.True(t, ok)

	_, err = h.carts.Fulfill(t.Context(), ordered, "order-1")
	require.NoError(t, err)

	out, err := h.run(t, "show")
	require.NoError(t, err)
	require.Contains(t, out, "cart is empty")
	_, ok = cartid.NewFile(h.state).CartID()
	require.False(t, ok)

	out, err = h.run(t, "add", "MUG-1")
	require.NoError(t, err)
	require.Contains(t, out, "total 50.00 IDR")
	require.NotContains(t, out, "[ordered]")
	fresh, ok := cartid.NewFile(h.state).CartID()
	require.True(t, ok)
	require.NotEqual(t, ordered, fresh)
}
