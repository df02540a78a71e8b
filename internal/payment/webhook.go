package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/hydrate"
	"github.com/noah-isme/toko-storefront/internal/obs"
)

// Webhook handles payment provider callbacks: it verifies them with the
// provider, drops replays and moves the paid or failed cart along its lifecycle.
type Webhook struct {
	Carts     Carts
	Intents   IntentStore
	Providers map[string]Provider
	Replay    *redis.Client
	ReplayTTL time.Duration
}

// Handle processes POST /api/v1/webhooks/payment/{provider}.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Carts == nil || h.Intents == nil || h.Providers == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	provider, ok := h.Providers[providerKey]
	if !ok {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	outcome := "error"
	defer func() { obs.Count(obs.PaymentWebhookTotal, providerKey, outcome) }()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	note, err := provider.VerifyWebhook(r, body)
	if errors.Is(err, ErrInvalidSignature) {
		outcome = "invalid"
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}

	ctx := r.Context()
	replayKey := ""
	if h.Replay != nil && h.ReplayTTL > 0 {
		replayKey = fmt.Sprintf("wh:%s:%s", providerKey, common.Fingerprint(string(body)))
		fresh, err := h.Replay.SetNX(ctx, replayKey, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !fresh {
			outcome = "replay"
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook", nil)
			return
		}
	}
	// A failed attempt must stay retryable by the provider.
	release := func() {
		if replayKey != "" {
			_ = h.Replay.Del(context.WithoutCancel(ctx), replayKey).Err()
		}
	}

	intent, err := h.Intents.Get(ctx, note.OrderID)
	if err != nil {
		if errors.Is(err, ErrUnknownOrder) {
			outcome = "unknown_order"
			common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		release()
		common.JSONError(w, http.StatusInternalServerError, "INTENT_FETCH_ERROR", err.Error(), nil)
		return
	}
	if note.Amount > 0 && intent.Amount.Round(0).IntPart() != note.Amount {
		outcome = "amount_mismatch"
		common.JSONError(w, http.StatusBadRequest, "AMOUNT_MISMATCH", "provider amount mismatch", nil)
		return
	}

	logger := zerolog.Ctx(ctx).With().Str("cart_id", intent.CartID).Str("order_id", intent.OrderID).Logger()
	logger.Debug().Str("status", string(note.Status)).RawJSON("payload", note.Raw).Msg("payment notification")
	switch {
	case note.Status.Settles():
		if _, err := h.Carts.Fulfill(ctx, intent.CartID, intent.OrderID); err != nil {
			if errors.Is(err, hydrate.ErrAlreadyOrdered) {
				outcome = "conflict"
				logger.Warn().Err(err).Msg("payment for a cart already ordered elsewhere")
				common.JSONError(w, http.StatusConflict, "CART_ALREADY_ORDERED", err.Error(), nil)
				return
			}
			release()
			logger.Error().Err(err).Msg("fulfil cart failed")
			common.JSONError(w, http.StatusInternalServerError, "FULFILL_FAILED", "unable to fulfil cart", nil)
			return
		}
	case note.Status.Releases():
		if _, err := h.Carts.Reopen(ctx, intent.CartID); err != nil {
			if !errors.Is(err, hydrate.ErrNotEditable) && !errors.Is(err, hydrate.ErrNotFound) {
				release()
				logger.Error().Err(err).Msg("reopen cart failed")
				common.JSONError(w, http.StatusInternalServerError, "REOPEN_FAILED", "unable to reopen cart", nil)
				return
			}
			logger.Info().Err(err).Msg("cart left as is after failed payment")
		}
	}
	outcome = strings.ToLower(string(note.Status))
	w.WriteHeader(http.StatusNoContent)
}
