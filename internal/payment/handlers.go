package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/hydrate"
)

// Handler exposes HTTP endpoints for payment intents.
type Handler struct {
	Svc *Service
}

type intentReq struct {
	Channel string `json:"channel"`
}

// Intent handles POST /api/v1/carts/{id}/order-intent. The body is optional.
func (h *Handler) Intent(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	var req intentReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	intent, err := h.Svc.CreateIntent(r.Context(), chi.URLParam(r, "id"), req.Channel)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyCart):
			common.JSONError(w, http.StatusUnprocessableEntity, "CART_EMPTY", err.Error(), nil)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			common.JSONError(w, http.StatusGatewayTimeout, "INTENT_TIMEOUT", err.Error(), nil)
		case errors.Is(err, errProvider):
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("payment provider failed")
			common.JSONError(w, http.StatusBadGateway, "INTENT_FAILED", "payment provider unavailable", nil)
		default:
			hydrate.WriteError(w, r, err)
		}
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": intent})
}
