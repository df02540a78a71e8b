package hydrate

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/lock"
	"github.com/noah-isme/toko-storefront/internal/voucher"
)

const maxBodyBytes = 64 << 10

// CookieWriter remembers the shopper's cart id on the response.
type CookieWriter interface {
	Set(w http.ResponseWriter, id string) error
	Clear(w http.ResponseWriter)
}

// Handler exposes cart endpoints.
type Handler struct {
	Service *Service
	Cookies CookieWriter
}

// NewHandler constructs a cart handler.
func NewHandler(svc *Service, cookies CookieWriter) *Handler {
	return &Handler{Service: svc, Cookies: cookies}
}

// Hydrate handles POST /api/v1/carts/hydrate. When the body has no id the
// cart id resolved from the request cookie is used; a stale cookie id starts
// a fresh cart.
func (h *Handler) Hydrate(w http.ResponseWriter, r *http.Request) {
	var in cart.HydrateInput
	if err := decodeJSON(w, r, &in); err != nil {
		WriteError(w, r, err)
		return
	}
	fromCookie := false
	if in.ID == "" {
		if id, ok := common.CartID(r.Context()); ok {
			in.ID = id
			fromCookie = true
		}
	}
	c, err := h.Service.Hydrate(r.Context(), in)
	if err != nil && fromCookie && (errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotEditable) || errors.Is(err, ErrInvalidInput)) {
		in.ID = ""
		c, err = h.Service.Hydrate(r.Context(), in)
	}
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if h.Cookies != nil {
		if err := h.Cookies.Set(w, c.ID); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("set cart cookie failed")
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// Get handles GET /api/v1/carts/{id}. Reading the cookie's own cart after it
// was ordered or abandoned drops the cookie so the next hydrate starts fresh.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.GetCart(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if h.Cookies != nil && c.Status.Final() {
		if id, ok := common.CartID(r.Context()); ok && id == c.ID {
			h.Cookies.Clear(w)
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// Place handles POST /api/v1/carts/{id}/place.
func (h *Handler) Place(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.Place(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return common.NewAppError("BAD_REQUEST", "invalid json body", http.StatusBadRequest, err)
	}
	return nil
}

// WriteError renders cart errors with their API status and code.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	var lineErr *LineError
	switch {
	case errors.As(err, &lineErr) && errors.Is(err, ErrUnknownSKU):
		common.JSONError(w, http.StatusUnprocessableEntity, "UNKNOWN_SKU", lineErr.Error(), lineErr.Lines)
	case errors.As(err, &lineErr) && errors.Is(err, ErrOutOfStock):
		common.JSONError(w, http.StatusConflict, "OUT_OF_STOCK", lineErr.Error(), lineErr.Lines)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", ErrNotFound.Error(), nil)
	case errors.Is(err, ErrNotEditable):
		common.JSONError(w, http.StatusConflict, "CART_NOT_EDITABLE", err.Error(), nil)
	case errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusUnprocessableEntity, "CART_EMPTY", err.Error(), nil)
	case errors.Is(err, ErrNotPlaced):
		common.JSONError(w, http.StatusConflict, "CART_NOT_PLACED", err.Error(), nil)
	case errors.Is(err, ErrAlreadyOrdered):
		common.JSONError(w, http.StatusConflict, "CART_ALREADY_ORDERED", err.Error(), nil)
	case errors.Is(err, ErrVoucherRejected):
		common.JSONError(w, http.StatusUnprocessableEntity, "VOUCHER_REJECTED", err.Error(), map[string]any{"reason": voucherReason(err)})
	case errors.Is(err, lock.ErrNotAcquired):
		w.Header().Set("Retry-After", "1")
		common.JSONError(w, http.StatusConflict, "CART_BUSY", "cart is being updated", nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("cart request failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func voucherReason(err error) string {
	switch {
	case errors.Is(err, voucher.ErrMinimumSpendUnmet):
		return "minimum_spend"
	case errors.Is(err, voucher.ErrVoucherExpired):
		return "expired"
	case errors.Is(err, voucher.ErrVoucherInactive):
		return "inactive"
	case errors.Is(err, voucher.ErrUsageLimitReached):
		return "usage_limit"
	default:
		return "not_eligible"
	}
}

// Routes mounts the shopper-facing cart endpoints on r. Place goes through mw.
// Fulfil and reopen are driven by verified payment notifications only.
func (h *Handler) Routes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Post("/carts/hydrate", h.Hydrate)
	r.Get("/carts/{id}", h.Get)
	r.Group(func(r chi.Router) {
		r.Use(mw...)
		r.Post("/carts/{id}/place", h.Place)
	})
}
