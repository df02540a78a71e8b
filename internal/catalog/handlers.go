package catalog

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-storefront/internal/common"
)

const maxLookupSKUs = 50

// Handler exposes variant lookups the storefront uses to build optimistic lines.
type Handler struct {
	source Source
}

// NewHandler constructs a Handler.
func NewHandler(source Source) *Handler {
	return &Handler{source: source}
}

// Variant handles GET /api/v1/variants/{sku}.
func (h *Handler) Variant(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.source == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog source not configured", nil)
		return
	}
	sku := strings.TrimSpace(chi.URLParam(r, "sku"))
	found, err := h.source.Variants(r.Context(), []string{sku})
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("sku", sku).Msg("catalog: variant lookup failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	v, ok := found[sku]
	if !ok {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", ErrNotFound.Error(), map[string]any{"sku": sku})
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": v})
}

// Variants handles GET /api/v1/variants?sku=A,B.
func (h *Handler) Variants(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.source == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog source not configured", nil)
		return
	}
	var skus []string
	for _, raw := range r.URL.Query()["sku"] {
		for _, part := range strings.Split(raw, ",") {
			if s := strings.TrimSpace(part); s != "" {
				skus = append(skus, s)
			}
		}
	}
	if len(skus) == 0 || len(skus) > maxLookupSKUs {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "between 1 and 50 skus required", nil)
		return
	}
	found, err := h.source.Variants(r.Context(), skus)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("catalog: variants lookup failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	out := make([]Variant, 0, len(found))
	for _, sku := range skus {
		if v, ok := found[sku]; ok {
			out = append(out, v)
			delete(found, sku)
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}
