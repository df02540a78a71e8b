package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/obs"
)

// Allower decides whether key may spend one more request in the window.
// Limiter and FixedWindow implement it.
type Allower interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error)
}

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
	// Message is returned to throttled clients.
	Message string
}

// Handler enforces rate limits before delegating to the next handler.
type Handler struct {
	// Name labels decisions in metrics and logs.
	Name    string
	Limiter Allower
	Config  Config
	OnError func(error)
}

// CartOrClientKey buckets requests by the cart resolved from the cookie and
// falls back to the client address for shoppers without a cart yet.
func CartOrClientKey(prefix string) func(*http.Request) string {
	return func(r *http.Request) string {
		if id, ok := common.CartID(r.Context()); ok {
			return prefix + "cart:" + id
		}
		return prefix + "ip:" + common.ClientIP(r)
	}
}

func (h Handler) name() string {
	if h.Name == "" {
		return "default"
	}
	return h.Name
}

// Middleware answers 429 once the key has spent its budget. Limiter failures
// let the request through so a Redis outage never blocks cart updates.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Config.Key == nil || h.Limiter == nil {
		return next
	}
	msg := h.Config.Message
	if msg == "" {
		msg = "too many requests, slow down"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := h.Config.Key(r)
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), key, h.Config.Window, h.Config.Max)
		if err != nil {
			obs.Count(obs.RateLimitTotal, h.name(), "error")
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(max(h.Config.Max, 0)))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if allowed {
			obs.Count(obs.RateLimitTotal, h.name(), "allowed")
			next.ServeHTTP(w, r)
			return
		}

		obs.Count(obs.RateLimitTotal, h.name(), "limited")
		wait := int(math.Ceil(time.Until(resetAt).Seconds()))
		headers.Set("Retry-After", strconv.Itoa(max(wait, 1)))
		zerolog.Ctx(r.Context()).Debug().Str("limiter", h.name()).Str("key", key).Msg("request throttled")
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", msg, map[string]any{"retryAfter": max(wait, 1)})
	})
}
