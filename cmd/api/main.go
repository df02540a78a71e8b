package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-storefront/internal/app"
	"github.com/noah-isme/toko-storefront/internal/cartid"
	"github.com/noah-isme/toko-storefront/internal/catalog"
	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/config"
	"github.com/noah-isme/toko-storefront/internal/db"
	"github.com/noah-isme/toko-storefront/internal/health"
	"github.com/noah-isme/toko-storefront/internal/hydrate"
	"github.com/noah-isme/toko-storefront/internal/obs"
	"github.com/noah-isme/toko-storefront/internal/payment"
	"github.com/noah-isme/toko-storefront/internal/ratelimit"
	"github.com/noah-isme/toko-storefront/internal/resilience"
	"github.com/noah-isme/toko-storefront/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, "toko-storefront-api")
	if err != nil {
		panic(err)
	}
	defer deps.Close(context.Background())
	logger := deps.Logger

	if err := deps.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("dependencies unavailable")
	}
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	carts := deps.CartService()

	cookie, err := cartid.NewCookie(cfg.CookieName, cfg.CookieHashKey, cfg.CookieBlockKey, cfg.CookieMaxAge, cfg.CookieSecure)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise cart cookie")
	}
	cookie.Domain = cfg.CookieDomain
	cookie.SameSite = cfg.CookieSameSite
	cartHandler := hydrate.NewHandler(carts, cookie)
	catalogHandler := catalog.NewHandler(carts.Catalog)

	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}
	hydrateLimit := ratelimit.Handler{
		Name:    "hydrate",
		Limiter: ratelimit.Limiter{Client: deps.Redis, Prefix: "ratelimit:"},
		Config: ratelimit.Config{
			Key:     ratelimit.CartOrClientKey("hydrate:"),
			Window:  cfg.RateLimitWindow,
			Max:     cfg.HydrateRateLimit,
			Message: "too many cart updates, slow down",
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	intentWindow, err := ratelimit.NewRedisFixedWindow(deps.Redis, "ratelimit:intent:")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise intent rate limiter")
	}
	intentLimit := ratelimit.Handler{
		Name:    "order_intent",
		Limiter: intentWindow,
		Config: ratelimit.Config{
			Key:     ratelimit.CartOrClientKey(""),
			Window:  cfg.RateLimitWindow,
			Max:     cfg.IntentRateLimit,
			Message: "too many checkout attempts, try again shortly",
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("intent rate limiter unavailable") },
	}

	gatewayBreaker := resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget(cfg.PaymentProvider).WithLogger(logger)
	providers := map[string]payment.Provider{
		"midtrans": payment.Midtrans{
			ServerKey: cfg.MidtransServerKey,
			BaseURL:   cfg.MidtransBaseURL,
			Sandbox:   cfg.MidtransSandbox,
			HTTP:      providerClient(cfg.MidtransServerKey, gatewayBreaker),
		},
		"xendit": payment.Xendit{
			SecretKey:     cfg.XenditSecretKey,
			CallbackToken: cfg.XenditCallbackToken,
			BaseURL:       cfg.XenditBaseURL,
			HTTP:          providerClient(cfg.XenditSecretKey, gatewayBreaker),
		},
	}
	intents := payment.RedisIntents{R: deps.Redis}
	paymentHandler := &payment.Handler{Svc: &payment.Service{
		Carts:           carts,
		Provider:        providers[cfg.PaymentProvider],
		Intents:         intents,
		IntentTTL:       cfg.PaymentIntentTTL,
		CallbackBaseURL: cfg.PaymentCallbackURL,
		TaxBps:          cfg.TaxBps,
	}}
	webhook := payment.Webhook{
		Carts:     carts,
		Intents:   intents,
		Providers: providers,
		Replay:    deps.Redis,
		ReplayTTL: cfg.WebhookReplayTTL,
	}

	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, cfg.MetricsBuckets, nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cookie.Middleware)
	r.Use(obs.TracingMiddleware)
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.CORS(allowedOrigins(cfg)))
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction(), NoStore: true}.Middleware)

	r.Handle("/metrics", promhttp.Handler())
	if cfg.PprofUser != "" || !cfg.IsProduction() {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}

	healthHandler := health.Handler{Checks: []health.Check{
		health.Postgres(deps.DB),
		health.Redis(deps.Redis),
		health.Breaker(gatewayBreaker),
	}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: 256 << 10, JSONOnly: true}.Middleware)
		v.Use(security.CSRF{
			SessionCookie: cookie.Name,
			Exempt:        []string{"/api/v1/webhooks/"},
			Secure:        cfg.CookieSecure,
		}.Middleware)

		v.Get("/variants", catalogHandler.Variants)
		v.Get("/variants/{sku}", catalogHandler.Variant)

		v.Group(func(c chi.Router) {
			c.Use(hydrateLimit.Middleware)
			cartHandler.Routes(c, idem.Middleware)
			c.With(intentLimit.Middleware, idem.Middleware).Post("/carts/{id}/order-intent", paymentHandler.Intent)
		})

		v.Post("/webhooks/payment/{provider}", webhook.Handle)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return logger.WithContext(context.Background()) },
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("provider", cfg.PaymentProvider).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

// providerClient calls the payment provider with retries and a breaker so a
// flaky gateway does not hold checkout requests open. Without credentials the
// provider runs offline.
func providerClient(secret string, breaker *resilience.Breaker) payment.Doer {
	if secret == "" {
		return nil
	}
	return resilience.HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     breaker,
		BaseBackoff: 200 * time.Millisecond,
		MaxAttempts: 3,
		Jitter:      0.2,
		Timeout:     10 * time.Second,
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
