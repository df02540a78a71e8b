package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/toko-storefront/internal/obs"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	MigrateOnStart     bool
	PprofUser          string
	PprofPass          string

	// Pricing defaults applied by the authoritative cart backend.
	TaxBps   int
	Currency string

	CartTTL           time.Duration
	AbandonAfter      time.Duration
	LockTTL           time.Duration
	LockWait          time.Duration
	CatalogCacheTTL   time.Duration
	IdempotencyTTL    time.Duration
	HydrateRateLimit  int
	IntentRateLimit   int
	RateLimitWindow   time.Duration
	WorkerConcurrency int

	CookieName     string
	CookieHashKey  []byte
	CookieBlockKey []byte
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
	CookieMaxAge   time.Duration

	PaymentProvider     string
	MidtransServerKey   string
	MidtransBaseURL     string
	MidtransSandbox     bool
	XenditSecretKey     string
	XenditCallbackToken string
	XenditBaseURL       string
	PaymentCallbackURL  string
	PaymentIntentTTL    time.Duration
	WebhookReplayTTL    time.Duration

	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsBuckets   []float64
	OTelExporter     string
	OTelEndpoint     string
	OTelSampling     float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:              valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:         k.String("DATABASE_URL"),
		RedisURL:            k.String("REDIS_URL"),
		CORSAllowedOrigins:  splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:      parseBool(k.String("MIGRATE_ON_START")),
		PprofUser:           strings.TrimSpace(k.String("PPROF_BASIC_AUTH_USER")),
		PprofPass:           strings.TrimSpace(k.String("PPROF_BASIC_AUTH_PASS")),
		TaxBps:              parseInt(k.String("CART_TAX_BPS"), 1100),
		Currency:            strings.ToUpper(valueOrDefault(k.String("CART_CURRENCY"), "IDR")),
		CartTTL:             parseDuration(k.String("CART_TTL"), "720h"),
		AbandonAfter:        parseDuration(k.String("CART_ABANDON_AFTER"), "24h"),
		LockTTL:             parseDuration(k.String("CART_LOCK_TTL"), "5s"),
		LockWait:            parseDuration(k.String("CART_LOCK_WAIT"), "2s"),
		CatalogCacheTTL:     parseDuration(k.String("CATALOG_CACHE_TTL"), "60s"),
		IdempotencyTTL:      parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		HydrateRateLimit:    parseInt(k.String("HYDRATE_RATE_LIMIT"), 120),
		IntentRateLimit:     parseInt(k.String("INTENT_RATE_LIMIT"), 10),
		RateLimitWindow:     parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		WorkerConcurrency:   parseInt(k.String("WORKER_CONCURRENCY"), 10),
		CookieName:          valueOrDefault(k.String("CART_COOKIE_NAME"), "toko_cart"),
		CookieHashKey:       []byte(k.String("CART_COOKIE_HASH_KEY")),
		CookieBlockKey:      []byte(k.String("CART_COOKIE_BLOCK_KEY")),
		CookieDomain:        strings.TrimSpace(k.String("COOKIE_DOMAIN")),
		CookieSecure:        parseBool(k.String("COOKIE_SECURE")),
		CookieSameSite:      parseSameSite(k.String("COOKIE_SAMESITE")),
		CookieMaxAge:        parseDuration(k.String("CART_COOKIE_MAX_AGE"), "720h"),
		PaymentProvider:     strings.ToLower(valueOrDefault(k.String("PAYMENT_PROVIDER"), "midtrans")),
		MidtransServerKey:   k.String("MIDTRANS_SERVER_KEY"),
		MidtransBaseURL:     strings.TrimSpace(k.String("MIDTRANS_BASE_URL")),
		MidtransSandbox:     parseBool(valueOrDefault(k.String("MIDTRANS_SANDBOX"), "true")),
		XenditSecretKey:     k.String("XENDIT_SECRET_KEY"),
		XenditCallbackToken: k.String("XENDIT_CALLBACK_TOKEN"),
		XenditBaseURL:       strings.TrimSpace(k.String("XENDIT_BASE_URL")),
		PaymentCallbackURL:  strings.TrimSpace(k.String("PAYMENT_CALLBACK_URL")),
		PaymentIntentTTL:    parseDuration(k.String("PAYMENT_INTENT_TTL"), "15m"),
		WebhookReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "72h"),
		LogFormat:           valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:            valueOrDefault(k.String("LOG_LEVEL"), "info"),
		MetricsNamespace:    valueOrDefault(k.String("METRICS_NAMESPACE"), "toko"),
		MetricsBuckets:      obs.ParseBucketsCSV(k.String("METRICS_BUCKETS_MS")),
		OTelExporter:        valueOrDefault(k.String("OTEL_EXPORTER"), "none"),
		OTelEndpoint:        strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTelSampling:        parseFloat(k.String("OTEL_SAMPLING_RATIO"), 1),
	}

	if cfg.CookieSameSite == http.SameSiteDefaultMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if len(cfg.CookieHashKey) < 32 {
		return nil, errors.New("CART_COOKIE_HASH_KEY must be at least 32 bytes")
	}
	switch len(cfg.CookieBlockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, errors.New("CART_COOKIE_BLOCK_KEY must be 16, 24 or 32 bytes")
	}
	if cfg.TaxBps < 0 || cfg.TaxBps >= 10000 {
		return nil, fmt.Errorf("CART_TAX_BPS out of range: %d", cfg.TaxBps)
	}
	switch cfg.PaymentProvider {
	case "midtrans", "xendit":
	default:
		return nil, fmt.Errorf("unsupported PAYMENT_PROVIDER %q", cfg.PaymentProvider)
	}
	if cfg.IsProduction() {
		if cfg.PaymentProvider == "midtrans" && cfg.MidtransServerKey == "" {
			return nil, errors.New("MIDTRANS_SERVER_KEY is required in production")
		}
		if cfg.PaymentProvider == "xendit" && (cfg.XenditSecretKey == "" || cfg.XenditCallbackToken == "") {
			return nil, errors.New("XENDIT_SECRET_KEY and XENDIT_CALLBACK_TOKEN are required in production")
		}
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
