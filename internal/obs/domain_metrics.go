package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CartReconcileTotal counts optimistic submissions by how their authoritative response was applied.
	CartReconcileTotal *prometheus.CounterVec
	// CartHydrateTotal counts authoritative hydrate outcomes.
	CartHydrateTotal *prometheus.CounterVec
	// CartHydrateLatency records authoritative hydrate latency in milliseconds.
	CartHydrateLatency prometheus.Histogram
	// CartLifecycleTotal counts lifecycle transitions such as place or abandon.
	CartLifecycleTotal *prometheus.CounterVec
	// CatalogCacheTotal counts variant cache lookups by result.
	CatalogCacheTotal *prometheus.CounterVec
	// PaymentIntentTotal counts payment intent creation attempts.
	PaymentIntentTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// RateLimitTotal counts rate limiter decisions per limiter.
	RateLimitTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CartReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_reconcile_total",
			Help:      "Count of cart submissions by reconciliation outcome.",
		}, []string{"outcome"})
		CartHydrateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_hydrate_total",
			Help:      "Count of authoritative cart hydrates by result.",
		}, []string{"result"})
		CartHydrateLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cart_hydrate_duration_ms",
			Help:      "Latency of authoritative cart hydrates in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		})
		CartLifecycleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_lifecycle_total",
			Help:      "Count of cart lifecycle transitions.",
		}, []string{"transition", "result"})
		CatalogCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_total",
			Help:      "Count of catalog variant cache lookups.",
		}, []string{"result"})
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent processing outcomes.",
		}, []string{"provider", "result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"})
		RateLimitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Count of rate limiter decisions by limiter and decision.",
		}, []string{"limiter", "decision"})

		CartReconcileTotal = register(reg, CartReconcileTotal)
		CartHydrateTotal = register(reg, CartHydrateTotal)
		CartHydrateLatency = register(reg, CartHydrateLatency)
		CartLifecycleTotal = register(reg, CartLifecycleTotal)
		CatalogCacheTotal = register(reg, CatalogCacheTotal)
		PaymentIntentTotal = register(reg, PaymentIntentTotal)
		PaymentWebhookTotal = register(reg, PaymentWebhookTotal)
		RateLimitTotal = register(reg, RateLimitTotal)
	})
}

// Count increments vec for labels when the collector has been registered.
func Count(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
