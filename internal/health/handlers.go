package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/toko-storefront/internal/resilience"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips readiness. The API clears it while draining so load
// balancers stop routing hydrates before the server shuts down.
func SetReady(v bool) { ready.Store(v) }

const defaultTimeout = 500 * time.Millisecond

// Check is a single named readiness probe.
type Check struct {
	Name    string
	Timeout time.Duration
	// Optional checks report a degraded status without failing readiness.
	Optional bool
	Probe    func(ctx context.Context) error
}

// Postgres probes the catalog database.
func Postgres(pool *pgxpool.Pool) Check {
	return Check{Name: "db", Probe: func(ctx context.Context) error {
		if pool == nil {
			return errors.New("database not configured")
		}
		return pool.Ping(ctx)
	}}
}

// Redis probes the instance holding carts, sessions and intents.
func Redis(client *redis.Client) Check {
	return Check{Name: "redis", Timeout: 300 * time.Millisecond, Probe: func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis not configured")
		}
		return client.Ping(ctx).Err()
	}}
}

// Breaker reports an open circuit as degraded; checkout is affected but
// hydrates still work.
func Breaker(b *resilience.Breaker) Check {
	return Check{Name: "breaker:" + b.Target(), Optional: true, Probe: func(context.Context) error {
		if st := b.State(); st == resilience.Open {
			return errors.New("circuit " + st.String())
		}
		return nil
	}}
}

// Report is the readiness response body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checks []Check
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every check concurrently and answers 503 when a required one fails.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		writeReport(w, http.StatusServiceUnavailable, Report{Status: "draining", Checks: map[string]string{}})
		return
	}
	report, ok := h.Run(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeReport(w, status, report)
}

// Run executes the checks and reports whether all required ones passed.
func (h Handler) Run(ctx context.Context) (Report, bool) {
	report := Report{Status: "ok", Checks: make(map[string]string, len(h.Checks))}
	if len(h.Checks) == 0 {
		report.Status = "unconfigured"
		return report, false
	}

	var (
		mu       sync.Mutex
		failed   bool
		degraded bool
	)
	var g errgroup.Group
	for _, c := range h.Checks {
		g.Go(func() error {
			timeout := c.Timeout
			if timeout <= 0 {
				timeout = defaultTimeout
			}
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			err := c.Probe(cctx)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				report.Checks[c.Name] = "ok"
				return nil
			}
			report.Checks[c.Name] = err.Error()
			if c.Optional {
				degraded = true
			} else {
				failed = true
			}
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case failed:
		report.Status = "unavailable"
	case degraded:
		report.Status = "degraded"
	}
	return report, !failed
}

func writeReport(w http.ResponseWriter, status int, report Report) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(report)
}
