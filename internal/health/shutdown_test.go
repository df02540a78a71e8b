package health_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-storefront/internal/health"
)

func TestReadinessWhileDraining(t *testing.T) {
	h := health.Handler{Checks: []health.Check{{Name: "redis", Probe: probe(nil)}}}
	t.Cleanup(func() { health.SetReady(true) })

	health.SetReady(true)
	code, _ := ready(t, h)
	require.Equal(t, http.StatusOK, code)

	health.SetReady(false)
	code, report := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "draining", report.Status)
}

func TestRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	check := health.Redis(client)
	require.NoError(t, check.Probe(context.Background()))

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.Error(t, check.Probe(ctx))
}

func TestUnconfiguredChecksFail(t *testing.T) {
	require.EqualError(t, health.Postgres(nil).Probe(context.Background()), "database not configured")
	require.EqualError(t, health.Redis(nil).Probe(context.Background()), "redis not configured")
}
