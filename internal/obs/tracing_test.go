package obs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-storefront/internal/obs"
)

func TestInitTracerExporters(t *testing.T) {
	shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{Exporter: "none"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = obs.InitTracer(context.Background(), obs.TracingConfig{Exporter: "zipkin"})
	require.ErrorContains(t, err, "unsupported tracing exporter")
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10.5, 250}, obs.ParseBucketsCSV("5, 10.5,,abc,-1,250"))
	require.Nil(t, obs.ParseBucketsCSV("  "))
}
