package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestHeadersOnCartResponses(t *testing.T) {
	h := Headers{Enable: true, EnableHSTS: true, HSTSIncludeSubdomains: true, NoStore: true}

	req := httptest.NewRequest(http.MethodGet, "https://shop.test/api/v1/carts/c1", nil)
	req.TLS = &tls.ConnectionState{}
	rr := httptest.NewRecorder()
	h.Middleware(http.HandlerFunc(ok)).ServeHTTP(rr, req)

	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Contains(t, rr.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	require.Equal(t, "max-age=31536000; includeSubDomains", rr.Header().Get("Strict-Transport-Security"))
}

func TestHeadersSkipHSTSOverPlainHTTP(t *testing.T) {
	rr := httptest.NewRecorder()
	Headers{Enable: true, EnableHSTS: true, HSTSMaxAge: 60}.Middleware(http.HandlerFunc(ok)).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://shop.test/", nil))
	require.Empty(t, rr.Header().Get("Strict-Transport-Security"))
	require.Empty(t, rr.Header().Get("Cache-Control"))
}

func TestHeadersDisabled(t *testing.T) {
	rr := httptest.NewRecorder()
	Headers{EnableHSTS: true}.Middleware(http.HandlerFunc(ok)).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://shop.test/", nil))
	require.Empty(t, rr.Header().Get("X-Content-Type-Options"))
}

func preflight(handler http.Handler, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "http://localhost/api/v1/carts/hydrate", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestCORSCredentialedStorefront(t *testing.T) {
	handler := CORS([]string{"https://toko.test"})(http.HandlerFunc(ok))

	rr := preflight(handler, "https://toko.test")
	require.Equal(t, "https://toko.test", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	rr = preflight(handler, "https://malicious.example")
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardDropsCredentials(t *testing.T) {
	rr := preflight(CORS([]string{"*"})(http.HandlerFunc(ok)), "https://anywhere.example")
	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Credentials"))
}
