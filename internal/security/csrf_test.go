package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newCSRFHandler() http.Handler {
	csrf := CSRF{Header: "X-CSRF-Token", SessionCookie: "toko_cart", Exempt: []string{"/api/v1/webhooks/"}}
	return csrf.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCSRFMiddlewareBlocksMissingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/carts/hydrate", nil)
	req.AddCookie(&http.Cookie{Name: "toko_cart", Value: "signed"})
	rr := httptest.NewRecorder()
	newCSRFHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestCSRFMiddlewareAllowsValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/carts/hydrate", nil)
	token := "secure-token"
	req.Header.Set("X-CSRF-Token", token)
	req.AddCookie(&http.Cookie{Name: "X-CSRF-Token", Value: token})
	req.AddCookie(&http.Cookie{Name: "toko_cart", Value: "signed"})
	rr := httptest.NewRecorder()
	newCSRFHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestCSRFMiddlewareSkipsCookielessAndExempt(t *testing.T) {
	rr := httptest.NewRecorder()
	newCSRFHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/carts/hydrate", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 without cart cookie, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment/midtrans", nil)
	req.AddCookie(&http.Cookie{Name: "toko_cart", Value: "signed"})
	rr = httptest.NewRecorder()
	newCSRFHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected webhook to bypass csrf, got %d", rr.Code)
	}
}

func TestCSRFMiddlewareIssuesTokenOnSafeRequest(t *testing.T) {
	rr := httptest.NewRecorder()
	newCSRFHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/carts/abc", nil))
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "X-CSRF-Token" || cookies[0].Value == "" {
		t.Fatalf("expected csrf cookie to be issued, got %v", cookies)
	}
}
