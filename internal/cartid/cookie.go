package cartid

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/noah-isme/toko-storefront/internal/common"
)

// DefaultCookieName is the cookie carrying the signed cart id.
const DefaultCookieName = "toko_cart"

// Cookie signs and encrypts the shopper's cart id into a browser cookie.
type Cookie struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   time.Duration

	codec *securecookie.SecureCookie
}

// NewCookie builds a cookie codec. hashKey authenticates the value and must
// be at least 32 bytes; blockKey enables encryption when non-empty.
func NewCookie(name string, hashKey, blockKey []byte, maxAge time.Duration, secure bool) (*Cookie, error) {
	if len(hashKey) < 32 {
		return nil, errors.New("cartid: cookie hash key must be at least 32 bytes")
	}
	if len(blockKey) == 0 {
		blockKey = nil
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultCookieName
	}
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(int(maxAge.Seconds()))
	return &Cookie{
		Name:     name,
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
		codec:    codec,
	}, nil
}

// Get returns the cart id carried by r. Tampered or expired cookies are ignored.
func (c *Cookie) Get(r *http.Request) (string, bool) {
	raw, err := r.Cookie(c.Name)
	if err != nil || raw.Value == "" {
		return "", false
	}
	var id string
	if err := c.codec.Decode(c.Name, raw.Value, &id); err != nil {
		return "", false
	}
	return id, id != ""
}

// Set writes id to the response cookie.
func (c *Cookie) Set(w http.ResponseWriter, id string) error {
	encoded, err := c.codec.Encode(c.Name, id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    encoded,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   int(c.MaxAge.Seconds()),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: c.sameSite(),
	})
	return nil
}

// Clear expires the cookie.
func (c *Cookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   -1,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: c.sameSite(),
	})
}

func (c *Cookie) sameSite() http.SameSite {
	if c.SameSite == http.SameSiteDefaultMode {
		return http.SameSiteLaxMode
	}
	return c.SameSite
}

// Middleware resolves the cookie cart id into the request context.
func (c *Cookie) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := c.Get(r); ok {
			r = r.WithContext(common.WithCartID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
