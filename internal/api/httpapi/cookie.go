package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/jimmythecoder/passkeys/internal/platform/config"
)

// CookieConfig controls the session cookie the boundary sets. The cookie is
// the only place session state lives between requests.
type CookieConfig struct {
	Name   string `env:"PASSKEYS_COOKIE_NAME"   envDefault:"passkeys_session"`
	Domain string `env:"PASSKEYS_COOKIE_DOMAIN"`
	Path   string `env:"PASSKEYS_COOKIE_PATH"   envDefault:"/api"`
	Secure bool   `env:"PASSKEYS_COOKIE_SECURE" envDefault:"true"`
}

// LoadCookieConfigFromEnv returns session cookie configuration with defaults.
func LoadCookieConfigFromEnv() (CookieConfig, error) {
	var cfg CookieConfig
	if err := config.ParseEnv(&cfg); err != nil {
		return CookieConfig{}, err
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "/api"
	}
	return cfg, nil
}

// Read returns the trimmed session cookie value when present.
func (c CookieConfig) Read(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	cookie, err := r.Cookie(c.Name)
	if err != nil || cookie == nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	if value == "" {
		return "", false
	}
	return value, true
}

// Write sets the session cookie. MaxAge mirrors the token expiry so the
// browser drops the cookie when the token would stop verifying anyway.
func (c CookieConfig) Write(w http.ResponseWriter, token string, expiresAt, now time.Time) {
	if w == nil {
		return
	}
	maxAge := int(expiresAt.Sub(now).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    strings.TrimSpace(token),
		Path:     c.Path,
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAge,
	})
}

// Clear removes the session cookie.
func (c CookieConfig) Clear(w http.ResponseWriter) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}
