package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/ppcxy/cyfm-engine/pkg/config"
)

// Skin values.
const (
	SkinMobile  = "mobile"
	SkinContent = "content"
)

// DefaultSkinCookieName is used when the config leaves the name empty.
const DefaultSkinCookieName = "skin"

// mobileMarkers are matched against the lowercased User-Agent.
var mobileMarkers = []string{"android", "phone", "pad"}

// ClassifyUserAgent picks the skin for a User-Agent header. A missing
// header gets the content skin.
func ClassifyUserAgent(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, marker := range mobileMarkers {
		if strings.Contains(ua, marker) {
			return SkinMobile
		}
	}
	return SkinContent
}

// SkinCookie returns middleware that tags every response with a skin cookie
// derived from the request's User-Agent. It never rejects a request.
func SkinCookie(skin config.SkinConfig, baseURL string) func(http.Handler) http.Handler {
	name := skin.CookieName
	if name == "" {
		name = DefaultSkinCookieName
	}
	settings := DeriveCookieSettings(baseURL, skin.CookieDomain)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{
				Name:     name,
				Value:    ClassifyUserAgent(r.UserAgent()),
				Path:     "/",
				Domain:   settings.Domain,
				Secure:   settings.Secure,
				SameSite: http.SameSiteLaxMode,
			})
			next.ServeHTTP(w, r)
		})
	}
}

// CookieSettings contains cookie security settings derived from base URL.
type CookieSettings struct {
	// Secure indicates whether the cookie should only be sent over HTTPS.
	Secure bool
	// Domain is the cookie domain scope.
	Domain string
}

// DeriveCookieSettings determines cookie security settings from the base URL:
//   - http://localhost:3443 → Secure: false, Domain: ""
//   - https://app.example.com → Secure: true, Domain: ""
//   - https://cyfm.internal → Secure: true, Domain: ".internal"
//
// A non-empty configCookieDomain overrides the derived domain.
func DeriveCookieSettings(baseURL string, configCookieDomain string) CookieSettings {
	if configCookieDomain != "" {
		return CookieSettings{
			Secure: isHTTPS(baseURL),
			Domain: configCookieDomain,
		}
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		// Safe defaults for invalid URLs
		return CookieSettings{Secure: true, Domain: ""}
	}

	var domain string
	if strings.HasSuffix(parsedURL.Hostname(), ".internal") {
		// Internal network: share across internal subdomains
		domain = ".internal"
	}

	return CookieSettings{
		Secure: parsedURL.Scheme != "http",
		Domain: domain,
	}
}

// isHTTPS reports whether baseURL uses HTTPS; empty or invalid URLs count
// as HTTPS.
func isHTTPS(baseURL string) bool {
	if baseURL == "" {
		return true
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return true
	}
	return parsedURL.Scheme != "http"
}
