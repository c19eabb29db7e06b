package auth

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultSessionCookieName matches the cookie the frontend already expects.
	DefaultSessionCookieName = "SESSION"

	// RedirectCookieName remembers where to send the browser after login.
	RedirectCookieName = "edge.redirect_uri"

	redirectCookieTTL = 10 * time.Minute
)

// CookieSettings carries the attributes shared by every cookie the service sets.
type CookieSettings struct {
	Name   string
	Domain string
	Secure bool
}

func (s CookieSettings) sessionName() string {
	if s.Name == "" {
		return DefaultSessionCookieName
	}
	return s.Name
}

// SetSessionCookie writes the opaque session token.
func SetSessionCookie(w http.ResponseWriter, s CookieSettings, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.sessionName(),
		Value:    token,
		Path:     "/",
		Domain:   s.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie in the browser.
func ClearSessionCookie(w http.ResponseWriter, s CookieSettings) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.sessionName(),
		Value:    "",
		Path:     "/",
		Domain:   s.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionToken returns the session token carried by the request, if any.
func SessionToken(r *http.Request, s CookieSettings) (string, bool) {
	cookie, err := r.Cookie(s.sessionName())
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// SetRedirectCookie stores a post-login redirect target for ten minutes.
// Targets that are not relative to this service are ignored.
func SetRedirectCookie(w http.ResponseWriter, s CookieSettings, target string) {
	if SafeRedirect(target, "") == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     RedirectCookieName,
		Value:    url.QueryEscape(target),
		Path:     "/",
		Domain:   s.Domain,
		Expires:  time.Now().Add(redirectCookieTTL),
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// PopRedirectCookie reads and clears the post-login redirect target.
// It returns fallback when no usable target was stored.
func PopRedirectCookie(w http.ResponseWriter, r *http.Request, s CookieSettings, fallback string) string {
	cookie, err := r.Cookie(RedirectCookieName)
	if err != nil {
		return fallback
	}
	http.SetCookie(w, &http.Cookie{
		Name:     RedirectCookieName,
		Value:    "",
		Path:     "/",
		Domain:   s.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	target, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return fallback
	}
	return SafeRedirect(target, fallback)
}

// SafeRedirect returns target when it is a local absolute path ("/x?y"),
// fallback otherwise. Scheme-relative ("//host") and backslash tricks are rejected.
func SafeRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") {
		return fallback
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") || strings.ContainsAny(target, "\r\n") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return target
}
