package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
)

// Names used by the cookie CSRF scheme the frontend framework understands.
const (
	CSRFCookieName = "XSRF-TOKEN"
	CSRFHeaderName = "X-XSRF-TOKEN"
	CSRFFormField  = "_csrf"
)

// NewCSRFToken returns a fresh random token.
func NewCSRFToken() string {
	return uuid.NewString()
}

// SetCSRFCookie issues the token cookie. It is readable by JavaScript so the
// frontend can echo it in CSRFHeaderName.
func SetCSRFCookie(w http.ResponseWriter, s CookieSettings, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Domain:   s.Domain,
		HttpOnly: false,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// CSRFCookie returns the token cookie value, if present.
func CSRFCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// SubmittedCSRFToken returns the token echoed by the client in the header or
// the form field.
func SubmittedCSRFToken(r *http.Request) string {
	if v := r.Header.Get(CSRFHeaderName); v != "" {
		return v
	}
	return r.PostFormValue(CSRFFormField)
}

// CSRFTokensMatch compares tokens in constant time.
func CSRFTokensMatch(expected, actual string) bool {
	if expected == "" || actual == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}

// IsSafeMethod reports whether method is exempt from CSRF checks.
func IsSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
