package server

import (
	"errors"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/schoolist/edgeservice/internal/auth"
	edgemw "github.com/schoolist/edgeservice/internal/middleware"
	"github.com/schoolist/edgeservice/internal/services/identity"
)

// HandleLogin starts the authorization code flow. An optional relative
// redirect_uri query parameter overrides the page remembered by the
// authorization middleware.
func HandleLogin(flow loginFlow, cookies auth.CookieSettings) http.HandlerFunc {
	start := flow.LoginHandler()
	return func(w http.ResponseWriter, r *http.Request) {
		if target := r.URL.Query().Get("redirect_uri"); target != "" {
			auth.SetRedirectCookie(w, cookies, target)
		}
		start.ServeHTTP(w, r)
	}
}

// HandleCallback completes the login: the relying party has exchanged the
// code and selected the claims; here the session is created and the browser
// sent back to where it came from.
func HandleCallback(flow loginFlow, ids identityService, cookies auth.CookieSettings, logger *zap.Logger) http.HandlerFunc {
	return flow.CallbackHandler(func(w http.ResponseWriter, r *http.Request, result auth.LoginResult) {
		session, err := ids.Login(r.Context(), identity.LoginRequest{
			Claims:      result.Claims,
			IDToken:     result.RawIDToken,
			AccessToken: result.AccessToken,
			TokenExpiry: result.TokenExpiry,
			UserAgent:   r.UserAgent(),
			IPAddress:   clientIP(r),
		})
		if err != nil {
			if errors.Is(err, identity.ErrMissingSubject) {
				writeError(w, r, logger, http.StatusUnauthorized, "identity provider returned no subject", err)
				return
			}
			writeError(w, r, logger, http.StatusInternalServerError, "failed to create session", err)
			return
		}

		auth.SetSessionCookie(w, cookies, session.Token, session.ExpiresAt)
		// New session, new CSRF token.
		auth.SetCSRFCookie(w, cookies, auth.NewCSRFToken())

		http.Redirect(w, r, auth.PopRedirectCookie(w, r, cookies, "/"), http.StatusFound)
	})
}

// HandleLogout revokes the current session and clears the cookie, then sends
// the browser to the provider's end-session endpoint, which returns it to
// baseURL. Without a session, or when the provider has no end-session
// endpoint, the browser goes straight to baseURL.
func HandleLogout(flow loginFlow, ids identityService, cookies auth.CookieSettings, baseURL string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := baseURL
		principal, ok := auth.PrincipalFromContext(r.Context())
		if ok {
			if err := ids.Logout(r.Context(), principal); err != nil {
				writeError(w, r, logger, http.StatusInternalServerError, "failed to revoke session", err)
				return
			}
			if flow != nil {
				if endSession, ok := flow.EndSessionURL(principal.IDToken, baseURL); ok {
					target = endSession
				}
			}
		}

		auth.ClearSessionCookie(w, cookies)
		auth.SetCSRFCookie(w, cookies, auth.NewCSRFToken())
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func handleLoginUnavailable(w http.ResponseWriter, _ *http.Request) {
	edgemw.WriteJSONError(w, http.StatusServiceUnavailable, "login is not configured")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
