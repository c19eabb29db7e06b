package auth

import (
	"context"
	"time"
)

// Principal is the authenticated caller attached to a request.
type Principal struct {
	// Subject is the provider-stable subject identifier.
	Subject string
	// SessionID references the backing session row.
	SessionID string
	// TokenHash is the hash of the session cookie value.
	TokenHash string
	// Claims is the claim bag captured at login.
	Claims ClaimSource
	// Authorities were mapped once at login and live as long as the session.
	Authorities AuthoritySet
	// IDToken is the raw ID token, kept as the logout hint.
	IDToken string
	// AccessToken is relayed to upstream routes while AccessTokenExpiry is in the future.
	AccessToken       string
	AccessTokenExpiry time.Time
	// ExpiresAt is the absolute session expiry.
	ExpiresAt time.Time
}

// IsAuthenticated reports whether p represents a logged-in caller.
func (p *Principal) IsAuthenticated() bool {
	return p != nil && p.Subject != ""
}

// AuthoritySet returns the principal's authorities; anonymous callers have none.
func (p *Principal) AuthoritySet() AuthoritySet {
	if p == nil {
		return nil
	}
	return p.Authorities
}

// RelayableAccessToken returns the access token if it can still be forwarded.
func (p *Principal) RelayableAccessToken(now time.Time) (string, bool) {
	if p == nil || p.AccessToken == "" {
		return "", false
	}
	if !p.AccessTokenExpiry.IsZero() && !now.Before(p.AccessTokenExpiry) {
		return "", false
	}
	return p.AccessToken, true
}

type principalContextKey struct{}

// SetPrincipal stores the authenticated principal on the context.
func SetPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext retrieves the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || !principal.IsAuthenticated() {
		return nil, false
	}
	return principal, true
}
