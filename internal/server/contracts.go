package server

import (
	"context"
	"net/http"

	"github.com/schoolist/edgeservice/internal/auth"
	"github.com/schoolist/edgeservice/internal/services/identity"
)

// identityService defines the identity methods used by server handlers.
// The assertion below keeps identity.Service honest at compile time.
type identityService interface {
	Login(ctx context.Context, req identity.LoginRequest) (*identity.LoginResult, error)
	Authenticate(ctx context.Context, token string) (*auth.Principal, error)
	Logout(ctx context.Context, p *auth.Principal) error
}

var _ identityService = (*identity.Service)(nil)

// loginFlow is the OIDC relying party as seen by the auth handlers.
type loginFlow interface {
	LoginHandler() http.HandlerFunc
	CallbackHandler(done auth.LoginFunc) http.HandlerFunc
	EndSessionURL(idTokenHint, postLogoutRedirectURI string) (string, bool)
}

var _ loginFlow = (*auth.RelyingParty)(nil)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error
