package middleware

import (
	"context"

	"github.com/schoolist/edgeservice/internal/auth"
)

// Authenticator resolves a session token to its principal. Errors satisfying
// auth.IsAuthenticationFailure mean the token is not (or no longer) valid.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Principal, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, token string) (*auth.Principal, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (*auth.Principal, error) {
	return f(ctx, token)
}
