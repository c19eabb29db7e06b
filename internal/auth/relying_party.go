package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	httphelper "github.com/zitadel/oidc/v3/pkg/http"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

// RelyingPartyConfig configures the OIDC client registration.
type RelyingPartyConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	ClaimsSource ClaimsSourceKind
	CookieSecret string
	Secure       bool
}

// LoginResult is what a successful code exchange hands to the session layer.
// The refresh token is dropped: sessions never refresh.
type LoginResult struct {
	Claims      ClaimSource
	RawIDToken  string
	AccessToken string
	TokenExpiry time.Time
}

// LoginFunc completes a login once the IdP handshake succeeded.
type LoginFunc func(w http.ResponseWriter, r *http.Request, result LoginResult)

// RelyingParty handles OIDC login against the identity provider by wrapping
// the zitadel/oidc RelyingParty implementation.
type RelyingParty struct {
	rp           rp.RelyingParty
	claimsSource ClaimsSourceKind
	onWarning    func(msg string, err error)
}

// NewRelyingParty discovers the issuer and builds the relying party.
func NewRelyingParty(ctx context.Context, cfg RelyingPartyConfig) (*RelyingParty, error) {
	hashKey, cryptoKey, err := DeriveCookieKeys(cfg.CookieSecret)
	if err != nil {
		return nil, err
	}

	var cookieOpts []httphelper.CookieHandlerOpt
	if !cfg.Secure {
		cookieOpts = append(cookieOpts, httphelper.WithUnsecure())
	}
	cookieHandler := httphelper.NewCookieHandler(hashKey, cryptoKey, cookieOpts...)

	options := []rp.Option{
		rp.WithCookieHandler(cookieHandler),
		rp.WithVerifierOpts(rp.WithIssuedAtMaxAge(10 * time.Second)),
		rp.WithPKCE(cookieHandler),
	}

	relyingParty, err := rp.NewRelyingPartyOIDC(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI,
		cfg.Scopes, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC relying party: %w", err)
	}

	source := cfg.ClaimsSource
	if source == "" {
		source = ClaimsFromUserInfo
	}
	return &RelyingParty{rp: relyingParty, claimsSource: source}, nil
}

// OnClaimsWarning registers a hook for non-fatal claim source fallbacks.
func (r *RelyingParty) OnClaimsWarning(fn func(msg string, err error)) {
	r.onWarning = fn
}

// LoginHandler redirects the browser to the authorization endpoint. State and
// PKCE verifier are kept in encrypted cookies by the library.
func (r *RelyingParty) LoginHandler() http.HandlerFunc {
	return rp.AuthURLHandler(func() string {
		state, _ := GenerateNonce()
		return state
	}, r.rp)
}

// CallbackHandler exchanges the authorization code, verifies the ID token
// and, depending on the claims source, fetches userinfo before calling done.
func (r *RelyingParty) CallbackHandler(done LoginFunc) http.HandlerFunc {
	complete := func(w http.ResponseWriter, req *http.Request, tokens *oidc.Tokens[*oidc.IDTokenClaims], info *oidc.UserInfo) {
		login := LoginClaims{IDToken: tokens.IDTokenClaims, UserInfo: info}
		result := LoginResult{RawIDToken: tokens.IDToken}
		if tokens.Token != nil {
			login.AccessToken = tokens.AccessToken
			result.AccessToken = tokens.AccessToken
			result.TokenExpiry = tokens.Expiry
		}
		claims, err := login.Select(r.claimsSource)
		if err != nil && r.onWarning != nil {
			r.onWarning("claims source fallback", err)
		}
		result.Claims = claims
		done(w, req, result)
	}

	if r.claimsSource == ClaimsFromUserInfo && r.rp.UserinfoEndpoint() != "" {
		return rp.CodeExchangeHandler(rp.UserinfoCallback(
			func(w http.ResponseWriter, req *http.Request, tokens *oidc.Tokens[*oidc.IDTokenClaims], _ string, _ rp.RelyingParty, info *oidc.UserInfo) {
				complete(w, req, tokens, info)
			}), r.rp)
	}
	return rp.CodeExchangeHandler(
		func(w http.ResponseWriter, req *http.Request, tokens *oidc.Tokens[*oidc.IDTokenClaims], _ string, _ rp.RelyingParty) {
			complete(w, req, tokens, nil)
		}, r.rp)
}

// EndSessionURL builds the RP-initiated logout URL. It reports false when the
// provider does not advertise an end_session_endpoint.
func (r *RelyingParty) EndSessionURL(idTokenHint, postLogoutRedirectURI string) (string, bool) {
	return BuildEndSessionURL(r.rp.GetEndSessionEndpoint(), r.rp.OAuthConfig().ClientID, idTokenHint, postLogoutRedirectURI)
}

// BuildEndSessionURL appends the logout parameters to endpoint.
func BuildEndSessionURL(endpoint, clientID, idTokenHint, postLogoutRedirectURI string) (string, bool) {
	if endpoint == "" {
		return "", false
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false
	}
	q := u.Query()
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if clientID != "" {
		q.Set("client_id", clientID)
	}
	if postLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	u.RawQuery = q.Encode()
	return u.String(), true
}

// GenerateNonce generates a random nonce string.
func GenerateNonce() (string, error) {
	b, err := generateRandomBytes(32)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
