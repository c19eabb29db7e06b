package auth

import (
	"fmt"
	"maps"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

// Claim names read from the identity provider.
const (
	SubjectClaim           = "sub"
	PreferredUsernameClaim = "preferred_username"
	GivenNameClaim         = "given_name"
	FamilyNameClaim        = "family_name"
	EmailClaim             = "email"

	// RealmAccessClaim holds the Keycloak realm role block: {"roles": [...]}.
	RealmAccessClaim = "realm_access"
	RolesClaim       = "roles"
)

// ClaimSource is the normalized view over an authenticated principal's claims,
// whichever token type produced them.
type ClaimSource interface {
	// Subject returns the provider-stable subject identifier.
	Subject() string
	// Claim resolves a nested claim by path, e.g. Claim("realm_access", "roles").
	Claim(path ...string) (any, bool)
	// Claims returns a copy of the full claim bag.
	Claims() map[string]any
}

// IDTokenClaims adapts verified OIDC ID token claims.
type IDTokenClaims struct {
	claims map[string]any
}

// NewIDTokenClaims wraps zitadel ID token claims. The standard profile fields
// are folded into the claim bag when the raw map does not carry them.
func NewIDTokenClaims(c *oidc.IDTokenClaims) *IDTokenClaims {
	if c == nil {
		return &IDTokenClaims{claims: map[string]any{}}
	}
	bag := maps.Clone(c.Claims)
	if bag == nil {
		bag = make(map[string]any)
	}
	setIfMissing(bag, SubjectClaim, c.Subject)
	setIfMissing(bag, PreferredUsernameClaim, c.PreferredUsername)
	setIfMissing(bag, GivenNameClaim, c.GivenName)
	setIfMissing(bag, FamilyNameClaim, c.FamilyName)
	setIfMissing(bag, EmailClaim, c.Email)
	return &IDTokenClaims{claims: bag}
}

func (c *IDTokenClaims) Subject() string {
	return stringClaim(c.claims, SubjectClaim)
}

func (c *IDTokenClaims) Claim(path ...string) (any, bool) {
	return lookupPath(c.claims, path)
}

func (c *IDTokenClaims) Claims() map[string]any {
	return maps.Clone(c.claims)
}

// AttributeClaims adapts a plain attribute bag, as returned by the userinfo
// endpoint or carried in an opaque-token principal.
type AttributeClaims struct {
	attrs map[string]any
}

// NewAttributeClaims wraps an attribute map. The map is copied.
func NewAttributeClaims(attrs map[string]any) *AttributeClaims {
	bag := maps.Clone(attrs)
	if bag == nil {
		bag = make(map[string]any)
	}
	return &AttributeClaims{attrs: bag}
}

// FromUserInfo builds attribute claims from a userinfo response.
func FromUserInfo(info *oidc.UserInfo) *AttributeClaims {
	if info == nil {
		return NewAttributeClaims(nil)
	}
	bag := maps.Clone(info.Claims)
	if bag == nil {
		bag = make(map[string]any)
	}
	setIfMissing(bag, SubjectClaim, info.Subject)
	setIfMissing(bag, PreferredUsernameClaim, info.PreferredUsername)
	setIfMissing(bag, GivenNameClaim, info.GivenName)
	setIfMissing(bag, FamilyNameClaim, info.FamilyName)
	setIfMissing(bag, EmailClaim, info.Email)
	return &AttributeClaims{attrs: bag}
}

// FromAccessToken decodes the claims of a JWT access token. The signature is
// not verified: the token was just received from the token endpoint.
func FromAccessToken(raw string) (*AttributeClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	return NewAttributeClaims(claims), nil
}

func (c *AttributeClaims) Subject() string {
	return stringClaim(c.attrs, SubjectClaim)
}

func (c *AttributeClaims) Claim(path ...string) (any, bool) {
	return lookupPath(c.attrs, path)
}

func (c *AttributeClaims) Claims() map[string]any {
	return maps.Clone(c.attrs)
}

// realmAccess is the decoded shape of the realm_access claim.
type realmAccess struct {
	Roles []any `mapstructure:"roles"`
}

// ExtractRoles returns the role names listed under realm_access.roles, in
// claim order without duplicates. A missing or malformed claim yields an
// empty list, never an error.
func ExtractRoles(claims ClaimSource) []string {
	roles := []string{}
	if claims == nil {
		return roles
	}
	raw, ok := claims.Claim(RealmAccessClaim)
	if !ok || raw == nil {
		return roles
	}

	var decoded realmAccess
	if err := mapstructure.Decode(raw, &decoded); err != nil {
		return roles
	}

	seen := make(map[string]struct{}, len(decoded.Roles))
	for _, r := range decoded.Roles {
		role, ok := r.(string)
		if !ok {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	return roles
}

// MapAuthorities converts the realm roles of a claim bag into authorities.
func MapAuthorities(claims ClaimSource) AuthoritySet {
	return AuthoritiesFromRoles(ExtractRoles(claims))
}

// AuthoritiesFromRoles prefixes every role with RolePrefix.
func AuthoritiesFromRoles(roles []string) AuthoritySet {
	set := make(AuthoritySet, len(roles))
	for _, r := range roles {
		set.Add(AuthorityFromRole(r))
	}
	return set
}

// StringClaim returns a top-level string claim, or "" when absent or not a string.
func StringClaim(claims ClaimSource, name string) string {
	if claims == nil {
		return ""
	}
	v, ok := claims.Claim(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func lookupPath(bag map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	var current any = bag
	for _, key := range path {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case jwt.MapClaims:
		return m, true
	default:
		return nil, false
	}
}

func stringClaim(bag map[string]any, name string) string {
	s, _ := bag[name].(string)
	return s
}

func setIfMissing(bag map[string]any, key, value string) {
	if value == "" {
		return
	}
	if _, ok := bag[key]; !ok {
		bag[key] = value
	}
}
