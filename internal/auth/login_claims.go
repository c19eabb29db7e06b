package auth

import (
	"fmt"

	"github.com/zitadel/oidc/v3/pkg/oidc"
)

// ClaimsSourceKind selects which principal shape feeds the claim mapper at login.
type ClaimsSourceKind string

const (
	// ClaimsFromUserInfo reads claims from the userinfo endpoint response.
	ClaimsFromUserInfo ClaimsSourceKind = "userinfo"
	// ClaimsFromIDToken reads claims from the verified ID token.
	ClaimsFromIDToken ClaimsSourceKind = "id_token"
	// ClaimsFromAccessToken reads claims from a JWT access token.
	ClaimsFromAccessToken ClaimsSourceKind = "access_token"
)

// ParseClaimsSourceKind validates a configured claims source.
func ParseClaimsSourceKind(s string) (ClaimsSourceKind, error) {
	switch k := ClaimsSourceKind(s); k {
	case ClaimsFromUserInfo, ClaimsFromIDToken, ClaimsFromAccessToken:
		return k, nil
	case "":
		return ClaimsFromUserInfo, nil
	default:
		return "", fmt.Errorf("unknown claims source %q (expected userinfo, id_token or access_token)", s)
	}
}

// LoginClaims holds everything the code exchange produced.
type LoginClaims struct {
	IDToken     *oidc.IDTokenClaims
	AccessToken string
	UserInfo    *oidc.UserInfo
}

// Select picks the claim source for kind. It falls back to the ID token
// when the preferred source is unavailable (no userinfo response, opaque
// access token) and reports the reason, so login never aborts on claim shape.
func (l LoginClaims) Select(kind ClaimsSourceKind) (ClaimSource, error) {
	switch kind {
	case ClaimsFromUserInfo:
		if l.UserInfo != nil {
			return FromUserInfo(l.UserInfo), nil
		}
		return NewIDTokenClaims(l.IDToken), fmt.Errorf("no userinfo response, using id token claims")
	case ClaimsFromAccessToken:
		attrs, err := FromAccessToken(l.AccessToken)
		if err != nil {
			return NewIDTokenClaims(l.IDToken), fmt.Errorf("access token claims unavailable, using id token claims: %w", err)
		}
		return attrs, nil
	default:
		return NewIDTokenClaims(l.IDToken), nil
	}
}
