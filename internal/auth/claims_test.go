package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

func TestMapAuthorities(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]any
		want   []string
	}{
		{
			name:   "two roles",
			claims: map[string]any{"realm_access": map[string]any{"roles": []any{"user", "admin"}}},
			want:   []string{"ROLE_admin", "ROLE_user"},
		},
		{
			name:   "duplicates collapse",
			claims: map[string]any{"realm_access": map[string]any{"roles": []any{"user", "user"}}},
			want:   []string{"ROLE_user"},
		},
		{
			name:   "missing realm_access",
			claims: map[string]any{"sub": "abc"},
			want:   []string{},
		},
		{
			name:   "realm_access without roles",
			claims: map[string]any{"realm_access": map[string]any{}},
			want:   []string{},
		},
		{
			name:   "realm_access not a map",
			claims: map[string]any{"realm_access": "user"},
			want:   []string{},
		},
		{
			name:   "roles not a list",
			claims: map[string]any{"realm_access": map[string]any{"roles": 42}},
			want:   []string{},
		},
		{
			name:   "non-string roles skipped",
			claims: map[string]any{"realm_access": map[string]any{"roles": []any{"user", 7, true, nil}}},
			want:   []string{"ROLE_user"},
		},
		{
			name:   "empty list",
			claims: map[string]any{"realm_access": map[string]any{"roles": []any{}}},
			want:   []string{},
		},
		{
			name:   "prefix is applied verbatim",
			claims: map[string]any{"realm_access": map[string]any{"roles": []any{"Data-Admin"}}},
			want:   []string{"ROLE_Data-Admin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapAuthorities(NewAttributeClaims(tt.claims))
			assert.Equal(t, tt.want, got.Strings())
		})
	}
}

func TestMapAuthorities_IdempotentAcrossAdapters(t *testing.T) {
	tests := []struct {
		name   string
		claims func() map[string]any
		want   []string
	}{
		{
			name: "roles",
			claims: func() map[string]any {
				return map[string]any{"sub": "sub-1", "realm_access": map[string]any{"roles": []any{"user", "admin", "user"}}}
			},
			want: []string{"ROLE_admin", "ROLE_user"},
		},
		{
			name:   "missing realm_access",
			claims: func() map[string]any { return map[string]any{"sub": "sub-1"} },
			want:   []string{},
		},
		{
			name: "malformed roles",
			claims: func() map[string]any {
				return map[string]any{"sub": "sub-1", "realm_access": map[string]any{"roles": "user"}}
			},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bag := tt.claims()

			sources := map[string]ClaimSource{
				"id token": NewIDTokenClaims(&oidc.IDTokenClaims{Claims: bag}),
				"userinfo": FromUserInfo(&oidc.UserInfo{Claims: bag}),
			}

			var results []AuthoritySet
			for name, source := range sources {
				first := MapAuthorities(source)
				second := MapAuthorities(source)
				assert.Equal(t, first, second, name)
				assert.ElementsMatch(t, tt.want, first.Strings(), name)
				results = append(results, first)
			}
			assert.Equal(t, results[0], results[1])
			assert.Equal(t, tt.claims(), bag, "input claims must not change")
		})
	}
}

func TestMapAuthorities_Nil(t *testing.T) {
	assert.Equal(t, 0, MapAuthorities(nil).Len())
}

func TestExtractRoles_PreservesOrder(t *testing.T) {
	claims := NewAttributeClaims(map[string]any{
		"realm_access": map[string]any{"roles": []any{"user", "offline_access", "user", "admin"}},
	})
	assert.Equal(t, []string{"user", "offline_access", "admin"}, ExtractRoles(claims))
}

func TestExtractRoles_StringSlice(t *testing.T) {
	claims := NewAttributeClaims(map[string]any{
		"realm_access": map[string]any{"roles": []string{"user"}},
	})
	assert.Equal(t, []string{"user"}, ExtractRoles(claims))
}

func TestExtractRoles_NeverNil(t *testing.T) {
	roles := ExtractRoles(NewAttributeClaims(nil))
	require.NotNil(t, roles)
	assert.Empty(t, roles)
}

func TestNewIDTokenClaims(t *testing.T) {
	tokenClaims := &oidc.IDTokenClaims{
		TokenClaims: oidc.TokenClaims{Subject: "0b3c7f2e"},
		UserInfoProfile: oidc.UserInfoProfile{
			PreferredUsername: "jdoe",
			GivenName:         "Jane",
			FamilyName:        "Doe",
		},
		Claims: map[string]any{
			"realm_access": map[string]any{"roles": []any{"user"}},
		},
	}

	claims := NewIDTokenClaims(tokenClaims)
	assert.Equal(t, "0b3c7f2e", claims.Subject())
	assert.Equal(t, "jdoe", StringClaim(claims, PreferredUsernameClaim))
	assert.Equal(t, "Jane", StringClaim(claims, GivenNameClaim))
	assert.Equal(t, "Doe", StringClaim(claims, FamilyNameClaim))
	assert.True(t, MapAuthorities(claims).Has("ROLE_user"))

	roles, ok := claims.Claim("realm_access", "roles")
	require.True(t, ok)
	assert.Equal(t, []any{"user"}, roles)
}

func TestNewIDTokenClaims_Nil(t *testing.T) {
	claims := NewIDTokenClaims(nil)
	assert.Equal(t, "", claims.Subject())
	assert.Empty(t, claims.Claims())
}

func TestFromUserInfo(t *testing.T) {
	info := &oidc.UserInfo{
		Subject: "sub-1",
		UserInfoProfile: oidc.UserInfoProfile{
			PreferredUsername: "jdoe",
		},
		Claims: map[string]any{
			"realm_access": map[string]any{"roles": []any{"user", "admin"}},
		},
	}

	claims := FromUserInfo(info)
	assert.Equal(t, "sub-1", claims.Subject())
	assert.Equal(t, "jdoe", StringClaim(claims, PreferredUsernameClaim))
	assert.Equal(t, []string{"ROLE_admin", "ROLE_user"}, MapAuthorities(claims).Strings())
}

func TestFromAccessToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":          "sub-2",
		"realm_access": map[string]any{"roles": []any{"user"}},
	})
	raw, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	claims, err := FromAccessToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "sub-2", claims.Subject())
	assert.Equal(t, []string{"user"}, ExtractRoles(claims))
}

func TestFromAccessToken_Opaque(t *testing.T) {
	_, err := FromAccessToken("not-a-jwt")
	assert.Error(t, err)
}

func TestClaims_ReturnsCopy(t *testing.T) {
	claims := NewAttributeClaims(map[string]any{"sub": "a"})
	bag := claims.Claims()
	bag["sub"] = "mutated"
	assert.Equal(t, "a", claims.Subject())
}

func TestClaim_PathMisses(t *testing.T) {
	claims := NewAttributeClaims(map[string]any{"realm_access": "flat"})

	_, ok := claims.Claim()
	assert.False(t, ok)
	_, ok = claims.Claim("realm_access", "roles")
	assert.False(t, ok)
	_, ok = claims.Claim("missing")
	assert.False(t, ok)
}

func TestStringClaim_NonString(t *testing.T) {
	claims := NewAttributeClaims(map[string]any{"given_name": 12})
	assert.Equal(t, "", StringClaim(claims, GivenNameClaim))
	assert.Equal(t, "", StringClaim(nil, GivenNameClaim))
}
