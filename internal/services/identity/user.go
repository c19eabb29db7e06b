package identity

import (
	"github.com/schoolist/edgeservice/internal/auth"
)

// UserIdentity is the current-user payload returned by GET /api/user.
type UserIdentity struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Roles     []string `json:"roles"`
}

// CurrentUser builds the identity view of an authenticated principal from the
// claims captured at login. Missing profile claims become empty strings and a
// missing role claim an empty list.
func CurrentUser(p *auth.Principal) (UserIdentity, error) {
	if !p.IsAuthenticated() {
		return UserIdentity{}, auth.ErrUnauthenticated
	}
	claims := p.Claims
	if claims == nil {
		claims = auth.NewAttributeClaims(map[string]any{auth.SubjectClaim: p.Subject})
	}
	return UserIdentity{
		ID:        p.Subject,
		Username:  auth.StringClaim(claims, auth.PreferredUsernameClaim),
		FirstName: auth.StringClaim(claims, auth.GivenNameClaim),
		LastName:  auth.StringClaim(claims, auth.FamilyNameClaim),
		Roles:     auth.ExtractRoles(claims),
	}, nil
}
