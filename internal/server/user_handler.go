package server

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/schoolist/edgeservice/internal/auth"
	"github.com/schoolist/edgeservice/internal/services/identity"
)

// HandleCurrentUser returns the identity of the logged-in caller.
func HandleCurrentUser(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFromContext(r.Context())
		user, err := identity.CurrentUser(principal)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				writeError(w, r, logger, http.StatusUnauthorized, "authentication required", nil)
				return
			}
			writeError(w, r, logger, http.StatusInternalServerError, "failed to resolve user", err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}
