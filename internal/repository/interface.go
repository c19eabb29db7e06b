package repository

import (
	"context"
	"errors"
	"time"

	"github.com/schoolist/edgeservice/internal/db/models"
)

// ErrSessionNotFound is returned when no session matches the lookup.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository exposes persistence operations for browser sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	// GetByTokenHash is the lookup used on every authenticated request.
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	ListBySubject(ctx context.Context, subject string) ([]models.Session, error)
	List(ctx context.Context) ([]models.Session, error)
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string) error
	// RevokeBySubject revokes every live session of a subject and returns how many.
	RevokeBySubject(ctx context.Context, subject string) (int64, error)
	// DeleteExpired removes sessions that expired before now, are revoked, or
	// were last used before idleCutoff (when non-zero).
	DeleteExpired(ctx context.Context, now, idleCutoff time.Time) (int64, error)
}
