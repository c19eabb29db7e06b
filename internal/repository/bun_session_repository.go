package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/schoolist/edgeservice/internal/db/bunx"
	"github.com/schoolist/edgeservice/internal/db/models"
)

// BunSessionRepository implements SessionRepository using Bun ORM
type BunSessionRepository struct {
	db *bun.DB
}

var _ SessionRepository = (*BunSessionRepository)(nil)

// NewBunSessionRepository creates a new Bun-based session repository
func NewBunSessionRepository(db *bun.DB) *BunSessionRepository {
	return &BunSessionRepository{db: db}
}

// Create inserts a new session. Times are stored in UTC.
func (r *BunSessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = bunx.NewUUIDv7()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastUsedAt.IsZero() {
		session.LastUsedAt = session.CreatedAt
	}
	session.CreatedAt = session.CreatedAt.UTC()
	session.LastUsedAt = session.LastUsedAt.UTC()
	session.ExpiresAt = session.ExpiresAt.UTC()
	if !session.TokenExpiry.IsZero() {
		session.TokenExpiry = session.TokenExpiry.UTC()
	}

	_, err := r.db.NewInsert().
		Model(session).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by ID
func (r *BunSessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	session := new(models.Session)
	err := r.db.NewSelect().
		Model(session).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// GetByTokenHash retrieves a session by its token hash
func (r *BunSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	session := new(models.Session)
	err := r.db.NewSelect().
		Model(session).
		Where("token_hash = ?", tokenHash).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return session, nil
}

// ListBySubject retrieves all sessions of a subject, newest first
func (r *BunSessionRepository) ListBySubject(ctx context.Context, subject string) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.NewSelect().
		Model(&sessions).
		Where("subject = ?", subject).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get subject sessions: %w", err)
	}
	return sessions, nil
}

// List retrieves all sessions (admin operation)
func (r *BunSessionRepository) List(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.NewSelect().
		Model(&sessions).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateLastUsed updates the last_used_at timestamp for a session
func (r *BunSessionRepository) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*models.Session)(nil)).
		Set("last_used_at = ?", at.UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update last used: %w", err)
	}
	return nil
}

// Revoke marks a session as revoked
func (r *BunSessionRepository) Revoke(ctx context.Context, id string) error {
	res, err := r.db.NewUpdate().
		Model((*models.Session)(nil)).
		Set("revoked = ?", true).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// RevokeBySubject revokes all sessions for a subject
// Used for forced logout after an account is disabled at the identity provider
func (r *BunSessionRepository) RevokeBySubject(ctx context.Context, subject string) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*models.Session)(nil)).
		Set("revoked = ?", true).
		Where("subject = ?", subject).
		Where("revoked = ?", false).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("revoke subject sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke subject sessions: %w", err)
	}
	return n, nil
}

// DeleteExpired deletes expired, revoked and idle sessions
// Run periodically by the purge loop and the sessions purge command
func (r *BunSessionRepository) DeleteExpired(ctx context.Context, now, idleCutoff time.Time) (int64, error) {
	q := r.db.NewDelete().
		Model((*models.Session)(nil)).
		WhereGroup(" AND ", func(q *bun.DeleteQuery) *bun.DeleteQuery {
			q = q.Where("expires_at < ?", now.UTC()).
				WhereOr("revoked = ?", true)
			if !idleCutoff.IsZero() {
				q = q.WhereOr("last_used_at < ?", idleCutoff.UTC())
			}
			return q
		})

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return n, nil
}
