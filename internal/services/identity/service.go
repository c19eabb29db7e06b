// Package identity manages browser sessions: it turns a completed OIDC login
// into a persisted session and resolves session cookies back to principals.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/schoolist/edgeservice/internal/auth"
	"github.com/schoolist/edgeservice/internal/db/models"
	"github.com/schoolist/edgeservice/internal/logging"
	"github.com/schoolist/edgeservice/internal/repository"
	"github.com/schoolist/edgeservice/internal/telemetry"
)

const tracerName = "edgeservice/identity"

// ErrMissingSubject is returned when the identity provider's claims carry no subject.
var ErrMissingSubject = errors.New("claims carry no subject")

// Config controls session lifetime and caching.
type Config struct {
	SessionDuration time.Duration
	IdleTimeout     time.Duration
	CacheSize       int
	CacheTTL        time.Duration
	// Upper bound for the asynchronous last_used_at update
	TouchTimeout time.Duration
}

// LoginRequest carries the outcome of a successful OIDC code exchange.
type LoginRequest struct {
	Claims      auth.ClaimSource
	IDToken     string
	AccessToken string
	TokenExpiry time.Time
	UserAgent   string
	IPAddress   string
}

// LoginResult is the new session. Token is the cookie value and is not stored.
type LoginResult struct {
	Token     string
	Principal *auth.Principal
	ExpiresAt time.Time
}

// Service implements login, session authentication and logout.
type Service struct {
	sessions repository.SessionRepository
	cache    *sessionCache
	cfg      Config
	logger   *zap.Logger
	metrics  *telemetry.AuthMetrics
	now      func() time.Time
	touches  sync.WaitGroup
}

// NewService creates the identity service. metrics may be nil.
func NewService(sessions repository.SessionRepository, cfg Config, logger *zap.Logger, metrics *telemetry.AuthMetrics) *Service {
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = auth.DefaultSessionDuration
	}
	if cfg.TouchTimeout <= 0 {
		cfg.TouchTimeout = 5 * time.Second
	}
	logger = logging.OrNop(logger).Named("identity")
	// Cache hits skip the last_used_at update; keep entries short enough that
	// an active session is touched well within the idle timeout.
	if cfg.IdleTimeout > 0 && cfg.CacheTTL >= cfg.IdleTimeout {
		logger.Warn("session cache ttl shortened below idle timeout",
			zap.Duration("cache_ttl", cfg.CacheTTL),
			zap.Duration("idle_timeout", cfg.IdleTimeout))
		cfg.CacheTTL = cfg.IdleTimeout / 2
	}
	return &Service{
		sessions: sessions,
		cache:    newSessionCache(cfg.CacheSize, cfg.CacheTTL),
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Login persists a new session for the authenticated claims. Authorities are
// mapped here, once, and stay fixed for the life of the session.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "identity.Login")
	defer span.End()

	if req.Claims == nil || req.Claims.Subject() == "" {
		s.metrics.RecordLogin(ctx, false)
		telemetry.RecordError(span, ErrMissingSubject)
		return nil, ErrMissingSubject
	}
	subject := req.Claims.Subject()
	span.SetAttributes(attribute.String(telemetry.AttrSubject, subject))

	token, tokenHash, err := auth.GenerateSessionToken()
	if err != nil {
		s.metrics.RecordLogin(ctx, false)
		telemetry.RecordError(span, err)
		return nil, err
	}

	now := s.now()
	authorities := auth.MapAuthorities(req.Claims)
	session := &models.Session{
		TokenHash:   tokenHash,
		Subject:     subject,
		Claims:      req.Claims.Claims(),
		Authorities: authorities.Strings(),
		IDToken:     req.IDToken,
		AccessToken: req.AccessToken,
		TokenExpiry: req.TokenExpiry,
		ExpiresAt:   auth.CalculateExpiry(now, s.cfg.SessionDuration),
		CreatedAt:   now,
		LastUsedAt:  now,
		UserAgent:   req.UserAgent,
		IPAddress:   req.IPAddress,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		s.metrics.RecordLogin(ctx, false)
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("persist session: %w", err)
	}

	principal := principalFromSession(session)
	s.cache.add(principal)
	s.metrics.RecordLogin(ctx, true)

	s.logger.Info("login",
		zap.String("subject", subject),
		zap.String("session_id", session.ID),
		zap.Strings("authorities", session.Authorities))

	return &LoginResult{Token: token, Principal: principal, ExpiresAt: session.ExpiresAt}, nil
}

// Authenticate resolves a session token to its principal. Authentication
// failures (unknown, expired, idle or revoked sessions) satisfy
// auth.IsAuthenticationFailure; any other error is an infrastructure failure.
func (s *Service) Authenticate(ctx context.Context, token string) (*auth.Principal, error) {
	if token == "" {
		return nil, auth.ErrUnauthenticated
	}
	tokenHash := auth.HashToken(token)
	now := s.now()

	if p, ok := s.cache.get(tokenHash); ok {
		if !now.Before(p.ExpiresAt) {
			s.cache.remove(tokenHash)
			return nil, auth.ErrSessionExpired
		}
		s.metrics.RecordSessionLookup(ctx, true)
		return p, nil
	}
	s.metrics.RecordSessionLookup(ctx, false)

	ctx, span := telemetry.StartSpan(ctx, tracerName, "identity.Authenticate")
	defer span.End()

	session, err := s.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, auth.ErrUnauthenticated
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrSessionID, session.ID),
		attribute.String(telemetry.AttrSubject, session.Subject))

	if err := auth.ValidateSession(now, session.ExpiresAt, session.LastUsedAt, s.cfg.IdleTimeout, session.Revoked); err != nil {
		return nil, err
	}

	principal := principalFromSession(session)
	s.cache.add(principal)
	s.touch(session.ID, now)
	return principal, nil
}

// touch records session activity without holding up the request.
func (s *Service) touch(sessionID string, at time.Time) {
	s.touches.Add(1)
	go func() {
		defer s.touches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TouchTimeout)
		defer cancel()
		if err := s.sessions.UpdateLastUsed(ctx, sessionID, at); err != nil {
			s.logger.Warn("update session last use", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}

// Wait blocks until pending last-use updates have finished.
func (s *Service) Wait() {
	s.touches.Wait()
}

// Logout revokes the principal's session. A session that is already gone is
// not an error.
func (s *Service) Logout(ctx context.Context, p *auth.Principal) error {
	if !p.IsAuthenticated() {
		return auth.ErrUnauthenticated
	}
	s.cache.remove(p.TokenHash)
	s.metrics.RecordLogout(ctx)

	if err := s.sessions.Revoke(ctx, p.SessionID); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.logger.Info("logout", zap.String("subject", p.Subject), zap.String("session_id", p.SessionID))
	return nil
}

// RevokeSubject ends every session of subject and returns how many were live.
func (s *Service) RevokeSubject(ctx context.Context, subject string) (int64, error) {
	n, err := s.sessions.RevokeBySubject(ctx, subject)
	if err != nil {
		return 0, err
	}
	s.cache.removeSubject(subject)
	s.logger.Info("revoked subject sessions", zap.String("subject", subject), zap.Int64("count", n))
	return n, nil
}

// ListSessions returns the sessions of subject, or every session when subject is empty.
func (s *Service) ListSessions(ctx context.Context, subject string) ([]models.Session, error) {
	if subject == "" {
		return s.sessions.List(ctx)
	}
	return s.sessions.ListBySubject(ctx, subject)
}

// PurgeExpired deletes expired, revoked and idle sessions.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	var idleCutoff time.Time
	if s.cfg.IdleTimeout > 0 {
		idleCutoff = now.Add(-s.cfg.IdleTimeout)
	}
	return s.sessions.DeleteExpired(ctx, now, idleCutoff)
}

// RunPurgeLoop purges sessions every interval until ctx is cancelled.
func (s *Service) RunPurgeLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				s.logger.Error("session purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("purged sessions", zap.Int64("count", n))
			}
		case <-ctx.Done():
			s.logger.Debug("stopping session purge loop")
			return
		}
	}
}

func principalFromSession(session *models.Session) *auth.Principal {
	return &auth.Principal{
		Subject:           session.Subject,
		SessionID:         session.ID,
		TokenHash:         session.TokenHash,
		Claims:            auth.NewAttributeClaims(session.Claims),
		Authorities:       auth.AuthoritySetFromStrings(session.Authorities),
		IDToken:           session.IDToken,
		AccessToken:       session.AccessToken,
		AccessTokenExpiry: session.TokenExpiry,
		ExpiresAt:         session.ExpiresAt,
	}
}
