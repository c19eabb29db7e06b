package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultSessionDuration is the absolute session lifetime.
	DefaultSessionDuration = 12 * time.Hour

	// DefaultIdleTimeout ends sessions that have not been used for this long.
	DefaultIdleTimeout = 30 * time.Minute

	// TokenLength is the length of generated session tokens in bytes.
	TokenLength = 32
)

var (
	// ErrUnauthenticated means the request carries no usable session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrSessionExpired means the session outlived its absolute lifetime.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionIdle means the session was unused for longer than the idle timeout.
	ErrSessionIdle = errors.New("session idle timeout")
	// ErrSessionRevoked means the session was logged out or revoked.
	ErrSessionRevoked = errors.New("session revoked")
)

// GenerateSessionToken returns a random opaque token and its SHA256 hash.
// Only the hash is ever stored.
func GenerateSessionToken() (string, string, error) {
	tokenBytes := make([]byte, TokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", "", fmt.Errorf("generate random token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)
	return token, HashToken(token), nil
}

// HashToken hashes a session token for storage and lookup.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// CalculateExpiry returns the absolute expiry of a session created at createdAt.
func CalculateExpiry(createdAt time.Time, lifetime time.Duration) time.Time {
	if lifetime <= 0 {
		lifetime = DefaultSessionDuration
	}
	return createdAt.Add(lifetime)
}

// ValidateSession checks revocation, absolute expiry and idle timeout.
// An idleTimeout of zero disables the idle check.
func ValidateSession(now, expiresAt, lastUsedAt time.Time, idleTimeout time.Duration, revoked bool) error {
	if revoked {
		return ErrSessionRevoked
	}
	if !now.Before(expiresAt) {
		return ErrSessionExpired
	}
	if idleTimeout > 0 && !lastUsedAt.IsZero() && now.Sub(lastUsedAt) > idleTimeout {
		return ErrSessionIdle
	}
	return nil
}

// IsAuthenticationFailure reports whether err means "treat the caller as
// anonymous" rather than an infrastructure failure.
func IsAuthenticationFailure(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionIdle) ||
		errors.Is(err, ErrSessionRevoked)
}
