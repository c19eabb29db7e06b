package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Session is a browser login. The cookie carries an opaque token; only its
// SHA256 hash is stored.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:sess"`

	ID          string         `bun:"id,pk,type:varchar(36)"`
	TokenHash   string         `bun:"token_hash,notnull,unique"`
	Subject     string         `bun:"subject,notnull"`
	Claims      map[string]any `bun:"claims,type:jsonb"`      // Claim bag captured at login
	Authorities []string       `bun:"authorities,type:jsonb"` // Mapped once at login
	IDToken     string         `bun:"id_token,type:text"`     // Logout hint
	// Relayed to upstreams as a bearer token, so it is kept as issued
	AccessToken string    `bun:"access_token,type:text"`
	TokenExpiry time.Time `bun:"token_expiry,nullzero"`
	ExpiresAt   time.Time `bun:"expires_at,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	LastUsedAt  time.Time `bun:"last_used_at,notnull,default:current_timestamp"`
	UserAgent   string    `bun:"user_agent"`
	IPAddress   string    `bun:"ip_address"`
	Revoked     bool      `bun:"revoked,notnull,default:false"`
}
