package identity

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/schoolist/edgeservice/internal/auth"
)

// sessionCache keeps recently authenticated principals keyed by token hash so
// most requests skip the database. Entries live at most ttl; revocation on
// another replica becomes visible once the entry expires.
type sessionCache struct {
	lru *expirable.LRU[string, *auth.Principal]
}

// newSessionCache returns nil (caching disabled) when size or ttl is zero.
func newSessionCache(size int, ttl time.Duration) *sessionCache {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	return &sessionCache{lru: expirable.NewLRU[string, *auth.Principal](size, nil, ttl)}
}

func (c *sessionCache) get(tokenHash string) (*auth.Principal, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(tokenHash)
}

func (c *sessionCache) add(p *auth.Principal) {
	if c == nil {
		return
	}
	c.lru.Add(p.TokenHash, p)
}

func (c *sessionCache) remove(tokenHash string) {
	if c == nil {
		return
	}
	c.lru.Remove(tokenHash)
}

// removeSubject evicts every cached session of subject.
func (c *sessionCache) removeSubject(subject string) int {
	if c == nil {
		return 0
	}
	removed := 0
	for _, key := range c.lru.Keys() {
		if p, ok := c.lru.Peek(key); ok && p.Subject == subject {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}

func (c *sessionCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
