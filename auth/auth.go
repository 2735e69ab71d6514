// Package auth provides bearer credential sources.
//
// The engine never runs an authentication protocol itself. It asks a Source
// for a bearer credential before every handshake; how the credential is
// minted or refreshed belongs to the embedding application.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredential is returned when a source has nothing to offer.
var ErrNoCredential = errors.New("no credential available")

// Source yields a bearer credential.
type Source interface {
	Credential(ctx context.Context) (string, error)
}

// Static is a fixed credential.
type Static string

// Credential returns the static credential.
func (s Static) Credential(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// Func adapts a function to Source.
type Func func(ctx context.Context) (string, error)

// Credential calls f.
func (f Func) Credential(ctx context.Context) (string, error) {
	return f(ctx)
}

// DefaultRefreshSkew is how long before a JWT's exp the cached credential is
// considered spent.
const DefaultRefreshSkew = 30 * time.Second

// Cached wraps a Source and reuses its credential until it is about to
// expire. JWT credentials expire at their exp claim minus the skew; opaque
// credentials and JWTs without exp are kept until Invalidate.
// Concurrent callers share one refresh.
type Cached struct {
	source Source
	skew   time.Duration
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewCached wraps source. A skew <= 0 selects DefaultRefreshSkew.
func NewCached(source Source, skew time.Duration) *Cached {
	if skew <= 0 {
		skew = DefaultRefreshSkew
	}
	return &Cached{source: source, skew: skew, now: time.Now}
}

// Credential returns the cached credential or fetches a new one.
func (c *Cached) Credential(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && (c.expires.IsZero() || c.now().Before(c.expires.Add(-c.skew))) {
		return c.token, nil
	}

	token, err := c.source.Credential(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNoCredential
	}
	c.token = token
	c.expires, _ = Expiry(token)
	return token, nil
}

// Invalidate drops the cached credential, e.g. after the upstream rejected it.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}

// Expiry reads the exp claim of a JWT without verifying its signature.
// Verification is the upstream's job; the client only needs to know when to
// ask for a new one. ok is false for opaque tokens and JWTs without exp.
func Expiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
