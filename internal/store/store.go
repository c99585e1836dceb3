// Package store provides session persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/caps-tutor/internal/domain"
)

// DefaultIdleTTL is how long a session survives without activity.
const DefaultIdleTTL = 20 * time.Minute

// ErrClosed is returned by a MemoryStore used after Close.
var ErrClosed = errors.New("session store closed")

// MutateFunc merges changes into the current session state.
type MutateFunc func(s *domain.Session)

// SessionStore persists per-user conversational state.
//
// Sessions idle for longer than the store's TTL are treated as absent: Get
// and Update start from a fresh session. Expired records are physically
// removed by DeleteExpired, normally driven by StartSweeper.
type SessionStore interface {
	// Get returns a snapshot of the user's session, creating an empty one
	// (not yet persisted) when none exists.
	Get(ctx context.Context, userID string) (*domain.Session, error)

	// Update atomically loads the current state, applies fn and writes the
	// result back. It returns a snapshot of the stored session.
	Update(ctx context.Context, userID string, fn MutateFunc) (*domain.Session, error)

	// DeleteExpired removes sessions idle for longer than ttl.
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// apply runs fn against current (or a fresh session) and stamps UpdatedAt.
func apply(current *domain.Session, userID string, ttl time.Duration, now time.Time, fn MutateFunc) *domain.Session {
	s := current
	if s == nil || s.Expired(ttl, now) {
		s = domain.NewSession(userID, now)
	}
	if fn != nil {
		fn(s)
	}
	s.UserID = userID
	s.UpdatedAt = now
	return s
}
