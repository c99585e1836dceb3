package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory func(t *testing.T, clock *fakeClock) SessionStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(_ *testing.T, clock *fakeClock) SessionStore {
			return NewMemory(20*time.Minute, 0, WithClock(clock.Now))
		},
		"sqlite": func(t *testing.T, clock *fakeClock) SessionStore {
			s, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"), 20*time.Minute, WithClock(clock.Now))
			require.NoError(t, err)
			return s
		},
	}
}

func TestSessionStoreContract(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			s := factory(t, clock)
			defer func() { _ = s.Close() }()

			require.NoError(t, s.Ping(ctx))

			// Lazy creation.
			sess, err := s.Get(ctx, "27821234567")
			require.NoError(t, err)
			assert.Equal(t, "27821234567", sess.UserID)
			assert.False(t, sess.WelcomeSent)

			// Merge semantics: each update sees the previous one.
			_, err = s.Update(ctx, "27821234567", func(s *domain.Session) {
				s.Grade = "11"
			})
			require.NoError(t, err)
			updated, err := s.Update(ctx, "27821234567", func(s *domain.Session) {
				s.Subject = "Mathematics"
				s.SetActiveQuestion(&domain.Question{ID: "q1", Hints: []string{"a", "b", "c"}})
				s.RevealNextHint()
			})
			require.NoError(t, err)
			assert.Equal(t, "11", updated.Grade)
			assert.Equal(t, "Mathematics", updated.Subject)
			assert.Equal(t, 1, updated.HintLevel)

			got, err := s.Get(ctx, "27821234567")
			require.NoError(t, err)
			assert.Equal(t, "11", got.Grade)
			require.NotNil(t, got.ActiveQuestion)
			assert.Equal(t, "q1", got.ActiveQuestion.ID)
			assert.Equal(t, clock.Now().UnixMilli(), got.UpdatedAt.UnixMilli())
		})
	}
}

func TestSessionStoreSnapshotsAreIsolated(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, newFakeClock())
			defer func() { _ = s.Close() }()

			snap, err := s.Update(ctx, "u1", func(s *domain.Session) { s.Grade = "10" })
			require.NoError(t, err)
			snap.Grade = "12"

			got, err := s.Get(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "10", got.Grade)
		})
	}
}

func TestSessionStoreIdleExpiry(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			s := factory(t, clock)
			defer func() { _ = s.Close() }()

			_, err := s.Update(ctx, "u1", func(s *domain.Session) {
				s.WelcomeSent = true
				s.Grade = "9"
			})
			require.NoError(t, err)

			clock.Advance(19 * time.Minute)
			got, err := s.Get(ctx, "u1")
			require.NoError(t, err)
			assert.True(t, got.WelcomeSent, "still inside the idle window")

			clock.Advance(2 * time.Minute)
			got, err = s.Get(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, got.WelcomeSent, "idle session must come back fresh")
			assert.Empty(t, got.Grade)

			// An update after expiry starts from a fresh session too.
			updated, err := s.Update(ctx, "u1", func(s *domain.Session) { s.Subject = "Accounting" })
			require.NoError(t, err)
			assert.False(t, updated.WelcomeSent)
			assert.Equal(t, "Accounting", updated.Subject)
		})
	}
}

func TestSessionStoreDeleteExpired(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			s := factory(t, clock)
			defer func() { _ = s.Close() }()

			_, err := s.Update(ctx, "old", nil)
			require.NoError(t, err)
			clock.Advance(15 * time.Minute)
			_, err = s.Update(ctx, "new", nil)
			require.NoError(t, err)
			clock.Advance(10 * time.Minute)

			deleted, err := s.DeleteExpired(ctx, 20*time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(1), deleted)
		})
	}
}

func TestSessionStoreConcurrentUpdates(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, newFakeClock())
			defer func() { _ = s.Close() }()

			const writers = 20
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Update(ctx, "u1", func(s *domain.Session) {
						s.AppendHistory("user", "msg", time.Now())
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := s.Get(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, got.History, domain.MaxHistory, "no lost updates beyond the history cap")
		})
	}
}

func TestMemoryStoreRejectsUseAfterClose(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(time.Minute, 0)
	_, err := s.Update(ctx, "27821234567", func(s *domain.Session) { s.Grade = "10" })
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Get(ctx, "27821234567")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Update(ctx, "27821234567", func(*domain.Session) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Ping(ctx), ErrClosed)
	assert.Zero(t, s.Len())
}

func TestSweeperStopsWithContext(t *testing.T) {
	clock := newFakeClock()
	s := NewMemory(time.Minute, 0, WithClock(clock.Now))
	_, err := s.Update(context.Background(), "u1", nil)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	StartSweeper(ctx, s, time.Minute, 10*time.Millisecond)

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 10*time.Millisecond)
	cancel()
}

func TestIsSQLiteConflictError(t *testing.T) {
	assert.False(t, isSQLiteConflictError(nil))
	assert.False(t, isSQLiteConflictError(assert.AnError))
	assert.True(t, isSQLiteConflictError(errString("database is locked (5) (SQLITE_BUSY)")))
}

type errString string

func (e errString) Error() string { return string(e) }
