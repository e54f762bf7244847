package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"prenotazioni/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRedisDown = errors.New("connection refused")

// flakyRepo is a memory repository that can be switched off to stand in for
// an unreachable Redis.
type flakyRepo struct {
	*MemorySessionRepository
	down  atomic.Bool
	calls atomic.Int32
}

func newFlakyRepo() *flakyRepo {
	return &flakyRepo{MemorySessionRepository: NewMemorySessionRepository(time.Hour)}
}

func (f *flakyRepo) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return nil, errRedisDown
	}
	return f.MemorySessionRepository.GetSession(ctx, userID)
}

func (f *flakyRepo) SaveSession(ctx context.Context, session *models.Session) error {
	f.calls.Add(1)
	if f.down.Load() {
		return errRedisDown
	}
	return f.MemorySessionRepository.SaveSession(ctx, session)
}

func (f *flakyRepo) ClearSession(ctx context.Context, userID string) error {
	f.calls.Add(1)
	if f.down.Load() {
		return errRedisDown
	}
	return f.MemorySessionRepository.ClearSession(ctx, userID)
}

func (f *flakyRepo) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return false, errRedisDown
	}
	return f.MemorySessionRepository.CheckRateLimit(ctx, userID, limit, window)
}

func TestFailoverSessionRepository(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	primary := newFlakyRepo()
	fallback := NewMemorySessionRepository(time.Hour)
	repo := NewFailoverSessionRepository(primary, fallback, &logger)

	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	stored := func(r interface {
		GetSession(context.Context, string) (*models.Session, error)
	}, userID string) bool {
		s, err := r.GetSession(ctx, userID)
		require.NoError(t, err)
		return s != nil
	}

	t.Run("Healthy", func(t *testing.T) {
		require.NoError(t, repo.SaveSession(ctx, models.NewSession("telegram:1", now)))

		assert.True(t, stored(primary.MemorySessionRepository, "telegram:1"))
		assert.False(t, stored(fallback, "telegram:1"))
		assert.False(t, repo.IsDegraded())
	})

	t.Run("Outage", func(t *testing.T) {
		primary.down.Store(true)

		session := models.NewSession("telegram:2", now)
		session.Step = models.StepAwaitingGuests
		require.NoError(t, repo.SaveSession(ctx, session))
		assert.True(t, repo.IsDegraded())
		assert.True(t, stored(fallback, "telegram:2"))

		before := primary.calls.Load()
		got, err := repo.GetSession(ctx, "telegram:2")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.StepAwaitingGuests, got.Step)
		assert.Equal(t, before, primary.calls.Load(), "primary not probed within the retry interval")
	})

	t.Run("FailedProbe", func(t *testing.T) {
		now = now.Add(primaryRetryInterval + time.Second)

		before := primary.calls.Load()
		_, err := repo.GetSession(ctx, "telegram:2")
		require.NoError(t, err)
		assert.Equal(t, before+1, primary.calls.Load())
		assert.True(t, repo.IsDegraded())

		_, err = repo.GetSession(ctx, "telegram:2")
		require.NoError(t, err)
		assert.Equal(t, before+1, primary.calls.Load(), "probe restarts the interval")
	})

	t.Run("RateLimitFallsBack", func(t *testing.T) {
		allowed, err := repo.CheckRateLimit(ctx, "telegram:3", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = repo.CheckRateLimit(ctx, "telegram:3", 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("Recovery", func(t *testing.T) {
		primary.down.Store(false)
		now = now.Add(primaryRetryInterval + time.Second)

		got, err := repo.GetSession(ctx, "telegram:1")
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.False(t, repo.IsDegraded())
	})

	t.Run("ClearRemovesBothCopies", func(t *testing.T) {
		require.NoError(t, fallback.SaveSession(ctx, models.NewSession("telegram:1", now)))
		require.NoError(t, repo.ClearSession(ctx, "telegram:1"))

		assert.False(t, stored(primary.MemorySessionRepository, "telegram:1"))
		assert.False(t, stored(fallback, "telegram:1"))
	})

	t.Run("ClearWhilePrimaryDown", func(t *testing.T) {
		primary.down.Store(true)
		require.NoError(t, fallback.SaveSession(ctx, models.NewSession("telegram:4", now)))

		assert.NoError(t, repo.ClearSession(ctx, "telegram:4"))
		assert.False(t, stored(fallback, "telegram:4"))
	})
}
