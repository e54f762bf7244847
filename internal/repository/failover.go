package repository

import (
	"context"
	"sync/atomic"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/models"

	"github.com/rs/zerolog"
)

const primaryRetryInterval = time.Minute

// FailoverSessionRepository uses primary until it errors, then serves from
// fallback and retries primary at most once per primaryRetryInterval.
type FailoverSessionRepository struct {
	primary   domain.SessionRepository
	fallback  domain.SessionRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverSessionRepository(primary, fallback domain.SessionRepository, logger *zerolog.Logger) *FailoverSessionRepository {
	return &FailoverSessionRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverSessionRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > primaryRetryInterval
}

func (r *FailoverSessionRepository) observe(err error) {
	if err == nil {
		if r.isDown.CompareAndSwap(true, false) {
			r.logger.Info().Msg("Primary session repository recovered")
		}
		return
	}
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary session repository failed, falling back to memory")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

func (r *FailoverSessionRepository) IsDegraded() bool {
	return r.isDown.Load()
}

func (r *FailoverSessionRepository) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	if r.usePrimary() {
		session, err := r.primary.GetSession(ctx, userID)
		r.observe(err)
		if err == nil {
			return session, nil
		}
	}
	return r.fallback.GetSession(ctx, userID)
}

func (r *FailoverSessionRepository) SaveSession(ctx context.Context, session *models.Session) error {
	if r.usePrimary() {
		err := r.primary.SaveSession(ctx, session)
		r.observe(err)
		if err == nil {
			return nil
		}
	}
	return r.fallback.SaveSession(ctx, session)
}

func (r *FailoverSessionRepository) ClearSession(ctx context.Context, userID string) error {
	// the fallback may hold a copy written while primary was down
	_ = r.fallback.ClearSession(ctx, userID)
	if r.usePrimary() {
		err := r.primary.ClearSession(ctx, userID)
		r.observe(err)
		if err == nil {
			return nil
		}
	}
	return nil
}

func (r *FailoverSessionRepository) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, userID, limit, window)
		r.observe(err)
		if err == nil {
			return allowed, nil
		}
	}
	return r.fallback.CheckRateLimit(ctx, userID, limit, window)
}
