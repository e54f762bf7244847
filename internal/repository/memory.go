package repository

import (
	"context"
	"sync"
	"time"

	"prenotazioni/internal/models"

	"github.com/rs/zerolog"
)

type memoryEntry struct {
	session   models.Session
	expiresAt time.Time
}

// MemorySessionRepository keeps sessions in process. Entries are copies, so
// callers never share a draft through the repository.
type MemorySessionRepository struct {
	sessions   sync.Map
	rateLimits sync.Map
	rateMu     sync.Mutex
	ttl        time.Duration
	now        func() time.Time
}

func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	return &MemorySessionRepository{
		ttl: ttl,
		now: time.Now,
	}
}

func (r *MemorySessionRepository) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	val, ok := r.sessions.Load(userID)
	if !ok {
		return nil, nil
	}
	entry := val.(*memoryEntry)
	if r.ttl > 0 && r.now().After(entry.expiresAt) {
		r.sessions.CompareAndDelete(userID, val)
		return nil, nil
	}
	s := cloneSession(entry.session)
	return &s, nil
}

func (r *MemorySessionRepository) SaveSession(ctx context.Context, session *models.Session) error {
	r.sessions.Store(session.UserID, &memoryEntry{
		session:   cloneSession(*session),
		expiresAt: r.now().Add(r.ttl),
	})
	return nil
}

func (r *MemorySessionRepository) ClearSession(ctx context.Context, userID string) error {
	r.sessions.Delete(userID)
	return nil
}

// Sweep drops expired sessions and rate-limit windows and returns how many
// entries were removed. Expiry on read only covers users who come back.
func (r *MemorySessionRepository) Sweep() int {
	now := r.now()
	removed := 0
	if r.ttl > 0 {
		r.sessions.Range(func(key, val interface{}) bool {
			if now.After(val.(*memoryEntry).expiresAt) && r.sessions.CompareAndDelete(key, val) {
				removed++
			}
			return true
		})
	}

	r.rateMu.Lock()
	r.rateLimits.Range(func(key, val interface{}) bool {
		if now.After(val.(*rateLimitEntry).expiresAt) {
			r.rateLimits.Delete(key)
			removed++
		}
		return true
	})
	r.rateMu.Unlock()
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *MemorySessionRepository) RunSweeper(ctx context.Context, interval time.Duration, logger *zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.Sweep(); removed > 0 && logger != nil {
				logger.Debug().Int("removed", removed).Msg("Expired in-memory sessions swept")
			}
		}
	}
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemorySessionRepository) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	r.rateMu.Lock()
	defer r.rateMu.Unlock()

	now := r.now()
	val, ok := r.rateLimits.Load(userID)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{count: 1, expiresAt: now.Add(window)}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}

	r.rateLimits.Store(userID, entry)
	return entry.count <= limit, nil
}

func cloneSession(s models.Session) models.Session {
	d := s.Draft
	if d.CheckInDate != nil {
		v := *d.CheckInDate
		d.CheckInDate = &v
	}
	if d.CheckOutDate != nil {
		v := *d.CheckOutDate
		d.CheckOutDate = &v
	}
	if d.Guests != nil {
		v := *d.Guests
		d.Guests = &v
	}
	if d.CheckInTime != nil {
		v := *d.CheckInTime
		d.CheckInTime = &v
	}
	if d.SpecialRequests != nil {
		v := *d.SpecialRequests
		d.SpecialRequests = &v
	}
	s.Draft = d
	return s
}
