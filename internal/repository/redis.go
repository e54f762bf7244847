package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"prenotazioni/internal/config"
	"prenotazioni/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix   = "prenotazioni:session:"
	rateLimitKeyPrefix = "prenotazioni:ratelimit:"
)

var ErrNoRedisClient = errors.New("redis client is not configured")

// RedisSessionRepository keeps conversation sessions and per-user message
// counters in Redis. Sessions expire after ttl without a save.
type RedisSessionRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisSessionRepository(client *redis.Client, ttl time.Duration) *RedisSessionRepository {
	return &RedisSessionRepository{client: client, ttl: ttl}
}

// GetSession returns nil, nil when the user has no live session.
func (r *RedisSessionRepository) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	if r.client == nil {
		return nil, ErrNoRedisClient
	}
	raw, err := r.client.Get(ctx, sessionKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from redis: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", userID, err)
	}
	return &session, nil
}

func (r *RedisSessionRepository) SaveSession(ctx context.Context, session *models.Session) error {
	if r.client == nil {
		return ErrNoRedisClient
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKeyPrefix+session.UserID, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session in redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) ClearSession(ctx context.Context, userID string) error {
	if r.client == nil {
		return ErrNoRedisClient
	}
	if err := r.client.Del(ctx, sessionKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to delete session from redis: %w", err)
	}
	return nil
}

// CheckRateLimit counts a message for userID in a fixed window and reports
// whether it is within limit. A counter found without expiry gets the window
// again, so a lost EXPIRE cannot block a user for good.
func (r *RedisSessionRepository) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, ErrNoRedisClient
	}
	key := rateLimitKeyPrefix + userID

	var count *redis.IntCmd
	var ttl *redis.DurationCmd
	if _, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		count = p.Incr(ctx, key)
		ttl = p.PTTL(ctx, key)
		return nil
	}); err != nil {
		return false, fmt.Errorf("failed to count message: %w", err)
	}

	if ttl.Val() < 0 {
		if err := r.client.PExpire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}
	return count.Val() <= int64(limit), nil
}

func Ping(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return ErrNoRedisClient
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
