package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"prenotazioni/internal/database"
	"prenotazioni/internal/domain"
	"prenotazioni/internal/models"
	"prenotazioni/internal/notify"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu      sync.Mutex
	err     error
	outcome models.DeliveryOutcome
	sent    []models.Notification
}

func (f *fakeNotifier) Dispatch(_ context.Context, n models.Notification) (models.DeliveryOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	if f.err != nil {
		return models.DeliveryFailed, f.err
	}
	if f.outcome == "" {
		return models.DeliverySent, nil
	}
	return f.outcome, nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestWorker(t *testing.T, notifier *fakeNotifier, rdb *redis.Client, retry RetryPolicy) (*NotificationWorker, *database.DB) {
	t.Helper()
	db := newTestDB(t)
	logger := zerolog.Nop()
	return NewNotificationWorker(db, notifier, rdb, Options{Retry: retry}, &logger), db
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func smsNotification() models.Notification {
	return models.Notification{Kind: models.NotificationSMS, Recipient: "+39 333 1234567", Message: "Pulizia alle 12:00"}
}

func TestProcessTaskSuccess(t *testing.T) {
	notifier := &fakeNotifier{outcome: models.DeliverySimulated}
	worker, db := newTestWorker(t, notifier, nil, RetryPolicy{})
	ctx := context.Background()

	require.NoError(t, worker.Enqueue(ctx, smsNotification()))

	task, ok := worker.tryLocalQueue()
	require.True(t, ok, "expected task in local queue")
	worker.processTask(ctx, &task)

	stored, err := db.GetNotificationTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, stored.Status)
	assert.Equal(t, models.DeliverySimulated, stored.Outcome)
	assert.Equal(t, 0, stored.RetryCount)
	assert.Nil(t, stored.NextRetryAt)
	assert.Equal(t, 1, notifier.count())
}

func TestProcessTaskRetry(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("gateway down")}
	worker, db := newTestWorker(t, notifier, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second})
	ctx := context.Background()

	require.NoError(t, worker.Enqueue(ctx, smsNotification()))
	task, ok := worker.tryLocalQueue()
	require.True(t, ok)
	worker.processTask(ctx, &task)

	stored, err := db.GetNotificationTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.NextRetryAt)
	assert.True(t, stored.NextRetryAt.After(time.Now()))
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "gateway down", *stored.LastError)

	pending, err := db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "task must wait for its retry time")
}

func TestProcessTaskFail(t *testing.T) {
	mr, rdb := newTestRedis(t)

	notifier := &fakeNotifier{err: errors.New("fatal")}
	worker, db := newTestWorker(t, notifier, rdb, RetryPolicy{MaxRetries: 1})
	ctx := context.Background()

	require.NoError(t, worker.Enqueue(ctx, smsNotification()))
	task, ok := worker.tryRedis(ctx)
	require.True(t, ok, "expected task in redis")
	worker.processTask(ctx, &task)

	stored, err := db.GetNotificationTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, stored.Status)
	assert.Equal(t, models.DeliveryFailed, stored.Outcome)

	dead, err := mr.List(redisDeadLetterKey)
	require.NoError(t, err)
	assert.Len(t, dead, 1)
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("Redis", func(t *testing.T) {
		mr, rdb := newTestRedis(t)

		worker, _ := newTestWorker(t, &fakeNotifier{}, rdb, RetryPolicy{})
		require.NoError(t, worker.Enqueue(ctx, smsNotification()))

		queued, err := mr.List(redisQueueKey)
		require.NoError(t, err)
		assert.Len(t, queued, 1)
		_, ok := worker.tryLocalQueue()
		assert.False(t, ok)
	})

	t.Run("RedisDownFallsBackToMemory", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		t.Cleanup(func() { rdb.Close() })
		mr.Close()

		worker, _ := newTestWorker(t, &fakeNotifier{}, rdb, RetryPolicy{})
		require.NoError(t, worker.Enqueue(ctx, smsNotification()))
		_, ok := worker.tryLocalQueue()
		assert.True(t, ok)
	})

	t.Run("Invalid", func(t *testing.T) {
		worker, _ := newTestWorker(t, &fakeNotifier{}, nil, RetryPolicy{})

		err := worker.Enqueue(ctx, models.Notification{Kind: models.NotificationSMS, Message: "x"})
		assert.Error(t, err)

		err = worker.Enqueue(ctx, models.Notification{Kind: "fax", Recipient: "1", Message: "x"})
		assert.Error(t, err)
	})
}

func TestStartDeliversAndStops(t *testing.T) {
	notifier := &fakeNotifier{}
	db := newTestDB(t)
	logger := zerolog.Nop()
	worker := NewNotificationWorker(db, notifier, nil, Options{PollInterval: 10 * time.Millisecond}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// left over from a previous run
	interrupted := &models.NotificationTask{Kind: models.NotificationEmail, Recipient: "pulizie@example.it", Message: "x"}
	require.NoError(t, db.CreateNotificationTask(ctx, interrupted))
	require.NoError(t, db.MarkNotificationProcessing(ctx, interrupted.ID))

	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	require.NoError(t, worker.Enqueue(ctx, smsNotification()))

	assert.Eventually(t, func() bool { return notifier.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	stored, err := db.GetNotificationTask(context.Background(), interrupted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, stored.Status)
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}

	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
	assert.Equal(t, 5*time.Second, policy.NextDelay(5), "capped at MaxDelay")
	assert.Equal(t, time.Second, RetryPolicy{}.NextDelay(0))
}

func TestRetryPolicyRetryAt(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3}.withDefaults()
	now := time.Date(2025, 7, 17, 10, 0, 0, 0, time.UTC)

	next := policy.RetryAt(1, errors.New("timeout"), now)
	require.NotNil(t, next)
	assert.Equal(t, now.Add(DefaultRetryPolicy.InitialDelay), *next)

	assert.Nil(t, policy.RetryAt(3, errors.New("timeout"), now), "attempts exhausted")
	assert.Nil(t, policy.RetryAt(1, domain.NewValidationError("recipient", "empty"), now))
	assert.Nil(t, policy.RetryAt(1, fmt.Errorf("%w: fax", notify.ErrUnsupportedKind), now))
}

func TestProcessTaskPermanentFailure(t *testing.T) {
	notifier := &fakeNotifier{err: domain.NewValidationError("recipient", "not a telegram chat id")}
	worker, db := newTestWorker(t, notifier, nil, RetryPolicy{MaxRetries: 5})
	ctx := context.Background()

	require.NoError(t, worker.Enqueue(ctx, smsNotification()))
	task, ok := worker.tryLocalQueue()
	require.True(t, ok)
	worker.processTask(ctx, &task)

	stored, err := db.GetNotificationTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, stored.Status)
	assert.Equal(t, 1, notifier.count())
}
