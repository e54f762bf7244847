package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/metrics"
	"prenotazioni/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisQueueKey      = "notifications:queue"
	redisDeadLetterKey = "notifications:deadletter"
	localQueueSize     = 128
)

// NotificationWorker persists outgoing notifications and delivers them with retries.
type NotificationWorker struct {
	repo            domain.NotificationQueueRepository
	notifier        domain.Notifier
	redis           *redis.Client
	retryPolicy     RetryPolicy
	queue           chan models.NotificationTask
	pollInterval    time.Duration
	dispatchTimeout time.Duration
	batchSize       int
	logger          *zerolog.Logger
}

type Options struct {
	Retry           RetryPolicy
	PollInterval    time.Duration
	DispatchTimeout time.Duration
}

// NewNotificationWorker builds a worker with sane defaults. redisClient may be nil.
func NewNotificationWorker(
	repo domain.NotificationQueueRepository,
	notifier domain.Notifier,
	redisClient *redis.Client,
	opts Options,
	logger *zerolog.Logger,
) *NotificationWorker {
	retry := opts.Retry.withDefaults()
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &NotificationWorker{
		repo:            repo,
		notifier:        notifier,
		redis:           redisClient,
		retryPolicy:     retry,
		queue:           make(chan models.NotificationTask, localQueueSize),
		pollInterval:    opts.PollInterval,
		dispatchTimeout: opts.DispatchTimeout,
		batchSize:       20,
		logger:          logger,
	}
}

// Enqueue persists n and schedules it via redis or the in-memory queue.
// A task that fits neither is still picked up by polling.
func (w *NotificationWorker) Enqueue(ctx context.Context, n models.Notification) error {
	if strings.TrimSpace(n.Recipient) == "" {
		return domain.NewValidationError("recipient", "must not be empty")
	}
	switch n.Kind {
	case models.NotificationTelegram, models.NotificationSMS, models.NotificationEmail:
	default:
		return domain.NewValidationError("kind", fmt.Sprintf("unknown notification kind %q", n.Kind))
	}

	task := models.NotificationTask{
		Kind:      n.Kind,
		Recipient: n.Recipient,
		Message:   n.Message,
		Status:    models.TaskPending,
	}
	if err := w.repo.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("failed to persist notification: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, redisQueueKey, &task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Redis push failed, using memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("Memory queue full, task left to polling")
	}
	return nil
}

// Start runs the delivery loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	if n, err := w.repo.RequeueProcessingNotifications(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Failed to requeue interrupted notifications")
	} else if n > 0 {
		w.logger.Info().Int("count", n).Msg("Requeued interrupted notifications")
	}

	w.logger.Info().Msg("Notification worker started")
	defer w.logger.Info().Msg("Notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		if w.drainPending(ctx) == 0 {
			w.sleep(ctx)
		}
	}
}

func (w *NotificationWorker) drainPending(ctx context.Context) int {
	tasks, err := w.repo.GetPendingNotificationTasks(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Failed to fetch pending notifications")
		}
		return 0
	}
	for _, t := range tasks {
		w.processTask(ctx, t)
	}
	return len(tasks)
}

func (w *NotificationWorker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *NotificationWorker) tryLocalQueue() (models.NotificationTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.NotificationTask{}, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (models.NotificationTask, bool) {
	if w.redis == nil {
		return models.NotificationTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("Redis BRPOP failed")
		}
		return models.NotificationTask{}, false
	}
	if len(res) != 2 {
		return models.NotificationTask{}, false
	}
	var task models.NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode redis notification")
		return models.NotificationTask{}, false
	}
	return task, true
}

// processTask delivers one task. Delivery is at-least-once.
func (w *NotificationWorker) processTask(ctx context.Context, task *models.NotificationTask) {
	log := w.logger.With().Int64("task_id", task.ID).Str("kind", string(task.Kind)).Logger()

	if err := w.repo.MarkNotificationProcessing(ctx, task.ID); err != nil {
		log.Error().Err(err).Msg("Failed to mark notification processing")
		return
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, w.dispatchTimeout)
	outcome, err := w.notifier.Dispatch(dispatchCtx, task.Notification())
	cancel()
	if err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.repo.MarkNotificationCompleted(ctx, task.ID, outcome); err != nil {
		log.Error().Err(err).Msg("Failed to mark notification completed")
	}
	metrics.IncNotification(string(task.Kind), string(outcome))
	log.Debug().Str("outcome", string(outcome)).Msg("Notification delivered")
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	log := w.logger.With().Int64("task_id", task.ID).Logger()

	attempt := task.RetryCount + 1
	next := w.retryPolicy.RetryAt(attempt, cause, time.Now())
	if next == nil {
		if err := w.repo.MarkNotificationFailed(ctx, task.ID, cause.Error(), nil); err != nil {
			log.Error().Err(err).Msg("Failed to mark notification failed")
		}
		metrics.IncNotification(string(task.Kind), string(models.DeliveryFailed))
		log.Error().Err(cause).Int("attempts", attempt).Msg("Notification moved to dead letter")
		w.pushDeadLetter(ctx, task)
		return
	}

	if err := w.repo.MarkNotificationFailed(ctx, task.ID, cause.Error(), next); err != nil {
		log.Error().Err(err).Msg("Failed to schedule notification retry")
	}
	log.Warn().Err(cause).Time("next_retry_at", *next).Msg("Notification delivery failed, retrying")
}

func (w *NotificationWorker) pushRedis(ctx context.Context, key string, task *models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, task *models.NotificationTask) {
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, redisDeadLetterKey, task); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Dead letter push failed")
	}
}
