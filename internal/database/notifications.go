package database

import (
	"context"
	"fmt"
	"time"

	"prenotazioni/internal/models"
)

const notificationColumns = `id, kind, recipient, message, status, outcome, retry_count, last_error, created_at,
        processed_at, next_retry_at`

func (db *DB) CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error {
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	now := time.Now().UTC()

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	result, err := db.ExecContext(ctx, `INSERT INTO notification_queue
        (kind, recipient, message, status, outcome, retry_count, last_error, created_at, next_retry_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.Kind, task.Recipient, task.Message, task.Status, task.Outcome, task.RetryCount, task.LastError,
		now, task.NextRetryAt)
	if err != nil {
		return fmt.Errorf("failed to create notification task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

func (db *DB) GetNotificationTask(ctx context.Context, id int64) (*models.NotificationTask, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notification_queue WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get notification task: %w", err)
	}
	tasks, err := scanNotificationTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("notification task %d not found", id)
	}
	return tasks[0], nil
}

// GetPendingNotificationTasks returns tasks that are due, oldest first.
func (db *DB) GetPendingNotificationTasks(ctx context.Context, limit int) ([]*models.NotificationTask, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notification_queue
        WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
        ORDER BY created_at ASC, id ASC LIMIT ?`, models.TaskPending, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notification tasks: %w", err)
	}
	return scanNotificationTasks(rows)
}

func (db *DB) GetFailedNotificationTasks(ctx context.Context) ([]*models.NotificationTask, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notification_queue
        WHERE status = ? ORDER BY created_at DESC`, models.TaskFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed notification tasks: %w", err)
	}
	return scanNotificationTasks(rows)
}

func (db *DB) MarkNotificationProcessing(ctx context.Context, id int64) error {
	return db.execLocked(ctx, `UPDATE notification_queue SET status = ? WHERE id = ?`, models.TaskProcessing, id)
}

func (db *DB) MarkNotificationCompleted(ctx context.Context, id int64, outcome models.DeliveryOutcome) error {
	return db.execLocked(ctx, `UPDATE notification_queue SET status = ?, outcome = ?, last_error = NULL,
        processed_at = ?, next_retry_at = NULL WHERE id = ?`, models.TaskCompleted, outcome, time.Now().UTC(), id)
}

// MarkNotificationFailed schedules a retry at nextRetryAt, or moves the task to
// the dead letter state when nextRetryAt is nil.
func (db *DB) MarkNotificationFailed(ctx context.Context, id int64, errMsg string, nextRetryAt *time.Time) error {
	if nextRetryAt != nil {
		retryAt := nextRetryAt.UTC()
		return db.execLocked(ctx, `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?,
            retry_count = retry_count + 1 WHERE id = ?`, models.TaskPending, errMsg, retryAt, id)
	}
	return db.execLocked(ctx, `UPDATE notification_queue SET status = ?, outcome = ?, last_error = ?,
        processed_at = ?, next_retry_at = NULL WHERE id = ?`,
		models.TaskFailed, models.DeliveryFailed, errMsg, time.Now().UTC(), id)
}

// RequeueProcessingNotifications returns tasks interrupted by a shutdown to the pending state.
func (db *DB) RequeueProcessingNotifications(ctx context.Context) (int, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.ExecContext(ctx, `UPDATE notification_queue SET status = ? WHERE status = ?`,
		models.TaskPending, models.TaskProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue notification tasks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (db *DB) execLocked(ctx context.Context, query string, args ...interface{}) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update notification task: %w", err)
	}
	return nil
}

func scanNotificationTasks(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}) ([]*models.NotificationTask, error) {
	defer rows.Close()

	var tasks []*models.NotificationTask
	for rows.Next() {
		var t models.NotificationTask
		err := rows.Scan(
			&t.ID, &t.Kind, &t.Recipient, &t.Message, &t.Status, &t.Outcome, &t.RetryCount, &t.LastError,
			&t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}
