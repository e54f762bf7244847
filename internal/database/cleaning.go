package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/models"

	"github.com/google/uuid"
)

const cleaningServiceColumns = `id, name, phone, email, sms_enabled, is_default, created_at, updated_at`

const cleaningTaskColumns = `id, property_id, service_id, scheduled_at, status, booking_id, notes, created_at, updated_at`

func scanCleaningService(row rowScanner) (*models.CleaningService, error) {
	var s models.CleaningService
	err := row.Scan(&s.ID, &s.Name, &s.Phone, &s.Email, &s.SMSEnabled, &s.IsDefault, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func getCleaningServiceWith(ctx context.Context, q querier, id string) (*models.CleaningService, error) {
	s, err := scanCleaningService(q.QueryRowContext(ctx,
		`SELECT `+cleaningServiceColumns+` FROM cleaning_services WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("cleaning service", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cleaning service: %w", err)
	}
	return s, nil
}

func (db *DB) GetCleaningService(ctx context.Context, id string) (*models.CleaningService, error) {
	return getCleaningServiceWith(ctx, db, id)
}

func (db *DB) GetCleaningServiceByName(ctx context.Context, name string) (*models.CleaningService, error) {
	name = strings.TrimSpace(name)
	s, err := scanCleaningService(db.QueryRowContext(ctx,
		`SELECT `+cleaningServiceColumns+` FROM cleaning_services WHERE name_key = ?`, nameKey(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("cleaning service", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cleaning service by name: %w", err)
	}
	return s, nil
}

func (db *DB) GetDefaultCleaningService(ctx context.Context) (*models.CleaningService, error) {
	s, err := scanCleaningService(db.QueryRowContext(ctx,
		`SELECT `+cleaningServiceColumns+` FROM cleaning_services WHERE is_default = 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("cleaning service", "default")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default cleaning service: %w", err)
	}
	return s, nil
}

func (db *DB) ListCleaningServices(ctx context.Context) ([]*models.CleaningService, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+cleaningServiceColumns+` FROM cleaning_services ORDER BY name_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cleaning services: %w", err)
	}
	defer rows.Close()

	var services []*models.CleaningService
	for rows.Next() {
		s, err := scanCleaningService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cleaning service: %w", err)
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

// UpsertCleaningService saves s by name. When s.IsDefault is set it also
// becomes the default, clearing the previous one in the same transaction.
func (db *DB) UpsertCleaningService(ctx context.Context, s *models.CleaningService) error {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return domain.NewValidationError("name", "must not be empty")
	}

	return db.withWriteTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		var existingID string
		var createdAt time.Time
		err := tx.QueryRowContext(ctx, `SELECT id, created_at FROM cleaning_services WHERE name_key = ?`, nameKey(s.Name)).
			Scan(&existingID, &createdAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if s.ID == "" {
				s.ID = uuid.NewString()
			}
			s.CreatedAt = now
			_, err = tx.ExecContext(ctx, `INSERT INTO cleaning_services (`+cleaningServiceColumns+`, name_key)
                VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`, s.ID, s.Name, s.Phone, s.Email, s.SMSEnabled, now, now, nameKey(s.Name))
		case err != nil:
			return fmt.Errorf("failed to look up cleaning service: %w", err)
		default:
			s.ID = existingID
			s.CreatedAt = createdAt
			_, err = tx.ExecContext(ctx, `UPDATE cleaning_services SET name = ?, phone = ?, email = ?, sms_enabled = ?,
                updated_at = ? WHERE id = ?`, s.Name, s.Phone, s.Email, s.SMSEnabled, now, s.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to save cleaning service: %w", err)
		}
		s.UpdatedAt = now

		if s.IsDefault {
			return setDefaultWith(ctx, tx, s.ID, now)
		}
		var isDefault bool
		if err := tx.QueryRowContext(ctx, `SELECT is_default FROM cleaning_services WHERE id = ?`, s.ID).
			Scan(&isDefault); err != nil {
			return fmt.Errorf("failed to read default flag: %w", err)
		}
		s.IsDefault = isDefault
		return nil
	})
}

func setDefaultWith(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	// clear first: the partial unique index rejects two defaults even inside the transaction
	if _, err := tx.ExecContext(ctx, `UPDATE cleaning_services SET is_default = 0, updated_at = ?
        WHERE is_default = 1 AND id != ?`, now, id); err != nil {
		return fmt.Errorf("failed to clear default cleaning service: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE cleaning_services SET is_default = 1, updated_at = ? WHERE id = ?`,
		now, id); err != nil {
		return fmt.Errorf("failed to set default cleaning service: %w", err)
	}
	return nil
}

// SetDefaultCleaningService makes id the only default service.
func (db *DB) SetDefaultCleaningService(ctx context.Context, id string) error {
	return db.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := getCleaningServiceWith(ctx, tx, id); err != nil {
			return err
		}
		return setDefaultWith(ctx, tx, id, time.Now().UTC())
	})
}

// DeleteCleaningService refuses while any property still references the service.
// Tasks that pointed at it fall back to the default service.
func (db *DB) DeleteCleaningService(ctx context.Context, id string) error {
	return db.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := getCleaningServiceWith(ctx, tx, id); err != nil {
			return err
		}

		var refs int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM properties WHERE cleaning_service_id = ?`, id).
			Scan(&refs); err != nil {
			return fmt.Errorf("failed to count property references: %w", err)
		}
		if refs > 0 {
			return fmt.Errorf("cleaning service %s is assigned to %d properties: %w", id, refs, domain.ErrReferentialConflict)
		}

		_, err := tx.ExecContext(ctx, `DELETE FROM cleaning_services WHERE id = ?`, id)
		if isForeignKeyViolation(err) {
			return fmt.Errorf("cleaning service %s is still referenced: %w", id, domain.ErrReferentialConflict)
		}
		if err != nil {
			return fmt.Errorf("failed to delete cleaning service: %w", err)
		}
		return nil
	})
}

func scanCleaningTask(row rowScanner) (*models.CleaningTask, error) {
	var (
		t           models.CleaningTask
		serviceID   sql.NullString
		bookingID   sql.NullString
		scheduledAt int64
	)
	err := row.Scan(&t.ID, &t.PropertyID, &serviceID, &scheduledAt, &t.Status, &bookingID, &t.Notes,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.ServiceID = stringPtr(serviceID)
	t.BookingID = stringPtr(bookingID)
	t.ScheduledAt = time.Unix(scheduledAt, 0).UTC()
	return &t, nil
}

func (db *DB) CreateCleaningTask(ctx context.Context, task *models.CleaningTask) error {
	if task.PropertyID == "" {
		return domain.NewValidationError("property_id", "missing")
	}
	if task.ScheduledAt.IsZero() {
		return domain.NewValidationError("scheduled_at", "missing")
	}
	if task.Status == "" {
		task.Status = models.CleaningScheduled
	}
	if !task.Status.Valid() {
		return domain.NewValidationError("status", fmt.Sprintf("unknown status %q", task.Status))
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	task.ScheduledAt = task.ScheduledAt.UTC().Truncate(time.Second)
	task.CreatedAt = now
	task.UpdatedAt = now

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	_, err := db.ExecContext(ctx, `INSERT INTO cleaning_tasks (`+cleaningTaskColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.PropertyID, nullString(task.ServiceID), task.ScheduledAt.Unix(), task.Status,
		nullString(task.BookingID), task.Notes, now, now)
	if isForeignKeyViolation(err) {
		return domain.NewValidationError("cleaning_task", "unknown property, service or booking")
	}
	if err != nil {
		return fmt.Errorf("failed to create cleaning task: %w", err)
	}
	return nil
}

func (db *DB) GetCleaningTask(ctx context.Context, id string) (*models.CleaningTask, error) {
	t, err := scanCleaningTask(db.QueryRowContext(ctx, `SELECT `+cleaningTaskColumns+` FROM cleaning_tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("cleaning task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cleaning task: %w", err)
	}
	return t, nil
}

// ListScheduledCleaningTasks returns scheduled tasks in [from, to], earliest first.
func (db *DB) ListScheduledCleaningTasks(ctx context.Context, from, to time.Time) ([]*models.CleaningTask, error) {
	return db.listCleaningTasks(ctx, `SELECT `+cleaningTaskColumns+` FROM cleaning_tasks
        WHERE status = ? AND scheduled_at BETWEEN ? AND ?
        ORDER BY scheduled_at ASC, created_at ASC`,
		models.CleaningScheduled, from.Unix(), to.Unix())
}

func (db *DB) ListCleaningTasksByProperty(ctx context.Context, propertyID string) ([]*models.CleaningTask, error) {
	return db.listCleaningTasks(ctx, `SELECT `+cleaningTaskColumns+` FROM cleaning_tasks
        WHERE property_id = ? ORDER BY scheduled_at ASC`, propertyID)
}

func (db *DB) listCleaningTasks(ctx context.Context, query string, args ...interface{}) ([]*models.CleaningTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cleaning tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.CleaningTask
	for rows.Next() {
		t, err := scanCleaningTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cleaning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateCleaningTaskStatus closes a scheduled task as completed or cancelled.
func (db *DB) UpdateCleaningTaskStatus(
	ctx context.Context,
	id string,
	status models.CleaningTaskStatus,
) (*models.CleaningTask, error) {
	var updated *models.CleaningTask
	err := db.withWriteTx(ctx, func(tx *sql.Tx) error {
		t, err := scanCleaningTask(tx.QueryRowContext(ctx,
			`SELECT `+cleaningTaskColumns+` FROM cleaning_tasks WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewNotFoundError("cleaning task", id)
		}
		if err != nil {
			return fmt.Errorf("failed to get cleaning task: %w", err)
		}
		if t.Status == status {
			updated = t
			return nil
		}
		if t.Status != models.CleaningScheduled || status == models.CleaningScheduled || !status.Valid() {
			return &domain.TransitionError{Entity: "cleaning task", From: string(t.Status), To: string(status)}
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE cleaning_tasks SET status = ?, updated_at = ? WHERE id = ?`,
			status, now, id); err != nil {
			return fmt.Errorf("failed to update cleaning task: %w", err)
		}
		t.Status = status
		t.UpdatedAt = now
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CancelCleaningTasksForBooking cancels every still-scheduled task of a booking.
func (db *DB) CancelCleaningTasksForBooking(ctx context.Context, bookingID string) (int, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.ExecContext(ctx, `UPDATE cleaning_tasks SET status = ?, updated_at = ?
        WHERE booking_id = ? AND status = ?`,
		models.CleaningCancelled, time.Now().UTC(), bookingID, models.CleaningScheduled)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel cleaning tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cancelled tasks: %w", err)
	}
	return int(n), nil
}
