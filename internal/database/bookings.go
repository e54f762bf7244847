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

const bookingColumns = `id, property_id, property_name, guest_name, user_id, check_in_date, check_out_date, guests,
        check_in_time, special_requests, status, payment_status, total_price, checked_out_at, created_at, updated_at`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b            models.Booking
		checkIn      string
		checkOut     string
		checkedOutAt sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.PropertyID, &b.PropertyName, &b.GuestName, &b.UserID, &checkIn, &checkOut, &b.Guests,
		&b.CheckInTime, &b.SpecialRequests, &b.Status, &b.PaymentStatus, &b.TotalPrice, &checkedOutAt,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if b.CheckInDate, err = time.Parse(models.StorageDateLayout, checkIn); err != nil {
		return nil, fmt.Errorf("failed to parse check-in of booking %s: %w", b.ID, err)
	}
	if b.CheckOutDate, err = time.Parse(models.StorageDateLayout, checkOut); err != nil {
		return nil, fmt.Errorf("failed to parse check-out of booking %s: %w", b.ID, err)
	}
	b.CheckedOutAt = timePtr(checkedOutAt)
	return &b, nil
}

func validateDraft(draft models.BookingDraft) error {
	if draft.CheckInDate == nil {
		return domain.NewValidationError("check_in_date", "missing")
	}
	if draft.CheckOutDate == nil {
		return domain.NewValidationError("check_out_date", "missing")
	}
	if !models.CalendarDate(*draft.CheckOutDate).After(models.CalendarDate(*draft.CheckInDate)) {
		return domain.NewValidationError("check_out_date", "must be after check-in")
	}
	if draft.Guests == nil || *draft.Guests <= 0 {
		return domain.NewValidationError("guests", "must be a positive number")
	}
	return nil
}

// CreateBooking persists a confirmed booking built from a completed draft.
func (db *DB) CreateBooking(ctx context.Context, draft models.BookingDraft) (*models.Booking, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	var booking *models.Booking
	err := db.withWriteTx(ctx, func(tx *sql.Tx) error {
		property, err := getPropertyWith(ctx, tx, draft.PropertyID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewValidationError("property", fmt.Sprintf("property %q does not exist", draft.PropertyID))
		}
		if err != nil {
			return err
		}
		if !property.Bookable() {
			return domain.NewValidationError("property", fmt.Sprintf("property %q is not bookable", property.Name))
		}
		if *draft.Guests > property.MaxGuests {
			return domain.NewValidationError("guests",
				fmt.Sprintf("%d guests exceed the capacity of %d", *draft.Guests, property.MaxGuests))
		}

		now := time.Now().UTC()
		b := &models.Booking{
			ID:            uuid.NewString(),
			PropertyID:    property.ID,
			PropertyName:  property.Name,
			GuestName:     strings.TrimSpace(draft.GuestName),
			UserID:        draft.UserID,
			CheckInDate:   models.CalendarDate(*draft.CheckInDate),
			CheckOutDate:  models.CalendarDate(*draft.CheckOutDate),
			Guests:        *draft.Guests,
			Status:        models.BookingConfirmed,
			PaymentStatus: models.PaymentUnpaid,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if draft.CheckInTime != nil {
			b.CheckInTime = *draft.CheckInTime
		}
		if draft.SpecialRequests != nil {
			b.SpecialRequests = *draft.SpecialRequests
		}
		b.TotalPrice = models.Round2(property.PriceFor(b.Nights()))

		_, err = tx.ExecContext(ctx, `INSERT INTO bookings (`+bookingColumns+`)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.PropertyID, b.PropertyName, b.GuestName, b.UserID,
			b.CheckInDate.Format(models.StorageDateLayout), b.CheckOutDate.Format(models.StorageDateLayout),
			b.Guests, b.CheckInTime, b.SpecialRequests, b.Status, b.PaymentStatus, b.TotalPrice, nil, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert booking: %w", err)
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

func getBookingWith(ctx context.Context, q querier, id string) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("booking", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return getBookingWith(ctx, db, id)
}

func (db *DB) ListBookingsByProperty(ctx context.Context, propertyID string) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE property_id = ?
        ORDER BY check_in_date, created_at`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// UpdateBookingStatus moves a booking to next when the transition is allowed.
func (db *DB) UpdateBookingStatus(ctx context.Context, id string, next models.BookingStatus) (*models.Booking, error) {
	return db.transitionBooking(ctx, id, next, nil)
}

// MarkBookingCheckedOut completes a confirmed booking and records the checkout time.
func (db *DB) MarkBookingCheckedOut(ctx context.Context, id string, at time.Time) (*models.Booking, error) {
	at = at.UTC()
	return db.transitionBooking(ctx, id, models.BookingCompleted, &at)
}

func (db *DB) transitionBooking(
	ctx context.Context,
	id string,
	next models.BookingStatus,
	checkedOutAt *time.Time,
) (*models.Booking, error) {
	var updated *models.Booking
	err := db.withWriteTx(ctx, func(tx *sql.Tx) error {
		b, err := getBookingWith(ctx, tx, id)
		if err != nil {
			return err
		}
		if !b.Status.CanTransitionTo(next) {
			return &domain.TransitionError{Entity: "booking", From: string(b.Status), To: string(next)}
		}

		now := time.Now().UTC()
		if checkedOutAt != nil {
			_, err = tx.ExecContext(ctx, `UPDATE bookings SET status = ?, checked_out_at = ?, updated_at = ? WHERE id = ?`,
				next, *checkedOutAt, now, id)
			b.CheckedOutAt = checkedOutAt
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`, next, now, id)
		}
		if err != nil {
			return fmt.Errorf("failed to update booking status: %w", err)
		}
		b.Status = next
		b.UpdatedAt = now
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdatePaymentStatus sets the payment status. A cancelled booking cannot be marked paid.
func (db *DB) UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) (*models.Booking, error) {
	if !status.Valid() {
		return nil, domain.NewValidationError("payment_status", fmt.Sprintf("unknown status %q", status))
	}

	var updated *models.Booking
	err := db.withWriteTx(ctx, func(tx *sql.Tx) error {
		b, err := getBookingWith(ctx, tx, id)
		if err != nil {
			return err
		}
		if status == models.PaymentPaid && b.Status == models.BookingCancelled {
			return &domain.TransitionError{Entity: "booking", From: string(b.Status), To: string(status)}
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE bookings SET payment_status = ?, updated_at = ? WHERE id = ?`,
			status, now, id); err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}
		b.PaymentStatus = status
		b.UpdatedAt = now
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
