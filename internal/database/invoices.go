package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/models"

	"github.com/google/uuid"
)

const invoiceColumns = `id, booking_id, number, sequence, scope, issue_date, gross_amount, net_amount, tax_amount,
        tax_rate, status, paid_at, created_at, updated_at`

var invoiceTransitions = map[models.InvoiceStatus][]models.InvoiceStatus{
	models.InvoiceIssued: {models.InvoicePaid, models.InvoiceVoid},
	models.InvoicePaid:   {models.InvoiceVoid},
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var (
		inv    models.Invoice
		paidAt sql.NullTime
	)
	err := row.Scan(
		&inv.ID, &inv.BookingID, &inv.Number, &inv.Sequence, &inv.Scope, &inv.IssueDate, &inv.GrossAmount,
		&inv.NetAmount, &inv.TaxAmount, &inv.TaxRate, &inv.Status, &paidAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.PaidAt = timePtr(paidAt)
	return &inv, nil
}

func getInvoiceByBookingWith(ctx context.Context, q querier, bookingID string) (*models.Invoice, error) {
	inv, err := scanInvoice(q.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE booking_id = ?`, bookingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("invoice for booking", bookingID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice by booking: %w", err)
	}
	return inv, nil
}

// FormatInvoiceNumber renders a sequence within its scope: "2025/0007" or "000007".
func FormatInvoiceNumber(scope string, seq int64) string {
	if scope == models.InvoiceGlobalScope {
		return fmt.Sprintf("%06d", seq)
	}
	return fmt.Sprintf("%s/%04d", scope, seq)
}

// InsertInvoiceOnce stores inv unless its booking already has an invoice.
// The counter increment and the insert share one transaction under the write lock,
// so concurrent callers never see the same number. The bool reports whether inv was created.
func (db *DB) InsertInvoiceOnce(ctx context.Context, inv *models.Invoice) (*models.Invoice, bool, error) {
	if inv.Scope == "" {
		inv.Scope = models.InvoiceGlobalScope
	}

	var (
		result  *models.Invoice
		created bool
	)
	err := db.withWriteTx(ctx, func(tx *sql.Tx) error {
		existing, err := getInvoiceByBookingWith(ctx, tx, inv.BookingID)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO invoice_counters (scope, last_value) VALUES (?, 1)
            ON CONFLICT(scope) DO UPDATE SET last_value = last_value + 1`, inv.Scope); err != nil {
			return fmt.Errorf("failed to increment invoice counter: %w", err)
		}
		var seq int64
		if err := tx.QueryRowContext(ctx, `SELECT last_value FROM invoice_counters WHERE scope = ?`, inv.Scope).
			Scan(&seq); err != nil {
			return fmt.Errorf("failed to read invoice counter: %w", err)
		}

		now := time.Now().UTC()
		if inv.ID == "" {
			inv.ID = uuid.NewString()
		}
		inv.Sequence = seq
		inv.Number = FormatInvoiceNumber(inv.Scope, seq)
		inv.CreatedAt = now
		inv.UpdatedAt = now
		if inv.IssueDate.IsZero() {
			inv.IssueDate = now
		}

		var paidAt interface{}
		if inv.PaidAt != nil {
			paidAt = inv.PaidAt.UTC()
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO invoices (`+invoiceColumns+`)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, inv.BookingID, inv.Number, inv.Sequence, inv.Scope, inv.IssueDate.UTC(), inv.GrossAmount,
			inv.NetAmount, inv.TaxAmount, inv.TaxRate, inv.Status, paidAt, now, now)
		if isForeignKeyViolation(err) {
			return domain.NewNotFoundError("booking", inv.BookingID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert invoice: %w", err)
		}
		result = inv
		created = true
		return nil
	})
	if err != nil && isUniqueViolation(err) {
		// another process won the race; its invoice is the one
		existing, getErr := getInvoiceByBookingWith(ctx, db, inv.BookingID)
		if getErr == nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (db *DB) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	inv, err := scanInvoice(db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("invoice", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

func (db *DB) GetInvoiceByBooking(ctx context.Context, bookingID string) (*models.Invoice, error) {
	return getInvoiceByBookingWith(ctx, db, bookingID)
}

func (db *DB) CountInvoicesForBooking(ctx context.Context, bookingID string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices WHERE booking_id = ?`, bookingID).Scan(&count)
	return count, err
}

// UpdateInvoiceStatus applies issued → paid → void; setting the current status again is a no-op.
func (db *DB) UpdateInvoiceStatus(
	ctx context.Context,
	id string,
	status models.InvoiceStatus,
	paidAt *time.Time,
) (*models.Invoice, error) {
	var updated *models.Invoice
	err := db.withWriteTx(ctx, func(tx *sql.Tx) error {
		inv, err := scanInvoice(tx.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewNotFoundError("invoice", id)
		}
		if err != nil {
			return fmt.Errorf("failed to get invoice: %w", err)
		}
		if inv.Status == status {
			updated = inv
			return nil
		}

		allowed := false
		for _, next := range invoiceTransitions[inv.Status] {
			if next == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return &domain.TransitionError{Entity: "invoice", From: string(inv.Status), To: string(status)}
		}

		now := time.Now().UTC()
		if status == models.InvoicePaid {
			if paidAt == nil {
				paidAt = &now
			}
			utc := paidAt.UTC()
			inv.PaidAt = &utc
		}

		var paid interface{}
		if inv.PaidAt != nil {
			paid = *inv.PaidAt
		}
		if _, err := tx.ExecContext(ctx, `UPDATE invoices SET status = ?, paid_at = ?, updated_at = ? WHERE id = ?`,
			status, paid, now, id); err != nil {
			return fmt.Errorf("failed to update invoice status: %w", err)
		}
		inv.Status = status
		inv.UpdatedAt = now
		updated = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
