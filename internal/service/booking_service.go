package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/events"
	"prenotazioni/internal/metrics"
	"prenotazioni/internal/models"

	"github.com/rs/zerolog"
)

// CheckoutResult is what a checkout produced. Task is nil when no cleaning was scheduled.
type CheckoutResult struct {
	Booking *models.Booking      `json:"booking"`
	Task    *models.CleaningTask `json:"cleaningTask,omitempty"`
}

type BookingService struct {
	store         domain.Store
	invoices      *InvoiceService
	cleaning      *CleaningScheduler
	eventBus      domain.EventPublisher
	cleaningDelay time.Duration
	now           func() time.Time
	logger        *zerolog.Logger
}

func NewBookingService(
	store domain.Store,
	invoices *InvoiceService,
	cleaning *CleaningScheduler,
	eventBus domain.EventPublisher,
	cleaningDelay time.Duration,
	logger *zerolog.Logger,
) *BookingService {
	if cleaningDelay <= 0 {
		cleaningDelay = time.Duration(models.DefaultCleaningDelayHours) * time.Hour
	}
	return &BookingService{
		store:         store,
		invoices:      invoices,
		cleaning:      cleaning,
		eventBus:      eventBus,
		cleaningDelay: cleaningDelay,
		now:           time.Now,
		logger:        ensureLogger(logger),
	}
}

// ConfirmBooking persists a completed draft.
func (s *BookingService) ConfirmBooking(ctx context.Context, draft models.BookingDraft) (*models.Booking, error) {
	booking, err := s.store.CreateBooking(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	metrics.IncBookingConfirmed(booking.PropertyName)
	s.publishEvent(events.EventBookingConfirmed, booking)
	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return s.store.GetBooking(ctx, id)
}

func (s *BookingService) ListBookingsByProperty(ctx context.Context, propertyID string) ([]*models.Booking, error) {
	return s.store.ListBookingsByProperty(ctx, propertyID)
}

// Checkout completes the booking, then schedules cleaning at checkout + delay.
// A zero at means now. When no cleaning service is available the booking
// stays completed and the error wraps domain.ErrNoServiceAvailable.
func (s *BookingService) Checkout(ctx context.Context, bookingID string, at time.Time) (*CheckoutResult, error) {
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	booking, err := s.store.MarkBookingCheckedOut(ctx, bookingID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to check out booking: %w", err)
	}
	metrics.IncBookingTransition(string(models.BookingCompleted))
	s.publishEvent(events.EventBookingCompleted, booking)

	result := &CheckoutResult{Booking: booking}
	task, err := s.cleaning.ScheduleCleaning(ctx, ScheduleRequest{
		PropertyID: booking.PropertyID,
		When:       at.Add(s.cleaningDelay),
		BookingID:  &booking.ID,
		Notes:      fmt.Sprintf("Checkout prenotazione %s", booking.ShortID()),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("booking_id", booking.ID).Msg("Cleaning not scheduled after checkout")
		return result, err
	}
	result.Task = task
	return result, nil
}

// Cancel cancels a booking, voids its invoice and drops pending cleaning.
func (s *BookingService) Cancel(ctx context.Context, bookingID string) (*models.Booking, error) {
	booking, err := s.store.UpdateBookingStatus(ctx, bookingID, models.BookingCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	metrics.IncBookingTransition(string(models.BookingCancelled))

	if s.invoices != nil {
		if _, err := s.invoices.VoidInvoiceForBooking(ctx, booking.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("Failed to void invoice of cancelled booking")
		}
	}

	n, err := s.store.CancelCleaningTasksForBooking(ctx, booking.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("Failed to cancel cleaning tasks")
	} else if n > 0 {
		s.logger.Info().Int("tasks", n).Str("booking_id", booking.ID).Msg("Cleaning tasks cancelled")
	}

	s.publishEvent(events.EventBookingCancelled, booking)
	return booking, nil
}

// MarkPaid records the payment and settles the invoice when one exists.
func (s *BookingService) MarkPaid(ctx context.Context, bookingID string) (*models.Booking, error) {
	booking, err := s.store.UpdatePaymentStatus(ctx, bookingID, models.PaymentPaid)
	if err != nil {
		return nil, fmt.Errorf("failed to mark booking paid: %w", err)
	}

	if s.invoices != nil {
		inv, err := s.store.GetInvoiceByBooking(ctx, booking.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			s.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("Failed to load invoice")
		case inv.Status == models.InvoiceIssued:
			if _, err := s.invoices.MarkInvoicePaid(ctx, inv.ID); err != nil {
				s.logger.Error().Err(err).Str("invoice_id", inv.ID).Msg("Failed to mark invoice paid")
			}
		}
	}

	s.publishEvent(events.EventBookingPaid, booking)
	return booking, nil
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking) {
	if s.eventBus == nil {
		return
	}

	if err := s.eventBus.PublishJSON(eventType, events.NewBookingPayload(booking)); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", booking.ID).Msg("publish event error")
	}
}

func ensureLogger(logger *zerolog.Logger) *zerolog.Logger {
	if logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return logger
}
