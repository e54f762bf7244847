package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/events"
	"prenotazioni/internal/models"

	"github.com/rs/zerolog"
)

type AutomationConfig struct {
	AutoInvoice     bool
	OperatorChatIDs []int64
	Timeout         time.Duration
}

// Automation reacts to domain events: it issues invoices for confirmed
// bookings and keeps the operators informed.
type Automation struct {
	invoices *InvoiceService
	queue    domain.NotificationQueue
	cfg      AutomationConfig
	logger   *zerolog.Logger
}

func NewAutomation(invoices *InvoiceService, queue domain.NotificationQueue, cfg AutomationConfig, logger *zerolog.Logger) *Automation {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Automation{
		invoices: invoices,
		queue:    queue,
		cfg:      cfg,
		logger:   ensureLogger(logger),
	}
}

func (a *Automation) Register(bus *events.EventBus) {
	bus.Subscribe(events.EventBookingConfirmed, a.onBookingConfirmed)
	bus.Subscribe(events.EventBookingCancelled, a.onBookingCancelled)
	bus.Subscribe(events.EventCleaningSkipped, a.onCleaningSkipped)
}

func (a *Automation) onBookingConfirmed(event *events.Event) error {
	var payload events.BookingEventPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()

	if a.cfg.AutoInvoice && a.invoices != nil {
		if _, err := a.invoices.CreateInvoiceForBooking(ctx, payload.BookingID); err != nil {
			a.logger.Error().Err(err).Str("booking_id", payload.BookingID).Msg("Automatic invoice failed")
		}
	}

	return a.notifyOperators(ctx, fmt.Sprintf(
		"🆕 Nuova prenotazione %s\n🏠 %s\n👤 %s\n📅 %s - %s\n👥 %d ospiti\n💶 €%.2f",
		payload.ShortID, payload.PropertyName, guestLabel(payload),
		payload.CheckIn.Format("02/01/2006"), payload.CheckOut.Format("02/01/2006"),
		payload.Guests, payload.TotalPrice,
	))
}

func (a *Automation) onBookingCancelled(event *events.Event) error {
	var payload events.BookingEventPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()

	return a.notifyOperators(ctx, fmt.Sprintf("❌ Prenotazione %s annullata\n🏠 %s\n📅 %s - %s",
		payload.ShortID, payload.PropertyName,
		payload.CheckIn.Format("02/01/2006"), payload.CheckOut.Format("02/01/2006")))
}

func (a *Automation) onCleaningSkipped(event *events.Event) error {
	var payload events.CleaningEventPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()

	text := "⚠️ Pulizia non programmata: nessuna impresa di pulizie disponibile."
	if payload.BookingID != "" {
		text += "\nPrenotazione: " + models.ShortID(payload.BookingID)
	}
	return a.notifyOperators(ctx, text)
}

func (a *Automation) notifyOperators(ctx context.Context, text string) error {
	if a.queue == nil {
		return nil
	}
	var firstErr error
	for _, chatID := range a.cfg.OperatorChatIDs {
		n := models.Notification{
			Recipient: strconv.FormatInt(chatID, 10),
			Message:   text,
			Kind:      models.NotificationTelegram,
		}
		if err := a.queue.Enqueue(ctx, n); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to notify operator %d: %w", chatID, err)
		}
	}
	return firstErr
}

func guestLabel(p events.BookingEventPayload) string {
	if p.GuestName != "" {
		return p.GuestName
	}
	return "utente " + p.UserID
}
