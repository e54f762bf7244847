package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"prenotazioni/internal/models"
)

const (
	EventBookingConfirmed  = "booking_confirmed"
	EventBookingCancelled  = "booking_cancelled"
	EventBookingCompleted  = "booking_completed"
	EventBookingPaid       = "booking_paid"
	EventInvoiceIssued     = "invoice_issued"
	EventInvoiceVoided     = "invoice_voided"
	EventCleaningScheduled = "cleaning_scheduled"
	EventCleaningSkipped   = "cleaning_skipped"
)

// ErrHandlerPanic is reported to the error handler when a subscriber panics.
var ErrHandlerPanic = errors.New("event handler panicked")

// BookingEventPayload is the booking snapshot carried by booking_* events.
type BookingEventPayload struct {
	BookingID    string    `json:"booking_id"`
	ShortID      string    `json:"short_id"`
	UserID       string    `json:"user_id"`
	GuestName    string    `json:"guest_name,omitempty"`
	PropertyID   string    `json:"property_id"`
	PropertyName string    `json:"property_name"`
	Status       string    `json:"status"`
	CheckIn      time.Time `json:"check_in"`
	CheckOut     time.Time `json:"check_out"`
	Guests       int       `json:"guests"`
	TotalPrice   float64   `json:"total_price"`
}

func NewBookingPayload(b *models.Booking) BookingEventPayload {
	return BookingEventPayload{
		BookingID:    b.ID,
		ShortID:      b.ShortID(),
		UserID:       b.UserID,
		GuestName:    b.GuestName,
		PropertyID:   b.PropertyID,
		PropertyName: b.PropertyName,
		Status:       string(b.Status),
		CheckIn:      b.CheckInDate,
		CheckOut:     b.CheckOutDate,
		Guests:       b.Guests,
		TotalPrice:   b.TotalPrice,
	}
}

func (p BookingEventPayload) aggregateKey() string { return p.BookingID }

type InvoiceEventPayload struct {
	InvoiceID   string  `json:"invoice_id"`
	BookingID   string  `json:"booking_id"`
	Number      string  `json:"number"`
	Status      string  `json:"status"`
	GrossAmount float64 `json:"gross_amount"`
}

func NewInvoicePayload(inv *models.Invoice) InvoiceEventPayload {
	return InvoiceEventPayload{
		InvoiceID:   inv.ID,
		BookingID:   inv.BookingID,
		Number:      inv.Number,
		Status:      string(inv.Status),
		GrossAmount: inv.GrossAmount,
	}
}

// Invoice events share the booking key so a consumer sees them in booking order.
func (p InvoiceEventPayload) aggregateKey() string { return p.BookingID }

type CleaningEventPayload struct {
	TaskID      string    `json:"task_id,omitempty"`
	PropertyID  string    `json:"property_id"`
	BookingID   string    `json:"booking_id,omitempty"`
	ServiceID   string    `json:"service_id,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Reason      string    `json:"reason,omitempty"`
}

func (p CleaningEventPayload) aggregateKey() string {
	if p.BookingID != "" {
		return p.BookingID
	}
	return p.PropertyID
}

type keyed interface {
	aggregateKey() string
}

// Event is a domain event. Key identifies the aggregate it belongs to and
// is empty for unkeyed payloads.
type Event struct {
	Type      string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

type EventHandler func(event *Event) error

type ErrorHandler func(event *Event, err error)

// EventBus is an in-process synchronous pub/sub. Handlers run on the
// publisher's goroutine in subscription order, type subscribers first.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]EventHandler
	wildcard    []EventHandler
	onError     ErrorHandler
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers handler for every event type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, handler)
}

func (b *EventBus) OnError(handler ErrorHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = handler
}

// Publish delivers event to its subscribers. A failing or panicking handler
// is reported to the error handler and does not stop the others.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subscribers[event.Type])+len(b.wildcard))
	handlers = append(handlers, b.subscribers[event.Type]...)
	handlers = append(handlers, b.wildcard...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := safeCall(handler, event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

func safeCall(handler EventHandler, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return handler(event)
}

// PublishJSON encodes payload and publishes it. A nil bus is a no-op.
func (b *EventBus) PublishJSON(eventType string, payload any) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

func NewJSONEvent(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}

	event := Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}
	if k, ok := payload.(keyed); ok {
		event.Key = k.aggregateKey()
	}
	return event, nil
}

func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}
