package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/events"
	"prenotazioni/internal/metrics"
	"prenotazioni/internal/models"

	"github.com/rs/zerolog"
)

type InvoiceConfig struct {
	TaxRatePercent float64
	YearScoped     bool
	RenderTimeout  time.Duration
	Location       *time.Location
}

// Document is a rendered invoice ready to be served.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

type InvoiceService struct {
	store    domain.Store
	renderer domain.DocumentRenderer
	eventBus domain.EventPublisher
	cfg      InvoiceConfig
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewInvoiceService(
	store domain.Store,
	renderer domain.DocumentRenderer,
	eventBus domain.EventPublisher,
	cfg InvoiceConfig,
	logger *zerolog.Logger,
) *InvoiceService {
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = time.Duration(models.DefaultRenderTimeoutMS) * time.Millisecond
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &InvoiceService{
		store:    store,
		renderer: renderer,
		eventBus: eventBus,
		cfg:      cfg,
		now:      time.Now,
		logger:   ensureLogger(logger),
	}
}

// CreateInvoiceForBooking issues the invoice of a booking. Calling it again
// returns the invoice already issued.
func (s *InvoiceService) CreateInvoiceForBooking(ctx context.Context, bookingID string) (*models.Invoice, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingConfirmed && booking.Status != models.BookingCompleted {
		return nil, domain.NewValidationError("booking_status",
			fmt.Sprintf("cannot invoice a %s booking", booking.Status))
	}

	issued := s.now().In(s.cfg.Location)
	net, tax := models.SplitGross(booking.TotalPrice, s.cfg.TaxRatePercent)
	inv := &models.Invoice{
		BookingID:   booking.ID,
		Scope:       s.scopeFor(issued),
		IssueDate:   models.CalendarDate(issued),
		GrossAmount: booking.TotalPrice,
		NetAmount:   net,
		TaxAmount:   tax,
		TaxRate:     s.cfg.TaxRatePercent,
		Status:      models.InvoiceIssued,
	}
	if booking.PaymentStatus == models.PaymentPaid {
		paidAt := issued.UTC()
		inv.Status = models.InvoicePaid
		inv.PaidAt = &paidAt
	}

	stored, created, err := s.store.InsertInvoiceOnce(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	if !created {
		s.logger.Debug().Str("booking_id", bookingID).Str("number", stored.Number).Msg("Invoice already issued")
		return stored, nil
	}

	metrics.IncInvoiceIssued()
	s.publishEvent(events.EventInvoiceIssued, stored)
	s.logger.Info().
		Str("booking_id", bookingID).
		Str("number", stored.Number).
		Float64("gross", stored.GrossAmount).
		Msg("Invoice issued")
	return stored, nil
}

func (s *InvoiceService) scopeFor(t time.Time) string {
	if s.cfg.YearScoped {
		return strconv.Itoa(t.Year())
	}
	return models.InvoiceGlobalScope
}

func (s *InvoiceService) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	return s.store.GetInvoice(ctx, id)
}

func (s *InvoiceService) GetInvoiceByBooking(ctx context.Context, bookingID string) (*models.Invoice, error) {
	return s.store.GetInvoiceByBooking(ctx, bookingID)
}

func (s *InvoiceService) MarkInvoicePaid(ctx context.Context, id string) (*models.Invoice, error) {
	now := s.now().UTC()
	return s.store.UpdateInvoiceStatus(ctx, id, models.InvoicePaid, &now)
}

func (s *InvoiceService) VoidInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	inv, err := s.store.UpdateInvoiceStatus(ctx, id, models.InvoiceVoid, nil)
	if err != nil {
		return nil, err
	}
	s.publishEvent(events.EventInvoiceVoided, inv)
	return inv, nil
}

func (s *InvoiceService) VoidInvoiceForBooking(ctx context.Context, bookingID string) (*models.Invoice, error) {
	inv, err := s.store.GetInvoiceByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return s.VoidInvoice(ctx, inv.ID)
}

type renderResult struct {
	data []byte
	err  error
}

// RenderInvoice produces the invoice document, giving up after the render timeout.
func (s *InvoiceService) RenderInvoice(ctx context.Context, invoiceID string) (*Document, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("no document renderer configured")
	}

	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	booking, err := s.store.GetBooking(ctx, inv.BookingID)
	if err != nil {
		return nil, err
	}
	property, err := s.store.GetProperty(ctx, booking.PropertyID)
	if err != nil {
		return nil, err
	}

	renderCtx, cancel := context.WithTimeout(ctx, s.cfg.RenderTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan renderResult, 1)
	go func() {
		data, err := s.renderer.RenderInvoice(renderCtx, inv, booking, property)
		done <- renderResult{data: data, err: err}
	}()

	select {
	case <-renderCtx.Done():
		return nil, fmt.Errorf("failed to render invoice %s: %w", inv.Number, renderCtx.Err())
	case res := <-done:
		metrics.ObserveRender(time.Since(start).Seconds())
		if res.err != nil {
			return nil, fmt.Errorf("failed to render invoice %s: %w", inv.Number, res.err)
		}
		return &Document{
			Filename:    invoiceFilename(inv) + s.renderer.Extension(),
			ContentType: s.renderer.ContentType(),
			Data:        res.data,
		}, nil
	}
}

func invoiceFilename(inv *models.Invoice) string {
	return "fattura_" + strings.ReplaceAll(inv.Number, "/", "-")
}

func (s *InvoiceService) publishEvent(eventType string, inv *models.Invoice) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, events.NewInvoicePayload(inv)); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("invoice_id", inv.ID).Msg("publish event error")
	}
}
