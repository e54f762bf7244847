package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"prenotazioni/internal/database"
	"prenotazioni/internal/events"
	"prenotazioni/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var checkoutTime = time.Date(2025, 7, 17, 10, 0, 0, 0, time.UTC)

type fakeQueue struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, n models.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, n)
	return nil
}

func (q *fakeQueue) notifications() []models.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.Notification(nil), q.sent...)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) handle(event *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.Type)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fixture struct {
	db       *database.DB
	bus      *events.EventBus
	recorded *recorder
	queue    *fakeQueue
	invoices *InvoiceService
	cleaning *CleaningScheduler
	bookings *BookingService
	catalog  *CatalogService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureAt(t, ":memory:")
}

func newFixtureAt(t *testing.T, path string) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(path, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewEventBus()
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)
	queue := &fakeQueue{}

	invoices := NewInvoiceService(db, nil, bus, InvoiceConfig{TaxRatePercent: 22}, &logger)
	invoices.now = func() time.Time { return checkoutTime }
	cleaning := NewCleaningScheduler(db, queue, bus, time.UTC, 7, &logger)
	cleaning.now = func() time.Time { return checkoutTime }
	bookings := NewBookingService(db, invoices, cleaning, bus, 2*time.Hour, &logger)
	bookings.now = func() time.Time { return checkoutTime }

	return &fixture{
		db:       db,
		bus:      bus,
		recorded: rec,
		queue:    queue,
		invoices: invoices,
		cleaning: cleaning,
		bookings: bookings,
		catalog:  NewCatalogService(db, &logger),
	}
}

func (f *fixture) property(t *testing.T, name string, serviceID *string) *models.Property {
	t.Helper()
	p := &models.Property{
		Name:              name,
		Address:           "Via Roma 1",
		City:              "Lecce",
		MaxGuests:         6,
		BasePrice:         150,
		CleaningFee:       50,
		CleaningServiceID: serviceID,
	}
	require.NoError(t, f.db.UpsertProperty(context.Background(), p))
	return p
}

func (f *fixture) service(t *testing.T, name string, isDefault bool) *models.CleaningService {
	t.Helper()
	s := &models.CleaningService{Name: name, Phone: "+39 333 0000000", SMSEnabled: true, IsDefault: isDefault}
	require.NoError(t, f.db.UpsertCleaningService(context.Background(), s))
	return s
}

func (f *fixture) booking(t *testing.T, p *models.Property) *models.Booking {
	t.Helper()
	checkIn := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	checkOut := time.Date(2025, 7, 17, 0, 0, 0, 0, time.UTC)
	guests := 4
	arrival := "15:00"
	b, err := f.bookings.ConfirmBooking(context.Background(), models.BookingDraft{
		PropertyID:   p.ID,
		PropertyName: p.Name,
		UserID:       "42",
		GuestName:    "Mario Rossi",
		CheckInDate:  &checkIn,
		CheckOutDate: &checkOut,
		Guests:       &guests,
		CheckInTime:  &arrival,
	})
	require.NoError(t, err)
	return b
}

func strPtr(s string) *string {
	return &s
}
