package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"prenotazioni/internal/config"
	"prenotazioni/internal/database"
	"prenotazioni/internal/document"
	"prenotazioni/internal/events"
	"prenotazioni/internal/models"
	"prenotazioni/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, models.Notification) error { return nil }

type echoRouter struct {
	last models.InboundMessage
}

func (e *echoRouter) Route(_ context.Context, msg models.InboundMessage) (models.Reply, error) {
	e.last = msg
	return models.Reply{Text: "eco: " + msg.Text, Route: models.RouteAssistant}, nil
}

type fixture struct {
	db       *database.DB
	router   *echoRouter
	server   *HTTPServer
	ts       *httptest.Server
	property *models.Property
}

func newFixture(t *testing.T, cfg config.APIConfig) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewEventBus()
	catalog := service.NewCatalogService(db, &logger)
	invoices := service.NewInvoiceService(db, document.NewXLSXRenderer(document.Issuer{Name: "Test"}), bus,
		service.InvoiceConfig{TaxRatePercent: 22}, &logger)
	cleaning := service.NewCleaningScheduler(db, nopQueue{}, bus, time.UTC, 7, &logger)
	bookings := service.NewBookingService(db, invoices, cleaning, bus, 2*time.Hour, &logger)

	property := &models.Property{Name: "Villa Bella", City: "Lecce", MaxGuests: 6, BasePrice: 150, CleaningFee: 50}
	require.NoError(t, catalog.UpsertProperty(context.Background(), property))

	router := &echoRouter{}
	server := NewHTTPServer(cfg, Services{
		Router:   router,
		Catalog:  catalog,
		Bookings: bookings,
		Invoices: invoices,
		Cleaning: cleaning,
	}, &logger)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &fixture{db: db, router: router, server: server, ts: ts, property: property}
}

func (f *fixture) booking(t *testing.T) *models.Booking {
	t.Helper()
	checkIn := time.Now().UTC().AddDate(0, 0, -7)
	checkOut := time.Now().UTC()
	guests := 4
	b, err := f.db.CreateBooking(context.Background(), models.BookingDraft{
		PropertyID:   f.property.ID,
		UserID:       "42",
		GuestName:    "Mario Rossi",
		CheckInDate:  &checkIn,
		CheckOutDate: &checkOut,
		Guests:       &guests,
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) cleaningService(t *testing.T) *models.CleaningService {
	t.Helper()
	svc := &models.CleaningService{Name: "Pulito Srl", Phone: "+39 333 1234567", SMSEnabled: true}
	require.NoError(t, f.db.UpsertCleaningService(context.Background(), svc))
	require.NoError(t, f.db.SetDefaultCleaningService(context.Background(), svc.ID))
	return svc
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestListProperties(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	resp := f.do(t, http.MethodGet, "/api/v1/properties", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[struct {
		Properties []models.Property `json:"properties"`
	}](t, resp)
	require.Len(t, body.Properties, 1)
	assert.Equal(t, "Villa Bella", body.Properties[0].Name)
}

func TestUpsertProperty(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	resp := f.do(t, http.MethodPut, "/api/v1/properties", map[string]any{
		"name": "Trullo Sole", "city": "Alberobello", "maxGuests": 4, "basePrice": 90,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/v1/properties", map[string]any{"name": "Vuota", "maxGuests": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/v1/properties", map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostMessage(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	resp := f.do(t, http.MethodPost, "/api/v1/messages", map[string]string{
		"userId": "+39 333", "channel": "whatsapp", "text": "ciao",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reply := decode[models.Reply](t, resp)
	assert.Equal(t, "eco: ciao", reply.Text)
	assert.Equal(t, "whatsapp:+39 333", f.router.last.UserID)

	t.Run("DefaultChannel", func(t *testing.T) {
		f.do(t, http.MethodPost, "/api/v1/messages", map[string]string{"userId": "u1", "text": "x"})
		assert.Equal(t, "api:u1", f.router.last.UserID)
	})

	t.Run("MissingUser", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/v1/messages", map[string]string{"text": "x"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("TelegramReserved", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/v1/messages", map[string]string{"userId": "1", "channel": "telegram"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCheckoutFlow(t *testing.T) {
	f := newFixture(t, config.APIConfig{})
	f.cleaningService(t)
	b := f.booking(t)

	resp := f.do(t, http.MethodPost, "/api/v1/bookings/"+b.ID+"/checkout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[service.CheckoutResult](t, resp)
	assert.Equal(t, models.BookingCompleted, result.Booking.Status)
	require.NotNil(t, result.Task)
	require.NotNil(t, result.Booking.CheckedOutAt)
	assert.Equal(t, result.Booking.CheckedOutAt.Add(2*time.Hour).Unix(), result.Task.ScheduledAt.Unix())

	t.Run("ListedAsUpcoming", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/cleaning-tasks?days=7", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode[struct {
			Tasks []models.CleaningTask `json:"tasks"`
		}](t, resp)
		require.Len(t, body.Tasks, 1)
		assert.Equal(t, result.Task.ID, body.Tasks[0].ID)
	})

	t.Run("CompleteTask", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/v1/cleaning-tasks/"+result.Task.ID+"/complete", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		task := decode[models.CleaningTask](t, resp)
		assert.Equal(t, models.CleaningCompleted, task.Status)
	})

	t.Run("SecondCheckoutConflicts", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/v1/bookings/"+b.ID+"/checkout", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestCheckoutWithoutService(t *testing.T) {
	f := newFixture(t, config.APIConfig{})
	b := f.booking(t)

	resp := f.do(t, http.MethodPost, "/api/v1/bookings/"+b.ID+"/checkout", map[string]any{"at": time.Now().UTC()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Contains(t, body["warning"], "no cleaning service available")

	booking := decode[models.Booking](t, f.do(t, http.MethodGet, "/api/v1/bookings/"+b.ID, nil))
	assert.Equal(t, models.BookingCompleted, booking.Status)
}

func TestInvoiceEndpoints(t *testing.T) {
	f := newFixture(t, config.APIConfig{})
	b := f.booking(t)

	resp := f.do(t, http.MethodPost, "/api/v1/bookings/"+b.ID+"/invoice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inv := decode[models.Invoice](t, resp)
	assert.Equal(t, "000001", inv.Number)
	assert.InDelta(t, b.TotalPrice, inv.NetAmount+inv.TaxAmount, 0.011)

	again := decode[models.Invoice](t, f.do(t, http.MethodPost, "/api/v1/bookings/"+b.ID+"/invoice", nil))
	assert.Equal(t, inv.ID, again.ID)

	byBooking := decode[models.Invoice](t, f.do(t, http.MethodGet, "/api/v1/bookings/"+b.ID+"/invoice", nil))
	assert.Equal(t, inv.ID, byBooking.ID)

	t.Run("Document", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/invoices/"+inv.ID+"/document", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "fattura_000001.xlsx")
	})

	t.Run("Paid", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/v1/bookings/"+b.ID+"/paid", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		stored := decode[models.Invoice](t, f.do(t, http.MethodGet, "/api/v1/invoices/"+inv.ID, nil))
		assert.Equal(t, models.InvoicePaid, stored.Status)
	})

	t.Run("Void", func(t *testing.T) {
		voided := decode[models.Invoice](t, f.do(t, http.MethodPost, "/api/v1/invoices/"+inv.ID+"/void", nil))
		assert.Equal(t, models.InvoiceVoid, voided.Status)

		resp := f.do(t, http.MethodPost, "/api/v1/invoices/"+inv.ID+"/paid", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("NotFound", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/invoices/missing", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t, config.APIConfig{})
	b := f.booking(t)

	resp := f.do(t, http.MethodPost, "/api/v1/bookings/"+b.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	booking := decode[models.Booking](t, resp)
	assert.Equal(t, models.BookingCancelled, booking.Status)

	resp = f.do(t, http.MethodPost, "/api/v1/bookings/"+b.ID+"/invoice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	list := decode[struct {
		Bookings []models.Booking `json:"bookings"`
	}](t, f.do(t, http.MethodGet, "/api/v1/properties/"+f.property.ID+"/bookings", nil))
	require.Len(t, list.Bookings, 1)
}

func TestScheduleCleaning(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	when := time.Now().UTC().Add(24 * time.Hour)
	resp := f.do(t, http.MethodPost, "/api/v1/cleaning-tasks", map[string]any{
		"propertyId": f.property.ID, "scheduledAt": when,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	svc := f.cleaningService(t)
	resp = f.do(t, http.MethodPost, "/api/v1/cleaning-tasks", map[string]any{
		"propertyId": f.property.ID, "scheduledAt": when, "notes": "pulizia straordinaria",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	task := decode[models.CleaningTask](t, resp)
	require.NotNil(t, task.ServiceID)
	assert.Equal(t, svc.ID, *task.ServiceID)

	cancelled := decode[models.CleaningTask](t, f.do(t, http.MethodPost, "/api/v1/cleaning-tasks/"+task.ID+"/cancel", nil))
	assert.Equal(t, models.CleaningCancelled, cancelled.Status)

	resp = f.do(t, http.MethodGet, "/api/v1/cleaning-tasks?days=zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCleaningServiceEndpoints(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	a := decode[models.CleaningService](t, f.do(t, http.MethodPut, "/api/v1/cleaning-services",
		map[string]any{"name": "Alfa", "email": "alfa@example.it"}))
	b := decode[models.CleaningService](t, f.do(t, http.MethodPut, "/api/v1/cleaning-services",
		map[string]any{"name": "Beta", "phone": "+39 1"}))

	resp := f.do(t, http.MethodPost, "/api/v1/cleaning-services/"+a.ID+"/default", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/api/v1/cleaning-services/"+b.ID+"/default", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	list := decode[struct {
		Services []models.CleaningService `json:"services"`
	}](t, f.do(t, http.MethodGet, "/api/v1/cleaning-services", nil))
	defaults := 0
	for _, s := range list.Services {
		if s.IsDefault {
			defaults++
			assert.Equal(t, b.ID, s.ID)
		}
	}
	assert.Equal(t, 1, defaults)

	t.Run("DeleteReferenced", func(t *testing.T) {
		resp := f.do(t, http.MethodPut, "/api/v1/properties", map[string]any{
			"name": f.property.Name, "maxGuests": f.property.MaxGuests, "basePrice": f.property.BasePrice,
			"cleaningServiceId": a.ID,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = f.do(t, http.MethodDelete, "/api/v1/cleaning-services/"+a.ID, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("DeleteFree", func(t *testing.T) {
		c := decode[models.CleaningService](t, f.do(t, http.MethodPut, "/api/v1/cleaning-services",
			map[string]any{"name": "Gamma"}))
		resp := f.do(t, http.MethodDelete, "/api/v1/cleaning-services/"+c.ID, nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, config.APIConfig{})
	resp := f.do(t, http.MethodDelete, "/api/v1/properties", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatusFromError(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, statusFromError(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFromError(assert.AnError))
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	assert.True(t, strings.Contains(rec.Body.String(), "ok"))
}
