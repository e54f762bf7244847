package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"prenotazioni/internal/config"
	"prenotazioni/internal/domain"
	"prenotazioni/internal/logging"
	"prenotazioni/internal/metrics"
	"prenotazioni/internal/models"
	"prenotazioni/internal/service"

	"github.com/rs/zerolog"
)

type CatalogAPI interface {
	ListActiveProperties(ctx context.Context) ([]*models.Property, error)
	ListProperties(ctx context.Context) ([]*models.Property, error)
	UpsertProperty(ctx context.Context, p *models.Property) error
	ListCleaningServices(ctx context.Context) ([]*models.CleaningService, error)
	UpsertCleaningService(ctx context.Context, svc *models.CleaningService) error
	SetDefaultCleaningService(ctx context.Context, id string) error
	DeleteCleaningService(ctx context.Context, id string) error
}

type BookingAPI interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookingsByProperty(ctx context.Context, propertyID string) ([]*models.Booking, error)
	Checkout(ctx context.Context, bookingID string, at time.Time) (*service.CheckoutResult, error)
	Cancel(ctx context.Context, bookingID string) (*models.Booking, error)
	MarkPaid(ctx context.Context, bookingID string) (*models.Booking, error)
}

type InvoiceAPI interface {
	CreateInvoiceForBooking(ctx context.Context, bookingID string) (*models.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	GetInvoiceByBooking(ctx context.Context, bookingID string) (*models.Invoice, error)
	MarkInvoicePaid(ctx context.Context, id string) (*models.Invoice, error)
	VoidInvoice(ctx context.Context, id string) (*models.Invoice, error)
	RenderInvoice(ctx context.Context, invoiceID string) (*service.Document, error)
}

type CleaningAPI interface {
	ScheduleCleaning(ctx context.Context, req service.ScheduleRequest) (*models.CleaningTask, error)
	UpcomingCleaningTasks(ctx context.Context, withinDays int) ([]*models.CleaningTask, error)
	CompleteCleaningTask(ctx context.Context, id string) (*models.CleaningTask, error)
	CancelCleaningTask(ctx context.Context, id string) (*models.CleaningTask, error)
}

type Services struct {
	Router   domain.MessageRouter
	Catalog  CatalogAPI
	Bookings BookingAPI
	Invoices InvoiceAPI
	Cleaning CleaningAPI
}

// HTTPServer exposes the management API.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    Services
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	srv := &HTTPServer{cfg: cfg, svc: svc, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)

	mux.HandleFunc("GET /api/v1/properties", srv.handleListProperties)
	mux.HandleFunc("PUT /api/v1/properties", srv.handleUpsertProperty)
	mux.HandleFunc("GET /api/v1/properties/{id}/bookings", srv.handlePropertyBookings)
	mux.HandleFunc("POST /api/v1/messages", srv.handleMessage)

	mux.HandleFunc("GET /api/v1/bookings/{id}", srv.handleGetBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/checkout", srv.handleCheckout)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", srv.handleCancel)
	mux.HandleFunc("POST /api/v1/bookings/{id}/paid", srv.handleMarkPaid)
	mux.HandleFunc("POST /api/v1/bookings/{id}/invoice", srv.handleCreateInvoice)
	mux.HandleFunc("GET /api/v1/bookings/{id}/invoice", srv.handleBookingInvoice)

	mux.HandleFunc("GET /api/v1/invoices/{id}", srv.handleGetInvoice)
	mux.HandleFunc("GET /api/v1/invoices/{id}/document", srv.handleInvoiceDocument)
	mux.HandleFunc("POST /api/v1/invoices/{id}/paid", srv.handleInvoicePaid)
	mux.HandleFunc("POST /api/v1/invoices/{id}/void", srv.handleInvoiceVoid)

	mux.HandleFunc("GET /api/v1/cleaning-tasks", srv.handleUpcomingCleaning)
	mux.HandleFunc("POST /api/v1/cleaning-tasks", srv.handleScheduleCleaning)
	mux.HandleFunc("POST /api/v1/cleaning-tasks/{id}/complete", srv.handleCompleteTask)
	mux.HandleFunc("POST /api/v1/cleaning-tasks/{id}/cancel", srv.handleCancelTask)

	mux.HandleFunc("GET /api/v1/cleaning-services", srv.handleListServices)
	mux.HandleFunc("PUT /api/v1/cleaning-services", srv.handleUpsertService)
	mux.HandleFunc("POST /api/v1/cleaning-services/{id}/default", srv.handleSetDefaultService)
	mux.HandleFunc("DELETE /api/v1/cleaning-services/{id}", srv.handleDeleteService)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleListProperties(w http.ResponseWriter, r *http.Request) {
	list := s.svc.Catalog.ListActiveProperties
	if r.URL.Query().Get("all") == "true" {
		list = s.svc.Catalog.ListProperties
	}
	props, err := list(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"properties": nonNil(props)})
}

func (s *HTTPServer) handleUpsertProperty(w http.ResponseWriter, r *http.Request) {
	var p models.Property
	if !decodeBody(w, r, &p) {
		return
	}
	if err := s.svc.Catalog.UpsertProperty(r.Context(), &p); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handlePropertyBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.svc.Bookings.ListBookingsByProperty(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": nonNil(bookings)})
}

func (s *HTTPServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.InboundMessage
	if !decodeBody(w, r, &msg) {
		return
	}
	msg.UserID = strings.TrimSpace(msg.UserID)
	if msg.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if msg.Channel == "" {
		msg.Channel = "api"
	}
	// telegram identities belong to the bot transport
	if msg.Channel == "telegram" {
		writeError(w, http.StatusBadRequest, "channel telegram is reserved")
		return
	}
	msg.UserID = msg.Channel + ":" + msg.UserID

	reply, err := s.svc.Router.Route(r.Context(), msg)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := s.svc.Bookings.GetBooking(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		At *time.Time `json:"at"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	var at time.Time
	if body.At != nil {
		at = *body.At
	}

	result, err := s.svc.Bookings.Checkout(r.Context(), r.PathValue("id"), at)
	if errors.Is(err, domain.ErrNoServiceAvailable) && result != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"booking": result.Booking,
			"warning": err.Error(),
		})
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, s.svc.Bookings.Cancel)
}

func (s *HTTPServer) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, s.svc.Bookings.MarkPaid)
}

func (s *HTTPServer) bookingAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, id string) (*models.Booking, error),
) {
	booking, err := action(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	s.invoiceAction(w, r, s.svc.Invoices.CreateInvoiceForBooking)
}

func (s *HTTPServer) handleBookingInvoice(w http.ResponseWriter, r *http.Request) {
	s.invoiceAction(w, r, s.svc.Invoices.GetInvoiceByBooking)
}

func (s *HTTPServer) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	s.invoiceAction(w, r, s.svc.Invoices.GetInvoice)
}

func (s *HTTPServer) handleInvoicePaid(w http.ResponseWriter, r *http.Request) {
	s.invoiceAction(w, r, s.svc.Invoices.MarkInvoicePaid)
}

func (s *HTTPServer) handleInvoiceVoid(w http.ResponseWriter, r *http.Request) {
	s.invoiceAction(w, r, s.svc.Invoices.VoidInvoice)
}

func (s *HTTPServer) invoiceAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, id string) (*models.Invoice, error),
) {
	inv, err := action(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *HTTPServer) handleInvoiceDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.Invoices.RenderInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Data)
}

func (s *HTTPServer) handleUpcomingCleaning(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}
	tasks, err := s.svc.Cleaning.UpcomingCleaningTasks(r.Context(), days)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": nonNil(tasks)})
}

func (s *HTTPServer) handleScheduleCleaning(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PropertyID  string    `json:"propertyId"`
		ScheduledAt time.Time `json:"scheduledAt"`
		BookingID   *string   `json:"bookingId"`
		ServiceID   *string   `json:"serviceId"`
		Notes       string    `json:"notes"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	task, err := s.svc.Cleaning.ScheduleCleaning(r.Context(), service.ScheduleRequest{
		PropertyID: body.PropertyID,
		When:       body.ScheduledAt,
		BookingID:  body.BookingID,
		ServiceID:  body.ServiceID,
		Notes:      body.Notes,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *HTTPServer) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	s.taskAction(w, r, s.svc.Cleaning.CompleteCleaningTask)
}

func (s *HTTPServer) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	s.taskAction(w, r, s.svc.Cleaning.CancelCleaningTask)
}

func (s *HTTPServer) taskAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, id string) (*models.CleaningTask, error),
) {
	task, err := action(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.svc.Catalog.ListCleaningServices(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": nonNil(services)})
}

func (s *HTTPServer) handleUpsertService(w http.ResponseWriter, r *http.Request) {
	var svc models.CleaningService
	if !decodeBody(w, r, &svc) {
		return
	}
	if err := s.svc.Catalog.UpsertCleaningService(r.Context(), &svc); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *HTTPServer) handleSetDefaultService(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Catalog.SetDefaultCleaningService(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Catalog.DeleteCleaningService(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFromError maps domain errors onto HTTP status codes.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrReferentialConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoServiceAvailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFromError(err)
	if code == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, l, requestID := logging.WithRequestID(r.Context(), s.logger, strings.TrimSpace(r.Header.Get("X-Request-ID")))
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)
		l.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
