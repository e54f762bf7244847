package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "prenotazioni"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	messagesRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Inbound messages by the route that answered them.",
		},
		[]string{"route"},
	)

	bookingsConfirmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_confirmed_total",
			Help:      "Bookings persisted, by property.",
		},
		[]string{"property"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking status changes after confirmation.",
		},
		[]string{"status"},
	)

	invoicesIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoices_issued_total",
			Help:      "Invoices created.",
		},
	)

	cleaningScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleaning_tasks_scheduled_total",
			Help:      "Cleaning tasks scheduled, by result.",
		},
		[]string{"result"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	renderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invoice_render_seconds",
			Help:      "Time spent rendering invoice documents.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	backupLastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_last_success_timestamp_seconds",
			Help:      "Unix time of the last verified database backup.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			messagesRouted,
			bookingsConfirmed,
			bookingTransitions,
			invoicesIssued,
			cleaningScheduled,
			notifications,
			renderDuration,
			backupLastSuccess,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncMessage(route string) {
	messagesRouted.WithLabelValues(route).Inc()
}

func IncBookingConfirmed(property string) {
	bookingsConfirmed.WithLabelValues(property).Inc()
}

func IncBookingTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

func IncInvoiceIssued() {
	invoicesIssued.Inc()
}

// IncCleaning counts a scheduling attempt; result is "scheduled" or "no_service".
func IncCleaning(result string) {
	cleaningScheduled.WithLabelValues(result).Inc()
}

func IncNotification(kind, outcome string) {
	notifications.WithLabelValues(kind, outcome).Inc()
}

func ObserveRender(seconds float64) {
	renderDuration.Observe(seconds)
}

func SetBackupSuccess(at time.Time) {
	backupLastSuccess.Set(float64(at.Unix()))
}
