package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Telegram transport collectors.
type Metrics struct {
	MessagesProcessed    prometheus.Counter
	OperatorCommands     *prometheus.CounterVec
	RoutesTotal          *prometheus.CounterVec
	ErrorsTotal          prometheus.Counter
	UpdateProcessingTime prometheus.Histogram
}

// NewMetrics registers the collectors on reg; nil means the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "telegram_bot_messages_processed_total",
			Help: "Total number of guest messages processed",
		}),
		OperatorCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telegram_bot_operator_commands_total",
			Help: "Operator commands by name",
		}, []string{"command"}),
		RoutesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telegram_bot_routes_total",
			Help: "Replies by router branch",
		}, []string{"route"}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "telegram_bot_errors_total",
			Help: "Updates that failed or panicked",
		}),
		UpdateProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "telegram_bot_update_processing_time_seconds",
			Help:    "Time spent processing updates",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
