package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		IncMessage("session")
		IncBookingConfirmed("Villa Bella")
		IncBookingTransition("completed")
		IncInvoiceIssued()
		IncCleaning("scheduled")
		IncNotification("sms", "simulated")
		ObserveRender(0.01)
		SetBackupSuccess(time.Now())
	})

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["prenotazioni_messages_routed_total"])
	assert.True(t, names["prenotazioni_notifications_total"])
	assert.True(t, names["prenotazioni_invoice_render_seconds"])
	assert.True(t, names["prenotazioni_backup_last_success_timestamp_seconds"])
}
