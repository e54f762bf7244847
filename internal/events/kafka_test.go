package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"prenotazioni/internal/config"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}

func TestKafkaForwarder(t *testing.T) {
	writer := &fakeWriter{}
	forwarder := NewKafkaForwarder(writer, nil)
	bus := NewEventBus()
	forwarder.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())
	go forwarder.Run(ctx)

	require.NoError(t, bus.PublishJSON(EventBookingConfirmed, BookingEventPayload{BookingID: "b-1"}))
	require.NoError(t, bus.PublishJSON(EventInvoiceIssued, InvoiceEventPayload{InvoiceID: "i-1"}))

	assert.Eventually(t, func() bool { return writer.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-forwarder.Done()
	require.NoError(t, forwarder.Close())
	assert.True(t, writer.closed)

	first := writer.messages[0]
	assert.Equal(t, "b-1", string(first.Key), "keyed by booking")
	assert.Contains(t, string(first.Value), `"booking_id":"b-1"`)
	require.Len(t, first.Headers, 1)
	assert.Equal(t, "event_type", first.Headers[0].Key)

	second := writer.messages[1]
	assert.Equal(t, EventInvoiceIssued, string(second.Key), "unkeyed events fall back to the type")
}

func TestKafkaForwarder_DrainsOnShutdown(t *testing.T) {
	writer := &fakeWriter{}
	forwarder := NewKafkaForwarder(writer, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, forwarder.Handle(&Event{Type: EventCleaningScheduled, Payload: []byte(`{}`)}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	forwarder.Run(ctx)

	assert.Equal(t, 3, writer.count())
}

func TestKafkaForwarder_BufferFull(t *testing.T) {
	forwarder := NewKafkaForwarder(&fakeWriter{}, nil)
	for i := 0; i < forwarderBuffer; i++ {
		require.NoError(t, forwarder.Handle(&Event{Type: "e"}))
	}
	assert.ErrorIs(t, forwarder.Handle(&Event{Type: "e"}), ErrForwarderFull)
}

func TestKafkaForwarder_WriteErrorIsLogged(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	forwarder := NewKafkaForwarder(writer, nil)
	require.NoError(t, forwarder.Handle(&Event{Type: "e"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotPanics(t, func() { forwarder.Run(ctx) })
	assert.Equal(t, 0, writer.count())
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "prenotazioni.events"})
	assert.Equal(t, "prenotazioni.events", w.Topic)
	assert.NoError(t, w.Close())
}
