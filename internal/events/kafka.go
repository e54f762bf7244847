package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"prenotazioni/internal/config"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const forwarderBuffer = 256

// MessageWriter is the part of *kafka.Writer the forwarder uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a synchronous writer for cfg.Topic.
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// KafkaForwarder copies bus events to a Kafka topic. Publishing never waits
// for the broker: events are buffered and written by Run.
type KafkaForwarder struct {
	writer  MessageWriter
	queue   chan Event
	timeout time.Duration
	logger  *zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewKafkaForwarder(writer MessageWriter, logger *zerolog.Logger) *KafkaForwarder {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &KafkaForwarder{
		writer:  writer,
		queue:   make(chan Event, forwarderBuffer),
		timeout: 5 * time.Second,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Attach subscribes the forwarder to every event of bus.
func (f *KafkaForwarder) Attach(bus *EventBus) {
	bus.SubscribeAll(f.Handle)
}

var ErrForwarderFull = errors.New("kafka forwarder buffer is full")

// Handle enqueues a copy of event.
func (f *KafkaForwarder) Handle(event *Event) error {
	select {
	case f.queue <- *event:
		return nil
	default:
		f.logger.Warn().Str("event_type", event.Type).Msg("Kafka forwarder buffer full, event dropped")
		return ErrForwarderFull
	}
}

// Run writes buffered events until ctx is cancelled, then drains what is left.
func (f *KafkaForwarder) Run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			f.drain()
			return
		case event := <-f.queue:
			f.write(ctx, event)
		}
	}
}

func (f *KafkaForwarder) drain() {
	for {
		select {
		case event := <-f.queue:
			f.write(context.Background(), event)
		default:
			return
		}
	}
}

func (f *KafkaForwarder) write(ctx context.Context, event Event) {
	writeCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	key := event.Key
	if key == "" {
		key = event.Type
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := f.writer.WriteMessages(writeCtx, msg); err != nil {
		f.logger.Error().Err(err).Str("event_type", event.Type).Msg("Failed to forward event to Kafka")
		return
	}
	f.logger.Debug().Str("event_type", event.Type).Msg("Event forwarded to Kafka")
}

// Done is closed when Run returns.
func (f *KafkaForwarder) Done() <-chan struct{} {
	return f.done
}

func (f *KafkaForwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		if cerr := f.writer.Close(); cerr != nil {
			err = fmt.Errorf("failed to close kafka writer: %w", cerr)
		}
	})
	return err
}
