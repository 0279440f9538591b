package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/hilbu/internal/models"
)

// Event is the payload written to the lifecycle events topic.
type Event struct {
	Type    string                 `json:"type"`
	From    models.RequestStatus   `json:"from,omitempty"`
	Request models.RecoveryRequest `json:"request"`
	At      time.Time              `json:"at"`
}

// EventType names a transition, e.g. "request.accepted".
func EventType(t models.Transition) string {
	if t.From == "" {
		return "request.created"
	}
	return "request." + string(t.To)
}

// KafkaProducer publishes lifecycle events and simulated driver positions.
type KafkaProducer struct {
	events    *kafka.Writer
	positions *kafka.Writer
	logger    *slog.Logger
}

func NewKafkaProducer(brokers []string, eventsTopic, positionsTopic string, logger *slog.Logger) *KafkaProducer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ingest")
	// writes are async; delivery failures only reach the error logger
	errLog := kafka.LoggerFunc(func(msg string, args ...interface{}) {
		logger.Error(fmt.Sprintf(msg, args...))
	})
	return &KafkaProducer{
		events: kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers, Topic: eventsTopic, Balancer: &kafka.Hash{}, Async: true, ErrorLogger: errLog,
		}),
		positions: kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers, Topic: positionsTopic, Balancer: &kafka.LeastBytes{}, Async: true, ErrorLogger: errLog,
		}),
		logger: logger,
	}
}

// OnTransition publishes t keyed by request id so one request's events
// stay ordered within a partition.
func (k *KafkaProducer) OnTransition(t models.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := k.PublishTransition(ctx, t); err != nil {
		k.logger.Warn("publish event failed", "request_id", t.Request.ID, "error", err)
	}
}

func (k *KafkaProducer) PublishTransition(ctx context.Context, t models.Transition) error {
	b, err := json.Marshal(Event{Type: EventType(t), From: t.From, Request: t.Request, At: t.At})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return k.events.WriteMessages(ctx, kafka.Message{Key: []byte(t.Request.ID), Value: b})
}

// RecordPosition publishes a driver position for the consumer to index.
func (k *KafkaProducer) RecordPosition(ctx context.Context, d models.Driver) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	return k.positions.WriteMessages(ctx, kafka.Message{Key: []byte(d.ID), Value: b})
}

func (k *KafkaProducer) Close() error {
	var first error
	for _, w := range []*kafka.Writer{k.events, k.positions} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
