// Package events publishes job lifecycle events to Kafka so downstream
// consumers (audit, export, notifications) can follow bulk purchases without
// polling the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// TopicJobEvents carries every job lifecycle event.
const TopicJobEvents = "purchases.job-events"

// EventType tags a job lifecycle event.
type EventType string

const (
	EventJobStarted   EventType = "job.started"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
)

// JobEvent is the wire shape of one lifecycle event.
type JobEvent struct {
	OrderID             string    `json:"order_id"`
	Type                EventType `json:"type"`
	Completed           int       `json:"completed"`
	Total               int       `json:"total"`
	Success             int       `json:"success"`
	Failed              int       `json:"failed"`
	ManualReview        int       `json:"manual_review"`
	AllWorkersExhausted bool      `json:"all_workers_exhausted"`
	Cancelled           bool      `json:"cancelled"`
	At                  time.Time `json:"at"`
}

// Publisher publishes job events.
type Publisher interface {
	Publish(ctx context.Context, event JobEvent) error
	Close() error
}

type publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Kafka publisher connected to the given brokers.
func NewPublisher(brokers []string) Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{}, // keyed by order ID so events per order stay ordered
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		// Auto-create the topic if it doesn't exist
		AllowAutoTopicCreation: true,
	}
	return &publisher{writer: w}
}

func (p *publisher) Publish(ctx context.Context, event JobEvent) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}

	// Inject the active trace context into message headers so downstream
	// consumers can extract and continue the trace.
	headers := make(HeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   TopicJobEvents,
		Key:     []byte(event.OrderID),
		Value:   value,
		Headers: []kafka.Header(headers),
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s for order %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

func (p *publisher) Close() error {
	return p.writer.Close()
}
