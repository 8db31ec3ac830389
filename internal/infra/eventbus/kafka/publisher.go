// Package kafka publishes findings and job lifecycle domain events to
// Kafka topics for downstream consumers (notifications, exports). This core
// only produces; consumption lives in other services.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/croplens/croplens/internal/domain/detection"
	"github.com/croplens/croplens/internal/domain/events"
	"github.com/croplens/croplens/internal/domain/jobs"
	"github.com/croplens/croplens/pkg/common/logger"
)

// Config names the topics each event type is routed to.
type Config struct {
	Brokers  []string
	ClientID string

	SignalsTopic      string
	AlertsTopic       string
	JobLifecycleTopic string
}

// envelope is the wire format of every published event.
type envelope struct {
	ID         string           `json:"id"`
	Type       events.EventType `json:"type"`
	OccurredAt time.Time        `json:"occurred_at"`
	Payload    any              `json:"payload"`
}

// Publisher implements the domain event port on a sarama sync producer.
// Messages are keyed by the caller-provided partition key so events for one
// tenant stay ordered.
type Publisher struct {
	producer sarama.SyncProducer
	topics   map[events.EventType]string

	logger *logger.Logger
	tracer trace.Tracer
}

var _ events.DomainEventPublisher = (*Publisher)(nil)

// NewPublisher wraps an established sync producer with the topic routing
// from cfg.
func NewPublisher(producer sarama.SyncProducer, cfg Config, logger *logger.Logger, tracer trace.Tracer) *Publisher {
	return &Publisher{
		producer: producer,
		topics: map[events.EventType]string{
			detection.EventTypeSignalRaised: cfg.SignalsTopic,
			detection.EventTypeAlertRaised:  cfg.AlertsTopic,
			jobs.EventTypeJobCompleted:      cfg.JobLifecycleTopic,
			jobs.EventTypeJobFailed:         cfg.JobLifecycleTopic,
		},
		logger: logger.With("component", "kafka_publisher"),
		tracer: tracer,
	}
}

// PublishDomainEvent serializes the event into a JSON envelope and produces
// it to the topic mapped for its type.
func (p *Publisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	_, span := p.tracer.Start(ctx, "kafka_publisher.publish_domain_event",
		trace.WithAttributes(attribute.String("event_type", string(event.EventType()))),
	)
	defer span.End()

	topic, ok := p.topics[event.EventType()]
	if !ok {
		err := fmt.Errorf("no topic mapped for event type %s", event.EventType())
		span.RecordError(err)
		span.SetStatus(codes.Error, "unmapped event type")
		return err
	}

	body, err := json.Marshal(envelope{
		ID:         uuid.NewString(),
		Type:       event.EventType(),
		OccurredAt: event.OccurredAt(),
		Payload:    event,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal event")
		return fmt.Errorf("failed to marshal %s event: %w", event.EventType(), err)
	}

	params := events.PublishParams{}
	for _, opt := range opts {
		opt(&params)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(body),
	}
	if params.Key != "" {
		msg.Key = sarama.StringEncoder(params.Key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to produce event")
		return fmt.Errorf("failed to produce %s event to %s: %w", event.EventType(), topic, err)
	}

	span.SetAttributes(
		attribute.String("topic", topic),
		attribute.Int64("partition", int64(partition)),
		attribute.Int64("offset", offset),
	)
	span.SetStatus(codes.Ok, "event published")
	p.logger.Debug(ctx, "Domain event published",
		"event_type", event.EventType(),
		"topic", topic,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Close releases the underlying producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
