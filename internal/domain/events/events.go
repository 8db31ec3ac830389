// Package events defines the domain event contract used to notify
// downstream consumers about findings and job lifecycle changes.
package events

import (
	"context"
	"time"
)

// EventType uniquely identifies the kind of domain event.
type EventType string

// DomainEvent is implemented by events that other services may react to.
type DomainEvent interface {
	EventType() EventType
	OccurredAt() time.Time
}

// PublishParams collects optional publish settings.
type PublishParams struct {
	// Key is the partitioning key; events with the same key are ordered.
	Key string
}

// PublishOption configures a single publish call.
type PublishOption func(*PublishParams)

// WithKey sets the partitioning key for the published event.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// DomainEventPublisher is the outbound port for domain events.
type DomainEventPublisher interface {
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}
