// Package queue defines the job transport port: a two-tier, at-least-once
// message channel with visibility-timeout semantics. Implementations live
// under internal/infra/queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Tier selects which of the two queues a message travels on. The dispatcher
// drains the high tier before falling back to the default tier.
type Tier string

const (
	TierHigh    Tier = "high"
	TierDefault Tier = "default"
)

// ErrQueueUnavailable indicates the transport could not be reached. The
// caller's retry policy decides what to do with it.
var ErrQueueUnavailable = errors.New("queue unavailable")

// Message is the unit published by the planner and consumed by the
// dispatch loop.
type Message struct {
	JobID   uuid.UUID       `json:"job_id"`
	JobType string          `json:"job_type"`
	Payload json.RawMessage `json:"payload"`
}

// Delivery is one receive of a Message. The same message can be delivered
// more than once; Attempt counts deliveries, and ReceiptHandle identifies
// this delivery for Delete.
type Delivery struct {
	Message
	Tier          Tier
	Attempt       int
	ReceiptHandle string
}

// Publisher enqueues messages for asynchronous execution.
type Publisher interface {
	Publish(ctx context.Context, tier Tier, msg Message) error
}

// Consumer receives deliveries under a visibility timeout. A delivery that
// is not deleted before its visibility deadline becomes eligible for
// redelivery; deliveries past the transport's max receive count are routed
// to the dead-letter queue instead of being returned.
type Consumer interface {
	// Receive returns up to max deliveries from the tier, blocking up to
	// wait for the first one. An empty slice means the tier was idle.
	Receive(ctx context.Context, tier Tier, max int, wait time.Duration) ([]Delivery, error)

	// Delete acknowledges a delivery so it is never redelivered. Called
	// only after the handler succeeded.
	Delete(ctx context.Context, d Delivery) error
}
