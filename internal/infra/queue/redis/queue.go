// Package redis implements the two-tier job queue on Redis lists: a
// pending/processing pair per tier, a lease set scored by visibility
// deadline, and a reaper that re-queues expired deliveries. Deliveries past
// the max receive count are routed to a dead-letter list.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/croplens/croplens/internal/domain/queue"
	"github.com/croplens/croplens/pkg/common/logger"
)

// Config tunes the queue transport.
type Config struct {
	// VisibilityTimeout is how long a received delivery stays invisible
	// before the reaper makes it eligible for redelivery.
	VisibilityTimeout time.Duration

	// MaxReceive routes a delivery to the dead-letter list once its
	// receive count exceeds this.
	MaxReceive int

	// ReaperInterval is how often expired leases are swept.
	ReaperInterval time.Duration
}

// DefaultConfig mirrors the production queue settings.
func DefaultConfig() Config {
	return Config{
		VisibilityTimeout: 5 * time.Minute,
		MaxReceive:        5,
		ReaperInterval:    30 * time.Second,
	}
}

// Queue is both ends of the transport. The worker runs the consumer side
// plus the reaper; the planner only publishes.
type Queue struct {
	client *redis.Client
	cfg    Config

	logger *logger.Logger
	tracer trace.Tracer
}

var (
	_ queue.Publisher = (*Queue)(nil)
	_ queue.Consumer  = (*Queue)(nil)
)

// NewQueue wraps an established Redis client.
func NewQueue(client *redis.Client, cfg Config, logger *logger.Logger, tracer trace.Tracer) *Queue {
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultConfig().VisibilityTimeout
	}
	if cfg.MaxReceive <= 0 {
		cfg.MaxReceive = DefaultConfig().MaxReceive
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = DefaultConfig().ReaperInterval
	}
	return &Queue{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "redis_queue"),
		tracer: tracer,
	}
}

func keyPending(tier queue.Tier) string    { return fmt.Sprintf("croplens:queue:%s:pending", tier) }
func keyProcessing(tier queue.Tier) string { return fmt.Sprintf("croplens:queue:%s:processing", tier) }
func keyLeases(tier queue.Tier) string     { return fmt.Sprintf("croplens:queue:%s:leases", tier) }
func keyMessages(tier queue.Tier) string   { return fmt.Sprintf("croplens:queue:%s:messages", tier) }
func keyAttempts(tier queue.Tier) string   { return fmt.Sprintf("croplens:queue:%s:attempts", tier) }
func keyDead(tier queue.Tier) string       { return fmt.Sprintf("croplens:queue:%s:dead", tier) }

// Publish enqueues the message on the tier's pending list.
func (q *Queue) Publish(ctx context.Context, tier queue.Tier, msg queue.Message) error {
	ctx, span := q.tracer.Start(ctx, "redis_queue.publish",
		trace.WithAttributes(
			attribute.String("tier", string(tier)),
			attribute.String("job_type", msg.JobType),
		),
	)
	defer span.End()

	body, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal message")
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	id := uuid.NewString()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, keyMessages(tier), id, body)
	pipe.LPush(ctx, keyPending(tier), id)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to enqueue message")
		return fmt.Errorf("%w: %w", queue.ErrQueueUnavailable, err)
	}

	span.SetStatus(codes.Ok, "message published")
	return nil
}

// Receive moves up to max ids from pending to processing, leasing each for
// the visibility timeout. It blocks up to wait for the first delivery and
// drains the rest without blocking.
func (q *Queue) Receive(ctx context.Context, tier queue.Tier, max int, wait time.Duration) ([]queue.Delivery, error) {
	if max < 1 {
		max = 1
	}

	var deliveries []queue.Delivery
	for len(deliveries) < max {
		var id string
		var err error
		if len(deliveries) == 0 {
			id, err = q.client.BLMove(ctx, keyPending(tier), keyProcessing(tier), "RIGHT", "LEFT", wait).Result()
		} else {
			id, err = q.client.LMove(ctx, keyPending(tier), keyProcessing(tier), "RIGHT", "LEFT").Result()
		}
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return deliveries, ctx.Err()
			}
			return deliveries, fmt.Errorf("%w: %w", queue.ErrQueueUnavailable, err)
		}

		delivery, ok, err := q.lease(ctx, tier, id)
		if err != nil {
			return deliveries, err
		}
		if ok {
			deliveries = append(deliveries, delivery)
		}
	}
	return deliveries, nil
}

// lease stamps the delivery's visibility deadline and increments its
// receive count, dead-lettering it instead when the count is exhausted.
func (q *Queue) lease(ctx context.Context, tier queue.Tier, id string) (queue.Delivery, bool, error) {
	attempt, err := q.client.HIncrBy(ctx, keyAttempts(tier), id, 1).Result()
	if err != nil {
		return queue.Delivery{}, false, fmt.Errorf("%w: %w", queue.ErrQueueUnavailable, err)
	}

	if int(attempt) > q.cfg.MaxReceive {
		if err := q.deadLetter(ctx, tier, id); err != nil {
			return queue.Delivery{}, false, err
		}
		q.logger.Warn(ctx, "Delivery dead-lettered", "tier", tier, "receipt", id, "attempt", attempt)
		return queue.Delivery{}, false, nil
	}

	body, err := q.client.HGet(ctx, keyMessages(tier), id).Result()
	if errors.Is(err, redis.Nil) {
		// Payload vanished (deleted concurrently); drop the orphan id.
		q.client.LRem(ctx, keyProcessing(tier), 1, id)
		return queue.Delivery{}, false, nil
	}
	if err != nil {
		return queue.Delivery{}, false, fmt.Errorf("%w: %w", queue.ErrQueueUnavailable, err)
	}

	var msg queue.Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return queue.Delivery{}, false, fmt.Errorf("failed to unmarshal queue message %s: %w", id, err)
	}

	deadline := time.Now().Add(q.cfg.VisibilityTimeout)
	if err := q.client.ZAdd(ctx, keyLeases(tier), redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: id,
	}).Err(); err != nil {
		return queue.Delivery{}, false, fmt.Errorf("%w: %w", queue.ErrQueueUnavailable, err)
	}

	return queue.Delivery{
		Message:       msg,
		Tier:          tier,
		Attempt:       int(attempt),
		ReceiptHandle: id,
	}, true, nil
}

func (q *Queue) deadLetter(ctx context.Context, tier queue.Tier, id string) error {
	body, err := q.client.HGet(ctx, keyMessages(tier), id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %w", queue.ErrQueueUnavailable, err)
	}

	pipe := q.client.TxPipeline()
	if body != "" {
		pipe.LPush(ctx, keyDead(tier), body)
	}
	pipe.LRem(ctx, keyProcessing(tier), 1, id)
	pipe.ZRem(ctx, keyLeases(tier), id)
	pipe.HDel(ctx, keyMessages(tier), id)
	pipe.HDel(ctx, keyAttempts(tier), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %w", queue.ErrQueueUnavailable, err)
	}
	return nil
}

// Delete acknowledges a delivery, removing every trace of it.
func (q *Queue) Delete(ctx context.Context, d queue.Delivery) error {
	ctx, span := q.tracer.Start(ctx, "redis_queue.delete",
		trace.WithAttributes(
			attribute.String("tier", string(d.Tier)),
			attribute.String("receipt", d.ReceiptHandle),
		),
	)
	defer span.End()

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, keyProcessing(d.Tier), 1, d.ReceiptHandle)
	pipe.ZRem(ctx, keyLeases(d.Tier), d.ReceiptHandle)
	pipe.HDel(ctx, keyMessages(d.Tier), d.ReceiptHandle)
	pipe.HDel(ctx, keyAttempts(d.Tier), d.ReceiptHandle)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete delivery")
		return fmt.Errorf("%w: %w", queue.ErrQueueUnavailable, err)
	}

	span.SetStatus(codes.Ok, "delivery deleted")
	return nil
}

// RunReaper sweeps expired leases back onto the pending lists until the
// context is cancelled. Exactly one reaper per worker process is enough;
// the sweep is idempotent under concurrent reapers.
func (q *Queue) RunReaper(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, tier := range []queue.Tier{queue.TierHigh, queue.TierDefault} {
				if err := q.reapTier(ctx, tier); err != nil {
					q.logger.Error(ctx, "Failed to reap expired leases", "tier", tier, "error", err)
				}
			}
		}
	}
}

func (q *Queue) reapTier(ctx context.Context, tier queue.Tier) error {
	now := float64(time.Now().UnixMilli())
	expired, err := q.client.ZRangeByScore(ctx, keyLeases(tier), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return fmt.Errorf("%w: %w", queue.ErrQueueUnavailable, err)
	}

	for _, id := range expired {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, keyLeases(tier), id)
		pipe.LRem(ctx, keyProcessing(tier), 1, id)
		pipe.LPush(ctx, keyPending(tier), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("%w: %w", queue.ErrQueueUnavailable, err)
		}
		q.logger.Warn(ctx, "Expired lease re-queued", "tier", tier, "receipt", id)
	}
	return nil
}
