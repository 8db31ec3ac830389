// Package memory provides an in-process queue implementation with the same
// visibility-timeout semantics as the Redis transport. It backs the
// dispatcher run-loop tests; nothing in production wiring uses it.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/croplens/croplens/internal/domain/queue"
)

type leasedMessage struct {
	id       string
	msg      queue.Message
	attempts int
	leasedAt time.Time
}

// Queue is a two-tier in-memory transport. Receive leases messages for the
// visibility timeout; undeleted leases expire lazily on the next Receive.
type Queue struct {
	mu                sync.Mutex
	pending           map[queue.Tier][]*leasedMessage
	inflight          map[string]*leasedMessage
	inflightTier      map[string]queue.Tier
	dead              map[queue.Tier][]queue.Message
	visibilityTimeout time.Duration
	maxReceive        int
}

var (
	_ queue.Publisher = (*Queue)(nil)
	_ queue.Consumer  = (*Queue)(nil)
)

// NewQueue creates an empty queue with the given lease settings.
func NewQueue(visibilityTimeout time.Duration, maxReceive int) *Queue {
	if maxReceive < 1 {
		maxReceive = 5
	}
	return &Queue{
		pending:           make(map[queue.Tier][]*leasedMessage),
		inflight:          make(map[string]*leasedMessage),
		inflightTier:      make(map[string]queue.Tier),
		dead:              make(map[queue.Tier][]queue.Message),
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
	}
}

// Publish appends the message to the tier's pending list.
func (q *Queue) Publish(_ context.Context, tier queue.Tier, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[tier] = append(q.pending[tier], &leasedMessage{id: uuid.NewString(), msg: msg})
	return nil
}

// Receive returns up to max deliveries. The wait parameter is ignored; an
// idle tier returns immediately, which keeps tests fast.
func (q *Queue) Receive(ctx context.Context, tier queue.Tier, max int, _ time.Duration) ([]queue.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max < 1 {
		max = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.expireLeasesLocked(tier)

	var deliveries []queue.Delivery
	for len(deliveries) < max && len(q.pending[tier]) > 0 {
		lm := q.pending[tier][0]
		q.pending[tier] = q.pending[tier][1:]

		lm.attempts++
		if lm.attempts > q.maxReceive {
			q.dead[tier] = append(q.dead[tier], lm.msg)
			continue
		}

		lm.leasedAt = time.Now()
		q.inflight[lm.id] = lm
		q.inflightTier[lm.id] = tier

		deliveries = append(deliveries, queue.Delivery{
			Message:       lm.msg,
			Tier:          tier,
			Attempt:       lm.attempts,
			ReceiptHandle: lm.id,
		})
	}
	return deliveries, nil
}

// Delete acknowledges a delivery.
func (q *Queue) Delete(_ context.Context, d queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, d.ReceiptHandle)
	delete(q.inflightTier, d.ReceiptHandle)
	return nil
}

func (q *Queue) expireLeasesLocked(tier queue.Tier) {
	now := time.Now()
	for id, lm := range q.inflight {
		if q.inflightTier[id] != tier {
			continue
		}
		if now.Sub(lm.leasedAt) >= q.visibilityTimeout {
			delete(q.inflight, id)
			delete(q.inflightTier, id)
			q.pending[tier] = append(q.pending[tier], lm)
		}
	}
}

// PendingCount reports how many messages wait on the tier. Test helper.
func (q *Queue) PendingCount(tier queue.Tier) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[tier])
}

// DeadCount reports how many messages were dead-lettered on the tier.
// Test helper.
func (q *Queue) DeadCount(tier queue.Tier) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dead[tier])
}
