package dispatch

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/croplens/croplens/internal/domain/jobs"
	"github.com/croplens/croplens/internal/domain/queue"
	"github.com/croplens/croplens/internal/infra/queue/memory"
	"github.com/croplens/croplens/pkg/common/logger"
)

// Run-loop tests drive the dispatcher through the in-memory transport so
// receive, lease and delete all happen through the real Consumer port.

func TestDispatcher_RunDrainsBothTiers(t *testing.T) {
	t.Parallel()

	repo := newFakeJobRepo()
	transport := memory.NewQueue(time.Minute, 5)
	registry := NewHandlerRegistry()
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	tracer := noop.NewTracerProvider().Tracer("test")

	dispatcher := NewDispatcher(Config{Concurrency: 2}, transport, registry, repo, nil, nil, log, tracer)

	done := make(chan uuid.UUID, 4)
	registry.Register(jobs.JobTypeProcessWeek, HandlerFunc(
		func(_ context.Context, job *jobs.Job) (HandlerResult, error) {
			done <- job.ID()
			return HandlerResult{}, nil
		},
	))

	highJob := pendingJob(jobs.JobTypeProcessWeek)
	defaultJob := pendingJob(jobs.JobTypeProcessWeek)
	repo.put(highJob)
	repo.put(defaultJob)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, transport.Publish(ctx, queue.TierHigh, queue.Message{
		JobID:   highJob.ID(),
		JobType: highJob.JobType().String(),
		Payload: highJob.Payload(),
	}))
	require.NoError(t, transport.Publish(ctx, queue.TierDefault, queue.Message{
		JobID:   defaultJob.ID(),
		JobType: defaultJob.JobType().String(),
		Payload: defaultJob.Payload(),
	}))

	stopped := make(chan error, 1)
	go func() { stopped <- dispatcher.Run(ctx) }()

	handled := make(map[uuid.UUID]bool)
	for len(handled) < 2 {
		select {
		case id := <-done:
			handled[id] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for deliveries to be handled")
		}
	}
	cancel()
	require.ErrorIs(t, <-stopped, context.Canceled)

	assert.True(t, handled[highJob.ID()])
	assert.True(t, handled[defaultJob.ID()])
	assert.Equal(t, jobs.JobStatusDone, highJob.Status())
	assert.Equal(t, jobs.JobStatusDone, defaultJob.Status())
	assert.Zero(t, transport.PendingCount(queue.TierHigh))
	assert.Zero(t, transport.PendingCount(queue.TierDefault))
}

func TestDispatcher_RunLeavesFailedDeliveryLeased(t *testing.T) {
	t.Parallel()

	repo := newFakeJobRepo()
	transport := memory.NewQueue(time.Minute, 5)
	registry := NewHandlerRegistry()
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	tracer := noop.NewTracerProvider().Tracer("test")

	dispatcher := NewDispatcher(Config{Concurrency: 1}, transport, registry, repo, nil, nil, log, tracer)

	done := make(chan struct{}, 1)
	registry.Register(jobs.JobTypeSignalsWeek, HandlerFunc(
		func(context.Context, *jobs.Job) (HandlerResult, error) {
			done <- struct{}{}
			return HandlerResult{}, errors.New("provider unavailable")
		},
	))

	job := pendingJob(jobs.JobTypeSignalsWeek)
	repo.put(job)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, transport.Publish(ctx, queue.TierDefault, queue.Message{
		JobID:   job.ID(),
		JobType: job.JobType().String(),
		Payload: job.Payload(),
	}))

	stopped := make(chan error, 1)
	go func() { stopped <- dispatcher.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the failing handler")
	}
	cancel()
	require.ErrorIs(t, <-stopped, context.Canceled)

	assert.Equal(t, jobs.JobStatusFailed, job.Status())
	// The message was not deleted; it is leased and comes back after the
	// visibility timeout.
	assert.Zero(t, transport.PendingCount(queue.TierDefault))
	assert.Zero(t, transport.DeadCount(queue.TierDefault))
}
