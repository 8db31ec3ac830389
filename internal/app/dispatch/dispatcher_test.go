package dispatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/croplens/croplens/internal/domain/events"
	"github.com/croplens/croplens/internal/domain/jobs"
	"github.com/croplens/croplens/internal/domain/queue"
	"github.com/croplens/croplens/pkg/common/logger"
)

type fakeJobRepo struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*jobs.Job
	updates []jobs.JobStatus
	runs    []*jobs.JobRun
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*jobs.Job)}
}

func (r *fakeJobRepo) put(job *jobs.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID()] = job
}

func (r *fakeJobRepo) Upsert(context.Context, jobs.UpsertJobParams) (jobs.UpsertResult, error) {
	return jobs.UpsertResult{}, errors.New("not implemented")
}

func (r *fakeJobRepo) GetJob(_ context.Context, id uuid.UUID) (*jobs.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	return job, nil
}

func (r *fakeJobRepo) UpdateStatus(_ context.Context, _ uuid.UUID, status jobs.JobStatus, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, status)
	return nil
}

func (r *fakeJobRepo) RecordRun(_ context.Context, run *jobs.JobRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *fakeJobRepo) ListRuns(context.Context, uuid.UUID) ([]*jobs.JobRun, error) {
	return nil, nil
}

type fakeConsumer struct {
	mu      sync.Mutex
	deleted []queue.Delivery
}

func (c *fakeConsumer) Receive(context.Context, queue.Tier, int, time.Duration) ([]queue.Delivery, error) {
	return nil, nil
}

func (c *fakeConsumer) Delete(_ context.Context, d queue.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, d)
	return nil
}

func (c *fakeConsumer) deleteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deleted)
}

type fakeEventBus struct {
	mu        sync.Mutex
	published []events.DomainEvent
}

func (b *fakeEventBus) PublishDomainEvent(_ context.Context, evt events.DomainEvent, _ ...events.PublishOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, evt)
	return nil
}

type dispatcherSuite struct {
	dispatcher *Dispatcher
	registry   *HandlerRegistry
	repo       *fakeJobRepo
	consumer   *fakeConsumer
	eventBus   *fakeEventBus
}

func newDispatcherSuite() *dispatcherSuite {
	repo := newFakeJobRepo()
	consumer := &fakeConsumer{}
	eventBus := &fakeEventBus{}
	registry := NewHandlerRegistry()
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	tracer := noop.NewTracerProvider().Tracer("test")

	return &dispatcherSuite{
		dispatcher: NewDispatcher(Config{Concurrency: 2}, consumer, registry, repo, eventBus, nil, log, tracer),
		registry:   registry,
		repo:       repo,
		consumer:   consumer,
		eventBus:   eventBus,
	}
}

func pendingJob(jobType jobs.JobType) *jobs.Job {
	return jobs.NewJob(uuid.New(), uuid.New(), jobType, uuid.NewString(), []byte(`{}`))
}

func deliveryFor(job *jobs.Job, attempt int) queue.Delivery {
	return queue.Delivery{
		Message: queue.Message{
			JobID:   job.ID(),
			JobType: job.JobType().String(),
			Payload: job.Payload(),
		},
		Tier:          queue.TierDefault,
		Attempt:       attempt,
		ReceiptHandle: uuid.NewString(),
	}
}

func TestDispatcher_SuccessDeletesAndRecords(t *testing.T) {
	t.Parallel()

	suite := newDispatcherSuite()
	job := pendingJob(jobs.JobTypeProcessWeek)
	suite.repo.put(job)

	suite.registry.Register(jobs.JobTypeProcessWeek, HandlerFunc(
		func(context.Context, *jobs.Job) (HandlerResult, error) {
			return HandlerResult{Metrics: map[string]any{"scenes": 3}}, nil
		},
	))

	suite.dispatcher.processDelivery(context.Background(), deliveryFor(job, 1))

	assert.Equal(t, jobs.JobStatusDone, job.Status())
	assert.Equal(t, []jobs.JobStatus{jobs.JobStatusRunning, jobs.JobStatusDone}, suite.repo.updates)
	require.Len(t, suite.repo.runs, 1)
	assert.Equal(t, jobs.JobStatusDone, suite.repo.runs[0].Status())
	assert.Equal(t, map[string]any{"scenes": 3}, suite.repo.runs[0].Metrics())
	assert.Equal(t, 1, suite.consumer.deleteCount())

	require.Len(t, suite.eventBus.published, 1)
	assert.Equal(t, jobs.EventTypeJobCompleted, suite.eventBus.published[0].EventType())
}

func TestDispatcher_FailureKeepsMessageForRedelivery(t *testing.T) {
	t.Parallel()

	suite := newDispatcherSuite()
	job := pendingJob(jobs.JobTypeSignalsWeek)
	suite.repo.put(job)

	suite.registry.Register(jobs.JobTypeSignalsWeek, HandlerFunc(
		func(context.Context, *jobs.Job) (HandlerResult, error) {
			return HandlerResult{}, errors.New("provider unavailable")
		},
	))

	suite.dispatcher.processDelivery(context.Background(), deliveryFor(job, 1))

	assert.Equal(t, jobs.JobStatusFailed, job.Status())
	assert.Equal(t, "provider unavailable", job.LastError())
	assert.Zero(t, suite.consumer.deleteCount(), "failed attempts must stay on the queue")
	require.Len(t, suite.repo.runs, 1)
	assert.Equal(t, jobs.JobStatusFailed, suite.repo.runs[0].Status())
	assert.Equal(t, "provider unavailable", suite.repo.runs[0].Error())

	require.Len(t, suite.eventBus.published, 1)
	assert.Equal(t, jobs.EventTypeJobFailed, suite.eventBus.published[0].EventType())
}

func TestDispatcher_RedeliveryAfterFailureSucceeds(t *testing.T) {
	t.Parallel()

	suite := newDispatcherSuite()
	job := pendingJob(jobs.JobTypeAlertsWeek)
	suite.repo.put(job)

	var calls int
	suite.registry.Register(jobs.JobTypeAlertsWeek, HandlerFunc(
		func(context.Context, *jobs.Job) (HandlerResult, error) {
			calls++
			if calls == 1 {
				return HandlerResult{}, errors.New("transient")
			}
			return HandlerResult{}, nil
		},
	))

	suite.dispatcher.processDelivery(context.Background(), deliveryFor(job, 1))
	require.Equal(t, jobs.JobStatusFailed, job.Status())

	suite.dispatcher.processDelivery(context.Background(), deliveryFor(job, 2))

	assert.Equal(t, jobs.JobStatusDone, job.Status())
	assert.Equal(t, 1, suite.consumer.deleteCount())
	require.Len(t, suite.repo.runs, 2)
	assert.Equal(t, 1, suite.repo.runs[0].Attempt())
	assert.Equal(t, 2, suite.repo.runs[1].Attempt())
}

func TestDispatcher_CancelledJobIsDroppedWithoutRunning(t *testing.T) {
	t.Parallel()

	suite := newDispatcherSuite()
	job := pendingJob(jobs.JobTypeProcessWeek)
	require.NoError(t, job.Cancel())
	suite.repo.put(job)

	var handlerRan bool
	suite.registry.Register(jobs.JobTypeProcessWeek, HandlerFunc(
		func(context.Context, *jobs.Job) (HandlerResult, error) {
			handlerRan = true
			return HandlerResult{}, nil
		},
	))

	suite.dispatcher.processDelivery(context.Background(), deliveryFor(job, 1))

	assert.False(t, handlerRan)
	assert.Equal(t, jobs.JobStatusCancelled, job.Status())
	assert.Equal(t, 1, suite.consumer.deleteCount())
	assert.Empty(t, suite.repo.runs)
}

func TestDispatcher_DuplicateDeliveryOfDoneJobIsDropped(t *testing.T) {
	t.Parallel()

	suite := newDispatcherSuite()
	job := pendingJob(jobs.JobTypeProcessWeek)
	require.NoError(t, job.Start())
	require.NoError(t, job.Complete(""))
	suite.repo.put(job)

	var handlerRan bool
	suite.registry.Register(jobs.JobTypeProcessWeek, HandlerFunc(
		func(context.Context, *jobs.Job) (HandlerResult, error) {
			handlerRan = true
			return HandlerResult{}, nil
		},
	))

	suite.dispatcher.processDelivery(context.Background(), deliveryFor(job, 2))

	assert.False(t, handlerRan)
	assert.Equal(t, jobs.JobStatusDone, job.Status())
	assert.Equal(t, 1, suite.consumer.deleteCount())
}

func TestDispatcher_UnknownJobTypeIsDropped(t *testing.T) {
	t.Parallel()

	suite := newDispatcherSuite()
	delivery := queue.Delivery{
		Message:       queue.Message{JobID: uuid.New(), JobType: "NOT_A_JOB"},
		Tier:          queue.TierHigh,
		Attempt:       1,
		ReceiptHandle: uuid.NewString(),
	}

	suite.dispatcher.processDelivery(context.Background(), delivery)

	assert.Equal(t, 1, suite.consumer.deleteCount())
	assert.Equal(t, []jobs.JobStatus{jobs.JobStatusFailed}, suite.repo.updates,
		"a poison delivery must leave a terminal row, not a stranded PENDING one")
}

func TestDispatcher_UnregisteredJobTypeFailsJobTerminally(t *testing.T) {
	t.Parallel()

	suite := newDispatcherSuite()
	job := pendingJob(jobs.JobTypeForecastWeek)
	suite.repo.put(job)

	suite.dispatcher.processDelivery(context.Background(), deliveryFor(job, 1))

	assert.Equal(t, 1, suite.consumer.deleteCount())
	assert.Equal(t, []jobs.JobStatus{jobs.JobStatusFailed}, suite.repo.updates,
		"a planned job with no handler must reach a terminal status")
	assert.Empty(t, suite.repo.runs)
}

func TestDispatcher_MissingJobRowIsDropped(t *testing.T) {
	t.Parallel()

	suite := newDispatcherSuite()
	suite.registry.Register(jobs.JobTypeProcessWeek, HandlerFunc(
		func(context.Context, *jobs.Job) (HandlerResult, error) {
			return HandlerResult{}, nil
		},
	))

	delivery := queue.Delivery{
		Message:       queue.Message{JobID: uuid.New(), JobType: jobs.JobTypeProcessWeek.String()},
		Tier:          queue.TierDefault,
		Attempt:       1,
		ReceiptHandle: uuid.NewString(),
	}

	suite.dispatcher.processDelivery(context.Background(), delivery)

	assert.Equal(t, 1, suite.consumer.deleteCount())
	assert.Empty(t, suite.repo.runs)
}
