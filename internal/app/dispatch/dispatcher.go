package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/croplens/croplens/internal/domain/events"
	"github.com/croplens/croplens/internal/domain/jobs"
	"github.com/croplens/croplens/internal/domain/queue"
	"github.com/croplens/croplens/pkg/common/logger"
)

const (
	defaultConcurrency = 4
	highTierWait       = 1 * time.Second
	defaultTierWait    = 10 * time.Second
)

// Config tunes the dispatch loop.
type Config struct {
	// Concurrency bounds how many deliveries run at once; it is also the
	// batch size requested from the queue.
	Concurrency int
}

// Dispatcher drains the high tier before the default tier and executes each
// delivery through the registry. A message is deleted only after its handler
// succeeded (or the job turned out to be unrunnable); everything else stays
// on the queue and comes back after the visibility timeout.
type Dispatcher struct {
	consumer queue.Consumer
	registry *HandlerRegistry
	jobRepo  jobs.JobRepository
	eventBus events.DomainEventPublisher
	metrics  DispatchMetrics

	concurrency int

	logger *logger.Logger
	tracer trace.Tracer
}

// NewDispatcher assembles the dispatch loop.
func NewDispatcher(
	cfg Config,
	consumer queue.Consumer,
	registry *HandlerRegistry,
	jobRepo jobs.JobRepository,
	eventBus events.DomainEventPublisher,
	metrics DispatchMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Dispatcher {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Dispatcher{
		consumer:    consumer,
		registry:    registry,
		jobRepo:     jobRepo,
		eventBus:    eventBus,
		metrics:     metrics,
		concurrency: concurrency,
		logger:      logger.With("component", "dispatcher"),
		tracer:      tracer,
	}
}

// Run polls until the context is cancelled. Queue errors are logged and
// retried on the next iteration rather than stopping the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info(ctx, "Dispatcher started", "concurrency", d.concurrency)

	for {
		if err := ctx.Err(); err != nil {
			d.logger.Info(ctx, "Dispatcher stopping")
			return err
		}

		deliveries, err := d.receiveBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			d.logger.Error(ctx, "Failed to receive deliveries", "error", err)
			continue
		}
		if len(deliveries) == 0 {
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.concurrency)
		for _, delivery := range deliveries {
			delivery := delivery
			g.Go(func() error {
				d.processDelivery(gctx, delivery)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// receiveBatch prefers the high tier; only an idle high tier lets the
// dispatcher block on the default tier.
func (d *Dispatcher) receiveBatch(ctx context.Context) ([]queue.Delivery, error) {
	deliveries, err := d.consumer.Receive(ctx, queue.TierHigh, d.concurrency, highTierWait)
	if err != nil {
		return nil, fmt.Errorf("failed to receive from high tier: %w", err)
	}
	if len(deliveries) > 0 {
		d.countReceived(ctx, queue.TierHigh, len(deliveries))
		return deliveries, nil
	}

	deliveries, err = d.consumer.Receive(ctx, queue.TierDefault, d.concurrency, defaultTierWait)
	if err != nil {
		return nil, fmt.Errorf("failed to receive from default tier: %w", err)
	}
	d.countReceived(ctx, queue.TierDefault, len(deliveries))
	return deliveries, nil
}

func (d *Dispatcher) countReceived(ctx context.Context, tier queue.Tier, count int) {
	if d.metrics != nil && count > 0 {
		d.metrics.AddMessagesReceived(ctx, tier, count)
	}
}

func (d *Dispatcher) processDelivery(ctx context.Context, delivery queue.Delivery) {
	logger := d.logger.With(
		"job_id", delivery.JobID,
		"job_type", delivery.JobType,
		"attempt", delivery.Attempt,
	)
	ctx, span := d.tracer.Start(ctx, "dispatcher.process_delivery",
		trace.WithAttributes(
			attribute.String("job_id", delivery.JobID.String()),
			attribute.String("job_type", delivery.JobType),
			attribute.String("tier", string(delivery.Tier)),
			attribute.Int("attempt", delivery.Attempt),
		),
	)
	defer span.End()

	jobType := jobs.ParseJobType(delivery.JobType)
	if jobType == "" {
		// Poison message; redelivery can never fix an unknown type.
		span.SetStatus(codes.Error, "unknown job type")
		logger.Error(ctx, "Dropping delivery with unknown job type")
		d.failUnhandled(ctx, logger, delivery.JobID, "unknown job type "+delivery.JobType)
		d.dropDelivery(ctx, span, delivery)
		return
	}

	handler, ok := d.registry.Resolve(jobType)
	if !ok {
		span.SetStatus(codes.Error, "no handler registered")
		logger.Error(ctx, "Dropping delivery with no registered handler")
		d.failUnhandled(ctx, logger, delivery.JobID, "no handler registered for "+delivery.JobType)
		d.dropDelivery(ctx, span, delivery)
		return
	}

	job, err := d.jobRepo.GetJob(ctx, delivery.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			span.AddEvent("job_row_missing")
			logger.Warn(ctx, "Dropping delivery for missing job")
			d.dropDelivery(ctx, span, delivery)
			return
		}
		// Transient store error; leave the message for redelivery.
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load job")
		logger.Error(ctx, "Failed to load job", "error", err)
		return
	}

	if job.Status() == jobs.JobStatusCancelled {
		span.AddEvent("job_cancelled")
		logger.Info(ctx, "Skipping cancelled job")
		d.dropDelivery(ctx, span, delivery)
		return
	}

	if err := job.Start(); err != nil {
		// DONE jobs land here when a duplicate delivery arrives after the
		// first one already succeeded.
		span.AddEvent("job_not_runnable", trace.WithAttributes(attribute.String("status", string(job.Status()))))
		logger.Info(ctx, "Skipping unrunnable job", "status", job.Status(), "reason", err)
		d.dropDelivery(ctx, span, delivery)
		return
	}
	if err := d.jobRepo.UpdateStatus(ctx, job.ID(), jobs.JobStatusRunning, ""); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark job running")
		logger.Error(ctx, "Failed to mark job running", "error", err)
		return
	}

	run := jobs.NewJobRun(job.ID(), delivery.Attempt)

	result, handlerErr := handler.Handle(ctx, job)
	if handlerErr != nil {
		d.recordFailure(ctx, span, logger, job, run, result, handlerErr)
		return
	}
	d.recordSuccess(ctx, span, logger, job, run, result, delivery)
}

// recordFailure persists the failed attempt and deliberately does not
// delete the message: the visibility timeout is the retry schedule.
func (d *Dispatcher) recordFailure(
	ctx context.Context,
	span trace.Span,
	logger *logger.Logger,
	job *jobs.Job,
	run *jobs.JobRun,
	result HandlerResult,
	cause error,
) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, "handler failed")
	logger.Error(ctx, "Job attempt failed", "error", cause)

	job.Fail(cause.Error())
	if err := d.jobRepo.UpdateStatus(ctx, job.ID(), jobs.JobStatusFailed, cause.Error()); err != nil {
		logger.Error(ctx, "Failed to record job failure", "error", err)
	}

	run.Finish(jobs.JobStatusFailed, result.Metrics, cause.Error())
	if err := d.jobRepo.RecordRun(ctx, run); err != nil {
		logger.Error(ctx, "Failed to record run", "error", err)
	}

	if d.metrics != nil {
		d.metrics.IncJobsFailed(ctx, string(job.JobType()))
	}
	d.publishLifecycle(ctx, logger, jobs.NewJobFailedEvent(job, run.Attempt(), cause.Error()))
}

func (d *Dispatcher) recordSuccess(
	ctx context.Context,
	span trace.Span,
	logger *logger.Logger,
	job *jobs.Job,
	run *jobs.JobRun,
	result HandlerResult,
	delivery queue.Delivery,
) {
	if err := job.Complete(result.Status); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid completion status")
		logger.Error(ctx, "Handler returned invalid completion status", "status", result.Status, "error", err)
		return
	}
	if err := d.jobRepo.UpdateStatus(ctx, job.ID(), job.Status(), ""); err != nil {
		// The attempt succeeded but the outcome is unrecorded; keep the
		// message so redelivery reconciles the row.
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to record job success")
		logger.Error(ctx, "Failed to record job success", "error", err)
		return
	}

	run.Finish(job.Status(), result.Metrics, "")
	if err := d.jobRepo.RecordRun(ctx, run); err != nil {
		logger.Error(ctx, "Failed to record run", "error", err)
	}

	d.deleteDelivery(ctx, span, delivery)

	span.AddEvent("job_completed", trace.WithAttributes(attribute.String("status", string(job.Status()))))
	span.SetStatus(codes.Ok, "job completed")
	logger.Info(ctx, "Job completed", "status", job.Status())

	if d.metrics != nil {
		d.metrics.IncJobsCompleted(ctx, string(job.JobType()))
	}
	d.publishLifecycle(ctx, logger, jobs.NewJobCompletedEvent(job, run.Attempt()))
}

// failUnhandled marks a job FAILED when its delivery can never reach a
// handler, so dropping the message does not strand the row in PENDING.
func (d *Dispatcher) failUnhandled(ctx context.Context, logger *logger.Logger, jobID uuid.UUID, reason string) {
	err := d.jobRepo.UpdateStatus(ctx, jobID, jobs.JobStatusFailed, reason)
	if err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
		logger.Error(ctx, "Failed to record unhandled job", "error", err)
	}
}

// dropDelivery deletes a message that will never run a handler.
func (d *Dispatcher) dropDelivery(ctx context.Context, span trace.Span, delivery queue.Delivery) {
	if d.metrics != nil {
		d.metrics.IncMessagesDropped(ctx, delivery.JobType)
	}
	d.deleteDelivery(ctx, span, delivery)
}

func (d *Dispatcher) deleteDelivery(ctx context.Context, span trace.Span, delivery queue.Delivery) {
	if err := d.consumer.Delete(ctx, delivery); err != nil {
		span.RecordError(err)
		d.logger.Error(ctx, "Failed to delete delivery", "job_id", delivery.JobID, "error", err)
	}
}

// publishLifecycle is best-effort; a lost lifecycle event never blocks the
// attempt outcome already recorded in the store.
func (d *Dispatcher) publishLifecycle(ctx context.Context, logger *logger.Logger, evt jobs.JobLifecycleEvent) {
	if d.eventBus == nil {
		return
	}
	if err := d.eventBus.PublishDomainEvent(ctx, evt, events.WithKey(evt.TenantID.String())); err != nil {
		logger.Error(ctx, "Failed to publish job lifecycle event", "error", err)
	}
}
