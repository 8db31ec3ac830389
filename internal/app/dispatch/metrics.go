package dispatch

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/croplens/croplens/internal/domain/queue"
)

// DispatchMetrics counts queue consumption and job outcomes.
type DispatchMetrics interface {
	AddMessagesReceived(ctx context.Context, tier queue.Tier, count int)
	IncMessagesDropped(ctx context.Context, jobType string)
	IncJobsCompleted(ctx context.Context, jobType string)
	IncJobsFailed(ctx context.Context, jobType string)
}

type dispatchMetrics struct {
	messagesReceived metric.Int64Counter
	messagesDropped  metric.Int64Counter
	jobsCompleted    metric.Int64Counter
	jobsFailed       metric.Int64Counter
}

var _ DispatchMetrics = (*dispatchMetrics)(nil)

const namespace = "worker"

// NewDispatchMetrics registers the dispatch counters on the meter provider.
func NewDispatchMetrics(mp metric.MeterProvider) (*dispatchMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(dispatchMetrics)
	var err error

	if m.messagesReceived, err = meter.Int64Counter(
		"messages_received_total",
		metric.WithDescription("Total number of queue deliveries received"),
	); err != nil {
		return nil, err
	}

	if m.messagesDropped, err = meter.Int64Counter(
		"messages_dropped_total",
		metric.WithDescription("Total number of deliveries dropped without running a handler"),
	); err != nil {
		return nil, err
	}

	if m.jobsCompleted, err = meter.Int64Counter(
		"jobs_completed_total",
		metric.WithDescription("Total number of job attempts that completed"),
	); err != nil {
		return nil, err
	}

	if m.jobsFailed, err = meter.Int64Counter(
		"jobs_failed_total",
		metric.WithDescription("Total number of job attempts that failed"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *dispatchMetrics) AddMessagesReceived(ctx context.Context, tier queue.Tier, count int) {
	m.messagesReceived.Add(ctx, int64(count),
		metric.WithAttributes(attribute.String("tier", string(tier))))
}

func (m *dispatchMetrics) IncMessagesDropped(ctx context.Context, jobType string) {
	m.messagesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("job_type", jobType)))
}

func (m *dispatchMetrics) IncJobsCompleted(ctx context.Context, jobType string) {
	m.jobsCompleted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("job_type", jobType)))
}

func (m *dispatchMetrics) IncJobsFailed(ctx context.Context, jobType string) {
	m.jobsFailed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("job_type", jobType)))
}
