// Package planner expands backfill requests into the idempotent per-week
// and range-level job graph and hands the resulting work to the queue.
package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/croplens/croplens/internal/domain/jobs"
	"github.com/croplens/croplens/internal/domain/queue"
	"github.com/croplens/croplens/pkg/common/logger"
)

// Summary reports what one planning invocation did. Inserted and re-armed
// jobs are counted separately: an upsert always returns a row, so "planned"
// alone would conflate new work with existing work reset to PENDING.
type Summary struct {
	WeeksProcessed int
	JobsPlanned    int
	JobsInserted   int
	JobsRearmed    int
}

// BackfillPlanner expands a date range into the fixed job graph: two
// range-level jobs per invocation plus up to five jobs per intersecting ISO
// week. Planning is synchronous and idempotent; execution of the planned
// children is asynchronous through the queue.
type BackfillPlanner struct {
	jobRepo   jobs.JobRepository
	publisher queue.Publisher
	validate  *validator.Validate

	logger *logger.Logger
	tracer trace.Tracer
}

// NewBackfillPlanner returns a planner wired to the job store and queue.
func NewBackfillPlanner(
	jobRepo jobs.JobRepository,
	publisher queue.Publisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *BackfillPlanner {
	logger = logger.With("component", "backfill_planner")
	return &BackfillPlanner{
		jobRepo:   jobRepo,
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
		tracer:    tracer,
	}
}

// plannedJob is one node of the job graph before persistence.
type plannedJob struct {
	jobType jobs.JobType
	bucket  jobs.TimeBucket
	payload any
}

// Plan validates the command, enumerates the intersecting ISO weeks, and
// upserts-then-publishes every job in the graph. Re-invoking with identical
// arguments yields the same job keys and re-arms existing rows back to
// PENDING; "please reprocess this range" is the intended effect of a
// repeated call.
func (p *BackfillPlanner) Plan(ctx context.Context, cmd jobs.BackfillCommand) (Summary, error) {
	logger := p.logger.With("operation", "plan", "tenant_id", cmd.TenantID, "aoi_id", cmd.AOIID)
	ctx, span := p.tracer.Start(ctx, "backfill_planner.plan",
		trace.WithAttributes(
			attribute.String("tenant_id", cmd.TenantID.String()),
			attribute.String("aoi_id", cmd.AOIID.String()),
			attribute.String("from_date", cmd.FromDate.Format("2006-01-02")),
			attribute.String("to_date", cmd.ToDate.Format("2006-01-02")),
			attribute.String("pipeline_version", cmd.PipelineVersion),
		),
	)
	defer span.End()

	if err := p.validate.Struct(cmd); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid backfill command")
		return Summary{}, fmt.Errorf("invalid backfill command: %w", err)
	}

	weeks := enumerateISOWeeks(cmd.FromDate, cmd.ToDate)
	span.SetAttributes(attribute.Int("weeks", len(weeks)))

	graph := p.buildGraph(cmd, weeks)

	var summary Summary
	summary.WeeksProcessed = len(weeks)

	for _, planned := range graph {
		payload, err := json.Marshal(planned.payload)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to marshal job payload")
			return summary, fmt.Errorf("failed to marshal %s payload: %w", planned.jobType, err)
		}

		aoiID := cmd.AOIID
		jobKey := jobs.Key(cmd.TenantID, aoiID, planned.bucket, planned.jobType, cmd.PipelineVersion)

		res, err := p.jobRepo.Upsert(ctx, jobs.UpsertJobParams{
			TenantID: cmd.TenantID,
			AOIID:    aoiID,
			JobType:  planned.jobType,
			JobKey:   jobKey,
			Payload:  payload,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to upsert job")
			return summary, fmt.Errorf("failed to upsert %s job: %w", planned.jobType, err)
		}

		if err := p.publisher.Publish(ctx, queue.TierDefault, queue.Message{
			JobID:   res.JobID,
			JobType: planned.jobType.String(),
			Payload: payload,
		}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to publish job")
			return summary, fmt.Errorf("failed to publish %s job (job_id: %s): %w", planned.jobType, res.JobID, err)
		}

		summary.JobsPlanned++
		if res.Inserted {
			summary.JobsInserted++
		} else {
			summary.JobsRearmed++
		}
	}

	span.AddEvent("jobs_planned", trace.WithAttributes(
		attribute.Int("planned", summary.JobsPlanned),
		attribute.Int("inserted", summary.JobsInserted),
		attribute.Int("rearmed", summary.JobsRearmed),
	))
	span.SetStatus(codes.Ok, "backfill planned")
	logger.Info(ctx, "Backfill planned",
		"weeks", summary.WeeksProcessed,
		"planned", summary.JobsPlanned,
		"inserted", summary.JobsInserted,
		"rearmed", summary.JobsRearmed,
	)

	return summary, nil
}

// buildGraph lays out the fixed job graph for one invocation: the two
// range-level jobs are unconditional, the per-week set depends on the
// tenant's signals flag and the AOI's season flag.
func (p *BackfillPlanner) buildGraph(cmd jobs.BackfillCommand, weeks []isoWeek) []plannedJob {
	rangePayload := jobs.RangeCommand{
		TenantID:        cmd.TenantID,
		AOIID:           cmd.AOIID,
		FromDate:        truncateToDate(cmd.FromDate),
		ToDate:          truncateToDate(cmd.ToDate),
		PipelineVersion: cmd.PipelineVersion,
	}

	graph := []plannedJob{
		{
			jobType: jobs.JobTypeProcessWeather,
			bucket:  jobs.RangeBucket{From: cmd.FromDate, To: cmd.ToDate},
			payload: rangePayload,
		},
		{
			// Terrain is static; the key covers the AOI alone so repeated
			// backfills over different ranges share one topography job.
			jobType: jobs.JobTypeProcessTopography,
			bucket:  jobs.StaticBucket{},
			payload: rangePayload,
		},
	}

	for _, week := range weeks {
		weekPayload := jobs.WeekCommand{
			TenantID:        cmd.TenantID,
			AOIID:           cmd.AOIID,
			Year:            week.Year,
			Week:            week.Week,
			PipelineVersion: cmd.PipelineVersion,
		}
		bucket := jobs.WeekBucket{Year: week.Year, Week: week.Week}

		graph = append(graph,
			plannedJob{jobType: jobs.JobTypeProcessWeek, bucket: bucket, payload: weekPayload},
			plannedJob{jobType: jobs.JobTypeProcessRadarWeek, bucket: bucket, payload: weekPayload},
			plannedJob{jobType: jobs.JobTypeAlertsWeek, bucket: bucket, payload: weekPayload},
		)
		if cmd.SignalsEnabled {
			graph = append(graph, plannedJob{jobType: jobs.JobTypeSignalsWeek, bucket: bucket, payload: weekPayload})
		}
		if cmd.HasActiveSeason {
			graph = append(graph, plannedJob{jobType: jobs.JobTypeForecastWeek, bucket: bucket, payload: weekPayload})
		}
	}

	return graph
}
