// Package handlers binds job types to the components that execute them.
// Each handler unmarshals its payload, delegates to an application service
// or port, and reports metrics through the dispatch result.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/croplens/croplens/internal/app/dispatch"
	"github.com/croplens/croplens/internal/domain/jobs"
)

// ProcessSummary is what a processing port reports back for JobRun metrics.
type ProcessSummary struct {
	ScenesFetched        int
	ObservationsWritten  int
	FallbackObservations int
}

// WeekProcessor produces weekly observations for one AOI-week. The raster
// math lives behind this port; implementations fetch scenes through the
// resilient provider chain and write observation rows.
type WeekProcessor interface {
	ProcessWeek(ctx context.Context, cmd jobs.WeekCommand) (ProcessSummary, error)
}

// RangeProcessor ingests range-scoped ancillary data (weather history,
// static terrain attributes).
type RangeProcessor interface {
	ProcessRange(ctx context.Context, cmd jobs.RangeCommand) (ProcessSummary, error)
}

// Forecaster produces an in-season forecast for one AOI-week.
type Forecaster interface {
	ForecastWeek(ctx context.Context, cmd jobs.WeekCommand) error
}

func decodeWeekCommand(job *jobs.Job) (jobs.WeekCommand, error) {
	var cmd jobs.WeekCommand
	if err := json.Unmarshal(job.Payload(), &cmd); err != nil {
		return cmd, fmt.Errorf("failed to decode %s payload: %w", job.JobType(), err)
	}
	return cmd, nil
}

func decodeRangeCommand(job *jobs.Job) (jobs.RangeCommand, error) {
	var cmd jobs.RangeCommand
	if err := json.Unmarshal(job.Payload(), &cmd); err != nil {
		return cmd, fmt.Errorf("failed to decode %s payload: %w", job.JobType(), err)
	}
	return cmd, nil
}

func summaryMetrics(summary ProcessSummary) map[string]any {
	return map[string]any{
		"scenes_fetched":        summary.ScenesFetched,
		"observations_written":  summary.ObservationsWritten,
		"fallback_observations": summary.FallbackObservations,
	}
}

// RegisterAll binds every known job type on the registry. Nil collaborators
// are skipped so a worker can run a subset of the pipeline.
func RegisterAll(
	registry *dispatch.HandlerRegistry,
	backfill *BackfillHandler,
	optical *ProcessWeekHandler,
	radar *ProcessWeekHandler,
	weather *ProcessRangeHandler,
	topography *ProcessRangeHandler,
	signals *SignalsWeekHandler,
	alerts *AlertsWeekHandler,
	forecast *ForecastWeekHandler,
) {
	if backfill != nil {
		registry.Register(jobs.JobTypeBackfill, backfill)
	}
	if optical != nil {
		registry.Register(jobs.JobTypeProcessWeek, optical)
	}
	if radar != nil {
		registry.Register(jobs.JobTypeProcessRadarWeek, radar)
	}
	if weather != nil {
		registry.Register(jobs.JobTypeProcessWeather, weather)
	}
	if topography != nil {
		registry.Register(jobs.JobTypeProcessTopography, topography)
	}
	if signals != nil {
		registry.Register(jobs.JobTypeSignalsWeek, signals)
	}
	if alerts != nil {
		registry.Register(jobs.JobTypeAlertsWeek, alerts)
	}
	if forecast != nil {
		registry.Register(jobs.JobTypeForecastWeek, forecast)
	}
}
