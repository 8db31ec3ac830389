// Package observations holds the weekly observation read model consumed by
// the detection engines. Observations are produced exactly once per key by
// the upstream raster pipeline; this core only ever reads them.
package observations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status marks whether a week produced usable statistics.
type Status string

const (
	StatusOK     Status = "OK"
	StatusNoData Status = "NO_DATA"
)

// ErrObservationNotFound indicates no row exists for the requested week.
var ErrObservationNotFound = errors.New("observation not found")

// Observation is one AOI-week of vegetation index statistics, keyed by
// (tenant, aoi, year, iso week, pipeline version). Including the pipeline
// version in the key lets a new algorithm reprocess history without
// destroying prior results.
type Observation struct {
	TenantID        uuid.UUID
	AOIID           uuid.UUID
	Year            int
	Week            int
	PipelineVersion string

	Status     Status
	MeanIndex  float64
	P10Index   float64
	P90Index   float64
	StdIndex   float64
	ValidRatio float64 // fraction of usable pixels in the scene
	Baseline   float64
	Anomaly    float64 // observed minus baseline

	// Fallback is set when the scene was found outside the exact week window.
	Fallback  bool
	CreatedAt time.Time
}

// WeekStart returns the Monday of the observation's ISO week in UTC.
func (o Observation) WeekStart() time.Time {
	// Jan 4 is always in ISO week 1.
	jan4 := time.Date(o.Year, time.January, 4, 0, 0, 0, 0, time.UTC)
	monday := jan4.AddDate(0, 0, -(int(jan4.Weekday())+6)%7)
	return monday.AddDate(0, 0, (o.Week-1)*7)
}

// ReadRepository is the read-only port the detection engines consume.
type ReadRepository interface {
	// ListRecentOK returns up to limit most recent OK-status observations
	// for the AOI under the pipeline version, in ascending week order.
	ListRecentOK(ctx context.Context, tenantID, aoiID uuid.UUID, pipelineVersion string, limit int) ([]Observation, error)

	// GetWeek returns the observation for an exact week, regardless of status.
	GetWeek(ctx context.Context, tenantID, aoiID uuid.UUID, year, week int, pipelineVersion string) (Observation, error)

	// GetPreviousWeek returns the observation for the ISO week immediately
	// before the given week; a gap week yields ErrObservationNotFound so
	// week-over-week comparisons never span a hole in the series.
	GetPreviousWeek(ctx context.Context, tenantID, aoiID uuid.UUID, year, week int, pipelineVersion string) (Observation, error)

	// CountRecentAnomalies counts observations in the trailing weeks window
	// (ending at the given week, inclusive) whose anomaly is below floor.
	CountRecentAnomalies(ctx context.Context, tenantID, aoiID uuid.UUID, year, week, weeks int, floor float64, pipelineVersion string) (int, error)
}
