package jobs

import (
	"time"

	"github.com/google/uuid"
)

// BackfillCommand asks the planner to expand a date range into the job
// graph for one AOI. Validation happens synchronously at the submission
// boundary; an invalid command is never enqueued.
type BackfillCommand struct {
	TenantID        uuid.UUID `json:"tenant_id" validate:"required"`
	AOIID           uuid.UUID `json:"aoi_id" validate:"required"`
	FromDate        time.Time `json:"from_date" validate:"required"`
	ToDate          time.Time `json:"to_date" validate:"required"`
	PipelineVersion string    `json:"pipeline_version" validate:"required"`
	SignalsEnabled  bool      `json:"signals_enabled"`
	HasActiveSeason bool      `json:"has_active_season"`
}

// WeekCommand is the payload of every per-week job: one ISO week of work
// for one AOI under one pipeline version.
type WeekCommand struct {
	TenantID        uuid.UUID `json:"tenant_id"`
	AOIID           uuid.UUID `json:"aoi_id"`
	Year            int       `json:"year"`
	Week            int       `json:"week"`
	PipelineVersion string    `json:"pipeline_version"`
}

// RangeCommand is the payload of range-level jobs (weather, topography).
type RangeCommand struct {
	TenantID        uuid.UUID `json:"tenant_id"`
	AOIID           uuid.UUID `json:"aoi_id"`
	FromDate        time.Time `json:"from_date"`
	ToDate          time.Time `json:"to_date"`
	PipelineVersion string    `json:"pipeline_version"`
}
