package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/croplens/croplens/internal/app/dispatch"
	"github.com/croplens/croplens/internal/app/planner"
	"github.com/croplens/croplens/internal/domain/jobs"
)

// BackfillHandler executes BACKFILL jobs by running the planner. The
// planner's upserts are idempotent, so a redelivered BACKFILL job re-arms
// the same children instead of duplicating them.
type BackfillHandler struct {
	planner *planner.BackfillPlanner
}

var _ dispatch.Handler = (*BackfillHandler)(nil)

// NewBackfillHandler wires the handler to the planner.
func NewBackfillHandler(p *planner.BackfillPlanner) *BackfillHandler {
	return &BackfillHandler{planner: p}
}

func (h *BackfillHandler) Handle(ctx context.Context, job *jobs.Job) (dispatch.HandlerResult, error) {
	var cmd jobs.BackfillCommand
	if err := json.Unmarshal(job.Payload(), &cmd); err != nil {
		return dispatch.HandlerResult{}, fmt.Errorf("failed to decode backfill payload: %w", err)
	}

	summary, err := h.planner.Plan(ctx, cmd)
	if err != nil {
		return dispatch.HandlerResult{}, fmt.Errorf("failed to plan backfill: %w", err)
	}

	return dispatch.HandlerResult{
		Metrics: map[string]any{
			"weeks_processed": summary.WeeksProcessed,
			"jobs_planned":    summary.JobsPlanned,
			"jobs_inserted":   summary.JobsInserted,
			"jobs_rearmed":    summary.JobsRearmed,
		},
	}, nil
}
