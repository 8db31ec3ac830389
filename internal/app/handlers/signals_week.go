package handlers

import (
	"context"
	"fmt"

	appdetection "github.com/croplens/croplens/internal/app/detection"
	"github.com/croplens/croplens/internal/app/dispatch"
	"github.com/croplens/croplens/internal/domain/jobs"
)

// SignalsWeekHandler runs the signal engine for one AOI-week. Guard
// outcomes (insufficient history, no features, below threshold) are data
// conditions, not failures: the job still completes as DONE with the
// reason recorded in the run metrics.
type SignalsWeekHandler struct {
	engine *appdetection.SignalEngine
}

var _ dispatch.Handler = (*SignalsWeekHandler)(nil)

// NewSignalsWeekHandler wires the handler to the signal engine.
func NewSignalsWeekHandler(engine *appdetection.SignalEngine) *SignalsWeekHandler {
	return &SignalsWeekHandler{engine: engine}
}

func (h *SignalsWeekHandler) Handle(ctx context.Context, job *jobs.Job) (dispatch.HandlerResult, error) {
	cmd, err := decodeWeekCommand(job)
	if err != nil {
		return dispatch.HandlerResult{}, err
	}

	outcome, err := h.engine.Evaluate(ctx, cmd)
	if err != nil {
		return dispatch.HandlerResult{}, fmt.Errorf("failed to evaluate signals for %d-W%02d: %w", cmd.Year, cmd.Week, err)
	}

	metrics := map[string]any{
		"raised": outcome.Raised,
		"score":  outcome.Score,
	}
	if !outcome.Raised {
		metrics["reason"] = outcome.Reason
	} else {
		metrics["signal_type"] = outcome.Signal.Key.SignalType.String()
		metrics["inserted"] = outcome.Inserted
	}
	return dispatch.HandlerResult{Metrics: metrics}, nil
}
