package handlers

import (
	"context"
	"fmt"

	appdetection "github.com/croplens/croplens/internal/app/detection"
	"github.com/croplens/croplens/internal/app/dispatch"
	"github.com/croplens/croplens/internal/domain/jobs"
)

// AlertsWeekHandler runs the alert rule engine for one AOI-week. A week
// that raises no alerts is still a successful run.
type AlertsWeekHandler struct {
	engine *appdetection.AlertEngine
}

var _ dispatch.Handler = (*AlertsWeekHandler)(nil)

// NewAlertsWeekHandler wires the handler to the alert engine.
func NewAlertsWeekHandler(engine *appdetection.AlertEngine) *AlertsWeekHandler {
	return &AlertsWeekHandler{engine: engine}
}

func (h *AlertsWeekHandler) Handle(ctx context.Context, job *jobs.Job) (dispatch.HandlerResult, error) {
	cmd, err := decodeWeekCommand(job)
	if err != nil {
		return dispatch.HandlerResult{}, err
	}

	summary, err := h.engine.Evaluate(ctx, cmd)
	if err != nil {
		return dispatch.HandlerResult{}, fmt.Errorf("failed to evaluate alerts for %d-W%02d: %w", cmd.Year, cmd.Week, err)
	}

	raised := make([]string, len(summary.Raised))
	for i, alertType := range summary.Raised {
		raised[i] = alertType.String()
	}
	return dispatch.HandlerResult{
		Metrics: map[string]any{
			"alerts_raised": len(summary.Raised),
			"alert_types":   raised,
		},
	}, nil
}
