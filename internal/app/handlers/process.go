package handlers

import (
	"context"
	"fmt"

	"github.com/croplens/croplens/internal/app/dispatch"
	"github.com/croplens/croplens/internal/domain/jobs"
)

// ProcessWeekHandler runs a week-scoped processing port. The same handler
// type serves PROCESS_WEEK and PROCESS_RADAR_WEEK with different processors
// behind it.
type ProcessWeekHandler struct {
	processor WeekProcessor
}

var _ dispatch.Handler = (*ProcessWeekHandler)(nil)

// NewProcessWeekHandler wires the handler to a week processor.
func NewProcessWeekHandler(processor WeekProcessor) *ProcessWeekHandler {
	return &ProcessWeekHandler{processor: processor}
}

func (h *ProcessWeekHandler) Handle(ctx context.Context, job *jobs.Job) (dispatch.HandlerResult, error) {
	cmd, err := decodeWeekCommand(job)
	if err != nil {
		return dispatch.HandlerResult{}, err
	}

	summary, err := h.processor.ProcessWeek(ctx, cmd)
	if err != nil {
		return dispatch.HandlerResult{}, fmt.Errorf("failed to process week %d-W%02d: %w", cmd.Year, cmd.Week, err)
	}
	return dispatch.HandlerResult{Metrics: summaryMetrics(summary)}, nil
}

// ProcessRangeHandler runs a range-scoped processing port; it serves
// PROCESS_WEATHER and PROCESS_TOPOGRAPHY.
type ProcessRangeHandler struct {
	processor RangeProcessor
}

var _ dispatch.Handler = (*ProcessRangeHandler)(nil)

// NewProcessRangeHandler wires the handler to a range processor.
func NewProcessRangeHandler(processor RangeProcessor) *ProcessRangeHandler {
	return &ProcessRangeHandler{processor: processor}
}

func (h *ProcessRangeHandler) Handle(ctx context.Context, job *jobs.Job) (dispatch.HandlerResult, error) {
	cmd, err := decodeRangeCommand(job)
	if err != nil {
		return dispatch.HandlerResult{}, err
	}

	summary, err := h.processor.ProcessRange(ctx, cmd)
	if err != nil {
		return dispatch.HandlerResult{}, fmt.Errorf("failed to process range: %w", err)
	}
	return dispatch.HandlerResult{Metrics: summaryMetrics(summary)}, nil
}

// ForecastWeekHandler delegates FORECAST_WEEK jobs to the forecaster port.
type ForecastWeekHandler struct {
	forecaster Forecaster
}

var _ dispatch.Handler = (*ForecastWeekHandler)(nil)

// NewForecastWeekHandler wires the handler to a forecaster.
func NewForecastWeekHandler(forecaster Forecaster) *ForecastWeekHandler {
	return &ForecastWeekHandler{forecaster: forecaster}
}

func (h *ForecastWeekHandler) Handle(ctx context.Context, job *jobs.Job) (dispatch.HandlerResult, error) {
	cmd, err := decodeWeekCommand(job)
	if err != nil {
		return dispatch.HandlerResult{}, err
	}

	if err := h.forecaster.ForecastWeek(ctx, cmd); err != nil {
		return dispatch.HandlerResult{}, fmt.Errorf("failed to forecast week %d-W%02d: %w", cmd.Year, cmd.Week, err)
	}
	return dispatch.HandlerResult{}, nil
}
