package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/croplens/croplens/internal/domain/detection"
	"github.com/croplens/croplens/internal/domain/events"
	"github.com/croplens/croplens/internal/domain/jobs"
	"github.com/croplens/croplens/internal/domain/observations"
	"github.com/croplens/croplens/internal/domain/tenants"
	"github.com/croplens/croplens/pkg/common/logger"
)

// Alert rule thresholds. These are product constants, not tenant knobs;
// the only tenant-level input is the minimum validity ratio.
const (
	lowNDVIFloor       = 0.30
	severeNDVIFloor    = 0.20
	rapidDeclineDelta  = 0.15
	anomalyFloor       = -0.05
	anomalyWindowWeeks = 3
	anomalyMinCount    = 3
)

// AlertEngineConfig carries the evaluation context shared by every rule.
type AlertEngineConfig struct {
	PipelineVersion string
}

// alertCandidate is one rule's verdict before persistence.
type alertCandidate struct {
	alertType  detection.AlertType
	severity   detection.Severity
	confidence detection.Confidence
	evidence   any
}

// AlertSummary reports which alert types one evaluation raised.
type AlertSummary struct {
	Raised []detection.AlertType
}

// AlertEngine evaluates the four threshold rules for one AOI-week. Rules
// are independent; each candidate is upserted by its own dedup key, so a
// re-run refreshes the active alerts instead of duplicating them.
type AlertEngine struct {
	cfg        AlertEngineConfig
	obsRepo    observations.ReadRepository
	tenantRepo tenants.Repository
	alertRepo  detection.AlertRepository
	eventBus   events.DomainEventPublisher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewAlertEngine wires the rule engine to its read and write ports.
func NewAlertEngine(
	cfg AlertEngineConfig,
	obsRepo observations.ReadRepository,
	tenantRepo tenants.Repository,
	alertRepo detection.AlertRepository,
	eventBus events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *AlertEngine {
	return &AlertEngine{
		cfg:        cfg,
		obsRepo:    obsRepo,
		tenantRepo: tenantRepo,
		alertRepo:  alertRepo,
		eventBus:   eventBus,
		logger:     logger.With("component", "alert_engine"),
		tracer:     tracer,
	}
}

// Evaluate runs all rules for one AOI-week and persists the candidates.
func (e *AlertEngine) Evaluate(ctx context.Context, cmd jobs.WeekCommand) (AlertSummary, error) {
	logger := e.logger.With(
		"operation", "evaluate",
		"tenant_id", cmd.TenantID,
		"aoi_id", cmd.AOIID,
		"year", cmd.Year,
		"week", cmd.Week,
	)
	ctx, span := e.tracer.Start(ctx, "alert_engine.evaluate",
		trace.WithAttributes(
			attribute.String("tenant_id", cmd.TenantID.String()),
			attribute.String("aoi_id", cmd.AOIID.String()),
			attribute.Int("year", cmd.Year),
			attribute.Int("week", cmd.Week),
		),
	)
	defer span.End()

	settings, err := e.tenantRepo.GetSettings(ctx, cmd.TenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load tenant settings")
		return AlertSummary{}, fmt.Errorf("failed to load tenant settings: %w", err)
	}

	candidates, err := e.collectCandidates(ctx, cmd, settings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to evaluate alert rules")
		return AlertSummary{}, err
	}

	var summary AlertSummary
	for _, candidate := range candidates {
		alert, err := e.buildAlert(cmd, candidate)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to build alert")
			return summary, err
		}

		inserted, err := e.alertRepo.UpsertActive(ctx, alert)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to upsert alert")
			return summary, fmt.Errorf("failed to upsert %s alert: %w", candidate.alertType, err)
		}
		summary.Raised = append(summary.Raised, candidate.alertType)

		if e.eventBus != nil {
			evt := detection.NewAlertRaisedEvent(alert, inserted)
			if err := e.eventBus.PublishDomainEvent(ctx, evt, events.WithKey(cmd.TenantID.String())); err != nil {
				logger.Error(ctx, "Failed to publish alert raised event", "error", err)
			}
		}
	}

	span.AddEvent("alerts_evaluated", trace.WithAttributes(attribute.Int("raised", len(summary.Raised))))
	span.SetStatus(codes.Ok, "alerts evaluated")
	logger.Info(ctx, "Alerts evaluated", "raised", len(summary.Raised))
	return summary, nil
}

// collectCandidates evaluates each rule against the week's evidence.
// LOW_NDVI and RAPID_DECLINE need a usable current mean, so they only run
// on OK weeks; NO_DATA and PERSISTENT_ANOMALY run regardless.
func (e *AlertEngine) collectCandidates(
	ctx context.Context,
	cmd jobs.WeekCommand,
	settings tenants.Settings,
) ([]alertCandidate, error) {
	var candidates []alertCandidate

	current, err := e.obsRepo.GetWeek(ctx, cmd.TenantID, cmd.AOIID, cmd.Year, cmd.Week, e.cfg.PipelineVersion)
	missing := errors.Is(err, observations.ErrObservationNotFound)
	if err != nil && !missing {
		return nil, fmt.Errorf("failed to load current observation: %w", err)
	}

	noData := missing || current.Status == observations.StatusNoData || current.ValidRatio < settings.MinValidPixelRatio
	if noData {
		candidates = append(candidates, alertCandidate{
			alertType:  detection.AlertTypeNoData,
			severity:   detection.SeverityLow,
			confidence: detection.ConfidenceHigh,
			evidence: map[string]any{
				"missing":         missing,
				"status":          current.Status,
				"valid_ratio":     current.ValidRatio,
				"min_valid_ratio": settings.MinValidPixelRatio,
			},
		})
	}

	currentUsable := !missing && current.Status == observations.StatusOK
	if currentUsable && current.MeanIndex < lowNDVIFloor {
		severity := detection.SeverityMedium
		if current.MeanIndex < severeNDVIFloor {
			severity = detection.SeverityHigh
		}
		candidates = append(candidates, alertCandidate{
			alertType:  detection.AlertTypeLowNDVI,
			severity:   severity,
			confidence: detection.ConfidenceMedium,
			evidence: map[string]any{
				"mean_index": current.MeanIndex,
				"floor":      lowNDVIFloor,
			},
		})
	}

	if currentUsable {
		previous, err := e.obsRepo.GetPreviousWeek(ctx, cmd.TenantID, cmd.AOIID, cmd.Year, cmd.Week, e.cfg.PipelineVersion)
		switch {
		case errors.Is(err, observations.ErrObservationNotFound):
			// No comparable prior week; the rule cannot fire.
		case err != nil:
			return nil, fmt.Errorf("failed to load previous observation: %w", err)
		case previous.Status == observations.StatusOK && previous.MeanIndex-current.MeanIndex > rapidDeclineDelta:
			candidates = append(candidates, alertCandidate{
				alertType:  detection.AlertTypeRapidDecline,
				severity:   detection.SeverityHigh,
				confidence: detection.ConfidenceMedium,
				evidence: map[string]any{
					"previous_mean": previous.MeanIndex,
					"current_mean":  current.MeanIndex,
					"delta":         previous.MeanIndex - current.MeanIndex,
					"threshold":     rapidDeclineDelta,
				},
			})
		}
	}

	anomalous, err := e.obsRepo.CountRecentAnomalies(ctx, cmd.TenantID, cmd.AOIID,
		cmd.Year, cmd.Week, anomalyWindowWeeks, anomalyFloor, e.cfg.PipelineVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent anomalies: %w", err)
	}
	if anomalous >= anomalyMinCount {
		candidates = append(candidates, alertCandidate{
			alertType:  detection.AlertTypePersistentAnomaly,
			severity:   detection.SeverityMedium,
			confidence: detection.ConfidenceHigh,
			evidence: map[string]any{
				"anomalous_weeks": anomalous,
				"window_weeks":    anomalyWindowWeeks,
				"anomaly_floor":   anomalyFloor,
			},
		})
	}

	return candidates, nil
}

func (e *AlertEngine) buildAlert(cmd jobs.WeekCommand, candidate alertCandidate) (*detection.Alert, error) {
	evidenceJSON, err := json.Marshal(candidate.evidence)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s evidence: %w", candidate.alertType, err)
	}
	return &detection.Alert{
		ID: uuid.New(),
		Key: detection.AlertKey{
			TenantID:  cmd.TenantID,
			AOIID:     cmd.AOIID,
			Year:      cmd.Year,
			Week:      cmd.Week,
			AlertType: candidate.alertType,
		},
		Severity:   candidate.severity,
		Confidence: candidate.confidence,
		Evidence:   evidenceJSON,
		Status:     detection.AlertStatusOpen,
	}, nil
}
