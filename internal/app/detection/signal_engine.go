package detection

import (
	"context"
	"encoding/json"
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

// Terminal no-signal reasons. They are outcomes, not errors: the job that
// produced them still completes as DONE.
const (
	ReasonInsufficientHistory = "insufficient_history"
	ReasonNoFeatures          = "no_features"
	ReasonBelowThreshold      = "below_threshold"
)

// SignalEngineConfig carries the detection knobs. It is immutable after
// construction; tests vary it per case without shared state.
type SignalEngineConfig struct {
	// MinHistoryWeeks is the shortest window detection will run on.
	MinHistoryWeeks int

	// HistoryMargin is how many extra weeks beyond the minimum to load.
	HistoryMargin int

	// ScoreThreshold is the composite score below which no signal is written.
	ScoreThreshold float64

	// Strategy selects the change detection algorithm by name.
	Strategy string

	// PersistenceWeeks is the run length the persistence-weighted strategy
	// requires before flagging a change.
	PersistenceWeeks int

	// PipelineVersion tags every signal this engine writes.
	PipelineVersion string
}

// SignalOutcome is the result of one evaluation. Raised is false for the
// three guard reasons; the signal and upsert disposition are set otherwise.
type SignalOutcome struct {
	Raised   bool
	Reason   string
	Score    float64
	Signal   *detection.Signal
	Inserted bool
}

// signalEvidence is the persisted audit trail of one evaluation.
type signalEvidence struct {
	Change      detection.ChangeDescriptor `json:"change"`
	RuleScore   float64                    `json:"rule_score"`
	ChangeScore float64                    `json:"change_score"`
	ModelScore  float64                    `json:"model_score"`
	FinalScore  float64                    `json:"final_score"`
	WindowWeeks int                        `json:"window_weeks"`
	LatestMean  float64                    `json:"latest_mean"`
	LandUse     tenants.LandUse            `json:"land_use"`
}

// SignalEngine scores multi-week observation windows and persists the
// resulting opportunity signals. Re-evaluating the same AOI-week refreshes
// the open signal in place, so at-least-once job redelivery is safe.
type SignalEngine struct {
	cfg        SignalEngineConfig
	obsRepo    observations.ReadRepository
	tenantRepo tenants.Repository
	signalRepo detection.SignalRepository
	detector   detection.ChangeDetector
	eventBus   events.DomainEventPublisher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewSignalEngine wires the engine with the strategy named in the config.
func NewSignalEngine(
	cfg SignalEngineConfig,
	obsRepo observations.ReadRepository,
	tenantRepo tenants.Repository,
	signalRepo detection.SignalRepository,
	eventBus events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *SignalEngine {
	return &SignalEngine{
		cfg:        cfg,
		obsRepo:    obsRepo,
		tenantRepo: tenantRepo,
		signalRepo: signalRepo,
		detector:   NewDetector(cfg.Strategy, cfg.PersistenceWeeks),
		eventBus:   eventBus,
		logger:     logger.With("component", "signal_engine"),
		tracer:     tracer,
	}
}

// Evaluate runs detection for one AOI-week.
func (e *SignalEngine) Evaluate(ctx context.Context, cmd jobs.WeekCommand) (SignalOutcome, error) {
	logger := e.logger.With(
		"operation", "evaluate",
		"tenant_id", cmd.TenantID,
		"aoi_id", cmd.AOIID,
		"year", cmd.Year,
		"week", cmd.Week,
	)
	ctx, span := e.tracer.Start(ctx, "signal_engine.evaluate",
		trace.WithAttributes(
			attribute.String("tenant_id", cmd.TenantID.String()),
			attribute.String("aoi_id", cmd.AOIID.String()),
			attribute.Int("year", cmd.Year),
			attribute.Int("week", cmd.Week),
		),
	)
	defer span.End()

	aoi, err := e.tenantRepo.GetAOI(ctx, cmd.AOIID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load aoi")
		return SignalOutcome{}, fmt.Errorf("failed to load aoi %s: %w", cmd.AOIID, err)
	}

	window, err := e.obsRepo.ListRecentOK(ctx, cmd.TenantID, cmd.AOIID, e.cfg.PipelineVersion,
		e.cfg.MinHistoryWeeks+e.cfg.HistoryMargin)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load observation window")
		return SignalOutcome{}, fmt.Errorf("failed to load observation window: %w", err)
	}
	span.SetAttributes(attribute.Int("window_weeks", len(window)))

	if len(window) < e.cfg.MinHistoryWeeks {
		span.AddEvent("no_signal", trace.WithAttributes(attribute.String("reason", ReasonInsufficientHistory)))
		span.SetStatus(codes.Ok, "insufficient history")
		logger.Info(ctx, "No signal", "reason", ReasonInsufficientHistory, "window_weeks", len(window))
		return SignalOutcome{Reason: ReasonInsufficientHistory}, nil
	}

	features, ok := extractFeatures(window)
	if !ok {
		span.AddEvent("no_signal", trace.WithAttributes(attribute.String("reason", ReasonNoFeatures)))
		span.SetStatus(codes.Ok, "no features")
		logger.Info(ctx, "No signal", "reason", ReasonNoFeatures)
		return SignalOutcome{Reason: ReasonNoFeatures}, nil
	}

	change := e.detector.Detect(window)

	rule := ruleScore(aoi.LandUse, features)
	chg := changeScore(change)
	model := modelScore(features)
	score := compositeScore(rule, chg, model)
	span.SetAttributes(attribute.Float64("score", score))

	if score < e.cfg.ScoreThreshold {
		span.AddEvent("no_signal", trace.WithAttributes(
			attribute.String("reason", ReasonBelowThreshold),
			attribute.Float64("score", score),
		))
		span.SetStatus(codes.Ok, "below threshold")
		logger.Info(ctx, "No signal", "reason", ReasonBelowThreshold, "score", score)
		return SignalOutcome{Reason: ReasonBelowThreshold, Score: score}, nil
	}

	signalType := classifySignal(features, change)
	evidence := signalEvidence{
		Change:      change,
		RuleScore:   rule,
		ChangeScore: chg,
		ModelScore:  model,
		FinalScore:  score,
		WindowWeeks: len(window),
		LatestMean:  window[len(window)-1].MeanIndex,
		LandUse:     aoi.LandUse,
	}
	signal, err := e.buildSignal(cmd, signalType, score, features, evidence)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build signal")
		return SignalOutcome{}, err
	}

	inserted, err := e.signalRepo.UpsertOpen(ctx, signal)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upsert signal")
		return SignalOutcome{}, fmt.Errorf("failed to upsert signal: %w", err)
	}

	if e.eventBus != nil {
		evt := detection.NewSignalRaisedEvent(signal, inserted)
		if err := e.eventBus.PublishDomainEvent(ctx, evt, events.WithKey(cmd.TenantID.String())); err != nil {
			logger.Error(ctx, "Failed to publish signal raised event", "error", err)
		}
	}

	span.AddEvent("signal_raised", trace.WithAttributes(
		attribute.String("signal_type", signalType.String()),
		attribute.Bool("inserted", inserted),
	))
	span.SetStatus(codes.Ok, "signal raised")
	logger.Info(ctx, "Signal raised",
		"signal_type", signalType,
		"score", score,
		"severity", signal.Severity,
		"confidence", signal.Confidence,
		"inserted", inserted,
	)

	return SignalOutcome{Raised: true, Score: score, Signal: signal, Inserted: inserted}, nil
}

func (e *SignalEngine) buildSignal(
	cmd jobs.WeekCommand,
	signalType detection.SignalType,
	score float64,
	features Features,
	evidence signalEvidence,
) (*detection.Signal, error) {
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence: %w", err)
	}
	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal features: %w", err)
	}

	return &detection.Signal{
		ID: uuid.New(),
		Key: detection.SignalKey{
			TenantID:        cmd.TenantID,
			AOIID:           cmd.AOIID,
			Year:            cmd.Year,
			Week:            cmd.Week,
			PipelineVersion: e.cfg.PipelineVersion,
			SignalType:      signalType,
		},
		Severity:   severityFromScore(score),
		Confidence: confidenceFrom(score, features, e.cfg.MinHistoryWeeks),
		Score:      score,
		Evidence:   evidenceJSON,
		Features:   featuresJSON,
		Actions:    actionsFor(signalType),
		Status:     detection.SignalStatusOpen,
	}, nil
}

// classifySignal picks the signal category from the trend evidence.
// Declines split on whether the drop is already deep or just starting;
// improvements split on whether the AOI is still below its baseline.
func classifySignal(features Features, change detection.ChangeDescriptor) detection.SignalType {
	declining := change.Direction == detection.ChangeDirectionDecline ||
		(!change.Detected && features.Slope < 0)

	if declining {
		if features.BaselineDelta < -0.05 && change.Magnitude >= 0.15 {
			return detection.SignalTypeVigorDecline
		}
		return detection.SignalTypeStressEmerging
	}
	if features.BaselineDelta < 0 {
		return detection.SignalTypeRecoveryCandidate
	}
	return detection.SignalTypeYieldOpportunity
}

func severityFromScore(score float64) detection.Severity {
	switch {
	case score >= 0.80:
		return detection.SeverityHigh
	case score >= 0.65:
		return detection.SeverityMedium
	default:
		return detection.SeverityLow
	}
}

// confidenceFrom grades the evidence quality: confidence rises with the
// score, the scene validity across the window, and the window length.
func confidenceFrom(score float64, features Features, minHistoryWeeks int) detection.Confidence {
	if score >= 0.70 && features.MeanValidRatio >= 0.80 && features.WindowWeeks >= minHistoryWeeks+2 {
		return detection.ConfidenceHigh
	}
	if features.MeanValidRatio >= 0.50 && features.WindowWeeks >= minHistoryWeeks {
		return detection.ConfidenceMedium
	}
	return detection.ConfidenceLow
}
