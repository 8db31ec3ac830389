package detection

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/croplens/croplens/internal/domain/detection"
	"github.com/croplens/croplens/internal/domain/events"
	"github.com/croplens/croplens/internal/domain/jobs"
	"github.com/croplens/croplens/internal/domain/observations"
	"github.com/croplens/croplens/internal/domain/tenants"
	"github.com/croplens/croplens/pkg/common/logger"
)

type fakeObservationRepo struct {
	window    []observations.Observation
	current   observations.Observation
	currErr   error
	previous  observations.Observation
	prevErr   error
	anomalous int
}

func (r *fakeObservationRepo) ListRecentOK(_ context.Context, _, _ uuid.UUID, _ string, limit int) ([]observations.Observation, error) {
	if len(r.window) > limit {
		return r.window[len(r.window)-limit:], nil
	}
	return r.window, nil
}

func (r *fakeObservationRepo) GetWeek(context.Context, uuid.UUID, uuid.UUID, int, int, string) (observations.Observation, error) {
	return r.current, r.currErr
}

func (r *fakeObservationRepo) GetPreviousWeek(context.Context, uuid.UUID, uuid.UUID, int, int, string) (observations.Observation, error) {
	return r.previous, r.prevErr
}

func (r *fakeObservationRepo) CountRecentAnomalies(context.Context, uuid.UUID, uuid.UUID, int, int, int, float64, string) (int, error) {
	return r.anomalous, nil
}

type fakeTenantRepo struct {
	settings tenants.Settings
	aoi      tenants.AOI
}

func (r *fakeTenantRepo) GetSettings(context.Context, uuid.UUID) (tenants.Settings, error) {
	return r.settings, nil
}

func (r *fakeTenantRepo) GetAOI(context.Context, uuid.UUID) (tenants.AOI, error) {
	return r.aoi, nil
}

type fakeSignalRepo struct {
	open    map[detection.SignalKey]*detection.Signal
	upserts int
}

func newFakeSignalRepo() *fakeSignalRepo {
	return &fakeSignalRepo{open: make(map[detection.SignalKey]*detection.Signal)}
}

func (r *fakeSignalRepo) GetOpenByKey(_ context.Context, key detection.SignalKey) (*detection.Signal, error) {
	signal, ok := r.open[key]
	if !ok {
		return nil, detection.ErrSignalNotFound
	}
	return signal, nil
}

func (r *fakeSignalRepo) UpsertOpen(_ context.Context, signal *detection.Signal) (bool, error) {
	r.upserts++
	_, existed := r.open[signal.Key]
	r.open[signal.Key] = signal
	return !existed, nil
}

type recordingEventBus struct {
	published []events.DomainEvent
}

func (b *recordingEventBus) PublishDomainEvent(_ context.Context, evt events.DomainEvent, _ ...events.PublishOption) error {
	b.published = append(b.published, evt)
	return nil
}

func signalEngineConfig() SignalEngineConfig {
	return SignalEngineConfig{
		MinHistoryWeeks:  4,
		HistoryMargin:    2,
		ScoreThreshold:   0.5,
		Strategy:         StrategyBFastLike,
		PersistenceWeeks: 2,
		PipelineVersion:  "v2.1",
	}
}

func newSignalEngine(cfg SignalEngineConfig, obsRepo *fakeObservationRepo, signalRepo *fakeSignalRepo, bus events.DomainEventPublisher) *SignalEngine {
	tenantRepo := &fakeTenantRepo{aoi: tenants.AOI{ID: uuid.New(), LandUse: tenants.LandUseCropland}}
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewSignalEngine(cfg, obsRepo, tenantRepo, signalRepo, bus, log, tracer)
}

func weekCommand() jobs.WeekCommand {
	return jobs.WeekCommand{
		TenantID:        uuid.New(),
		AOIID:           uuid.New(),
		Year:            2024,
		Week:            10,
		PipelineVersion: "v2.1",
	}
}

func decliningWindow() []observations.Observation {
	return []observations.Observation{
		obsWeek(5, 0.70, 0.65, 0.90),
		obsWeek(6, 0.68, 0.65, 0.90),
		obsWeek(7, 0.62, 0.65, 0.90),
		obsWeek(8, 0.55, 0.65, 0.90),
		obsWeek(9, 0.47, 0.65, 0.90),
		obsWeek(10, 0.40, 0.65, 0.90),
	}
}

func TestSignalEngine_InsufficientHistory(t *testing.T) {
	t.Parallel()

	obsRepo := &fakeObservationRepo{window: decliningWindow()[:3]}
	signalRepo := newFakeSignalRepo()
	engine := newSignalEngine(signalEngineConfig(), obsRepo, signalRepo, nil)

	outcome, err := engine.Evaluate(context.Background(), weekCommand())
	require.NoError(t, err)

	assert.False(t, outcome.Raised)
	assert.Equal(t, ReasonInsufficientHistory, outcome.Reason)
	assert.Zero(t, signalRepo.upserts, "no signal row may be written")
}

func TestSignalEngine_BelowThreshold(t *testing.T) {
	t.Parallel()

	// A flat, on-baseline window carries no evidence worth a signal.
	obsRepo := &fakeObservationRepo{window: []observations.Observation{
		obsWeek(5, 0.60, 0.60, 0.90),
		obsWeek(6, 0.60, 0.60, 0.90),
		obsWeek(7, 0.60, 0.60, 0.90),
		obsWeek(8, 0.60, 0.60, 0.90),
		obsWeek(9, 0.60, 0.60, 0.90),
	}}
	signalRepo := newFakeSignalRepo()
	engine := newSignalEngine(signalEngineConfig(), obsRepo, signalRepo, nil)

	outcome, err := engine.Evaluate(context.Background(), weekCommand())
	require.NoError(t, err)

	assert.False(t, outcome.Raised)
	assert.Equal(t, ReasonBelowThreshold, outcome.Reason)
	assert.Less(t, outcome.Score, 0.5)
	assert.Zero(t, signalRepo.upserts)
}

func TestSignalEngine_SustainedDeclineRaisesVigorDecline(t *testing.T) {
	t.Parallel()

	obsRepo := &fakeObservationRepo{window: decliningWindow()}
	signalRepo := newFakeSignalRepo()
	bus := &recordingEventBus{}
	engine := newSignalEngine(signalEngineConfig(), obsRepo, signalRepo, bus)

	outcome, err := engine.Evaluate(context.Background(), weekCommand())
	require.NoError(t, err)

	require.True(t, outcome.Raised)
	assert.True(t, outcome.Inserted)
	assert.GreaterOrEqual(t, outcome.Score, 0.8)

	signal := outcome.Signal
	require.NotNil(t, signal)
	assert.Equal(t, detection.SignalTypeVigorDecline, signal.Key.SignalType)
	assert.Equal(t, detection.SeverityHigh, signal.Severity)
	assert.Equal(t, detection.ConfidenceHigh, signal.Confidence)
	assert.Equal(t, detection.SignalStatusOpen, signal.Status)
	assert.Contains(t, signal.Actions, "schedule_field_inspection")
	assert.NotEmpty(t, signal.Evidence)
	assert.NotEmpty(t, signal.Features)

	require.Len(t, bus.published, 1)
	assert.Equal(t, detection.EventTypeSignalRaised, bus.published[0].EventType())
}

func TestSignalEngine_RaisesWithoutEventBus(t *testing.T) {
	t.Parallel()

	obsRepo := &fakeObservationRepo{window: decliningWindow()}
	signalRepo := newFakeSignalRepo()
	engine := newSignalEngine(signalEngineConfig(), obsRepo, signalRepo, nil)

	outcome, err := engine.Evaluate(context.Background(), weekCommand())
	require.NoError(t, err)

	assert.True(t, outcome.Raised, "raising a signal must not require an event bus")
	assert.Equal(t, 1, signalRepo.upserts)
}

func TestSignalEngine_RerunUpdatesInPlace(t *testing.T) {
	t.Parallel()

	obsRepo := &fakeObservationRepo{window: decliningWindow()}
	signalRepo := newFakeSignalRepo()
	engine := newSignalEngine(signalEngineConfig(), obsRepo, signalRepo, nil)
	cmd := weekCommand()

	first, err := engine.Evaluate(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, first.Inserted)

	second, err := engine.Evaluate(context.Background(), cmd)
	require.NoError(t, err)

	assert.True(t, second.Raised)
	assert.False(t, second.Inserted, "re-run must refresh the open signal, not insert another")
	assert.Len(t, signalRepo.open, 1)
}

func TestSignalEngine_RecoveryClassification(t *testing.T) {
	t.Parallel()

	// Improving but still below baseline: a recovery candidate.
	obsRepo := &fakeObservationRepo{window: []observations.Observation{
		obsWeek(5, 0.30, 0.60, 0.90),
		obsWeek(6, 0.36, 0.60, 0.90),
		obsWeek(7, 0.43, 0.60, 0.90),
		obsWeek(8, 0.50, 0.60, 0.90),
	}}
	signalRepo := newFakeSignalRepo()
	engine := newSignalEngine(signalEngineConfig(), obsRepo, signalRepo, nil)

	outcome, err := engine.Evaluate(context.Background(), weekCommand())
	require.NoError(t, err)

	require.True(t, outcome.Raised)
	assert.Equal(t, detection.SignalTypeRecoveryCandidate, outcome.Signal.Key.SignalType)
}
