package planner

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/croplens/croplens/internal/domain/jobs"
	"github.com/croplens/croplens/internal/domain/queue"
	"github.com/croplens/croplens/pkg/common/logger"
)

type fakeJobRepo struct {
	byKey   map[string]uuid.UUID
	upserts []jobs.UpsertJobParams
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{byKey: make(map[string]uuid.UUID)}
}

func (r *fakeJobRepo) Upsert(_ context.Context, params jobs.UpsertJobParams) (jobs.UpsertResult, error) {
	r.upserts = append(r.upserts, params)
	if id, ok := r.byKey[params.JobKey]; ok {
		return jobs.UpsertResult{JobID: id, Inserted: false}, nil
	}
	id := uuid.New()
	r.byKey[params.JobKey] = id
	return jobs.UpsertResult{JobID: id, Inserted: true}, nil
}

func (r *fakeJobRepo) GetJob(context.Context, uuid.UUID) (*jobs.Job, error) {
	return nil, jobs.ErrJobNotFound
}

func (r *fakeJobRepo) UpdateStatus(context.Context, uuid.UUID, jobs.JobStatus, string) error {
	return nil
}

func (r *fakeJobRepo) RecordRun(context.Context, *jobs.JobRun) error { return nil }

func (r *fakeJobRepo) ListRuns(context.Context, uuid.UUID) ([]*jobs.JobRun, error) {
	return nil, nil
}

type fakePublisher struct {
	published []queue.Message
}

func (p *fakePublisher) Publish(_ context.Context, _ queue.Tier, msg queue.Message) error {
	p.published = append(p.published, msg)
	return nil
}

func newTestPlanner(repo *fakeJobRepo, pub *fakePublisher) *BackfillPlanner {
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewBackfillPlanner(repo, pub, log, tracer)
}

func backfillCommand() jobs.BackfillCommand {
	return jobs.BackfillCommand{
		TenantID:        uuid.New(),
		AOIID:           uuid.New(),
		FromDate:        date(2024, time.January, 1),
		ToDate:          date(2024, time.January, 8),
		PipelineVersion: "v2.1",
		SignalsEnabled:  true,
		HasActiveSeason: true,
	}
}

func TestBackfillPlanner_Plan_WorkedExample(t *testing.T) {
	t.Parallel()

	repo := newFakeJobRepo()
	pub := &fakePublisher{}
	planner := newTestPlanner(repo, pub)

	// Two ISO weeks, both flags on: 2 range jobs + 2 * 5 per-week jobs.
	summary, err := planner.Plan(context.Background(), backfillCommand())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.WeeksProcessed)
	assert.Equal(t, 12, summary.JobsPlanned)
	assert.Equal(t, 12, summary.JobsInserted)
	assert.Equal(t, 0, summary.JobsRearmed)
	assert.Len(t, pub.published, 12)

	counts := make(map[jobs.JobType]int)
	for _, params := range repo.upserts {
		counts[params.JobType]++
	}
	assert.Equal(t, 1, counts[jobs.JobTypeProcessWeather])
	assert.Equal(t, 1, counts[jobs.JobTypeProcessTopography])
	assert.Equal(t, 2, counts[jobs.JobTypeProcessWeek])
	assert.Equal(t, 2, counts[jobs.JobTypeProcessRadarWeek])
	assert.Equal(t, 2, counts[jobs.JobTypeAlertsWeek])
	assert.Equal(t, 2, counts[jobs.JobTypeSignalsWeek])
	assert.Equal(t, 2, counts[jobs.JobTypeForecastWeek])
}

func TestBackfillPlanner_Plan_SecondRunRearms(t *testing.T) {
	t.Parallel()

	repo := newFakeJobRepo()
	pub := &fakePublisher{}
	planner := newTestPlanner(repo, pub)
	cmd := backfillCommand()

	first, err := planner.Plan(context.Background(), cmd)
	require.NoError(t, err)
	require.Equal(t, 12, first.JobsInserted)

	second, err := planner.Plan(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, 12, second.JobsPlanned)
	assert.Equal(t, 0, second.JobsInserted)
	assert.Equal(t, 12, second.JobsRearmed)

	// Identical arguments produce identical keys, so no new rows exist.
	assert.Len(t, repo.byKey, 12)
	assert.Len(t, pub.published, 24)
}

func TestBackfillPlanner_Plan_FlagsPruneWeeklyJobs(t *testing.T) {
	t.Parallel()

	repo := newFakeJobRepo()
	planner := newTestPlanner(repo, &fakePublisher{})
	cmd := backfillCommand()
	cmd.SignalsEnabled = false
	cmd.HasActiveSeason = false

	summary, err := planner.Plan(context.Background(), cmd)
	require.NoError(t, err)

	// 2 range jobs + 2 weeks * 3 unconditional per-week jobs.
	assert.Equal(t, 8, summary.JobsPlanned)
	for _, params := range repo.upserts {
		assert.NotEqual(t, jobs.JobTypeSignalsWeek, params.JobType)
		assert.NotEqual(t, jobs.JobTypeForecastWeek, params.JobType)
	}
}

func TestBackfillPlanner_Plan_EmptyRangePlansOnlyRangeJobs(t *testing.T) {
	t.Parallel()

	repo := newFakeJobRepo()
	planner := newTestPlanner(repo, &fakePublisher{})
	cmd := backfillCommand()
	cmd.FromDate = date(2024, time.February, 1)
	cmd.ToDate = date(2024, time.January, 1)

	summary, err := planner.Plan(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.WeeksProcessed)
	assert.Equal(t, 2, summary.JobsPlanned)
	types := []jobs.JobType{repo.upserts[0].JobType, repo.upserts[1].JobType}
	assert.ElementsMatch(t, []jobs.JobType{jobs.JobTypeProcessWeather, jobs.JobTypeProcessTopography}, types)
}

func TestBackfillPlanner_Plan_RejectsInvalidCommand(t *testing.T) {
	t.Parallel()

	repo := newFakeJobRepo()
	planner := newTestPlanner(repo, &fakePublisher{})
	cmd := backfillCommand()
	cmd.PipelineVersion = ""

	_, err := planner.Plan(context.Background(), cmd)
	assert.Error(t, err)
	assert.Empty(t, repo.upserts)
}
