package postgres

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croplens/croplens/internal/domain/jobs"
	"github.com/croplens/croplens/internal/infra/storage"
)

func setupJobTest(t *testing.T) (context.Context, *jobStore, func()) {
	t.Helper()

	db, cleanup := storage.SetupTestContainer(t)
	store := NewJobStore(db, storage.NoOpTracer())
	return context.Background(), store, cleanup
}

func upsertParams(tenantID uuid.UUID, jobKey string) jobs.UpsertJobParams {
	return jobs.UpsertJobParams{
		TenantID: tenantID,
		AOIID:    uuid.New(),
		JobType:  jobs.JobTypeProcessWeek,
		JobKey:   jobKey,
		Payload:  []byte(`{"year":2024,"week":1}`),
	}
}

func TestJobStore_UpsertInsertsThenRearms(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	tenantID := uuid.New()
	params := upsertParams(tenantID, "job-key-1")

	first, err := store.Upsert(ctx, params)
	require.NoError(t, err)
	assert.True(t, first.Inserted)
	assert.NotEqual(t, uuid.Nil, first.JobID)

	// Move the job off PENDING so the re-arm is observable.
	require.NoError(t, store.UpdateStatus(ctx, first.JobID, jobs.JobStatusRunning, ""))
	require.NoError(t, store.UpdateStatus(ctx, first.JobID, jobs.JobStatusFailed, "provider down"))

	params.Payload = []byte(`{"year":2024,"week":1,"retry":true}`)
	second, err := store.Upsert(ctx, params)
	require.NoError(t, err)

	assert.False(t, second.Inserted, "same (tenant, job_key) must update, not insert")
	assert.Equal(t, first.JobID, second.JobID)

	loaded, err := store.GetJob(ctx, first.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, loaded.Status())
	assert.Empty(t, loaded.LastError(), "re-arm must clear the prior failure")
	assert.JSONEq(t, `{"year":2024,"week":1,"retry":true}`, string(loaded.Payload()))
}

func TestJobStore_UpsertDistinctKeys(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	tenantID := uuid.New()

	first, err := store.Upsert(ctx, upsertParams(tenantID, "job-key-a"))
	require.NoError(t, err)
	second, err := store.Upsert(ctx, upsertParams(tenantID, "job-key-b"))
	require.NoError(t, err)

	assert.True(t, first.Inserted)
	assert.True(t, second.Inserted)
	assert.NotEqual(t, first.JobID, second.JobID)
}

func TestJobStore_GetJobNotFound(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	_, err := store.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestJobStore_UpdateStatusClearsErrorExceptOnFailed(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	res, err := store.Upsert(ctx, upsertParams(uuid.New(), "job-key-status"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(ctx, res.JobID, jobs.JobStatusRunning, ""))
	require.NoError(t, store.UpdateStatus(ctx, res.JobID, jobs.JobStatusFailed, "timeout"))

	loaded, err := store.GetJob(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, loaded.Status())
	assert.Equal(t, "timeout", loaded.LastError())

	require.NoError(t, store.UpdateStatus(ctx, res.JobID, jobs.JobStatusDone, "stale text ignored"))

	loaded, err = store.GetJob(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusDone, loaded.Status())
	assert.Empty(t, loaded.LastError())
}

func TestJobStore_RecordAndListRuns(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	res, err := store.Upsert(ctx, upsertParams(uuid.New(), "job-key-runs"))
	require.NoError(t, err)

	failed := jobs.NewJobRun(res.JobID, 1)
	failed.Finish(jobs.JobStatusFailed, map[string]any{"scenes_fetched": float64(0)}, "catalog unavailable")
	require.NoError(t, store.RecordRun(ctx, failed))

	succeeded := jobs.NewJobRun(res.JobID, 2)
	succeeded.Finish(jobs.JobStatusDone, map[string]any{"scenes_fetched": float64(3)}, "")
	require.NoError(t, store.RecordRun(ctx, succeeded))

	runs, err := store.ListRuns(ctx, res.JobID)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, 1, runs[0].Attempt())
	assert.Equal(t, jobs.JobStatusFailed, runs[0].Status())
	assert.Equal(t, "catalog unavailable", runs[0].Error())
	assert.Equal(t, 2, runs[1].Attempt())
	assert.Equal(t, jobs.JobStatusDone, runs[1].Status())
	assert.Equal(t, map[string]any{"scenes_fetched": float64(3)}, runs[1].Metrics())
}
