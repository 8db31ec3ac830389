// Package postgres implements the job persistence port. The upsert is a
// single INSERT ... ON CONFLICT statement so re-planning under concurrent
// execution stays race-free.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/croplens/croplens/internal/domain/jobs"
	"github.com/croplens/croplens/internal/infra/storage"
)

// jobStore implements jobs.JobRepository on PostgreSQL.
type jobStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

var _ jobs.JobRepository = (*jobStore)(nil)

// NewJobStore creates a PostgreSQL-backed job repository.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *jobStore {
	return &jobStore{db: pool, tracer: tracer}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// Upsert inserts a PENDING job or re-arms the existing (tenant_id, job_key)
// row back to PENDING with a fresh payload. The xmax trick distinguishes an
// insert from an update in the same round trip.
func (r *jobStore) Upsert(ctx context.Context, params jobs.UpsertJobParams) (jobs.UpsertResult, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("tenant_id", params.TenantID.String()),
		attribute.String("job_type", string(params.JobType)),
	)

	var result jobs.UpsertResult
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.upsert_job", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		var aoiID any
		if params.AOIID != uuid.Nil {
			aoiID = params.AOIID
		}

		row := r.db.QueryRow(ctx, `
			INSERT INTO jobs (id, tenant_id, aoi_id, job_type, job_key, status, payload)
			VALUES ($1, $2, $3, $4, $5, 'PENDING', $6)
			ON CONFLICT (tenant_id, job_key) DO UPDATE
			SET status = 'PENDING',
			    payload = EXCLUDED.payload,
			    last_error = '',
			    updated_at = now()
			RETURNING id, (xmax = 0) AS inserted`,
			uuid.New(), params.TenantID, aoiID, params.JobType, params.JobKey, params.Payload,
		)
		if err := row.Scan(&result.JobID, &result.Inserted); err != nil {
			return fmt.Errorf("upsert job error: %w", err)
		}
		return nil
	})
	return result, err
}

// GetJob loads a job by id.
func (r *jobStore) GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))

	var job *jobs.Job
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_job", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			SELECT id, tenant_id, COALESCE(aoi_id, '00000000-0000-0000-0000-000000000000'::uuid),
			       job_type, job_key, status, payload, last_error, created_at, updated_at
			FROM jobs
			WHERE id = $1`, id)

		var (
			jobID, tenantID, aoiID   uuid.UUID
			jobType, jobKey, status  string
			payload                  []byte
			lastError                string
			createdAt, updatedAt     time.Time
		)
		if err := row.Scan(&jobID, &tenantID, &aoiID, &jobType, &jobKey, &status, &payload, &lastError, &createdAt, &updatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return jobs.ErrJobNotFound
			}
			return fmt.Errorf("get job error: %w", err)
		}

		job = jobs.ReconstructJob(
			jobID, tenantID, aoiID,
			jobs.JobType(jobType), jobKey, jobs.JobStatus(status),
			payload, lastError, createdAt, updatedAt,
		)
		return nil
	})
	return job, err
}

// UpdateStatus writes the status unconditionally; the latest write wins.
// The error text only survives on FAILED.
func (r *jobStore) UpdateStatus(ctx context.Context, id uuid.UUID, status jobs.JobStatus, errorText string) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", id.String()),
		attribute.String("status", string(status)),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_job_status", dbAttrs, func(ctx context.Context) error {
		if status != jobs.JobStatusFailed {
			errorText = ""
		}
		tag, err := r.db.Exec(ctx, `
			UPDATE jobs
			SET status = $2, last_error = $3, updated_at = now()
			WHERE id = $1`, id, status, errorText)
		if err != nil {
			return fmt.Errorf("update job status error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return jobs.ErrJobNotFound
		}
		return nil
	})
}

// RecordRun appends one execution attempt.
func (r *jobStore) RecordRun(ctx context.Context, run *jobs.JobRun) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", run.JobID().String()),
		attribute.Int("attempt", run.Attempt()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.record_job_run", dbAttrs, func(ctx context.Context) error {
		metrics, err := json.Marshal(run.Metrics())
		if err != nil {
			return fmt.Errorf("marshal run metrics error: %w", err)
		}

		var finishedAt any
		if !run.FinishedAt().IsZero() {
			finishedAt = run.FinishedAt()
		}

		_, err = r.db.Exec(ctx, `
			INSERT INTO job_runs (id, job_id, attempt, status, metrics, error_text, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			run.ID(), run.JobID(), run.Attempt(), run.Status(), metrics, run.Error(), run.StartedAt(), finishedAt,
		)
		if err != nil {
			return fmt.Errorf("record job run error: %w", err)
		}
		return nil
	})
}

// ListRuns returns every attempt for a job, oldest first.
func (r *jobStore) ListRuns(ctx context.Context, jobID uuid.UUID) ([]*jobs.JobRun, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))

	var runs []*jobs.JobRun
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_job_runs", dbAttrs, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, `
			SELECT id, job_id, attempt, status, metrics, error_text, started_at, finished_at
			FROM job_runs
			WHERE job_id = $1
			ORDER BY started_at ASC`, jobID)
		if err != nil {
			return fmt.Errorf("list job runs error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id, runJobID uuid.UUID
				attempt      int
				status       string
				metricsJSON  []byte
				errorText    string
				startedAt    time.Time
				finishedAt   *time.Time
			)
			if err := rows.Scan(&id, &runJobID, &attempt, &status, &metricsJSON, &errorText, &startedAt, &finishedAt); err != nil {
				return fmt.Errorf("scan job run error: %w", err)
			}

			var metrics map[string]any
			if len(metricsJSON) > 0 {
				if err := json.Unmarshal(metricsJSON, &metrics); err != nil {
					return fmt.Errorf("unmarshal run metrics error: %w", err)
				}
			}

			var finished time.Time
			if finishedAt != nil {
				finished = *finishedAt
			}
			runs = append(runs, jobs.ReconstructJobRun(
				id, runJobID, attempt, jobs.JobStatus(status), metrics, errorText, startedAt, finished,
			))
		}
		return rows.Err()
	})
	return runs, err
}
