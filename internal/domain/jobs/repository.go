package jobs

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// ErrJobNotFound indicates the requested job does not exist.
var ErrJobNotFound = errors.New("job not found")

// UpsertJobParams carries the identity and payload for an insert-or-re-arm.
type UpsertJobParams struct {
	TenantID uuid.UUID
	AOIID    uuid.UUID // uuid.Nil for tenant-wide jobs
	JobType  JobType
	JobKey   string
	Payload  json.RawMessage
}

// UpsertResult reports the outcome of an upsert. Inserted distinguishes
// newly planned work from existing work that was re-armed back to PENDING,
// so operator counters can report the two separately.
type UpsertResult struct {
	JobID    uuid.UUID
	Inserted bool
}

// JobRepository defines the persistence port for jobs and their runs.
type JobRepository interface {
	// Upsert inserts a new PENDING job or, when (tenant_id, job_key)
	// already exists, resets the row to PENDING with a fresh payload.
	// It always returns a valid job id.
	Upsert(ctx context.Context, params UpsertJobParams) (UpsertResult, error)

	// GetJob loads a job by id. Returns ErrJobNotFound if absent.
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// UpdateStatus writes the job's status unconditionally; the latest
	// write wins. The error text is cleared unless status is FAILED.
	UpdateStatus(ctx context.Context, id uuid.UUID, status JobStatus, errorText string) error

	// RecordRun appends an execution attempt record.
	RecordRun(ctx context.Context, run *JobRun) error

	// ListRuns returns all attempts for a job, oldest first.
	ListRuns(ctx context.Context, jobID uuid.UUID) ([]*JobRun, error)
}
