package jobs

import (
	"time"

	"github.com/google/uuid"
)

// JobRun is an append-only record of a single execution attempt of a Job.
// A job that is redelivered accumulates multiple runs; Job.Status reflects
// only the latest one. Runs exist for operator diagnostics and are never
// mutated after being finished.
type JobRun struct {
	id         uuid.UUID
	jobID      uuid.UUID
	attempt    int
	status     JobStatus
	metrics    map[string]any
	errorText  string
	startedAt  time.Time
	finishedAt time.Time
}

// NewJobRun starts an attempt record for the given job.
func NewJobRun(jobID uuid.UUID, attempt int) *JobRun {
	return &JobRun{
		id:        uuid.New(),
		jobID:     jobID,
		attempt:   attempt,
		status:    JobStatusRunning,
		startedAt: time.Now().UTC(),
	}
}

// ReconstructJobRun creates a JobRun from stored fields. Repository use only.
func ReconstructJobRun(
	id uuid.UUID,
	jobID uuid.UUID,
	attempt int,
	status JobStatus,
	metrics map[string]any,
	errorText string,
	startedAt time.Time,
	finishedAt time.Time,
) *JobRun {
	return &JobRun{
		id:         id,
		jobID:      jobID,
		attempt:    attempt,
		status:     status,
		metrics:    metrics,
		errorText:  errorText,
		startedAt:  startedAt,
		finishedAt: finishedAt,
	}
}

// ID returns the unique identifier of this attempt.
func (r *JobRun) ID() uuid.UUID { return r.id }

// JobID returns the logical job this attempt executed.
func (r *JobRun) JobID() uuid.UUID { return r.jobID }

// Attempt returns the delivery count at the time of this run.
func (r *JobRun) Attempt() int { return r.attempt }

// Status returns the outcome of this attempt.
func (r *JobRun) Status() JobStatus { return r.status }

// Metrics returns handler-reported metrics for this attempt.
func (r *JobRun) Metrics() map[string]any { return r.metrics }

// Error returns the failure text, empty on success.
func (r *JobRun) Error() string { return r.errorText }

// StartedAt returns when the attempt began.
func (r *JobRun) StartedAt() time.Time { return r.startedAt }

// FinishedAt returns when the attempt ended. Zero while still running.
func (r *JobRun) FinishedAt() time.Time { return r.finishedAt }

// Finish closes the attempt with its outcome and handler metrics.
func (r *JobRun) Finish(status JobStatus, metrics map[string]any, errorText string) {
	r.status = status
	r.metrics = metrics
	r.errorText = errorText
	r.finishedAt = time.Now().UTC()
}
