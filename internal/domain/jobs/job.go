package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job coordinates and tracks one logical unit of pipeline work for a tenant.
// Its identity for planning purposes is (tenantID, jobKey): re-planning the
// same unit of work re-arms the existing row instead of duplicating it.
type Job struct {
	id        uuid.UUID
	tenantID  uuid.UUID
	aoiID     uuid.UUID // uuid.Nil for tenant-wide jobs
	jobType   JobType
	jobKey    string
	status    JobStatus
	payload   json.RawMessage
	lastError string
	createdAt time.Time
	updatedAt time.Time
}

// NewJob creates a new Job in PENDING with the provided identity and payload.
func NewJob(tenantID, aoiID uuid.UUID, jobType JobType, jobKey string, payload json.RawMessage) *Job {
	now := time.Now().UTC()
	return &Job{
		id:        uuid.New(),
		tenantID:  tenantID,
		aoiID:     aoiID,
		jobType:   jobType,
		jobKey:    jobKey,
		status:    JobStatusPending,
		payload:   payload,
		createdAt: now,
		updatedAt: now,
	}
}

// ReconstructJob creates a Job instance from stored fields, bypassing
// creation invariants. This should only be used by repositories when
// loading from the DB.
func ReconstructJob(
	id uuid.UUID,
	tenantID uuid.UUID,
	aoiID uuid.UUID,
	jobType JobType,
	jobKey string,
	status JobStatus,
	payload json.RawMessage,
	lastError string,
	createdAt time.Time,
	updatedAt time.Time,
) *Job {
	return &Job{
		id:        id,
		tenantID:  tenantID,
		aoiID:     aoiID,
		jobType:   jobType,
		jobKey:    jobKey,
		status:    status,
		payload:   payload,
		lastError: lastError,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

// ID returns the unique identifier for this job.
func (j *Job) ID() uuid.UUID { return j.id }

// TenantID returns the owning tenant.
func (j *Job) TenantID() uuid.UUID { return j.tenantID }

// AOIID returns the target AOI, or uuid.Nil for tenant-wide jobs.
func (j *Job) AOIID() uuid.UUID { return j.aoiID }

// JobType returns the unit of work this job carries.
func (j *Job) JobType() JobType { return j.jobType }

// JobKey returns the deterministic idempotency key for this job.
func (j *Job) JobKey() string { return j.jobKey }

// Status returns the latest outcome of this job.
func (j *Job) Status() JobStatus { return j.status }

// Payload returns the handler input for this job.
func (j *Job) Payload() json.RawMessage { return j.payload }

// LastError returns the error text recorded by the most recent failure.
func (j *Job) LastError() string { return j.lastError }

// CreatedAt returns when this job row was first planned.
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// UpdatedAt returns when this job's state was last modified.
func (j *Job) UpdatedAt() time.Time { return j.updatedAt }

// Start transitions the job to RUNNING for a dispatch attempt. Cancelled
// and completed jobs are not runnable; the dispatcher drops their messages.
func (j *Job) Start() error {
	if err := j.status.ValidateTransition(JobStatusRunning); err != nil {
		return fmt.Errorf("job %s not runnable: %w", j.id, err)
	}
	j.status = JobStatusRunning
	j.updatedAt = time.Now().UTC()
	return nil
}

// Complete records a successful attempt. Handlers may report a terminal
// status other than DONE; anything that is not FAILED counts as success.
func (j *Job) Complete(status JobStatus) error {
	if status == "" {
		status = JobStatusDone
	}
	if err := j.status.ValidateTransition(status); err != nil {
		return err
	}
	j.status = status
	j.lastError = ""
	j.updatedAt = time.Now().UTC()
	return nil
}

// Fail records a failed attempt with the causing error text.
func (j *Job) Fail(cause string) {
	j.status = JobStatusFailed
	j.lastError = cause
	j.updatedAt = time.Now().UTC()
}

// Cancel withdraws the job from execution. The in-flight handler, if any,
// is not interrupted; dispatch skips the job on redelivery.
func (j *Job) Cancel() error {
	if err := j.status.ValidateTransition(JobStatusCancelled); err != nil {
		return err
	}
	j.status = JobStatusCancelled
	j.updatedAt = time.Now().UTC()
	return nil
}
