package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/croplens/croplens/internal/domain/events"
)

const (
	// EventTypeJobCompleted is published when a dispatch attempt succeeds.
	EventTypeJobCompleted events.EventType = "jobs.completed"

	// EventTypeJobFailed is published when a dispatch attempt raises.
	EventTypeJobFailed events.EventType = "jobs.failed"
)

// JobLifecycleEvent reports a terminal dispatch outcome for one attempt.
type JobLifecycleEvent struct {
	JobID      uuid.UUID
	TenantID   uuid.UUID
	JobType    JobType
	Status     JobStatus
	Attempt    int
	Error      string
	occurredAt time.Time
	eventType  events.EventType
}

// NewJobCompletedEvent creates a lifecycle event for a successful attempt.
func NewJobCompletedEvent(job *Job, attempt int) JobLifecycleEvent {
	return JobLifecycleEvent{
		JobID:      job.ID(),
		TenantID:   job.TenantID(),
		JobType:    job.JobType(),
		Status:     job.Status(),
		Attempt:    attempt,
		occurredAt: time.Now().UTC(),
		eventType:  EventTypeJobCompleted,
	}
}

// NewJobFailedEvent creates a lifecycle event for a failed attempt.
func NewJobFailedEvent(job *Job, attempt int, cause string) JobLifecycleEvent {
	return JobLifecycleEvent{
		JobID:      job.ID(),
		TenantID:   job.TenantID(),
		JobType:    job.JobType(),
		Status:     JobStatusFailed,
		Attempt:    attempt,
		Error:      cause,
		occurredAt: time.Now().UTC(),
		eventType:  EventTypeJobFailed,
	}
}

func (e JobLifecycleEvent) EventType() events.EventType { return e.eventType }
func (e JobLifecycleEvent) OccurredAt() time.Time       { return e.occurredAt }
