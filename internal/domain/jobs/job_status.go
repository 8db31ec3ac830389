package jobs

import "fmt"

// JobStatus represents the latest outcome of a logical job. It reflects
// only the most recent attempt; the append-only JobRun records keep the
// full history.
type JobStatus string

const (
	// JobStatusPending indicates a job is planned and eligible for dispatch.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusRunning indicates a handler is (or was last seen) executing the job.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusDone indicates the last attempt finished successfully,
	// including terminal no-data outcomes.
	JobStatusDone JobStatus = "DONE"

	// JobStatusFailed indicates the last attempt raised an error. The queue
	// message is left in place so the transport redelivers it.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusCancelled indicates an operator withdrew the job. In-flight
	// handlers are not interrupted; the message is dropped at next dispatch.
	JobStatusCancelled JobStatus = "CANCELLED"
)

func (s JobStatus) String() string { return string(s) }

// ParseJobStatus converts a string to a JobStatus.
func ParseJobStatus(s string) JobStatus {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusRunning, JobStatusDone, JobStatusFailed, JobStatusCancelled:
		return JobStatus(s)
	default:
		return ""
	}
}

// ValidateTransition checks if a status transition is valid and returns an
// error if not. Upsert-driven re-arming (any status back to PENDING) is
// handled at the store level and is always allowed there; this validation
// covers dispatch-path and operator transitions.
func (s JobStatus) ValidateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid job status transition from %s to %s", s, target)
	}
	return nil
}

func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		// Dispatch picks the job up, or an operator withdraws it.
		return target == JobStatusRunning || target == JobStatusCancelled
	case JobStatusRunning:
		// Redelivery of an in-flight (or crashed) job restarts it; the
		// transport's at-least-once guarantee makes RUNNING -> RUNNING legal.
		return target == JobStatusRunning || target == JobStatusDone ||
			target == JobStatusFailed || target == JobStatusCancelled
	case JobStatusFailed:
		// The queue redelivers failed work, or an operator withdraws it.
		return target == JobStatusRunning || target == JobStatusPending ||
			target == JobStatusCancelled
	case JobStatusCancelled:
		// Operators can re-arm cancelled work.
		return target == JobStatusPending
	case JobStatusDone:
		// Re-arming DONE work happens only through upsert.
		return false
	default:
		return false
	}
}
