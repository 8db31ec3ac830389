package jobs

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestJobStatus_ValidateTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		currentStatus JobStatus
		targetStatus  JobStatus
		wantErr       bool
	}{
		{
			name:          "pending to running",
			currentStatus: JobStatusPending,
			targetStatus:  JobStatusRunning,
			wantErr:       false,
		},
		{
			name:          "pending to cancelled",
			currentStatus: JobStatusPending,
			targetStatus:  JobStatusCancelled,
			wantErr:       false,
		},
		{
			name:          "pending to done invalid",
			currentStatus: JobStatusPending,
			targetStatus:  JobStatusDone,
			wantErr:       true,
		},
		{
			name:          "running to done",
			currentStatus: JobStatusRunning,
			targetStatus:  JobStatusDone,
			wantErr:       false,
		},
		{
			name:          "running to failed",
			currentStatus: JobStatusRunning,
			targetStatus:  JobStatusFailed,
			wantErr:       false,
		},
		{
			name:          "running to running on redelivery",
			currentStatus: JobStatusRunning,
			targetStatus:  JobStatusRunning,
			wantErr:       false,
		},
		{
			name:          "failed to running on redelivery",
			currentStatus: JobStatusFailed,
			targetStatus:  JobStatusRunning,
			wantErr:       false,
		},
		{
			name:          "failed to cancelled",
			currentStatus: JobStatusFailed,
			targetStatus:  JobStatusCancelled,
			wantErr:       false,
		},
		{
			name:          "cancelled to pending re-arm",
			currentStatus: JobStatusCancelled,
			targetStatus:  JobStatusPending,
			wantErr:       false,
		},
		{
			name:          "cancelled to running invalid",
			currentStatus: JobStatusCancelled,
			targetStatus:  JobStatusRunning,
			wantErr:       true,
		},
		{
			name:          "done to running invalid",
			currentStatus: JobStatusDone,
			targetStatus:  JobStatusRunning,
			wantErr:       true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.currentStatus.ValidateTransition(tt.targetStatus)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestJob_StartHonoursCancellation(t *testing.T) {
	t.Parallel()

	job := NewJob(uuid.New(), uuid.New(), JobTypeSignalsWeek, "key", nil)
	assert.NoError(t, job.Cancel())
	assert.Error(t, job.Start())
	assert.Equal(t, JobStatusCancelled, job.Status())
}

func TestJob_FailThenStartOnRedelivery(t *testing.T) {
	t.Parallel()

	job := NewJob(uuid.New(), uuid.New(), JobTypeAlertsWeek, "key", nil)
	assert.NoError(t, job.Start())
	job.Fail("provider unavailable")
	assert.Equal(t, JobStatusFailed, job.Status())
	assert.Equal(t, "provider unavailable", job.LastError())

	assert.NoError(t, job.Start())
	assert.NoError(t, job.Complete(""))
	assert.Equal(t, JobStatusDone, job.Status())
	assert.Empty(t, job.LastError())
}
