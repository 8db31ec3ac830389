package detection

import (
	"context"
	"errors"
)

// ErrSignalNotFound indicates no signal exists for the key.
var ErrSignalNotFound = errors.New("signal not found")

// ErrAlertNotFound indicates no alert exists for the key.
var ErrAlertNotFound = errors.New("alert not found")

// SignalRepository is the write port for opportunity signals.
// UpsertOpen must be atomic with respect to concurrent evaluation of the
// same key: a partial unique index over open statuses backs it.
type SignalRepository interface {
	// GetOpenByKey returns the OPEN signal for the key, if any.
	GetOpenByKey(ctx context.Context, key SignalKey) (*Signal, error)

	// UpsertOpen inserts the signal as OPEN or, when an OPEN signal with
	// the same key exists, refreshes its score, evidence, features,
	// severity and confidence in place. Returns the surviving signal id
	// and whether a new row was inserted.
	UpsertOpen(ctx context.Context, signal *Signal) (inserted bool, err error)
}

// AlertRepository is the write port for alerts, with the same atomic
// upsert contract over OPEN/ACK statuses.
type AlertRepository interface {
	// GetActiveByKey returns the OPEN or ACK alert for the key, if any.
	GetActiveByKey(ctx context.Context, key AlertKey) (*Alert, error)

	// UpsertActive inserts the alert as OPEN or refreshes the severity,
	// confidence and evidence of an existing OPEN/ACK alert in place.
	UpsertActive(ctx context.Context, alert *Alert) (inserted bool, err error)
}
