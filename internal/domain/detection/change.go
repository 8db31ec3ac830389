package detection

import "github.com/croplens/croplens/internal/domain/observations"

// ChangeDirection is the sign of a detected change.
type ChangeDirection string

const (
	ChangeDirectionNone    ChangeDirection = "NONE"
	ChangeDirectionDecline ChangeDirection = "DECLINE"
	ChangeDirectionImprove ChangeDirection = "IMPROVE"
)

// ChangeDescriptor is the structured output of change detection over an
// ordered observation window.
type ChangeDescriptor struct {
	Detected       bool            `json:"detected"`
	Magnitude      float64         `json:"magnitude"`
	Direction      ChangeDirection `json:"direction"`
	WeeksPersisted int             `json:"weeks_persisted"`
}

// ChangeDetector is a closed set of strategies selected at construction
// time from configuration. Implementations must tolerate short windows and
// report no change rather than erroring.
type ChangeDetector interface {
	Detect(window []observations.Observation) ChangeDescriptor
}
