// Package detection holds the finding aggregates produced by the signal
// and alert engines, their dedup keys, and the ports the engines write
// through.
package detection

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SignalType categorizes an opportunity signal. The set is closed; each
// type maps to a static list of recommended actions.
type SignalType string

const (
	SignalTypeVigorDecline      SignalType = "VIGOR_DECLINE"
	SignalTypeStressEmerging    SignalType = "STRESS_EMERGING"
	SignalTypeRecoveryCandidate SignalType = "RECOVERY_CANDIDATE"
	SignalTypeYieldOpportunity  SignalType = "YIELD_OPPORTUNITY"
)

func (t SignalType) String() string { return string(t) }

// SignalStatus tracks the human lifecycle of a signal. The engine only
// creates OPEN signals and updates existing OPEN ones in place; ack and
// resolve transitions belong to the presentation layer.
type SignalStatus string

const (
	SignalStatusOpen      SignalStatus = "OPEN"
	SignalStatusAck       SignalStatus = "ACK"
	SignalStatusResolved  SignalStatus = "RESOLVED"
	SignalStatusDismissed SignalStatus = "DISMISSED"
)

// Severity grades how pressing a finding is.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Confidence grades how much the evidence supports the finding.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// SignalKey is the dedup identity of a signal. Re-running detection for the
// same key updates the open signal in place rather than inserting another.
type SignalKey struct {
	TenantID        uuid.UUID
	AOIID           uuid.UUID
	Year            int
	Week            int
	PipelineVersion string
	SignalType      SignalType
}

// Signal is a scored opportunity derived from multi-week analysis.
type Signal struct {
	ID         uuid.UUID
	Key        SignalKey
	Severity   Severity
	Confidence Confidence
	Score      float64
	Evidence   json.RawMessage
	Features   json.RawMessage
	Actions    []string
	Status     SignalStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
