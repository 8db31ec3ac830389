package detection

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AlertType categorizes a threshold-rule finding.
type AlertType string

const (
	AlertTypeNoData            AlertType = "NO_DATA"
	AlertTypeLowNDVI           AlertType = "LOW_NDVI"
	AlertTypeRapidDecline      AlertType = "RAPID_DECLINE"
	AlertTypePersistentAnomaly AlertType = "PERSISTENT_ANOMALY"
)

func (t AlertType) String() string { return string(t) }

// AlertStatus tracks the human lifecycle of an alert.
type AlertStatus string

const (
	AlertStatusOpen     AlertStatus = "OPEN"
	AlertStatusAck      AlertStatus = "ACK"
	AlertStatusResolved AlertStatus = "RESOLVED"
)

// AlertKey is the dedup identity of an alert. Evaluation is idempotent per
// key: an existing OPEN or ACK alert is refreshed in place.
type AlertKey struct {
	TenantID  uuid.UUID
	AOIID     uuid.UUID
	Year      int
	Week      int
	AlertType AlertType
}

// Alert is a simple threshold-rule finding for one AOI-week.
type Alert struct {
	ID         uuid.UUID
	Key        AlertKey
	Severity   Severity
	Confidence Confidence
	Evidence   json.RawMessage
	Status     AlertStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
