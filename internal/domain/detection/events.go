package detection

import (
	"time"

	"github.com/croplens/croplens/internal/domain/events"
)

const (
	// EventTypeSignalRaised notifies downstream consumers that a signal was
	// created or refreshed.
	EventTypeSignalRaised events.EventType = "detection.signal_raised"

	// EventTypeAlertRaised notifies downstream consumers that an alert was
	// created or refreshed.
	EventTypeAlertRaised events.EventType = "detection.alert_raised"
)

// SignalRaisedEvent is published after a signal upsert succeeds.
type SignalRaisedEvent struct {
	Signal     *Signal
	Inserted   bool
	occurredAt time.Time
}

// NewSignalRaisedEvent creates an event for a persisted signal.
func NewSignalRaisedEvent(signal *Signal, inserted bool) SignalRaisedEvent {
	return SignalRaisedEvent{Signal: signal, Inserted: inserted, occurredAt: time.Now().UTC()}
}

func (e SignalRaisedEvent) EventType() events.EventType { return EventTypeSignalRaised }
func (e SignalRaisedEvent) OccurredAt() time.Time       { return e.occurredAt }

// AlertRaisedEvent is published after an alert upsert succeeds.
type AlertRaisedEvent struct {
	Alert      *Alert
	Inserted   bool
	occurredAt time.Time
}

// NewAlertRaisedEvent creates an event for a persisted alert.
func NewAlertRaisedEvent(alert *Alert, inserted bool) AlertRaisedEvent {
	return AlertRaisedEvent{Alert: alert, Inserted: inserted, occurredAt: time.Now().UTC()}
}

func (e AlertRaisedEvent) EventType() events.EventType { return EventTypeAlertRaised }
func (e AlertRaisedEvent) OccurredAt() time.Time       { return e.occurredAt }
