package history

import (
	"time"

	"github.com/google/uuid"
)

type EventType uint

const (
	_ EventType = iota

	EventType_ActivityScheduled
	EventType_ActivityCompleted
	EventType_ActivityFailed

	EventType_OrchestratorCompleted
)

func (et EventType) String() string {
	switch et {
	case EventType_ActivityScheduled:
		return "ActivityScheduled"
	case EventType_ActivityCompleted:
		return "ActivityCompleted"
	case EventType_ActivityFailed:
		return "ActivityFailed"
	case EventType_OrchestratorCompleted:
		return "OrchestratorCompleted"
	default:
		return "Unknown"
	}
}

// Event is one immutable record in an instance's history. Events are
// total-ordered per instance by SequenceID; once appended they are never
// mutated or removed.
type Event struct {
	// ID is a unique identifier for this event
	ID string

	Type EventType

	Timestamp time.Time

	// SequenceID is assigned when the event is appended to an instance's
	// history. It is unique and gapless per instance.
	SequenceID int64

	// ScheduleEventID correlates events belonging together. An activity's
	// completion or failure event carries the ScheduleEventID of the
	// schedule event that caused its execution.
	ScheduleEventID int64

	// Attributes are event type specific attributes
	Attributes any

	// VisibleAt delays delivery of the event, used for backed-off retries
	VisibleAt *time.Time
}

type EventOption func(e *Event)

func ScheduleEventID(scheduleEventID int64) EventOption {
	return func(e *Event) {
		e.ScheduleEventID = scheduleEventID
	}
}

func VisibleAt(visibleAt time.Time) EventOption {
	return func(e *Event) {
		e.VisibleAt = &visibleAt
	}
}

func NewEvent(timestamp time.Time, eventType EventType, attributes any, opts ...EventOption) *Event {
	e := &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  timestamp,
		Attributes: attributes,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}
