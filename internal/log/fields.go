package log

const (
	NamespaceKey = "invoiceflow"

	InstanceIDKey   = NamespaceKey + ".instance.id"
	WorkflowNameKey = NamespaceKey + ".workflow.name"

	ActivityNameKey = NamespaceKey + ".activity.name"

	EventTypeKey       = NamespaceKey + ".event.type"
	EventIDKey         = NamespaceKey + ".event.id"
	ScheduleEventIDKey = NamespaceKey + ".event.schedule_event_id"

	TaskIDKey             = NamespaceKey + ".task.id"
	TaskLastSequenceIDKey = NamespaceKey + ".task.last_sequence_id"
	ExecutedEventsKey     = NamespaceKey + ".task.executed_events"

	AttemptKey  = NamespaceKey + ".attempt"
	DurationKey = NamespaceKey + ".duration_ms"
)
