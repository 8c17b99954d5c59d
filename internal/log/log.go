package log

const (
	NamespaceKey = "durabletask"

	InstanceIDKey        = NamespaceKey + ".instance.id"
	InstanceStatusKey    = NamespaceKey + ".instance.status"
	OrchestrationNameKey = NamespaceKey + ".orchestration.name"

	TaskIDKey       = NamespaceKey + ".task.id"
	ActivityNameKey = NamespaceKey + ".activity.name"
	AttemptKey      = NamespaceKey + ".attempt"

	SeqIDKey       = NamespaceKey + ".seq_id"
	IsReplayingKey = NamespaceKey + ".is_replaying"

	EventTypeKey = NamespaceKey + ".event.type"
	EventIDKey   = NamespaceKey + ".event.id"

	HistoryLengthKey = NamespaceKey + ".history.length"
	NewEventsKey     = NamespaceKey + ".history.new_events"
	NewTasksKey      = NamespaceKey + ".history.new_tasks"

	DurationKey = NamespaceKey + ".duration_ms"
)
