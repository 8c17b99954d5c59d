package metrickeys

const (
	Prefix = "durabletask."

	// Orchestrations
	OrchestrationCreated  = Prefix + "orchestration.created"
	OrchestrationFinished = Prefix + "orchestration.finished"
	OrchestrationRun      = Prefix + "orchestration.run"
	OrchestrationReplayed = Prefix + "orchestration.replay.duration"

	// Activities
	ActivityTaskScheduled   = Prefix + "activity.task.scheduled"
	ActivityTaskRedispatch  = Prefix + "activity.task.redispatched"
	ActivityTaskProcessed   = Prefix + "activity.task.processed"
	ActivityTaskDelay       = Prefix + "activity.task.time_in_queue"
	ActivityResultConflicts = Prefix + "activity.result.sequence_conflicts"
)

// Tag names
const (
	// Backend being used
	Backend = "backend"

	Status = "status"

	ActivityName      = "activity"
	OrchestrationName = "orchestration"
)
