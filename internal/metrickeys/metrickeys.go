package metrickeys

const (
	InstanceCreated  = "instances.created"
	InstanceFinished = "instances.finished"

	OrchestrationTaskProcessed = "orchestration_task.processed"

	ActivityTaskProcessed = "activity_task.processed"
	ActivityTaskDelay     = "activity_task.delay"
	ActivityTaskRetried   = "activity_task.retried"

	ActivityName = "activity"
)
