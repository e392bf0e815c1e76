package metrickeys

const (
	InstancesStarted   = "instances_started"
	InstancesCompleted = "instances_completed"
	InstancesFailed    = "instances_failed"
	InstancesCancelled = "instances_cancelled"
	ActivitiesExecuted = "activities_executed"
	ActivityErrors     = "activity_errors"
	RetriesScheduled   = "retries_scheduled"
	SignalsDelivered   = "signals_delivered"
	LockContention     = "lock_contention"
	DispatchDuration   = "dispatch_duration"
	TasksCreated       = "tasks_created"
	TimersScheduled    = "timers_scheduled"
)

const (
	TagProcessKey   = "process_key"
	TagActivityKind = "activity_kind"
	TagTenant       = "tenant"
)
