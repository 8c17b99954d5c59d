package worker

import (
	"time"

	"github.com/itixo/durabletask/scheduler"
)

type Options struct {
	// OrchestrationPollers is the number of pollers taking run requests. Defaults to 2.
	OrchestrationPollers int

	// MaxParallelOrchestrations determines the maximum number of concurrent orchestration runs. The default is 0
	// which is no limit. Runs of the same instance are always serialized.
	MaxParallelOrchestrations int

	// ActivityPollers is the number of pollers to start. Defaults to 2.
	ActivityPollers int

	// MaxParallelActivityTasks determines the maximum number of concurrent activity tasks processed
	// by the worker. The default is 0 which is no limit.
	MaxParallelActivityTasks int

	// ActivityHeartbeatInterval is the interval in which running activities renew their lock. Defaults to
	// 25 seconds. Should be well below the backend's activity lock timeout.
	ActivityHeartbeatInterval time.Duration

	// ActivityPollingInterval is the interval between polling for new activity tasks when none was available.
	// Defaults to 200ms.
	ActivityPollingInterval time.Duration

	// ActivityQueue hands dispatched activity calls to activity pollers. If nil, an in-memory queue is used.
	ActivityQueue scheduler.Queue
}

var DefaultOptions = Options{
	OrchestrationPollers:      2,
	MaxParallelOrchestrations: 0,

	ActivityPollers:           2,
	ActivityPollingInterval:   200 * time.Millisecond,
	MaxParallelActivityTasks:  0,
	ActivityHeartbeatInterval: 25 * time.Second,
}
