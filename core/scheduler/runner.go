package scheduler

import (
	"context"
	"time"

	"github.com/Aprelius/scheduler/core/task"
)

// Runner executes a single dispatched task's body on the executor's
// worker goroutine and reports the outcome back to the scheduler that
// dispatched it. The original implementation holds this back-pointer
// as a weak reference to avoid keeping the scheduler alive from
// worker goroutines that may outlive it; Go's garbage collector
// already tolerates the resulting reference cycle, so a plain pointer
// is enough here.
type Runner struct {
	scheduler *Scheduler
}

// run drives t's body to a terminal or PENDING (retry) outcome. It is
// called on the executor worker assigned to t's shard.
func (r *Runner) run(t *task.Task) {
	start := time.Now()
	result, _ := t.Run(context.Background())
	r.recordDuration(start)

	switch result {
	case task.ResultSuccess:
		t.SetState(task.StateSuccess)
		r.scheduler.Notify(t, task.StateSuccess)
	case task.ResultFailure:
		t.SetState(task.StateFailed)
		r.scheduler.Notify(t, task.StateFailed)
	case task.ResultRetry:
		if t.IsRetryable() {
			t.SetAfterTime(time.Now().Add(t.RetryInterval()))
			t.SetState(task.StateRetry)
			t.SetState(task.StatePending)
			r.recordRetry()
			r.scheduler.Notify(t, task.StatePending)
		} else {
			t.SetState(task.StateFailed)
			r.scheduler.Notify(t, task.StateFailed)
		}
	default:
		panic("scheduler: task body returned an unknown result")
	}
}

func (r *Runner) recordDuration(start time.Time) {
	m := r.scheduler.metrics
	if m == nil || m.TaskDuration == nil {
		return
	}
	m.TaskDuration.Record(context.Background(), float64(time.Since(start).Milliseconds()))
}

func (r *Runner) recordRetry() {
	m := r.scheduler.metrics
	if m != nil && m.TasksRetried != nil {
		m.TasksRetried.Add(context.Background(), 1)
	}
}
