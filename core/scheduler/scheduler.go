// Package scheduler implements the supervisor loop that walks a task
// dependency graph to readiness, dispatches ready tasks to the
// executor, and reconciles their outcomes back into the metadata
// store.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Aprelius/scheduler/core/executor"
	"github.com/Aprelius/scheduler/core/identity"
	"github.com/Aprelius/scheduler/core/obs"
	"github.com/Aprelius/scheduler/core/task"
	"github.com/Aprelius/scheduler/core/taskstore"
)

// Error re-exports the shared result/error taxonomy so callers never
// need to import core/taskstore just to check a return code.
type Error = taskstore.Error

const (
	EFailure         = taskstore.EFailure
	ESuccess         = taskstore.ESuccess
	ENotFound        = taskstore.ENotFound
	ECancelled       = taskstore.ECancelled
	ECompleted       = taskstore.ECompleted
	EInvalidArgument = taskstore.EInvalidArgument
)

// timeoutThreshold is how long a NEW task may sit in the pending set
// with a dependency that was never submitted to this scheduler before
// the scheduler gives up on it. Measured from first observation, not
// creation.
const timeoutThreshold = 30 * time.Second

// Params configures a Scheduler.
type Params struct {
	Store    taskstore.MetadataStore
	Executor *executor.Executor
	// Metrics is optional; the zero value disables instrumentation.
	Metrics *obs.Metrics
}

// Scheduler is the single-mutex supervisor: one submission queue, one
// pending set, one active set, walked on every RunOnce pass.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	store    taskstore.MetadataStore
	executor *executor.Executor
	runner   *Runner
	metrics  *obs.Metrics

	queue   []*task.Task
	known   map[identity.ID]*task.Task
	pending map[identity.ID]*task.Task
	active  map[identity.ID]*task.Task

	firstObserved map[identity.ID]time.Time
	premature     map[identity.ID]time.Time

	notify    bool
	waiting   bool
	shutdown  bool
	completed bool
}

// New creates a Scheduler. Callers must call Start to begin
// processing.
func New(p Params) *Scheduler {
	s := &Scheduler{
		store:         p.Store,
		executor:      p.Executor,
		metrics:       p.Metrics,
		known:         make(map[identity.ID]*task.Task),
		pending:       make(map[identity.ID]*task.Task),
		active:        make(map[identity.ID]*task.Task),
		firstObserved: make(map[identity.ID]time.Time),
		premature:     make(map[identity.ID]time.Time),
	}
	s.cond = sync.NewCond(&s.mu)
	s.runner = &Runner{scheduler: s}
	return s
}

// Enqueue submits t, and every (possibly indirect) dependency it
// carries that the scheduler has not already seen, for processing.
// Submitting a Chain or Group works the same way: both are themselves
// *task.Task values whose Dependencies() reach every member.
func (s *Scheduler) Enqueue(t *task.Task) Error {
	s.mu.Lock()
	s.enqueueLocked(t)
	s.notify = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return ESuccess
}

func (s *Scheduler) enqueueLocked(t *task.Task) {
	if _, ok := s.known[t.ID()]; ok {
		return
	}
	s.known[t.ID()] = t
	s.store.Add(t)
	s.queue = append(s.queue, t)
	if s.metrics != nil && s.metrics.TasksEnqueued != nil {
		s.metrics.TasksEnqueued.Add(context.Background(), 1)
	}
	for _, d := range t.Dependencies() {
		s.enqueueLocked(d)
	}
}

// Start runs the supervisor loop on its own goroutine until ctx is
// cancelled or Shutdown is called.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		next := s.RunOnce(time.Now())

		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			return
		}
		if !s.notify {
			s.waitLocked(ctx, next)
		}
		s.notify = false
		s.mu.Unlock()
	}
}

// waitLocked blocks (mu held) until notified, until the deadline
// passes, or until ctx is cancelled, whichever is first. It emulates
// a timed condition wait, since sync.Cond has none built in.
func (s *Scheduler) waitLocked(ctx context.Context, deadline time.Time) {
	if deadline.IsZero() {
		// Nothing premature to wake up for; still bound the wait so
		// ctx cancellation and shutdown are noticed promptly.
		deadline = time.Now().Add(time.Second)
	}
	timer := time.AfterFunc(time.Until(deadline), func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	done := make(chan struct{})
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.shutdown = true
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-stopWatch:
		}
		close(done)
	}()

	s.waiting = true
	for !s.notify && !s.shutdown && time.Now().Before(deadline) {
		s.cond.Wait()
	}
	s.waiting = false
	close(stopWatch)
	<-done
}

// RunOnce drains the submission queue, reconciles completed active
// tasks, walks the pending set to readiness, prunes stale premature
// bookkeeping, and returns the next time a premature task will become
// eligible (the zero Time if none is pending).
func (s *Scheduler) RunOnce(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drainQueueLocked(now)
	s.processActiveTasksLocked()
	s.processPendingTasksLocked(now)
	s.prunePrematureTasksLocked(now)
	return s.nextPrematureDeadlineLocked()
}

func (s *Scheduler) drainQueueLocked(now time.Time) {
	for _, t := range s.queue {
		s.pending[t.ID()] = t
		if _, ok := s.firstObserved[t.ID()]; !ok {
			s.firstObserved[t.ID()] = now
		}
	}
	s.queue = nil
}

func (s *Scheduler) processActiveTasksLocked() {
	for id, t := range s.active {
		if t.IsComplete() {
			s.store.Finalize(t)
			s.countTerminal(t.State())
			delete(s.active, id)
			delete(s.firstObserved, id)
		}
	}
}

// countTerminal emits the succeeded/failed counter matching a task's
// terminal state. A no-op when metrics are disabled.
func (s *Scheduler) countTerminal(state task.State) {
	if s.metrics == nil {
		return
	}
	ctx := context.Background()
	switch state {
	case task.StateSuccess:
		if s.metrics.TasksSucceeded != nil {
			s.metrics.TasksSucceeded.Add(ctx, 1)
		}
	case task.StateFailed, task.StateCancelled:
		if s.metrics.TasksFailed != nil {
			s.metrics.TasksFailed.Add(ctx, 1)
		}
	}
}

func (s *Scheduler) countExpired() {
	if s.metrics != nil && s.metrics.TasksExpired != nil {
		s.metrics.TasksExpired.Add(context.Background(), 1)
	}
}

// processPendingTasksLocked walks every pending task once, dispatching
// the ones whose dependencies are satisfied and pruning the ones that
// can never run. It returns whether any pending task was cancelled,
// expired, timed out or failed by a dependency this pass — false when
// the pending set was empty or none was.
func (s *Scheduler) processPendingTasksLocked(now time.Time) bool {
	failed := false
	for id, t := range s.pending {
		switch {
		case !t.IsValid():
			t.SetState(task.StateCancelled)
			s.store.Finalize(t)
			s.countTerminal(task.StateCancelled)
			delete(s.pending, id)
			delete(s.firstObserved, id)
			delete(s.premature, id)
			failed = true

		case t.IsExpired(now):
			// Force the task itself FAILED so a strictly-downstream
			// dependent observes the expiry and fails in turn on the
			// next pass. The metadata store still records it as
			// CANCELLED via Expire, per its own always-cache-CANCELLED
			// contract.
			t.Fail()
			s.store.Expire(t)
			s.countExpired()
			delete(s.pending, id)
			delete(s.firstObserved, id)
			delete(s.premature, id)
			failed = true

		case s.isTimedOutLocked(id, now):
			t.Fail()
			s.store.Finalize(t)
			s.countTerminal(task.StateFailed)
			delete(s.pending, id)
			delete(s.firstObserved, id)
			delete(s.premature, id)
			failed = true

		default:
			if ready, depFailed := s.dependenciesReady(t); depFailed {
				t.Fail()
				s.store.Finalize(t)
				s.countTerminal(task.StateFailed)
				delete(s.pending, id)
				delete(s.firstObserved, id)
				delete(s.premature, id)
				failed = true
			} else if ready {
				if t.IsPremature(now) {
					s.premature[id] = t.NotBefore()
					continue
				}
				delete(s.pending, id)
				delete(s.firstObserved, id)
				delete(s.premature, id)
				s.dispatchLocked(t)
			}
		}
	}
	return failed
}

// isTimedOutLocked reports whether a NEW task has sat in the pending
// set for more than timeoutThreshold while depending on a task this
// scheduler never received. Measured as now - first_observed, not
// now - deadline: the inverse comparison would never fire until long
// after the window had actually elapsed.
func (s *Scheduler) isTimedOutLocked(id identity.ID, now time.Time) bool {
	first, ok := s.firstObserved[id]
	if !ok {
		return false
	}
	t, ok := s.pending[id]
	if !ok || t.State() != task.StateNew {
		return false
	}
	for _, d := range t.Dependencies() {
		if _, submitted := s.known[d.ID()]; !submitted {
			return now.Sub(first) > timeoutThreshold
		}
	}
	return false
}

// dependenciesReady reports whether every dependency of t has
// completed successfully (ready=true), or whether one of them
// terminated in a non-success state, which must propagate as failure
// to t (depFailed=true).
func (s *Scheduler) dependenciesReady(t *task.Task) (ready bool, depFailed bool) {
	for _, d := range t.Dependencies() {
		if !d.IsComplete() {
			return false, false
		}
		if d.State() != task.StateSuccess {
			return false, true
		}
	}
	return true, false
}

func (s *Scheduler) dispatchLocked(t *task.Task) {
	t.SetState(task.StateActive)
	s.active[t.ID()] = t
	if s.metrics != nil && s.metrics.TasksDispatched != nil {
		s.metrics.TasksDispatched.Add(context.Background(), 1)
	}
	runner := s.runner
	if err := s.executor.Enqueue(t.ID(), func() { runner.run(t) }); err != nil {
		// Executor already shut down; reconcile immediately so the task
		// doesn't linger in active forever.
		t.SetState(task.StateFailed)
		s.store.Finalize(t)
		s.countTerminal(task.StateFailed)
		delete(s.active, t.ID())
	}
}

// prunePrematureTasksLocked drops bookkeeping for tasks whose
// readiness window has already elapsed; the task itself stays in
// pending and is re-evaluated on the next pass.
func (s *Scheduler) prunePrematureTasksLocked(now time.Time) {
	for id, deadline := range s.premature {
		if !now.Before(deadline) {
			delete(s.premature, id)
		}
	}
}

func (s *Scheduler) nextPrematureDeadlineLocked() time.Time {
	var next time.Time
	for _, deadline := range s.premature {
		if next.IsZero() || deadline.Before(next) {
			next = deadline
		}
	}
	return next
}

// notifyLocked is called by the Runner when a dispatched task's state
// changes. A RETRY-driven transition back to PENDING must move the
// task out of the active set itself, since processActiveTasksLocked
// only reaps complete tasks.
func (s *Scheduler) notifyLocked(t *task.Task, state task.State) {
	if state == task.StatePending {
		delete(s.active, t.ID())
		s.pending[t.ID()] = t
		s.firstObserved[t.ID()] = time.Now()
	}
	s.notify = true
	s.cond.Broadcast()
}

// Notify is the Runner's callback into the scheduler after a
// dispatched task's Run() call returns and its state has been set.
func (s *Scheduler) Notify(t *task.Task, state task.State) {
	s.mu.Lock()
	s.notifyLocked(t, state)
	s.mu.Unlock()
}

// Shutdown stops the supervisor loop and tears down the executor and
// metadata store, in that order, outside the scheduler's own lock —
// mirroring the original's move-out-then-shutdown-outside-lock
// ordering so a blocking executor drain never holds up a concurrent
// Enqueue.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	exec := s.executor
	store := s.store
	s.cond.Broadcast()
	s.mu.Unlock()

	exec.Shutdown(true)
	store.Shutdown()
}
