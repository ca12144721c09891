// Package task implements the scheduler's unit of work: a state
// machine with dependency edges, an optional retry policy, and a
// pluggable body.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/Aprelius/scheduler/core/identity"
)

// State is a task's position in the NEW -> PENDING -> ACTIVE ->
// {SUCCESS, FAILED, CANCELLED} machine, with RETRY looping back to
// PENDING.
type State int

const (
	StateNew State = iota
	StatePending
	StateActive
	StateRetry
	StateSuccess
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StatePending:
		return "PENDING"
	case StateActive:
		return "ACTIVE"
	case StateRetry:
		return "RETRY"
	case StateSuccess:
		return "SUCCESS"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Result is what a Body reports after Run returns.
type Result int

const (
	ResultSuccess Result = iota
	ResultFailure
	ResultRetry
)

// Body is the work a task performs. Returning ResultRetry from a task
// whose RetryPolicy allows no further attempts is treated as FAILURE.
type Body func(ctx context.Context) (Result, error)

// FuncBody adapts a plain closure with no result reporting into a
// Body that always reports SUCCESS unless the closure returns an
// error, in which case it reports FAILURE.
func FuncBody(fn func(ctx context.Context) error) Body {
	return func(ctx context.Context) (Result, error) {
		if err := fn(ctx); err != nil {
			return ResultFailure, err
		}
		return ResultSuccess, nil
	}
}

// FromBool adapts a boolean-returning closure, the shape used by the
// simplest completion checks: true reports SUCCESS, false FAILURE.
func FromBool(fn func(ctx context.Context) bool) Body {
	return func(ctx context.Context) (Result, error) {
		if fn(ctx) {
			return ResultSuccess, nil
		}
		return ResultFailure, nil
	}
}

// RetryPolicy governs how many times, and at what interval, a task may
// be requeued after its body reports ResultRetry.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

func (p RetryPolicy) retryable() bool { return p.MaxAttempts > 0 }

// Task is the scheduler's unit of work: an identity, a body, a set of
// dependencies, and a state machine guarded by its own mutex.
type Task struct {
	id   identity.ID
	mu   sync.Mutex
	cond *sync.Cond

	state State
	valid bool

	deps []*Task
	body Body

	retry    RetryPolicy
	attempts int

	notBefore time.Time // After/Between: task is premature until this time
	deadline  time.Time // Before/Between: task is expired once past this time

	afterRetry time.Time // next-eligible time set by the runner on RETRY
}

// Option configures a Task at construction time.
type Option func(*Task)

// After marks the task premature until t.
func After(t time.Time) Option {
	return func(tk *Task) { tk.notBefore = t }
}

// Before gives the task a deadline; once past it, the task is
// considered expired, whether or not it has completed.
func Before(t time.Time) Option {
	return func(tk *Task) { tk.deadline = t }
}

// Between is sugar for After(start) combined with Before(end).
func Between(start, end time.Time) Option {
	return func(tk *Task) { tk.notBefore = start; tk.deadline = end }
}

// WithRetry attaches a retry policy to the task.
func WithRetry(policy RetryPolicy) Option {
	return func(tk *Task) { tk.retry = policy }
}

// Create builds a new, valid, NEW-state task around body.
func Create(body Body, opts ...Option) *Task {
	t := &Task{
		id:    identity.New(),
		state: StateNew,
		valid: true,
		body:  body,
	}
	t.cond = sync.NewCond(&t.mu)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID returns the task's identifier.
func (t *Task) ID() identity.ID { return t.id }

// Run invokes the task's body. Callers (the Runner) are responsible
// for driving the resulting state transition.
func (t *Task) Run(ctx context.Context) (Result, error) {
	if t.body == nil {
		return ResultSuccess, nil
	}
	return t.body(ctx)
}

// Depends adds dep as a dependency of t. It is a no-op if t is
// invalid, already complete, already active, or already depends on
// dep. After linking, if dep (transitively) depends on t, a cycle
// would result; rather than refusing the link, t is marked invalid —
// mirroring the original implementation's invalidate-on-cycle
// behavior instead of rejecting the call.
func (t *Task) Depends(dep *Task) {
	t.mu.Lock()
	if !t.valid || t.isCompleteLocked() || t.state == StateActive || t.requiresLocked(dep.id, nil) {
		t.mu.Unlock()
		return
	}
	t.deps = append(t.deps, dep)
	t.mu.Unlock()

	if dep.Requires(t.id) {
		t.mu.Lock()
		t.valid = false
		t.mu.Unlock()
	}
}

// Requires reports whether t transitively depends on id.
func (t *Task) Requires(id identity.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requiresLocked(id, nil)
}

func (t *Task) requiresLocked(id identity.ID, visited map[identity.ID]bool) bool {
	if visited == nil {
		visited = make(map[identity.ID]bool)
	}
	if visited[t.id] {
		return false
	}
	visited[t.id] = true
	for _, d := range t.deps {
		if d.id.Equal(id) {
			return true
		}
		if d.requiresLocked(id, visited) {
			return true
		}
	}
	return false
}

// Dependencies returns a snapshot of t's direct dependencies.
func (t *Task) Dependencies() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Task, len(t.deps))
	copy(out, t.deps)
	return out
}

// IsValid reports whether t, and every dependency it carries, is
// still valid. Invalidity is monotonic: once false, always false.
func (t *Task) IsValid() bool {
	t.mu.Lock()
	valid := t.valid
	deps := make([]*Task, len(t.deps))
	copy(deps, t.deps)
	t.mu.Unlock()

	if !valid {
		return false
	}
	for _, d := range deps {
		if !d.IsValid() {
			return false
		}
	}
	return true
}

// SetValid clears validity. It is a monotonic one-way transition: a
// task already invalid is left unchanged, and SetValid(true) never
// makes an invalid task valid again (it panics on an active or
// complete task). Callers must not invalidate an active or complete
// task.
func (t *Task) SetValid(valid bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !valid {
		t.valid = false
		return
	}
	if t.state == StateActive || t.isCompleteLocked() {
		panic("task: cannot revalidate an active or complete task")
	}
}

// State returns the task's current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState transitions t to state. It is a no-op once t is complete —
// terminal states are sticky.
func (t *Task) SetState(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setStateLocked(state)
}

func (t *Task) setStateLocked(state State) {
	if t.isCompleteLocked() {
		return
	}
	t.state = state
	if state == StateRetry {
		t.attempts++
	}
	t.cond.Broadcast()
}

// Fail forces t into StateFailed. A no-op once t is already terminal.
// This is the path the supervisor uses to propagate a dependency's
// FAILED/EXPIRED state, or a dependency-wait timeout, onto a task that
// never itself ran.
func (t *Task) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setStateLocked(StateFailed)
}

func (t *Task) isCompleteLocked() bool {
	switch t.state {
	case StateSuccess, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// IsComplete reports whether t has reached a terminal state.
func (t *Task) IsComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isCompleteLocked()
}

// IsActive reports whether t is currently dispatched to a worker.
func (t *Task) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateActive
}

// IsPremature reports whether t has an After/Between bound that has
// not yet elapsed.
func (t *Task) IsPremature(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.notBefore.IsZero() && now.Before(t.notBefore) {
		return true
	}
	if !t.afterRetry.IsZero() && now.Before(t.afterRetry) {
		return true
	}
	return false
}

// NotBefore returns the later of t's After/Between bound and any
// retry-scheduled time, i.e. the moment t stops being premature. The
// zero Time means t carries no such bound.
func (t *Task) NotBefore() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.afterRetry.After(t.notBefore) {
		return t.afterRetry
	}
	return t.notBefore
}

// IsExpired reports whether t has a Before/Between deadline that has
// elapsed. This is independent of completion: a task can finish its
// body and still be expired, which is what lets the metadata store
// decide to record it as cancelled rather than by its actual result.
func (t *Task) IsExpired(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deadline.IsZero() {
		return false
	}
	return !now.Before(t.deadline)
}

// IsRetryable reports whether t carries a retry policy with attempts
// remaining.
func (t *Task) IsRetryable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retry.retryable() && t.attempts < t.retry.MaxAttempts
}

// RetryInterval returns the configured delay before a RETRY-ed task
// becomes eligible for redispatch.
func (t *Task) RetryInterval() time.Duration { return t.retry.Interval }

// SetAfterTime sets the time before which the task is premature,
// used by the runner to schedule the next retry attempt.
func (t *Task) SetAfterTime(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.afterRetry = at
}

// Wait blocks until t reaches a terminal state. If untilComplete is
// false, it instead returns as soon as t's state changes at all (or
// immediately, if t is already terminal).
func (t *Task) Wait(untilComplete bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isCompleteLocked() {
		return
	}
	state := t.state
	for {
		if untilComplete {
			if t.isCompleteLocked() {
				return
			}
		} else if t.state != state {
			return
		}
		t.cond.Wait()
	}
}
