package task

import (
	"context"
	"testing"
	"time"
)

func noop(ctx context.Context) (Result, error) { return ResultSuccess, nil }

func TestNewTaskIsValidAndNew(t *testing.T) {
	tk := Create(noop)
	if tk.State() != StateNew {
		t.Fatalf("state = %v, want NEW", tk.State())
	}
	if !tk.IsValid() {
		t.Fatalf("new task should be valid")
	}
}

func TestDependsLinksDependency(t *testing.T) {
	a := Create(noop)
	b := Create(noop)
	b.Depends(a)
	deps := b.Dependencies()
	if len(deps) != 1 || deps[0] != a {
		t.Fatalf("b should depend on a")
	}
	if !b.Requires(a.ID()) {
		t.Fatalf("b.Requires(a) should be true")
	}
}

func TestDependsNoOpOnComplete(t *testing.T) {
	a := Create(noop)
	b := Create(noop)
	b.SetState(StateSuccess)
	b.Depends(a)
	if len(b.Dependencies()) != 0 {
		t.Fatalf("Depends on a complete task should be a no-op")
	}
}

func TestDependsCycleInvalidatesInsteadOfRejecting(t *testing.T) {
	a := Create(noop)
	b := Create(noop)
	b.Depends(a) // b -> a
	a.Depends(b) // a -> b, closes the cycle

	// The link itself still succeeds...
	deps := a.Dependencies()
	if len(deps) != 1 || deps[0] != b {
		t.Fatalf("a should carry the dependency on b despite the cycle")
	}
	// ...but a is marked invalid because b already requires a.
	if a.IsValid() {
		t.Fatalf("a should be invalidated by the cyclic dependency")
	}
}

func TestSetValidMonotonic(t *testing.T) {
	tk := Create(noop)
	tk.SetValid(false)
	if tk.IsValid() {
		t.Fatalf("task should be invalid")
	}
	tk.SetValid(true)
	if tk.IsValid() {
		t.Fatalf("SetValid(true) must not resurrect an invalidated task")
	}
}

func TestSetStateNoOpOnceComplete(t *testing.T) {
	tk := Create(noop)
	tk.SetState(StateSuccess)
	tk.SetState(StateActive)
	if tk.State() != StateSuccess {
		t.Fatalf("state = %v, want terminal SUCCESS to stick", tk.State())
	}
}

func TestWaitUnblocksOnTerminalState(t *testing.T) {
	tk := Create(noop)
	done := make(chan struct{})
	go func() {
		tk.Wait(true)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	tk.SetState(StateFailed)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after terminal state")
	}
}

func TestWaitNonCompleteReturnsOnAnyTransition(t *testing.T) {
	tk := Create(noop)
	tk.SetState(StateActive)
	done := make(chan struct{})
	go func() {
		tk.Wait(false)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("Wait(false) returned before any state transition")
	default:
	}
	tk.SetState(StateRetry)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Wait(false) did not return after a non-terminal transition")
	}
}

func TestIsPrematureAndIsExpired(t *testing.T) {
	now := time.Now()
	tk := Create(noop, After(now.Add(time.Hour)))
	if !tk.IsPremature(now) {
		t.Fatalf("task scheduled an hour out should be premature now")
	}

	expiring := Create(noop, Before(now.Add(-time.Minute)))
	if !expiring.IsExpired(now) {
		t.Fatalf("task with a past deadline should be expired")
	}
	expiring.SetState(StateSuccess)
	if !expiring.IsExpired(now) {
		t.Fatalf("expiry is independent of completion: a finished task past its deadline stays expired")
	}
}

func TestIsRetryable(t *testing.T) {
	tk := Create(noop, WithRetry(RetryPolicy{MaxAttempts: 2, Interval: time.Millisecond}))
	if !tk.IsRetryable() {
		t.Fatalf("fresh task with MaxAttempts=2 should be retryable")
	}
	tk.SetState(StateRetry)
	if !tk.IsRetryable() {
		t.Fatalf("task should still have one attempt left")
	}
	tk.SetState(StatePending)
	tk.SetState(StateRetry)
	if tk.IsRetryable() {
		t.Fatalf("task should have exhausted its retry budget")
	}
}
