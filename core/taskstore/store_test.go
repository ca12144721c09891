package taskstore

import (
	"context"
	"testing"
	"time"

	"github.com/Aprelius/scheduler/core/task"
)

func noop(ctx context.Context) (task.Result, error) { return task.ResultSuccess, nil }

func TestAddThenGetTaskReturnsLiveState(t *testing.T) {
	s := NewMemoryStore()
	tk := task.Create(noop)
	s.Add(tk)
	tk.SetState(task.StateActive)

	st, err := s.GetTask(tk.ID())
	if err != ESuccess {
		t.Fatalf("err = %v, want ESuccess", err)
	}
	if st != task.StateActive {
		t.Fatalf("state = %v, want ACTIVE", st)
	}
}

func TestGetTaskUnknownIsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetTask(task.Create(noop).ID())
	if err != ENotFound {
		t.Fatalf("err = %v, want ENotFound", err)
	}
}

func TestExpireAlwaysCachesCancelled(t *testing.T) {
	s := NewMemoryStore()
	tk := task.Create(noop)
	s.Add(tk)
	tk.SetState(task.StateSuccess)

	s.Expire(tk)
	st, err := s.GetTask(tk.ID())
	if err != ECancelled || st != task.StateCancelled {
		t.Fatalf("got (%v, %v), want (CANCELLED, ECancelled)", st, err)
	}
}

func TestFinalizeCachesActualTerminalState(t *testing.T) {
	s := NewMemoryStore()
	tk := task.Create(noop)
	s.Add(tk)
	tk.SetState(task.StateFailed)

	s.Finalize(tk)
	st, err := s.GetTask(tk.ID())
	if err != EFailure || st != task.StateFailed {
		t.Fatalf("got (%v, %v), want (FAILED, EFailure)", st, err)
	}
}

func TestFinalizeDefersToExpireWhenTaskIsExpired(t *testing.T) {
	s := NewMemoryStore()
	tk := task.Create(noop, task.Before(time.Now().Add(-time.Minute)))
	s.Add(tk)
	tk.SetState(task.StateSuccess)

	// tk completed, but its deadline had already passed: Finalize must
	// still route through Expire and cache CANCELLED rather than the
	// task's own SUCCESS state.
	s.Finalize(tk)
	st, err := s.GetTask(tk.ID())
	if err != ECancelled || st != task.StateCancelled {
		t.Fatalf("got (%v, %v), want (CANCELLED, ECancelled)", st, err)
	}
}

func TestShutdownClearsState(t *testing.T) {
	s := NewMemoryStore()
	tk := task.Create(noop)
	s.Add(tk)
	s.Shutdown()
	_, err := s.GetTask(tk.ID())
	if err != ENotFound {
		t.Fatalf("err = %v, want ENotFound after Shutdown", err)
	}
}
