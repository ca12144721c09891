package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aprelius/scheduler/core/identity"
)

func TestEnqueueRunsSubmittedWork(t *testing.T) {
	e := New(4)
	defer e.Shutdown(true)

	var n int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		id := identity.New()
		if err := e.Enqueue(id, func() {
			atomic.AddInt64(&n, 1)
			wg.Done()
		}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for submitted work")
	}
	if got := atomic.LoadInt64(&n); got != 100 {
		t.Fatalf("ran %d tasks, want 100", got)
	}
}

func TestSameIDAlwaysSameShard(t *testing.T) {
	e := New(8)
	defer e.Shutdown(true)

	id := identity.New()
	shards := make(chan int, 10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if err := e.Enqueue(id, func() {
			shards <- int(id.Hash() % 8)
			wg.Done()
		}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	wg.Wait()
	close(shards)
	first := -1
	for s := range shards {
		if first == -1 {
			first = s
		} else if s != first {
			t.Fatalf("same id dispatched to different shards: %d vs %d", first, s)
		}
	}
}

func TestEnqueueAfterShutdownFails(t *testing.T) {
	e := New(2)
	e.Shutdown(true)
	if err := e.Enqueue(identity.New(), func() {}); err == nil {
		t.Fatalf("Enqueue after shutdown should fail")
	}
}

func TestCancelIsNoOp(t *testing.T) {
	e := New(1)
	defer e.Shutdown(true)
	if err := e.Cancel(identity.New()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}
