// Package executor implements a sharded worker pool: each task id is
// hashed onto a fixed worker so that repeated dispatches of the same
// id (e.g. retries) always land on the same goroutine, without any
// cross-worker synchronization beyond enqueue/shutdown.
package executor

import (
	"fmt"
	"sync"

	"github.com/Aprelius/scheduler/core/identity"
)

// Executor is a fixed-size pool of single-threaded workers, each
// running its own FIFO queue of submitted functions.
type Executor struct {
	workers     []*worker
	concurrency int
}

// New creates an Executor with the given concurrency (number of
// worker goroutines) and starts it. concurrency must be at least 1.
func New(concurrency int) *Executor {
	if concurrency < 1 {
		concurrency = 1
	}
	e := &Executor{concurrency: concurrency}
	e.workers = make([]*worker, concurrency)
	for i := range e.workers {
		e.workers[i] = newWorker()
	}
	for _, w := range e.workers {
		go w.run()
	}
	// Block until every worker has reached its wait state, matching the
	// original executor's startup synchronization.
	for _, w := range e.workers {
		w.waitReady()
	}
	return e
}

// Enqueue submits fn to the worker responsible for id. Submission
// always succeeds unless the executor has been shut down.
func (e *Executor) Enqueue(id identity.ID, fn func()) error {
	shard := id.Hash() % uint64(e.concurrency)
	return e.workers[shard].enqueue(fn)
}

// Cancel is a deliberate no-op: the executor does not support
// preempting work already handed to a worker.
func (e *Executor) Cancel(identity.ID) error { return nil }

// Shutdown stops every worker. If wait is true, it blocks until each
// worker's goroutine has exited.
func (e *Executor) Shutdown(wait bool) {
	workers := e.workers
	var wg sync.WaitGroup
	for _, w := range workers {
		w := w
		if wait {
			wg.Add(1)
		}
		w.shutdown(func() {
			if wait {
				wg.Done()
			}
		})
	}
	if wait {
		wg.Wait()
	}
}

type worker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	waiting bool
	done    func()
}

func newWorker() *worker {
	w := &worker{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

var errShutdown = fmt.Errorf("executor: worker is shut down")

func (w *worker) enqueue(fn func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errShutdown
	}
	w.queue = append(w.queue, fn)
	w.cond.Broadcast()
	return nil
}

// run is the worker's single goroutine: wait for work, release the
// lock, run it, repeat. Tasks execute with the lock released so a
// long-running body never blocks enqueue of further work destined for
// other workers.
func (w *worker) run() {
	w.mu.Lock()
	for {
		if w.closed && len(w.queue) == 0 {
			w.waiting = true
			w.cond.Broadcast()
			w.mu.Unlock()
			if w.done != nil {
				w.done()
			}
			return
		}
		if len(w.queue) == 0 {
			w.waiting = true
			w.cond.Broadcast()
			w.cond.Wait()
			continue
		}
		w.waiting = false
		fn := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()
		fn()
		w.mu.Lock()
	}
}

func (w *worker) waitReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for !w.waiting && !w.closed {
		w.cond.Wait()
	}
}

func (w *worker) shutdown(done func()) {
	w.mu.Lock()
	w.closed = true
	w.done = done
	w.cond.Broadcast()
	w.mu.Unlock()
}
