// Package taskstore implements the scheduler's metadata store
// contract: tracking live tasks and caching the terminal state of
// tasks that have left the scheduler's working set.
package taskstore

import (
	"sync"
	"time"

	"github.com/Aprelius/scheduler/core/identity"
	"github.com/Aprelius/scheduler/core/task"
)

// MetadataStore is the contract the scheduler supervisor uses to
// track tasks across their lifetime, including after they have been
// evicted from its own in-memory working set.
type MetadataStore interface {
	// Add registers a task as live.
	Add(t *task.Task) Error
	// GetTask reports a task's state, whether it is still live or only
	// present in the terminal-state cache. Returns ENotFound if the
	// task is unknown.
	GetTask(id identity.ID) (task.State, Error)
	// Expire removes a task from the live set and always caches it as
	// CANCELLED, regardless of whatever state it was in.
	Expire(t *task.Task) Error
	// Finalize removes a task from the live set and caches its actual
	// terminal state — unless the task is itself expired at the moment
	// of finalization, in which case it defers to Expire.
	Finalize(t *task.Task) Error
	// Shutdown releases all tracked state.
	Shutdown()
}

// MemoryStore is the in-core MetadataStore: a live task map plus a
// terminal-state cache, guarded by a single mutex. Cache entries are
// never evicted; only Shutdown clears them.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[identity.ID]*task.Task
	cache map[identity.ID]task.State
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[identity.ID]*task.Task),
		cache: make(map[identity.ID]task.State),
	}
}

// Add registers t as live.
func (s *MemoryStore) Add(t *task.Task) Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID()] = t
	return ESuccess
}

// GetTask looks up a task's state, checking the live set first and
// falling back to the terminal-state cache.
func (s *MemoryStore) GetTask(id identity.ID) (task.State, Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.State(), ESuccess
	}
	if st, ok := s.cache[id]; ok {
		switch st {
		case task.StateSuccess:
			return st, ECompleted
		case task.StateFailed:
			return st, EFailure
		case task.StateCancelled:
			return st, ECancelled
		}
	}
	return task.StateNew, ENotFound
}

// Expire evicts t from the live set and caches it as CANCELLED.
func (s *MemoryStore) Expire(t *task.Task) Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, t.ID())
	s.cache[t.ID()] = task.StateCancelled
	return ESuccess
}

// Finalize evicts t from the live set and caches its actual terminal
// state. If t is itself expired at this moment, it defers to Expire
// instead, so an expired-but-just-completed task is still recorded as
// CANCELLED.
func (s *MemoryStore) Finalize(t *task.Task) Error {
	if t.IsExpired(time.Now()) {
		return s.Expire(t)
	}
	if !t.IsComplete() {
		panic("taskstore: Finalize called on a non-terminal, non-expired task")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, t.ID())
	s.cache[t.ID()] = t.State()
	return ESuccess
}

// Shutdown drops all tracked state.
func (s *MemoryStore) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[identity.ID]*task.Task)
	s.cache = make(map[identity.ID]task.State)
}
