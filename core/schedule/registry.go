// Package schedule adds cron-expression-driven submission on top of
// the scheduler's public Enqueue surface: a named Config fires on its
// cron schedule and builds a fresh task (or composite) to submit each
// time, rather than reusing one.
package schedule

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/Aprelius/scheduler/core/task"
)

// Enqueuer is the one method schedule.Registry needs from the
// scheduler — it never reaches past this public surface into the
// supervisor's internal state.
type Enqueuer interface {
	Enqueue(t *task.Task) error
}

type enqueuerAdapter struct {
	fn func(*task.Task) error
}

func (a enqueuerAdapter) Enqueue(t *task.Task) error { return a.fn(t) }

// EnqueueFunc adapts a plain function to the Enqueuer interface, for
// callers whose Enqueue returns a typed Error rather than a plain
// error.
func EnqueueFunc(fn func(*task.Task) error) Enqueuer { return enqueuerAdapter{fn: fn} }

// Config describes one cron-driven submission.
type Config struct {
	Name     string
	CronExpr string // 6-field cron expression with a leading seconds field, or a descriptor such as "@every 1m"
	Build    func() *task.Task
}

// Registry holds named Configs and drives them via robfig/cron.
type Registry struct {
	mu       sync.Mutex
	cron     *cron.Cron
	enqueuer Enqueuer
	entries  map[string]cron.EntryID
	configs  map[string]Config
}

// NewRegistry creates a Registry that submits through enqueuer.
func NewRegistry(enqueuer Enqueuer) *Registry {
	return &Registry{
		cron:     cron.New(cron.WithSeconds()),
		enqueuer: enqueuer,
		entries:  make(map[string]cron.EntryID),
		configs:  make(map[string]Config),
	}
}

// Start begins firing registered schedules.
func (r *Registry) Start() { r.cron.Start() }

// Stop waits for any in-flight cron invocation to finish, then stops
// firing new ones. It does not touch tasks already submitted.
func (r *Registry) Stop() { <-r.cron.Stop().Done() }

// Add registers cfg and schedules it. Replacing an existing name
// first removes its old cron entry.
func (r *Registry) Add(cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.entries[cfg.Name]; ok {
		r.cron.Remove(id)
		delete(r.entries, cfg.Name)
	}

	id, err := r.cron.AddFunc(cfg.CronExpr, func() {
		t := cfg.Build()
		if err := r.enqueuer.Enqueue(t); err != nil {
			slog.Error("schedule: enqueue failed", "schedule", cfg.Name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule: invalid cron expression %q: %w", cfg.CronExpr, err)
	}
	r.entries[cfg.Name] = id
	r.configs[cfg.Name] = cfg
	return nil
}

// Remove unregisters a schedule by name. A no-op if it doesn't exist.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entries[name]; ok {
		r.cron.Remove(id)
		delete(r.entries, name)
		delete(r.configs, name)
	}
}

// List returns the names of every currently registered schedule.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}
