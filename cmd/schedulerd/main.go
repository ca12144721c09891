// Command schedulerd is the scheduler's HTTP front-end: submit tasks,
// chains, and groups; poll their state; manage cron-driven submission;
// and expose health and Prometheus metrics endpoints.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/Aprelius/scheduler/core/composite"
	"github.com/Aprelius/scheduler/core/executor"
	"github.com/Aprelius/scheduler/core/identity"
	"github.com/Aprelius/scheduler/core/obs"
	"github.com/Aprelius/scheduler/core/schedule"
	"github.com/Aprelius/scheduler/core/scheduler"
	"github.com/Aprelius/scheduler/core/task"
	"github.com/Aprelius/scheduler/core/taskstore"
)

type httpSpec struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

type taskSpec struct {
	HTTP             *httpSpec `json:"http,omitempty"`
	Shell            string    `json:"shell,omitempty"`
	DependsOn        []string  `json:"depends_on,omitempty"`
	RetryMaxAttempts int       `json:"retry_max_attempts,omitempty"`
	RetryIntervalMS  int       `json:"retry_interval_ms,omitempty"`
}

type compositeSpec struct {
	Tasks []taskSpec `json:"tasks"`
}

type scheduleSpec struct {
	Name     string   `json:"name"`
	CronExpr string   `json:"cron_expr"`
	Task      taskSpec `json:"task"`
}

// server holds everything the HTTP handlers need: the scheduler
// itself, a registry of every task ever built (so later submissions
// can reference earlier ones as dependencies), and the cron registry.
type server struct {
	sched *scheduler.Scheduler
	store taskstore.MetadataStore
	cron  *schedule.Registry

	mu       sync.Mutex
	registry map[identity.ID]*task.Task
}

func newServer(sched *scheduler.Scheduler, store taskstore.MetadataStore, cron *schedule.Registry) *server {
	return &server{sched: sched, store: store, cron: cron, registry: make(map[identity.ID]*task.Task)}
}

func (s *server) register(t *task.Task) {
	s.mu.Lock()
	s.registry[t.ID()] = t
	s.mu.Unlock()
}

func (s *server) lookup(id identity.ID) *task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry[id]
}

func (s *server) buildTask(spec taskSpec) (*task.Task, error) {
	var body task.Body
	switch {
	case spec.HTTP != nil:
		body = task.HTTPBody(task.HTTPConfig{
			Method:  spec.HTTP.Method,
			URL:     spec.HTTP.URL,
			Headers: spec.HTTP.Headers,
			Body:    []byte(spec.HTTP.Body),
		})
	case spec.Shell != "":
		body = task.ShellBody(spec.Shell, nil)
	default:
		return nil, fmt.Errorf("task spec must set either http or shell")
	}

	var opts []task.Option
	if spec.RetryMaxAttempts > 0 {
		opts = append(opts, task.WithRetry(task.RetryPolicy{
			MaxAttempts: spec.RetryMaxAttempts,
			Interval:    time.Duration(spec.RetryIntervalMS) * time.Millisecond,
		}))
	}
	t := task.Create(body, opts...)
	for _, depStr := range spec.DependsOn {
		depID := identity.Parse(depStr)
		if !depID.IsValid() {
			return nil, fmt.Errorf("invalid dependency id %q", depStr)
		}
		dep := s.lookup(depID)
		if dep == nil {
			return nil, fmt.Errorf("unknown dependency id %q", depStr)
		}
		t.Depends(dep)
	}
	return t, nil
}

func (s *server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var spec taskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	t, err := s.buildTask(spec)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.register(t)
	if err := s.sched.Enqueue(t); err != scheduler.ESuccess {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": t.ID().String()})
}

func (s *server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := identity.Parse(r.PathValue("id"))
	if !id.IsValid() {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	state, code := s.store.GetTask(id)
	if code == taskstore.ENotFound {
		http.NotFound(w, r)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":    id.String(),
		"state": state.String(),
		"code":  code.String(),
	})
}

func (s *server) handleSubmitChain(w http.ResponseWriter, r *http.Request) {
	s.handleSubmitComposite(w, r, func() *task.Task { return composite.NewChain().Task })
}

func (s *server) handleSubmitGroup(w http.ResponseWriter, r *http.Request) {
	s.handleSubmitComposite(w, r, func() *task.Task { return composite.NewGroup().Task })
}

// handleSubmitComposite is shared by /v1/chains and /v1/groups; the
// two only differ in how member tasks are linked together, which is
// entirely decided by composite.Chain.Add vs composite.Group.Add.
func (s *server) handleSubmitComposite(w http.ResponseWriter, r *http.Request, newComposite func() *task.Task) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var spec compositeSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(spec.Tasks) == 0 {
		http.Error(w, "tasks must not be empty", http.StatusBadRequest)
		return
	}

	isChain := r.URL.Path == "/v1/chains"
	var chain *composite.Chain
	var group *composite.Group
	if isChain {
		chain = composite.NewChain()
	} else {
		group = composite.NewGroup()
	}

	for _, ts := range spec.Tasks {
		t, err := s.buildTask(ts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.register(t)
		if isChain {
			chain.Add(t)
		} else {
			group.Add(t)
		}
	}

	var head *task.Task
	if isChain {
		head = chain.Task
	} else {
		head = group.Task
	}
	s.register(head)
	if err := s.sched.Enqueue(head); err != scheduler.ESuccess {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": head.ID().String()})
}

func (s *server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var spec scheduleSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}
		if spec.Name == "" || spec.CronExpr == "" {
			http.Error(w, "name and cron_expr are required", http.StatusBadRequest)
			return
		}
		ts := spec.Task
		err := s.cron.Add(schedule.Config{
			Name:     spec.Name,
			CronExpr: spec.CronExpr,
			Build: func() *task.Task {
				t, err := s.buildTask(ts)
				if err != nil {
					slog.Error("schedule: failed to build task", "schedule", spec.Name, "error", err)
					return task.Create(task.FuncBody(func(context.Context) error { return err }))
				}
				s.register(t)
				return t
			},
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		s.cron.Remove(r.PathValue("name"))
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(s.cron.List())
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func executorConcurrency() int {
	if v := os.Getenv("SCHEDULER_EXECUTOR_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 8
}

func main() {
	service := "schedulerd"
	obs.InitLogging(service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := obs.InitTracing(ctx, service)
	shutdownMetrics, metricsHandler, metrics := obs.InitMetrics(ctx, service)

	var store taskstore.MetadataStore = taskstore.NewMemoryStore()
	if path := os.Getenv("SCHEDULER_AUDIT_LOG_PATH"); path != "" {
		audit, err := taskstore.NewBoltAuditLog(path, store)
		if err != nil {
			slog.Error("audit log init failed, continuing without it", "error", err)
		} else {
			store = audit
		}
	}

	exec := executor.New(executorConcurrency())
	sched := scheduler.New(scheduler.Params{Store: store, Executor: exec, Metrics: &metrics})
	sched.Start(ctx)

	cronReg := schedule.NewRegistry(schedule.EnqueueFunc(func(t *task.Task) error {
		if code := sched.Enqueue(t); code != scheduler.ESuccess {
			return code
		}
		return nil
	}))
	cronReg.Start()

	srv := newServer(sched, store, cronReg)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/tasks", srv.handleSubmitTask)
	mux.HandleFunc("/v1/tasks/{id}", srv.handleGetTask)
	mux.HandleFunc("/v1/chains", srv.handleSubmitChain)
	mux.HandleFunc("/v1/groups", srv.handleSubmitGroup)
	mux.HandleFunc("/v1/schedules", srv.handleSchedules)
	mux.HandleFunc("/v1/schedules/{name}", srv.handleSchedules)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	httpServer := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	slog.Info("schedulerd started")
	<-ctx.Done()
	slog.Info("shutdown initiated")

	cronReg.Stop()
	sched.Shutdown()

	ctxSd, cancelSd := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSd()
	_ = httpServer.Shutdown(ctxSd)
	obs.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	slog.Info("shutdown complete")
}
