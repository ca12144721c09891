package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/Aprelius/scheduler/core/identity"
	"github.com/Aprelius/scheduler/core/task"
)

var bucketAudit = []byte("audit")

// auditRecord is the durable record written for every Finalize/Expire
// call — an append-only trail of what happened to a task and when,
// not a mechanism for resuming a task graph across restarts.
type auditRecord struct {
	TaskID    string     `json:"task_id"`
	State     task.State `json:"state"`
	Err       Error      `json:"err"`
	Timestamp time.Time  `json:"timestamp"`
}

// BoltAuditLog decorates any MetadataStore, appending a durable record
// of every Finalize/Expire call to a BoltDB bucket. A restarted
// process still starts with an empty live task set regardless of what
// this log contains — it is read for offline inspection, never
// consulted to reconstruct scheduler state.
type BoltAuditLog struct {
	MetadataStore
	db           *bbolt.DB
	writeLatency metric.Float64Histogram
}

// NewBoltAuditLog opens (or creates) a BoltDB file at path and wraps
// inner with audit logging.
func NewBoltAuditLog(path string, inner MetadataStore) (*BoltAuditLog, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("taskstore: open audit log: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAudit)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("taskstore: create audit bucket: %w", err)
	}

	meter := otel.Meter("scheduler-go")
	writeLatency, _ := meter.Float64Histogram("scheduler_taskstore_audit_write_ms")

	return &BoltAuditLog{MetadataStore: inner, db: db, writeLatency: writeLatency}, nil
}

// Expire delegates, then records the task as CANCELLED — matching
// what the in-memory store itself would have cached.
func (a *BoltAuditLog) Expire(t *task.Task) Error {
	err := a.MetadataStore.Expire(t)
	a.append(t.ID(), task.StateCancelled, err)
	return err
}

// Finalize delegates, then records the task's actual terminal state.
func (a *BoltAuditLog) Finalize(t *task.Task) Error {
	err := a.MetadataStore.Finalize(t)
	a.append(t.ID(), t.State(), err)
	return err
}

// Shutdown delegates, then closes the underlying BoltDB handle.
func (a *BoltAuditLog) Shutdown() {
	a.MetadataStore.Shutdown()
	a.db.Close()
}

func (a *BoltAuditLog) append(id identity.ID, state task.State, result Error) {
	start := time.Now()
	rec := auditRecord{TaskID: id.String(), State: state, Err: result, Timestamp: start}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = a.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		key := []byte(fmt.Sprintf("%d-%s", start.UnixNano(), id.String()))
		return b.Put(key, payload)
	})
	if a.writeLatency != nil {
		a.writeLatency.Record(context.Background(), float64(time.Since(start).Milliseconds()))
	}
}
