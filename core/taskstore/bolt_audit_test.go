package taskstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Aprelius/scheduler/core/task"
)

func TestBoltAuditLogDelegatesAndRecords(t *testing.T) {
	dir := t.TempDir()
	inner := NewMemoryStore()
	audit, err := NewBoltAuditLog(filepath.Join(dir, "audit.db"), inner)
	if err != nil {
		t.Fatalf("NewBoltAuditLog: %v", err)
	}
	defer audit.Shutdown()

	tk := task.Create(task.FuncBody(func(ctx context.Context) error { return nil }))
	audit.Add(tk)
	tk.SetState(task.StateSuccess)
	audit.Finalize(tk)

	st, getErr := audit.GetTask(tk.ID())
	if getErr != ECompleted || st != task.StateSuccess {
		t.Fatalf("got (%v, %v), want (SUCCESS, ECompleted) via the delegated store", st, getErr)
	}
}

func TestBoltAuditLogExpireRecordsCancelled(t *testing.T) {
	dir := t.TempDir()
	audit, err := NewBoltAuditLog(filepath.Join(dir, "audit.db"), NewMemoryStore())
	if err != nil {
		t.Fatalf("NewBoltAuditLog: %v", err)
	}
	defer audit.Shutdown()

	tk := task.Create(task.FuncBody(func(ctx context.Context) error { return nil }))
	audit.Add(tk)
	audit.Expire(tk)

	st, getErr := audit.GetTask(tk.ID())
	if getErr != ECancelled || st != task.StateCancelled {
		t.Fatalf("got (%v, %v), want (CANCELLED, ECancelled)", st, getErr)
	}
}
