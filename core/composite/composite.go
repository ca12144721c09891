// Package composite implements Chain and Group, the two ways to
// compose multiple tasks into a single schedulable unit.
package composite

import (
	"context"

	"github.com/Aprelius/scheduler/core/task"
)

// Chain is a sequence of tasks that run strictly in the order they
// were added: each new task depends on the one most recently added.
// Chain is itself a task.Task (its body is a no-op join), so it can be
// enqueued, waited on, and nested inside other composites.
type Chain struct {
	*task.Task
	head *task.Task // most recently added task, i.e. the current chain front
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	c := &Chain{}
	c.Task = task.Create(task.FuncBody(func(ctx context.Context) error { return nil }))
	return c
}

// Add appends t to the chain, making it depend on the task most
// recently added. Adding to a chain that has already reached a
// terminal state is a no-op — mirrors the original implementation's
// IsModifiable guard (modifiable iff not yet complete).
func (c *Chain) Add(t *task.Task) *Chain {
	if c.terminal() {
		return c
	}
	if c.head != nil {
		t.Depends(c.head)
	}
	c.head = t
	c.Depends(t)
	if !t.IsValid() {
		c.SetValid(false)
	}
	return c
}

func (c *Chain) terminal() bool { return c.IsComplete() }

// Group is a set of tasks that may run independently of one another,
// all depended on by the group's own join task.
type Group struct {
	*Chain
}

// NewGroup creates an empty group.
func NewGroup() *Group {
	g := &Group{Chain: NewChain()}
	return g
}

// Add attaches t to the group as an independent child: unlike Chain,
// t does not depend on any previously added sibling. Adding to an
// already-terminal group is a no-op.
func (g *Group) Add(t *task.Task) *Group {
	if g.terminal() {
		return g
	}
	g.Depends(t)
	if !t.IsValid() {
		g.SetValid(false)
	}
	return g
}
