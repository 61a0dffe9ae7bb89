// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package sched

import (
	"fmt"
)

// Task is a cooperative unit of work. A task always runs on exactly one
// context; its methods must only be called by the task itself.
type Task struct {
	sched *Scheduler
	ctx   *homeContext
	id    uint64
}

func (task *Task) ID() uint64 {
	return task.id
}

// Context returns the context the task currently runs on.
func (task *Task) Context() ContextID {
	return task.ctx.id
}

func (task *Task) Scheduler() *Scheduler {
	return task.sched
}

// MoveTo migrates the task to context id. The task leaves its current context
// and waits in the run queue of the target. Moving to the current context is
// a no-op.
func (task *Task) MoveTo(id ContextID) {
	target := task.sched.context(id)
	if target == task.ctx {
		return
	}
	task.ctx.leave()
	task.ctx = target
	task.ctx.enter()
}

// On runs fn on context id and moves back to the current context afterwards,
// also when fn panics.
func (task *Task) On(id ContextID, fn func()) {
	home := task.ctx.id
	task.MoveTo(id)
	defer task.MoveTo(home)
	fn()
}

// Suspend releases the context while wait blocks and re-enters it afterwards.
// Other tasks of the context run in the meantime.
func (task *Task) Suspend(wait func()) {
	task.ctx.leave()
	defer task.ctx.enter()
	wait()
}

// Yield lets the tasks queued on the current context run first.
func (task *Task) Yield() {
	task.ctx.leave()
	task.ctx.enter()
}

// Spawn starts fn as a new task on context id.
func (task *Task) Spawn(id ContextID, fn func(*Task) error) *Handle {
	return task.sched.Spawn(id, fn)
}

// Await suspends the task until h completes.
func (task *Task) Await(h *Handle) (err error) {
	task.Suspend(func() { err = h.Wait() })
	return
}

func (task *Task) run(fn func(*Task) error) (err error) {
	defer func() {
		switch v := recover().(type) {
		case nil:
		case error:
			err = &panicked{err: v}
		default:
			err = &panicked{err: anyv{v}}
		}
	}()
	return fn(task)
}

type panicked struct{ err error }

func (p *panicked) Error() string {
	return "task panicked: " + p.err.Error()
}

func (p *panicked) Unwrap() error {
	return p.err
}

type anyv struct{ any }

func (v anyv) Error() string {
	return fmt.Sprintf("recovered💊: %v", v.any)
}
