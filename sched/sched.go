// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package sched implements cooperative tasks multiplexed over a fixed set of
// home contexts.
//
// A context is a single-threaded scheduling domain: at most one task runs on
// it at any time, and a running task keeps it until the task reaches a
// suspension point (MoveTo, Suspend, Yield, Await, or returning). Tasks
// waiting for a context are served in FIFO order from its run queue. State
// owned by a context can therefore be used without further synchronization by
// any task currently running on it.
//
// Each task is backed by its own goroutine; a task blocked in Suspend does not
// hold its context, so the other tasks of that context keep running.
package sched

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ContextID identifies a home context of a Scheduler.
type ContextID int

// Scheduler owns a fixed set of home contexts.
type Scheduler struct {
	contexts []*homeContext
	seq      atomic.Uint64
}

// New creates a scheduler with n home contexts (at least one).
func New(n int) *Scheduler {
	n = max(n, 1)
	s := &Scheduler{contexts: make([]*homeContext, n)}
	for i := range s.contexts {
		s.contexts[i] = &homeContext{id: ContextID(i)}
	}
	return s
}

// Len returns the number of home contexts.
func (s *Scheduler) Len() int {
	return len(s.contexts)
}

func (s *Scheduler) context(id ContextID) *homeContext {
	if id < 0 || int(id) >= len(s.contexts) {
		panic(fmt.Sprintf("sched: context %d out of range [0, %d)", id, len(s.contexts)))
	}
	return s.contexts[id]
}

// Spawn starts fn as a new task on context id. The task is queued behind the
// tasks already waiting for that context.
func (s *Scheduler) Spawn(id ContextID, fn func(*Task) error) *Handle {
	task := &Task{sched: s, ctx: s.context(id), id: s.seq.Add(1)}
	handle := &Handle{done: make(chan struct{})}
	go func() {
		task.ctx.enter()
		defer func() {
			task.ctx.leave()
			close(handle.done)
		}()
		handle.err = task.run(fn)
	}()
	return handle
}

// Run spawns fn on context id and blocks the calling goroutine until the task
// returns. It is meant for callers that are not tasks themselves.
func (s *Scheduler) Run(id ContextID, fn func(*Task) error) error {
	return s.Spawn(id, fn).Wait()
}

// homeContext is the run queue of one home context.
type homeContext struct {
	id    ContextID
	mutex sync.Mutex
	busy  bool
	queue []chan struct{}
}

func (ctx *homeContext) enter() {
	ctx.mutex.Lock()
	if !ctx.busy {
		ctx.busy = true
		ctx.mutex.Unlock()
		return
	}
	wake := make(chan struct{})
	ctx.queue = append(ctx.queue, wake)
	ctx.mutex.Unlock()
	<-wake
}

// leave hands the context to the next queued task, if any.
func (ctx *homeContext) leave() {
	ctx.mutex.Lock()
	if len(ctx.queue) == 0 {
		ctx.busy = false
		ctx.mutex.Unlock()
		return
	}
	wake := ctx.queue[0]
	ctx.queue[0] = nil
	ctx.queue = ctx.queue[1:]
	ctx.mutex.Unlock()
	close(wake)
}

// Handle is the completion of a spawned task.
type Handle struct {
	done chan struct{}
	err  error
}

// Wait blocks the calling goroutine until the task returns. Tasks must use
// Task.Await instead, which releases their context while waiting.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Done is closed when the task has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
