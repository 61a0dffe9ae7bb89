package sched

import "sync"

// Promise is a single-assignment value delivered by one task and awaited by
// another.
type Promise[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
}

func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Deliver fulfills the promise. Only the first delivery takes effect; it
// reports whether this call was it.
func (p *Promise[T]) Deliver(val T) (ok bool) {
	p.once.Do(func() {
		p.val = val
		close(p.done)
		ok = true
	})
	return
}

// Wait blocks the calling goroutine until the promise is fulfilled.
func (p *Promise[T]) Wait() T {
	<-p.done
	return p.val
}

func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Await suspends task until p is fulfilled.
func Await[T any](task *Task, p *Promise[T]) (val T) {
	task.Suspend(func() { val = p.Wait() })
	return
}
