package sched

import (
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTasksOnOneContextNeverOverlap(t *testing.T) {
	s := New(2)
	var inside atomic.Int32
	var overlapped atomic.Bool
	counter := 0

	handles := make([]*Handle, 0, 64)
	for range 64 {
		handles = append(handles, s.Spawn(0, func(task *Task) error {
			if inside.Add(1) != 1 {
				overlapped.Store(true)
			}
			c := counter
			runtime.Gosched() // not a suspension point
			counter = c + 1
			inside.Add(-1)
			task.Yield()
			return nil
		}))
	}
	for _, h := range handles {
		require.NoError(t, h.Wait())
	}
	require.False(t, overlapped.Load())
	require.Equal(t, 64, counter)
}

func TestMoveTo(t *testing.T) {
	s := New(3)
	var seen []ContextID
	err := s.Run(0, func(task *Task) error {
		seen = append(seen, task.Context())
		task.MoveTo(2)
		seen = append(seen, task.Context())
		task.MoveTo(2)
		seen = append(seen, task.Context())
		task.MoveTo(1)
		seen = append(seen, task.Context())
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []ContextID{0, 2, 2, 1}, seen)
}

func TestOnReturnsAfterPanic(t *testing.T) {
	s := New(2)
	var after ContextID = -1
	err := s.Run(0, func(task *Task) error {
		func() {
			defer func() { recover() }()
			task.On(1, func() {
				if task.Context() != 1 {
					t.Errorf("On: running on %d", task.Context())
				}
				panic("boom")
			})
		}()
		after = task.Context()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, ContextID(0), after)
}

func TestSuspendLetsOthersRun(t *testing.T) {
	s := New(1)
	gate := make(chan struct{})

	waiter := s.Spawn(0, func(task *Task) error {
		task.Suspend(func() { <-gate })
		return nil
	})
	opener := s.Spawn(0, func(task *Task) error {
		close(gate)
		return nil
	})
	require.NoError(t, opener.Wait())
	require.NoError(t, waiter.Wait())
}

func TestAwaitReleasesContext(t *testing.T) {
	s := New(1)
	err := s.Run(0, func(task *Task) error {
		// the child needs context 0 while the parent waits for it
		child := task.Spawn(0, func(*Task) error { return errors.New("child") })
		return task.Await(child)
	})
	require.EqualError(t, err, "child")
}

func TestPanicRecovered(t *testing.T) {
	s := New(1)
	err := s.Run(0, func(*Task) error { panic("test panic") })
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "recovered💊"), err.Error())

	sentinel := errors.New("panic error")
	err = s.Run(0, func(*Task) error { panic(sentinel) })
	require.ErrorIs(t, err, sentinel)

	// the context is usable after a panicking task
	require.NoError(t, s.Run(0, func(*Task) error { return nil }))
}

func TestPanicWhileSuspended(t *testing.T) {
	s := New(1)
	err := s.Run(0, func(task *Task) error {
		task.Suspend(func() { panic("in wait") })
		return nil
	})
	require.Error(t, err)
	require.NoError(t, s.Run(0, func(*Task) error { return nil }))
}

func TestPromiseAcrossContexts(t *testing.T) {
	s := New(2)
	p := NewPromise[string]()

	var got string
	consumer := s.Spawn(0, func(task *Task) error {
		got = Await(task, p)
		return nil
	})
	producer := s.Spawn(1, func(task *Task) error {
		task.MoveTo(0)
		if !p.Deliver("hello") {
			return errors.New("first delivery rejected")
		}
		if p.Deliver("again") {
			return errors.New("second delivery accepted")
		}
		return nil
	})
	require.NoError(t, producer.Wait())
	require.NoError(t, consumer.Wait())
	require.Equal(t, "hello", got)
	require.Equal(t, "hello", p.Wait())
}

func TestContextOutOfRange(t *testing.T) {
	s := New(2)
	require.Equal(t, 2, s.Len())
	require.Panics(t, func() { s.Spawn(2, func(*Task) error { return nil }) })
	require.Equal(t, 1, New(0).Len())
}

func TestManyContextsConcurrently(t *testing.T) {
	s := New(4)
	var wg sync.WaitGroup
	var total atomic.Int64
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Run(ContextID(i%4), func(task *Task) error {
				task.MoveTo(ContextID((i + 1) % 4))
				total.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.EqualValues(t, 100, total.Load())
}
