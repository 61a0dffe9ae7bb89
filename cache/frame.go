// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package cache

// frame is the lock table entry of one block.
//
// refs counts live lock handles, queued waiters, an in-flight load and the
// write reservation; the frame leaves the table when it drops to zero.
type frame struct {
	id  BlockID
	buf []byte
	err error // load failure handed to the waiters

	// buf is also referenced by the clean cache and must be copied before writing
	shared bool

	undo       []byte // committed image while dirty; nil for fresh blocks
	undoShared bool

	readers   int
	writeLive bool
	writer    *Transaction // write reservation, held until commit or abort
	waiters   []*waiter
	refs      int

	loading bool
	dirty   bool
	fresh   bool
	discard bool
}

type waiter struct {
	tx   *Transaction
	mode Mode
	wake chan struct{}
}

func (f *frame) compatible(tx *Transaction, mode Mode) bool {
	if f.loading {
		return false
	}
	if f.writer != nil && f.writer != tx {
		return false
	}
	if mode == Write {
		return f.readers == 0 && !f.writeLive
	}
	return !f.writeLive || f.writer == tx
}

// admit reports whether a new request can be granted without queueing.
// Requests of the reserving transaction bypass the queue, whose waiters may
// be waiting for that very transaction to finish.
func (f *frame) admit(tx *Transaction, mode Mode) bool {
	if !f.compatible(tx, mode) {
		return false
	}
	return len(f.waiters) == 0 || f.writer == tx
}

func (f *frame) hold(tx *Transaction, mode Mode) {
	switch mode {
	case Write:
		f.writeLive = true
		if f.writer == nil {
			f.writer = tx
			f.refs++
			tx.reserved = append(tx.reserved, f)
		}
	default:
		f.readers++
	}
}

// grant wakes the queued waiters at the head of the queue that the current
// holders allow.
func (f *frame) grant() {
	for len(f.waiters) != 0 {
		w := f.waiters[0]
		if !f.compatible(w.tx, w.mode) {
			return
		}
		f.waiters[0] = nil
		f.waiters = f.waiters[1:]
		f.hold(w.tx, w.mode)
		close(w.wake)
	}
}

// fail wakes every waiter after a failed load.
func (f *frame) fail(err error) {
	f.err = err
	for _, w := range f.waiters {
		f.refs--
		close(w.wake)
	}
	f.waiters = nil
}
