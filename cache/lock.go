// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"

	"github.com/dacapoday/btslice/sched"
)

// Lock is a transaction-scoped lock on one block.
type Lock struct {
	tx       *Transaction
	frame    *frame
	mode     Mode
	released bool
}

func (lock *Lock) ID() BlockID {
	return lock.frame.id
}

func (lock *Lock) Mode() Mode {
	return lock.mode
}

// Released reports whether Release was called.
func (lock *Lock) Released() bool {
	return lock.released
}

// Data returns the block view. It is valid until the lock is released; for a
// write lock, call Write before taking views that must observe the changes.
func (lock *Lock) Data() []byte {
	lock.live()
	return lock.frame.buf[:lock.tx.cache.pageSize]
}

// Write returns the writable block view and marks the block dirty. The
// changes become visible to other transactions at commit.
func (lock *Lock) Write() []byte {
	lock.live()
	if lock.mode != Write {
		panic(fmt.Sprintf("cache: write through read lock on block(%d)", lock.frame.id))
	}
	f := lock.frame
	if !f.dirty {
		dev := lock.tx.cache.dev
		if !f.fresh {
			if f.shared {
				f.undo, f.undoShared = f.buf, true
				f.buf = dev.AllocateBuffer()
				copy(f.buf, f.undo)
				f.shared = false
			} else {
				f.undo = dev.AllocateBuffer()
				copy(f.undo, f.buf)
			}
		}
		f.dirty = true
	}
	return f.buf[:lock.tx.cache.pageSize]
}

func (lock *Lock) live() {
	if lock.released {
		panic(fmt.Sprintf("cache: block(%d) used after release", lock.frame.id))
	}
}

// Release gives the lock back. Releasing twice is a no-op. A released write
// lock keeps the block reserved for its transaction until commit or abort.
func (lock *Lock) Release(task *sched.Task) {
	c := lock.tx.cache
	c.check(task)
	if lock.released {
		return
	}
	lock.released = true
	delete(lock.tx.locks, lock)
	c.stats.locks.Add(-1)

	f := lock.frame
	if lock.mode == Write {
		f.writeLive = false
	} else {
		f.readers--
	}
	f.refs--
	c.emit(lock.tx, f.id, lock.mode, Release)
	f.grant()
	c.evict(f)
}
