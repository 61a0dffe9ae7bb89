// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"github.com/cockroachdb/errors"

	"github.com/dacapoday/btslice"
	"github.com/dacapoday/btslice/sched"
)

// Transaction is a bounded sequence of block acquisitions with a single
// commit point. It must be finished with Commit or Abort, on the home context,
// and is not reusable afterwards.
type Transaction struct {
	cache    *Cache
	id       uint64
	mode     Mode
	locks    map[*Lock]struct{}
	reserved []*frame
	freed    []BlockID
	done     bool
}

func (tx *Transaction) ID() uint64 {
	return tx.id
}

func (tx *Transaction) Mode() Mode {
	return tx.mode
}

// PageSize returns the size of the block views handed out by locks.
func (tx *Transaction) PageSize() int {
	return tx.cache.pageSize
}

// Done reports whether the transaction was committed or aborted.
func (tx *Transaction) Done() bool {
	return tx.done
}

// Held returns the number of lock handles not yet released.
func (tx *Transaction) Held() int {
	return len(tx.locks)
}

// Acquire locks block blockID in mode, suspending the task until the lock is
// compatible with the current holders and, on a miss, until the block is
// read from the device.
func (tx *Transaction) Acquire(task *sched.Task, blockID BlockID, mode Mode) (lock *Lock, err error) {
	c := tx.cache
	c.check(task)
	if tx.done {
		err = ErrTxDone
		return
	}
	if mode == Write && tx.mode != Write {
		err = errors.Wrapf(ErrReadOnly, "write lock on block(%d)", blockID)
		return
	}
	if blockID == btslice.NullBlockID {
		err = errors.Wrap(ErrOutOfRange, "acquire null block")
		return
	}

	f := c.frames[blockID]
	if f == nil {
		if f, err = c.load(task, blockID); err != nil {
			return
		}
	}

	if f.admit(tx, mode) {
		f.hold(tx, mode)
		f.refs++
	} else {
		w := &waiter{tx: tx, mode: mode, wake: make(chan struct{})}
		f.waiters = append(f.waiters, w)
		f.refs++
		task.Suspend(func() { <-w.wake })
		if f.err != nil {
			err = f.err
			return
		}
	}

	lock = &Lock{tx: tx, frame: f, mode: mode}
	tx.locks[lock] = struct{}{}
	c.stats.locks.Add(1)
	c.emit(tx, blockID, mode, Acquire)
	return
}

// load installs a frame for blockID, from the clean cache or the device.
// Concurrent acquirers queue on the frame while the device read is in flight.
func (c *Cache) load(task *sched.Task, blockID BlockID) (f *frame, err error) {
	f = &frame{id: blockID}
	c.frames[blockID] = f
	if buf, ok := c.cleanGet(blockID); ok {
		c.stats.hits.Add(1)
		f.buf = buf
		f.shared = true
		return
	}

	f.loading = true
	f.refs++
	buf := c.dev.AllocateBuffer()
	task.Suspend(func() { err = c.dev.ReadBlock(blockID, buf) })
	c.stats.reads.Add(1)
	f.loading = false
	f.refs--

	if err != nil {
		c.dev.RecycleBuffer(buf)
		if c.frames[blockID] == f {
			delete(c.frames, blockID)
		}
		f.fail(err)
		c.log.Debug("block load failed", "block", blockID, "err", err)
		f = nil
		return
	}
	f.buf = buf
	f.grant()
	return
}

// Allocate reserves a fresh zeroed block and returns a write lock on it.
func (tx *Transaction) Allocate(task *sched.Task) (lock *Lock, err error) {
	c := tx.cache
	c.check(task)
	if tx.done {
		err = ErrTxDone
		return
	}
	if tx.mode != Write {
		err = errors.Wrap(ErrReadOnly, "allocate")
		return
	}
	blockID, err := c.dev.AllocateBlock()
	if err != nil {
		err = errors.Wrap(err, "allocate block")
		return
	}
	if c.frames[blockID] != nil {
		err = errors.AssertionFailedf("allocated block(%d) is still cached", blockID)
		return
	}
	c.cleanDel(blockID)

	buf := c.dev.AllocateBuffer()
	clear(buf)
	f := &frame{id: blockID, buf: buf, fresh: true, dirty: true}
	c.frames[blockID] = f
	f.hold(tx, Write)
	f.refs++

	lock = &Lock{tx: tx, frame: f, mode: Write}
	tx.locks[lock] = struct{}{}
	c.stats.locks.Add(1)
	c.emit(tx, blockID, Write, Acquire)
	return
}

// Free schedules blockID for recycling when the transaction commits.
func (tx *Transaction) Free(task *sched.Task, blockID BlockID) error {
	tx.cache.check(task)
	if tx.done {
		return ErrTxDone
	}
	if tx.mode != Write {
		return errors.Wrap(ErrReadOnly, "free")
	}
	if blockID < btslice.FirstBlockID {
		return errors.Wrapf(ErrOutOfRange, "free block(%d)", blockID)
	}
	tx.freed = append(tx.freed, blockID)
	return nil
}

// Commit finishes the transaction. Dirty blocks are written to the device and
// published; freed blocks return to the allocator.
//
// A read transaction releases the locks still held. A write transaction with
// unreleased lock handles is aborted and ErrLocksHeld returned.
func (tx *Transaction) Commit(task *sched.Task) (err error) {
	c := tx.cache
	c.check(task)
	if tx.done {
		return ErrTxDone
	}
	if held := len(tx.locks); held != 0 {
		if tx.mode == Write {
			tx.Abort(task)
			return errors.Wrapf(ErrLocksHeld, "write transaction %d holds %d locks", tx.id, held)
		}
		c.log.Warn("read transaction committed with locks held", "tx", tx.id, "locks", held)
		tx.releaseAll(task)
	}

	if tx.mode == Write {
		if err = tx.flush(task); err != nil {
			tx.Abort(task)
			return
		}
	}

	for _, f := range tx.reserved {
		if f.dirty {
			// orders the new image after any queued Set of the old one
			c.cleanDel(f.id)
		}
		f.writer = nil
		f.dirty = false
		f.fresh = false
		if f.undo != nil && !f.undoShared {
			c.dev.RecycleBuffer(f.undo)
		}
		f.undo, f.undoShared = nil, false
		f.refs--
	}
	for _, blockID := range tx.freed {
		if f := c.frames[blockID]; f != nil {
			f.discard = true
		}
		c.cleanDel(blockID)
		c.dev.RecycleBlock(blockID)
	}
	tx.finish()
	c.stats.commits.Add(1)
	return nil
}

func (tx *Transaction) flush(task *sched.Task) (err error) {
	c := tx.cache
	var dirty []*frame
	for _, f := range tx.reserved {
		if f.dirty {
			dirty = append(dirty, f)
		}
	}
	if len(dirty) == 0 && len(tx.freed) == 0 {
		return nil
	}
	// the reservations keep every other transaction off these buffers
	task.Suspend(func() {
		for _, f := range dirty {
			if err = c.dev.WriteBlock(f.id, f.buf); err != nil {
				return
			}
		}
		err = c.dev.Sync()
	})
	c.stats.writes.Add(int64(len(dirty)))
	return
}

// Abort finishes the transaction discarding its changes. Aborting a finished
// transaction is a no-op.
func (tx *Transaction) Abort(task *sched.Task) {
	c := tx.cache
	c.check(task)
	if tx.done {
		return
	}
	tx.releaseAll(task)
	for _, f := range tx.reserved {
		switch {
		case f.fresh:
			f.discard = true
			c.dev.RecycleBlock(f.id)
		case f.dirty:
			c.dev.RecycleBuffer(f.buf)
			f.buf, f.shared = f.undo, f.undoShared
		}
		f.undo, f.undoShared = nil, false
		f.writer = nil
		f.dirty = false
		f.fresh = false
		f.refs--
	}
	tx.finish()
	c.stats.aborts.Add(1)
}

func (tx *Transaction) releaseAll(task *sched.Task) {
	for lock := range tx.locks {
		lock.Release(task)
	}
}

func (tx *Transaction) finish() {
	c := tx.cache
	reserved := tx.reserved
	tx.reserved = nil
	tx.freed = nil
	tx.done = true
	c.open--
	c.stats.transactions.Add(-1)
	for _, f := range reserved {
		f.grant()
		c.evict(f)
	}
}
