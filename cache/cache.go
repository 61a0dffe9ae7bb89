// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package cache implements the buffer cache of a slice: in-memory copies of
// device blocks guarded by per-block read/write intent locks, accessed through
// transactions with a single commit point.
//
// A Cache is owned by one home context of a sched.Scheduler. Every operation
// takes the calling task and panics unless that task currently runs on the
// home context, so the lock table needs no synchronization of its own. A task
// blocked on a lock or on a device read is suspended; the other tasks of the
// home context keep running.
package cache

import (
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/ristretto/v2"

	"github.com/dacapoday/btslice"
	"github.com/dacapoday/btslice/sched"
)

type BlockID = btslice.BlockID
type Mode = btslice.Mode

const (
	Read  = btslice.Read
	Write = btslice.Write
)

var (
	ErrClosed     = btslice.ErrClosed
	ErrBusy       = btslice.ErrBusy
	ErrReadOnly   = btslice.ErrReadOnly
	ErrTxDone     = btslice.ErrTxDone
	ErrLocksHeld  = btslice.ErrLocksHeld
	ErrOutOfRange = btslice.ErrOutOfRange
)

// Device is the block storage beneath the cache. *block.Device satisfies it.
type Device interface {
	BlockSize() int
	PageSize() int
	AllocateBuffer() []byte
	RecycleBuffer(buffer []byte)
	ReadBlock(blockID BlockID, buffer []byte) error
	WriteBlock(blockID BlockID, buffer []byte) error
	AllocateBlock() (BlockID, error)
	RecycleBlock(blockID BlockID)
	Sync() error
}

// Options configures a Cache.
type Options struct {
	// CleanCacheBytes bounds the unlocked pages kept in memory; 0 disables it.
	CleanCacheBytes int64
	// Trace, when set, observes every lock acquisition and release.
	Trace  func(Event)
	Logger *slog.Logger
}

// Cache is the buffer cache of one device.
type Cache struct {
	home     sched.ContextID
	dev      Device
	pageSize int
	clean    *ristretto.Cache[BlockID, []byte]
	frames   map[BlockID]*frame
	trace    func(Event)
	log      *slog.Logger
	txseq    uint64
	open     int
	closed   bool
	stats    stats
}

// New creates a cache over dev owned by context home.
func New(home sched.ContextID, dev Device, opt Options) (c *Cache, err error) {
	c = &Cache{
		home:     home,
		dev:      dev,
		pageSize: dev.PageSize(),
		frames:   make(map[BlockID]*frame),
		trace:    opt.Trace,
		log:      opt.Logger,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if opt.CleanCacheBytes > 0 {
		pages := max(opt.CleanCacheBytes/int64(dev.BlockSize()), 1)
		c.clean, err = ristretto.NewCache(&ristretto.Config[BlockID, []byte]{
			NumCounters:        max(pages*10, 1000),
			MaxCost:            opt.CleanCacheBytes,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, errors.Wrap(err, "clean page cache")
		}
	}
	return c, nil
}

// Home returns the context owning the cache.
func (c *Cache) Home() sched.ContextID {
	return c.home
}

// PageSize returns the size of the block views handed out by locks.
func (c *Cache) PageSize() int {
	return c.pageSize
}

func (c *Cache) check(task *sched.Task) {
	if ctx := task.Context(); ctx != c.home {
		panic(fmt.Sprintf("cache: used from context %d, owned by context %d", ctx, c.home))
	}
}

// Begin opens a transaction.
func (c *Cache) Begin(task *sched.Task, mode Mode) (tx *Transaction, err error) {
	c.check(task)
	if c.closed {
		err = ErrClosed
		return
	}
	c.txseq++
	c.open++
	c.stats.transactions.Add(1)
	tx = &Transaction{
		cache: c,
		id:    c.txseq,
		mode:  mode,
		locks: make(map[*Lock]struct{}),
	}
	return
}

// Close releases the clean page cache. It fails while transactions are open.
func (c *Cache) Close(task *sched.Task) error {
	c.check(task)
	if c.closed {
		return ErrClosed
	}
	if c.open != 0 {
		return errors.Wrapf(ErrBusy, "%d open transactions", c.open)
	}
	c.closed = true
	if c.clean != nil {
		c.clean.Close()
	}
	c.frames = nil
	return nil
}

func (c *Cache) cleanGet(blockID BlockID) (buffer []byte, ok bool) {
	if c.clean == nil {
		return
	}
	return c.clean.Get(blockID)
}

func (c *Cache) cleanSet(blockID BlockID, buffer []byte) (kept bool) {
	if c.clean == nil {
		return false
	}
	// Set is asynchronous; a committed write deletes the key first so a queued
	// Set of the previous image cannot shadow this one
	c.clean.Set(blockID, buffer, int64(len(buffer)))
	return true
}

func (c *Cache) cleanDel(blockID BlockID) {
	if c.clean != nil {
		c.clean.Del(blockID)
	}
}

// evict drops an unreferenced frame from the lock table, keeping its page in
// the clean cache when it is a committed image.
func (c *Cache) evict(f *frame) {
	if f.refs != 0 || f.loading || len(f.waiters) != 0 {
		return
	}
	if c.frames[f.id] == f {
		delete(c.frames, f.id)
	}
	if f.discard {
		c.cleanDel(f.id)
		if !f.shared {
			c.dev.RecycleBuffer(f.buf)
		}
		f.buf = nil
		return
	}
	if !c.cleanSet(f.id, f.buf) && !f.shared {
		c.dev.RecycleBuffer(f.buf)
	}
	f.buf = nil
}

func (c *Cache) emit(tx *Transaction, blockID BlockID, mode Mode, kind EventKind) {
	if c.trace == nil {
		return
	}
	c.trace(Event{Tx: tx.id, Block: blockID, Mode: mode, Kind: kind, Held: len(tx.locks)})
}
