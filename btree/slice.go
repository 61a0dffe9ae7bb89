// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package btree implements the point-lookup path of an on-disk B-tree slice:
// a tree of node blocks behind a buffer cache owned by one home context.
//
// Lookups may start on any context. They move to the home context for every
// cache access, hand the result back on the caller's context, and for large
// values return home once more to release the value and commit.
package btree

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/dacapoday/btslice"
	"github.com/dacapoday/btslice/cache"
	"github.com/dacapoday/btslice/node"
	"github.com/dacapoday/btslice/sched"
)

type BlockID = btslice.BlockID

// maxHeight bounds the descent so that a cycle of node blocks fails instead
// of looping.
const maxHeight = 32

// Sweeper removes an entry found expired. DeleteExpired must not block: the
// lookup that triggers it does not wait for the outcome.
type Sweeper interface {
	DeleteExpired(key []byte)
}

// Option configures a Slice.
type Option func(*Slice)

// WithClock sets the clock expiration is checked against.
func WithClock(now func() time.Time) Option {
	return func(slice *Slice) {
		slice.now = now
	}
}

// WithSweeper replaces the sweeper invoked for expired entries. The default
// is the slice itself.
func WithSweeper(sweeper Sweeper) Option {
	return func(slice *Slice) {
		slice.sweeper = sweeper
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(slice *Slice) {
		slice.log = log
	}
}

// Slice is one B-tree and the cache it lives behind.
type Slice struct {
	sched   *sched.Scheduler
	home    sched.ContextID
	cache   *cache.Cache
	now     func() time.Time
	sweeper Sweeper
	log     *slog.Logger
	tasks   sync.WaitGroup
}

// Open binds a slice to c, on the home context of c, and initializes the
// superblock of a freshly formatted device.
func Open(s *sched.Scheduler, c *cache.Cache, opts ...Option) (slice *Slice, err error) {
	if pageSize := c.PageSize(); pageSize < node.MinPageSize {
		return nil, errors.Wrapf(btslice.ErrInvalidBlockSize, "page of %d bytes, want at least %d", pageSize, node.MinPageSize)
	}
	slice = &Slice{
		sched: s,
		home:  c.Home(),
		cache: c,
		now:   time.Now,
		log:   slog.Default(),
	}
	slice.sweeper = slice
	for _, opt := range opts {
		opt(slice)
	}
	if err = s.Run(slice.home, slice.format); err != nil {
		return nil, err
	}
	return
}

func (slice *Slice) format(task *sched.Task) (err error) {
	tx, err := slice.cache.Begin(task, btslice.Write)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			tx.Abort(task)
		}
	}()

	lock, err := tx.Acquire(task, btslice.SuperblockID, btslice.Write)
	if err != nil {
		return blockError(err, "superblock")
	}
	if page := lock.Data(); node.Blank(page) {
		node.EncodeSuperblock(lock.Write(), btslice.NullBlockID)
		slice.log.Debug("superblock initialized")
	} else if _, err = node.Root(page); err != nil {
		return
	}
	lock.Release(task)
	return tx.Commit(task)
}

// Home returns the context owning the slice's cache.
func (slice *Slice) Home() sched.ContextID {
	return slice.home
}

func (slice *Slice) Cache() *cache.Cache {
	return slice.cache
}

func (slice *Slice) Scheduler() *sched.Scheduler {
	return slice.sched
}

// Wait blocks until every lookup and sweep task spawned by the slice ended.
func (slice *Slice) Wait() {
	slice.tasks.Wait()
}

func (slice *Slice) spawn(id sched.ContextID, fn func(*sched.Task) error) *sched.Handle {
	slice.tasks.Add(1)
	return slice.sched.Spawn(id, func(task *sched.Task) error {
		defer slice.tasks.Done()
		return fn(task)
	})
}

// blockError classifies a failed block acquisition: a block the tree points
// at that cannot be read back intact is corruption.
func blockError(err error, format string, args ...any) error {
	if errors.Is(err, btslice.ErrOutOfRange) || errors.Is(err, btslice.ErrBadChecksum) {
		return btslice.MarkCorrupt(err, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}
