// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package store shards keys over a fixed set of slices. Each slice has its
// own file, cache and home context; a key always routes to the same slice.
package store

import (
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/dacapoday/btslice"
	"github.com/dacapoday/btslice/block"
	"github.com/dacapoday/btslice/btree"
	"github.com/dacapoday/btslice/cache"
	"github.com/dacapoday/btslice/mem"
	"github.com/dacapoday/btslice/sched"
)

// Config configures a Store.
type Config struct {
	// Dir holds the slice files; empty keeps every slice in memory.
	Dir        string
	Slices     int
	BlockSize  int
	CacheBytes int64 // clean page cache of each slice
	Logger     *slog.Logger
	Options    []btree.Option
}

// Store is a set of slices behind one scheduler.
type Store struct {
	sched  *sched.Scheduler
	shards []*shard
	log    *slog.Logger
	next   atomic.Uint64
}

type shard struct {
	dev   *block.Device[btslice.File]
	cache *cache.Cache
	slice *btree.Slice
}

// Open opens or creates the slices of cfg. Slice i is homed on context
// i modulo the number of contexts of s.
func Open(s *sched.Scheduler, cfg Config) (st *Store, err error) {
	if cfg.Slices < 1 {
		cfg.Slices = 1
	}
	st = &Store{sched: s, log: cfg.Logger}
	if st.log == nil {
		st.log = slog.Default()
	}
	if cfg.Dir != "" {
		if err = os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create store directory")
		}
	}
	defer func() {
		if err != nil {
			st.closeDevices()
			st = nil
		}
	}()

	for i := range cfg.Slices {
		var sh *shard
		if sh, err = st.open(i, cfg); err != nil {
			return
		}
		st.shards = append(st.shards, sh)
	}
	st.log.Info("store opened", "dir", cfg.Dir, "slices", cfg.Slices, "contexts", s.Len())
	return
}

func (st *Store) open(i int, cfg Config) (sh *shard, err error) {
	var file btslice.File = new(mem.File)
	if cfg.Dir != "" {
		name := filepath.Join(cfg.Dir, fmt.Sprintf("slice-%03d.db", i))
		if file, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644); err != nil {
			return nil, errors.Wrapf(err, "open slice %d", i)
		}
	}
	sh = new(shard)
	if sh.dev, err = block.Open(file, block.Options{BlockSize: cfg.BlockSize}); err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "open slice %d device", i)
	}
	log := st.log.With("slice", i)
	home := sched.ContextID(i % st.sched.Len())
	if sh.cache, err = cache.New(home, sh.dev, cache.Options{CleanCacheBytes: cfg.CacheBytes, Logger: log}); err != nil {
		sh.dev.Close()
		return nil, err
	}
	opts := append([]btree.Option{btree.WithLogger(log)}, cfg.Options...)
	if sh.slice, err = btree.Open(st.sched, sh.cache, opts...); err != nil {
		sh.dev.Close()
		return nil, errors.Wrapf(err, "open slice %d", i)
	}
	log.Debug("slice opened", "home", home, "volume", sh.dev.ID(), "blocks", sh.dev.Limit())
	return sh, nil
}

// Len returns the number of slices.
func (st *Store) Len() int {
	return len(st.shards)
}

// Scheduler returns the scheduler the slices are homed on.
func (st *Store) Scheduler() *sched.Scheduler {
	return st.sched
}

func (st *Store) route(key []byte) int {
	return int(xxhash.Sum64(key) % uint64(len(st.shards)))
}

// Slice returns the slice key routes to.
func (st *Store) Slice(key []byte) *btree.Slice {
	return st.shards[st.route(key)].slice
}

// Get looks key up from the caller's task. The result owns its bytes.
func (st *Store) Get(caller *sched.Task, key []byte) (btree.Result, error) {
	return st.Slice(key).Get(caller, key)
}

// View looks key up and calls fn on the caller's context; see btree.Slice.View.
func (st *Store) View(caller *sched.Task, key []byte, fn func(btree.Result) error) error {
	return st.Slice(key).View(caller, key, fn)
}

// Fetch looks key up for a caller outside the scheduler, from a context
// picked round robin.
func (st *Store) Fetch(key []byte) (res btree.Result, err error) {
	from := sched.ContextID(st.next.Add(1) % uint64(st.sched.Len()))
	err = st.sched.Run(from, func(task *sched.Task) (err error) {
		res, err = st.Get(task, key)
		return
	})
	return
}

// Load replaces the content of every slice with entries, which must be sorted
// by key without duplicates. The slices load concurrently, each on its home
// context.
func (st *Store) Load(entries iter.Seq[btree.Entry]) error {
	parts := make([][]btree.Entry, len(st.shards))
	for entry := range entries {
		i := st.route(entry.Key)
		parts[i] = append(parts[i], entry)
	}

	handles := make([]*sched.Handle, len(st.shards))
	for i, sh := range st.shards {
		handles[i] = st.sched.Spawn(sh.slice.Home(), func(task *sched.Task) error {
			return btree.Load(task, sh.slice, slices.Values(parts[i]))
		})
	}
	var err error
	for i, h := range handles {
		if werr := h.Wait(); werr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(werr, "load slice %d", i))
		}
	}
	return err
}

// Stat returns the tree statistics of every slice.
func (st *Store) Stat() (stats []btree.Stat, err error) {
	stats = make([]btree.Stat, len(st.shards))
	for i, sh := range st.shards {
		err = st.sched.Run(sh.slice.Home(), func(task *sched.Task) (err error) {
			stats[i], err = sh.slice.Stat(task)
			return
		})
		if err != nil {
			return nil, errors.Wrapf(err, "stat slice %d", i)
		}
	}
	return
}

// CacheStats returns the cache counters of every slice.
func (st *Store) CacheStats() []cache.Stats {
	stats := make([]cache.Stats, len(st.shards))
	for i, sh := range st.shards {
		stats[i] = sh.cache.Stats()
	}
	return stats
}

// Close waits for the pending lookups and sweeps, then closes every slice.
func (st *Store) Close() (err error) {
	for i, sh := range st.shards {
		sh.slice.Wait()
		cerr := st.sched.Run(sh.cache.Home(), func(task *sched.Task) error {
			return sh.cache.Close(task)
		})
		if cerr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(cerr, "close slice %d", i))
		}
	}
	if cerr := st.closeDevices(); cerr != nil {
		err = errors.CombineErrors(err, cerr)
	}
	return
}

func (st *Store) closeDevices() (err error) {
	for i, sh := range st.shards {
		if cerr := sh.dev.Close(); cerr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(cerr, "close slice %d device", i))
		}
	}
	st.shards = nil
	return
}
