// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"github.com/dacapoday/btslice"
	"github.com/dacapoday/btslice/cache"
	"github.com/dacapoday/btslice/large"
	"github.com/dacapoday/btslice/node"
	"github.com/dacapoday/btslice/sched"
	"github.com/dacapoday/btslice/value"
)

// Result is the outcome of a lookup.
type Result struct {
	Found bool
	// Buffers hold the value in order; their concatenation is the value.
	Buffers [][]byte
	Flags   uint32
}

// Bytes returns the value as one slice.
func (res Result) Bytes() []byte {
	if len(res.Buffers) == 1 {
		return res.Buffers[0]
	}
	return bytes.Join(res.Buffers, nil)
}

// Size returns the value size.
func (res Result) Size() (size int) {
	for _, buf := range res.Buffers {
		size += len(buf)
	}
	return
}

func (res Result) clone() Result {
	if !res.Found {
		return res
	}
	return Result{Found: true, Buffers: [][]byte{bytes.Join(res.Buffers, nil)}, Flags: res.Flags}
}

// View looks key up and calls fn with the result on the caller's context.
//
// For a large value the buffers alias the cached segment blocks: they are
// valid only during fn, and the lookup's transaction commits after fn
// returns. A missing key is not an error, fn sees Found false.
func (slice *Slice) View(caller *sched.Task, key []byte, fn func(Result) error) (err error) {
	from := caller.Context()
	caller.MoveTo(slice.home)

	res, lv, tx, err := slice.lookup(caller, key)
	if err != nil || lv == nil {
		caller.MoveTo(from)
		if err != nil {
			return
		}
		return fn(res)
	}

	func() {
		defer func() {
			lv.Release(caller)
			if cerr := tx.Commit(caller); cerr != nil {
				err = errors.CombineErrors(err, cerr)
			}
		}()
		caller.On(from, func() {
			err = fn(res)
		})
	}()
	caller.MoveTo(from)
	return
}

// Get looks key up in its own task on the caller's context and suspends the
// caller until the result is delivered. The result owns its bytes.
func (slice *Slice) Get(caller *sched.Task, key []byte) (Result, error) {
	key = bytes.Clone(key)
	promise := sched.NewPromise[delivery]()
	slice.spawn(caller.Context(), func(task *sched.Task) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.AssertionFailedf("lookup panicked: %v", r)
			}
			slice.settle(promise, key, err)
		}()
		return slice.View(task, key, func(res Result) error {
			promise.Deliver(delivery{res: res.clone()})
			return nil
		})
	})
	d := sched.Await(caller, promise)
	return d.res, d.err
}

type delivery struct {
	res Result
	err error
}

// settle delivers err unless a result went out first. The caller has then
// resumed, so an error from releasing the large value or committing is only
// logged.
func (slice *Slice) settle(promise *sched.Promise[delivery], key []byte, err error) {
	if !promise.Deliver(delivery{err: err}) && err != nil {
		slice.log.Error("lookup failed after delivery", "key", string(key), "err", err)
	}
}

// lookup runs on the home context. It returns with tx finished, unless the
// key holds a large value: then lv is open in tx, and both are the caller's
// to release and commit.
func (slice *Slice) lookup(task *sched.Task, key []byte) (res Result, lv *large.Value, tx *cache.Transaction, err error) {
	tx, err = slice.cache.Begin(task, btslice.Read)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			tx.Abort(task)
			slice.log.Error("lookup failed", "key", string(key), "tx", tx.ID(), "err", err)
			lv, tx = nil, nil
		}
	}()

	lock, err := tx.Acquire(task, btslice.SuperblockID, btslice.Read)
	if err != nil {
		err = blockError(err, "superblock")
		return
	}
	root, err := node.Root(lock.Data())
	if err != nil {
		return
	}
	if root == btslice.NullBlockID {
		lock.Release(task)
		err = tx.Commit(task)
		return
	}

	// hand over hand: the child is locked before its parent is released
	var page []byte
	blockID := root
	for height := 1; ; height++ {
		parent := lock
		if lock, err = tx.Acquire(task, blockID, btslice.Read); err != nil {
			err = blockError(err, "node block(%d)", blockID)
			return
		}
		parent.Release(task)

		page = lock.Data()
		if err = node.Check(page); err != nil {
			err = errors.Wrapf(err, "node block(%d)", blockID)
			return
		}
		if !node.IsInternal(page) {
			break
		}
		if height == maxHeight {
			err = btslice.Corruptf("tree deeper than %d levels at block(%d)", maxHeight, blockID)
			return
		}
		next := node.InternalLookup(page, key)
		if next == btslice.NullBlockID || next == btslice.SuperblockID {
			err = btslice.Corruptf("internal block(%d) routes to block(%d)", blockID, next)
			return
		}
		blockID = next
	}

	encoded, found := node.LeafLookup(page, key)
	if !found {
		lock.Release(task)
		err = tx.Commit(task)
		return
	}
	v, err := value.Decode(encoded)
	if err != nil {
		err = errors.Wrapf(err, "leaf block(%d)", blockID)
		return
	}
	var data []byte
	if !v.IsLarge() {
		data = bytes.Clone(v.Data())
	}
	lock.Release(task)

	if v.Expired(slice.now()) {
		slice.sweeper.DeleteExpired(key)
		err = tx.Commit(task)
		return
	}
	if !v.IsLarge() {
		res = Result{Found: true, Buffers: [][]byte{data}, Flags: v.Flags()}
		err = tx.Commit(task)
		return
	}

	ref := v.Ref()
	if lv, err = large.Open(task, tx, ref); err != nil {
		return
	}
	if lv.Root() != ref.Root {
		lv.Release(task)
		err = btslice.Corruptf("large value opened at block(%d) for block(%d)", lv.Root(), ref.Root)
		return
	}
	res = Result{Found: true, Buffers: lv.Buffers(), Flags: v.Flags()}
	return
}
