package btree

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"github.com/dacapoday/btslice"
	"github.com/dacapoday/btslice/large"
	"github.com/dacapoday/btslice/node"
	"github.com/dacapoday/btslice/sched"
	"github.com/dacapoday/btslice/value"
)

// DeleteExpired removes key in a task of its own on the home context, when
// the entry is still expired by then. It returns immediately.
func (slice *Slice) DeleteExpired(key []byte) {
	key = bytes.Clone(key)
	slice.spawn(slice.home, func(task *sched.Task) error {
		swept, err := slice.sweep(task, key)
		if err != nil {
			slice.log.Error("sweep failed", "key", string(key), "err", err)
			return err
		}
		slice.log.Debug("sweep", "key", string(key), "swept", swept)
		return nil
	})
}

// sweep deletes key from its leaf if its value is expired, and frees the
// blocks of a large value. It runs on the home context.
func (slice *Slice) sweep(task *sched.Task, key []byte) (swept bool, err error) {
	tx, err := slice.cache.Begin(task, btslice.Write)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			tx.Abort(task)
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

	// internal nodes are read locked; the leaf is locked for writing
	blockID := root
	mode := btslice.Read
	for height := 1; ; height++ {
		parent := lock
		if lock, err = tx.Acquire(task, blockID, mode); err != nil {
			err = blockError(err, "node block(%d)", blockID)
			return
		}
		parent.Release(task)

		page := lock.Data()
		if !node.IsInternal(page) {
			if mode == btslice.Read {
				// relock the leaf for writing
				lock.Release(task)
				lock, err = tx.Acquire(task, blockID, btslice.Write)
				if err != nil {
					err = blockError(err, "leaf block(%d)", blockID)
					return
				}
				if node.IsInternal(lock.Data()) {
					lock.Release(task)
					err = btslice.Corruptf("leaf block(%d) turned internal", blockID)
					return
				}
			}
			break
		}
		if height == maxHeight {
			lock.Release(task)
			err = btslice.Corruptf("tree deeper than %d levels at block(%d)", maxHeight, blockID)
			return
		}
		next := node.InternalLookup(page, key)
		if next == btslice.NullBlockID || next == btslice.SuperblockID {
			lock.Release(task)
			err = btslice.Corruptf("internal block(%d) routes to block(%d)", blockID, next)
			return
		}
		blockID = next
	}

	page := lock.Data()
	encoded, found := node.LeafLookup(page, key)
	if !found {
		lock.Release(task)
		err = tx.Commit(task)
		return
	}
	v, err := value.Decode(encoded)
	if err != nil {
		lock.Release(task)
		return
	}
	if !v.Expired(slice.now()) {
		lock.Release(task)
		err = tx.Commit(task)
		return
	}

	rebuilt := make([]byte, len(page))
	node.EncodeLeaf(rebuilt, func(yield func([]byte, []byte) bool) {
		for k, val := range node.Leaf(page) {
			if !bytes.Equal(k, key) && !yield(k, val) {
				return
			}
		}
	})
	copy(lock.Write(), rebuilt)
	lock.Release(task)

	if v.IsLarge() {
		if err = large.Free(task, tx, v.Ref()); err != nil {
			err = errors.Wrapf(err, "free large value of %q", key)
			return
		}
	}
	if err = tx.Commit(task); err != nil {
		return
	}
	return true, nil
}
