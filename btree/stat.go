package btree

import (
	"github.com/dacapoday/btslice"
	"github.com/dacapoday/btslice/node"
	"github.com/dacapoday/btslice/sched"
	"github.com/dacapoday/btslice/value"
)

// Stat describes the shape of a tree.
type Stat struct {
	Root     BlockID
	Height   int
	Internal int // internal nodes
	Leaves   int
	Entries  int
	Large    int    // entries holding a large value
	Expired  int    // entries expired by the slice clock
	Bytes    uint64 // value payload
}

// Stat walks the whole tree of slice, one block lock at a time.
func (slice *Slice) Stat(caller *sched.Task) (stat Stat, err error) {
	caller.On(slice.home, func() {
		stat, err = slice.stat(caller)
	})
	return
}

func (slice *Slice) stat(task *sched.Task) (stat Stat, err error) {
	tx, err := slice.cache.Begin(task, btslice.Read)
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
	stat.Root, err = node.Root(lock.Data())
	lock.Release(task)
	if err != nil || stat.Root == btslice.NullBlockID {
		if err == nil {
			err = tx.Commit(task)
		}
		return
	}

	now := slice.now()
	level := []BlockID{stat.Root}
	for len(level) != 0 {
		stat.Height++
		if stat.Height > maxHeight {
			err = btslice.Corruptf("tree deeper than %d levels", maxHeight)
			return
		}
		var next []BlockID
		for _, blockID := range level {
			if lock, err = tx.Acquire(task, blockID, btslice.Read); err != nil {
				err = blockError(err, "node block(%d)", blockID)
				return
			}
			page := lock.Data()
			if err = node.Validate(page); err != nil {
				return
			}
			if node.IsInternal(page) {
				stat.Internal++
				for _, child := range node.Internal(page) {
					next = append(next, child)
				}
			} else {
				stat.Leaves++
				for _, encoded := range node.Leaf(page) {
					var v value.Value
					if v, err = value.Decode(encoded); err != nil {
						return
					}
					stat.Entries++
					stat.Bytes += v.Size()
					if v.IsLarge() {
						stat.Large++
					}
					if v.Expired(now) {
						stat.Expired++
					}
				}
			}
			lock.Release(task)
		}
		level = next
	}
	err = tx.Commit(task)
	return
}
