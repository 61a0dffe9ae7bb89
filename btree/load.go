package btree

import (
	"bytes"
	"iter"

	"github.com/cockroachdb/errors"

	"github.com/dacapoday/btslice"
	"github.com/dacapoday/btslice/cache"
	"github.com/dacapoday/btslice/large"
	"github.com/dacapoday/btslice/node"
	"github.com/dacapoday/btslice/sched"
	"github.com/dacapoday/btslice/value"
)

// MaxValueSize bounds the values Load stores.
const MaxValueSize = large.MaxSize

// Entry is one key and value handed to Load.
type Entry struct {
	Key   []byte
	Val   []byte
	Flags uint32
	// Exptime is the expiration time in unix seconds, 0 for none.
	Exptime uint32
}

// Load replaces the tree of slice with one built from entries, which must be
// sorted by key without duplicates. The tree is written in one transaction on
// the home context and becomes visible when the superblock is swapped at
// commit. Blocks of the previous tree are not reclaimed.
func Load(caller *sched.Task, slice *Slice, entries iter.Seq[Entry]) (err error) {
	caller.On(slice.home, func() {
		err = slice.load(caller, entries)
	})
	return
}

func (slice *Slice) load(task *sched.Task, entries iter.Seq[Entry]) (err error) {
	tx, err := slice.cache.Begin(task, btslice.Write)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			tx.Abort(task)
		}
	}()

	b := builder{task: task, tx: tx, pageSize: tx.PageSize()}
	inline := node.InlineSize(b.pageSize)
	var prev []byte
	var count int
	for entry := range entries {
		switch {
		case len(entry.Key) > node.MaxKeySize:
			err = errors.Wrapf(btslice.ErrKeyTooLarge, "key of %d bytes", len(entry.Key))
		case len(entry.Val) > MaxValueSize:
			err = errors.Wrapf(btslice.ErrValueTooLarge, "value of %d bytes under %q", len(entry.Val), entry.Key)
		case count > 0 && bytes.Compare(prev, entry.Key) >= 0:
			err = errors.Wrapf(btslice.ErrUnsorted, "key %q after %q", entry.Key, prev)
		}
		if err != nil {
			return
		}

		v := value.Inline(entry.Val, entry.Flags, entry.Exptime)
		if v.EncodedSize() > inline {
			var ref value.Ref
			if ref, err = large.Write(task, tx, entry.Val); err != nil {
				return
			}
			v = value.Large(ref, entry.Flags, entry.Exptime)
		}
		key := bytes.Clone(entry.Key)
		if err = b.add(key, v.Encode(nil)); err != nil {
			return
		}
		prev = key
		count++
	}

	root, err := b.finish()
	if err != nil {
		return
	}

	lock, err := tx.Acquire(task, btslice.SuperblockID, btslice.Write)
	if err != nil {
		err = blockError(err, "superblock")
		return
	}
	node.EncodeSuperblock(lock.Write(), root)
	lock.Release(task)
	if err = tx.Commit(task); err != nil {
		return
	}
	slice.log.Info("tree loaded", "entries", count, "root", root, "height", b.height)
	return
}

type separator struct {
	key   []byte
	child BlockID
}

// builder packs sorted leaf items into pages, bottom level first.
type builder struct {
	task     *sched.Task
	tx       *cache.Transaction
	pageSize int
	keys     [][]byte
	vals     [][]byte
	used     int
	level    []separator
	height   int
}

func (b *builder) add(key, val []byte) error {
	size := node.LeafItemSize(len(key), len(val))
	if len(b.keys) != 0 && (node.HeadSize+b.used+size > b.pageSize || len(b.keys) == node.MaxCount) {
		if err := b.flushLeaf(); err != nil {
			return err
		}
	}
	b.keys = append(b.keys, key)
	b.vals = append(b.vals, val)
	b.used += size
	return nil
}

func (b *builder) flushLeaf() error {
	lock, err := b.tx.Allocate(b.task)
	if err != nil {
		return err
	}
	keys, vals := b.keys, b.vals
	node.EncodeLeaf(lock.Write(), func(yield func([]byte, []byte) bool) {
		for i := range keys {
			if !yield(keys[i], vals[i]) {
				return
			}
		}
	})
	b.level = append(b.level, separator{keys[len(keys)-1], lock.ID()})
	lock.Release(b.task)
	b.keys, b.vals, b.used = nil, nil, 0
	return nil
}

// finish writes the pending leaf and the internal levels above it, and
// returns the root.
func (b *builder) finish() (root BlockID, err error) {
	if len(b.keys) == 0 {
		return btslice.NullBlockID, nil
	}
	if err = b.flushLeaf(); err != nil {
		return
	}
	b.height = 1
	for len(b.level) > 1 {
		if b.level, err = b.internalLevel(b.level); err != nil {
			return
		}
		b.height++
	}
	return b.level[0].child, nil
}

func (b *builder) internalLevel(children []separator) (parents []separator, err error) {
	for len(children) != 0 {
		used, n := node.HeadSize, 0
		for n < len(children) && n < node.MaxCount {
			size := node.InternalItemSize(len(children[n].key))
			if used+size > b.pageSize {
				break
			}
			used += size
			n++
		}

		var lock *cache.Lock
		if lock, err = b.tx.Allocate(b.task); err != nil {
			return
		}
		items := children[:n]
		node.EncodeInternal(lock.Write(), func(yield func([]byte, BlockID) bool) {
			for _, item := range items {
				if !yield(item.key, item.child) {
					return
				}
			}
		})
		parents = append(parents, separator{items[n-1].key, lock.ID()})
		lock.Release(b.task)
		children = children[n:]
	}
	return
}
