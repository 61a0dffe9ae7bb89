// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package large stores values too big for a leaf slot out of line: a chain of
// index blocks listing the segment blocks that hold the bytes in order.
//
// The number and sizes of the segments follow from the value size and the
// page size alone, so a reference can be checked before any data block is
// read.
package large

import (
	"github.com/cockroachdb/errors"

	"github.com/dacapoday/btslice"
	"github.com/dacapoday/btslice/cache"
	"github.com/dacapoday/btslice/sched"
	"github.com/dacapoday/btslice/value"
)

type BlockID = btslice.BlockID

// Ref is the leaf's reference to a large value.
type Ref = value.Ref

// Value is an opened large value: the segment blocks stay read locked in the
// opening transaction until Release.
type Value struct {
	root     BlockID
	size     uint64
	locks    []*cache.Lock
	segments [][]byte
	released bool
}

// Open reads the index chain of ref in tx and read locks every segment.
// Index blocks are released as soon as they are read. A block that is
// missing, unreadable or ill-formed fails with a corruption error; no lock is
// left held on failure.
func Open(task *sched.Task, tx *cache.Transaction, ref Ref) (v *Value, err error) {
	if ref.Size > MaxSize {
		return nil, btslice.Corruptf("large value at block(%d) of %d bytes, limit %d", ref.Root, ref.Size, MaxSize)
	}
	pageSize := tx.PageSize()
	segments, indexes, last := Layout(pageSize, ref.Size)

	// grows with the index pages actually read
	hint := min(segments, IndexCapacity(pageSize))
	v = &Value{
		root:     ref.Root,
		size:     ref.Size,
		locks:    make([]*cache.Lock, 0, hint),
		segments: make([][]byte, 0, hint),
	}
	defer func() {
		if err != nil {
			v.Release(task)
			v = nil
		}
	}()

	capacity := SegmentCapacity(pageSize)
	per := IndexCapacity(pageSize)
	blockID := ref.Root
	var ids []BlockID
	for i := range indexes {
		if blockID < btslice.FirstBlockID {
			err = btslice.Corruptf("large value index %d at block(%d)", i, blockID)
			return
		}
		want := min(per, segments-i*per)
		if ids, blockID, err = readIndex(task, tx, btslice.Read, blockID, ids[:0], want, ref.Size); err != nil {
			return
		}
		for _, id := range ids {
			size := capacity
			if len(v.segments) == segments-1 {
				size = last
			}
			if err = v.acquire(task, tx, id, size); err != nil {
				return
			}
		}
	}
	if blockID != btslice.NullBlockID {
		err = btslice.Corruptf("large value index chain continues at block(%d)", blockID)
	}
	return
}

func readIndex(task *sched.Task, tx *cache.Transaction, mode btslice.Mode, blockID BlockID, ids []BlockID, want int, size uint64) (_ []BlockID, next BlockID, err error) {
	lock, err := tx.Acquire(task, blockID, mode)
	if err != nil {
		err = btslice.MarkCorrupt(err, "large value index block(%d)", blockID)
		return
	}
	defer lock.Release(task)

	page := indexPage(lock.Data())
	switch {
	case !page.valid():
		err = btslice.Corruptf("large value index block(%d) ill-formed", blockID)
	case page.size() != size:
		err = btslice.Corruptf("large value index block(%d) records %d bytes, reference %d", blockID, page.size(), size)
	case page.count() != want:
		err = btslice.Corruptf("large value index block(%d) lists %d segments, want %d", blockID, page.count(), want)
	}
	if err != nil {
		return
	}
	for i := range want {
		ids = append(ids, page.segment(i))
	}
	return ids, page.next(), nil
}

func (v *Value) acquire(task *sched.Task, tx *cache.Transaction, blockID BlockID, size int) error {
	if blockID < btslice.FirstBlockID {
		return btslice.Corruptf("large value segment %d at block(%d)", len(v.segments), blockID)
	}
	lock, err := tx.Acquire(task, blockID, btslice.Read)
	if err != nil {
		return btslice.MarkCorrupt(err, "large value segment block(%d)", blockID)
	}
	v.locks = append(v.locks, lock)
	data, ok := segmentPage(lock.Data()).data()
	if !ok || len(data) != size {
		return btslice.Corruptf("large value segment block(%d) holds %d bytes, want %d", blockID, len(data), size)
	}
	v.segments = append(v.segments, data)
	return nil
}

// Root returns the index block the value was opened from.
func (v *Value) Root() BlockID {
	return v.root
}

// Size returns the total size of the value.
func (v *Value) Size() uint64 {
	return v.size
}

func (v *Value) SegmentCount() int {
	return len(v.segments)
}

// Segment returns segment i. The bytes are valid until Release.
func (v *Value) Segment(i int) []byte {
	v.live()
	return v.segments[i]
}

// Buffers returns the segments in stored order; their concatenation is the
// value. The bytes are valid until Release.
func (v *Value) Buffers() [][]byte {
	v.live()
	return v.segments
}

func (v *Value) live() {
	if v.released {
		panic(errors.AssertionFailedf("large value block(%d) used after release", v.root))
	}
}

// Release unlocks the segments. It must run on the home context of the
// opening transaction, before that transaction commits. Releasing twice is a
// no-op.
func (v *Value) Release(task *sched.Task) {
	if v.released {
		return
	}
	v.released = true
	for _, lock := range v.locks {
		lock.Release(task)
	}
	v.locks = nil
	v.segments = nil
}

// Write stores data out of line in the write transaction tx.
func Write(task *sched.Task, tx *cache.Transaction, data []byte) (ref Ref, err error) {
	pageSize := tx.PageSize()
	capacity := SegmentCapacity(pageSize)
	per := IndexCapacity(pageSize)
	segments, indexes, _ := Layout(pageSize, uint64(len(data)))

	ids := make([]BlockID, 0, segments)
	for beg := 0; beg < len(data); beg += capacity {
		var lock *cache.Lock
		if lock, err = tx.Allocate(task); err != nil {
			return
		}
		encodeSegmentPage(lock.Write(), data[beg:min(beg+capacity, len(data))])
		ids = append(ids, lock.ID())
		lock.Release(task)
	}

	next := btslice.NullBlockID
	for i := indexes - 1; i >= 0; i-- {
		var lock *cache.Lock
		if lock, err = tx.Allocate(task); err != nil {
			return
		}
		encodeIndexPage(lock.Write(), ids[i*per:min((i+1)*per, segments)], next, uint64(len(data)))
		next = lock.ID()
		lock.Release(task)
	}
	return Ref{Root: next, Size: uint64(len(data))}, nil
}

// Free returns the blocks of ref to the allocator when tx commits. Every
// block is write locked first, so Free waits for the readers still holding
// the value.
func Free(task *sched.Task, tx *cache.Transaction, ref Ref) (err error) {
	pageSize := tx.PageSize()
	segments, indexes, _ := Layout(pageSize, ref.Size)
	per := IndexCapacity(pageSize)

	blockID := ref.Root
	var ids []BlockID
	for i := range indexes {
		if blockID < btslice.FirstBlockID {
			return btslice.Corruptf("large value index %d at block(%d)", i, blockID)
		}
		index := blockID
		if ids, blockID, err = readIndex(task, tx, btslice.Write, index, ids[:0], min(per, segments-i*per), ref.Size); err != nil {
			return
		}
		for _, id := range ids {
			if id < btslice.FirstBlockID {
				return btslice.Corruptf("large value segment at block(%d)", id)
			}
			var lock *cache.Lock
			if lock, err = tx.Acquire(task, id, btslice.Write); err != nil {
				return btslice.MarkCorrupt(err, "large value segment block(%d)", id)
			}
			lock.Release(task)
			if err = tx.Free(task, id); err != nil {
				return
			}
		}
		if err = tx.Free(task, index); err != nil {
			return
		}
	}
	return nil
}
