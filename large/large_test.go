package large

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/dacapoday/btslice"
	"github.com/dacapoday/btslice/block"
	"github.com/dacapoday/btslice/cache"
	"github.com/dacapoday/btslice/mem"
	"github.com/dacapoday/btslice/sched"
)

type fixture struct {
	sched *sched.Scheduler
	dev   *block.Device[*mem.File]
	cache *cache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev, err := block.Open(new(mem.File), block.Options{BlockSize: 512})
	require.NoError(t, err)
	c, err := cache.New(0, dev, cache.Options{})
	require.NoError(t, err)
	return &fixture{sched: sched.New(1), dev: dev, cache: c}
}

func (fx *fixture) write(t *testing.T, data []byte) (ref Ref) {
	t.Helper()
	require.NoError(t, fx.sched.Run(0, func(task *sched.Task) (err error) {
		tx, err := fx.cache.Begin(task, btslice.Write)
		if err != nil {
			return
		}
		if ref, err = Write(task, tx, data); err != nil {
			tx.Abort(task)
			return
		}
		return tx.Commit(task)
	}))
	return
}

// read opens ref and returns the concatenated segments.
func (fx *fixture) read(ref Ref) (data []byte, segments []int, err error) {
	err = fx.sched.Run(0, func(task *sched.Task) error {
		tx, err := fx.cache.Begin(task, btslice.Read)
		if err != nil {
			return err
		}
		v, err := Open(task, tx, ref)
		if err != nil {
			tx.Abort(task)
			return err
		}
		if v.Root() != ref.Root {
			return errors.AssertionFailedf("opened block(%d) for block(%d)", v.Root(), ref.Root)
		}
		for i := range v.SegmentCount() {
			segments = append(segments, len(v.Segment(i)))
		}
		data = bytes.Join(v.Buffers(), nil)
		v.Release(task)
		v.Release(task)
		return tx.Commit(task)
	})
	return
}

func randomBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(rand.IntN(256))
	}
	return data
}

func TestLayout(t *testing.T) {
	const pageSize = 508 // capacity 504, 123 segments per index
	for _, tt := range []struct {
		size                    uint64
		segments, indexes, last int
	}{
		{0, 0, 1, 0},
		{1, 1, 1, 1},
		{504, 1, 1, 504},
		{505, 2, 1, 1},
		{504 * 123, 123, 1, 504},
		{504*123 + 1, 124, 2, 1},
		{math.MaxUint64, 36600682685931651, 297566525901884, 15},
	} {
		segments, indexes, last := Layout(pageSize, tt.size)
		require.Equal(t, tt.segments, segments, "size %d", tt.size)
		require.Equal(t, tt.indexes, indexes, "size %d", tt.size)
		require.Equal(t, tt.last, last, "size %d", tt.size)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, size := range []int{1, 503, 504, 505, 504 * 123, 504*123 + 1, 100000} {
		fx := newFixture(t)
		data := randomBytes(size)
		ref := fx.write(t, data)
		require.EqualValues(t, size, ref.Size)

		got, segments, err := fx.read(ref)
		require.NoError(t, err, "size %d", size)
		require.True(t, bytes.Equal(data, got), "size %d", size)

		want, _, _ := Layout(fx.cache.PageSize(), ref.Size)
		require.Len(t, segments, want)
		var sum int
		for _, n := range segments {
			sum += n
		}
		require.Equal(t, size, sum)

		stats := fx.cache.Stats()
		require.Zero(t, stats.Locks)
		require.Zero(t, stats.Transactions)
	}
}

func TestMissingSegment(t *testing.T) {
	fx := newFixture(t)
	ref := fx.write(t, randomBytes(2000))

	// the index block lists the segments; break the second one
	buffer := fx.dev.AllocateBuffer()
	require.NoError(t, fx.dev.ReadBlock(ref.Root, buffer))
	segment := indexPage(buffer).segment(1)
	clear(buffer)
	require.NoError(t, fx.dev.WriteBlock(segment, buffer))

	_, _, err := fx.read(ref)
	require.True(t, btslice.IsCorrupt(err))
	require.True(t, errors.HasAssertionFailure(err))
	require.Zero(t, fx.cache.Stats().Locks)
}

func TestBadReference(t *testing.T) {
	fx := newFixture(t)
	ref := fx.write(t, randomBytes(2000))

	for name, bad := range map[string]Ref{
		"size":       {Root: ref.Root, Size: ref.Size + 1},
		"null root":  {Root: btslice.NullBlockID, Size: ref.Size},
		"segment":    {Root: ref.Root - 1, Size: ref.Size},
		"unwritten":  {Root: ref.Root + 100, Size: ref.Size},
		"superblock": {Root: btslice.SuperblockID, Size: ref.Size},
		"too large":  {Root: ref.Root, Size: MaxSize + 1},
		"huge":       {Root: ref.Root, Size: 1 << 46},
		"max":        {Root: ref.Root, Size: math.MaxUint64},
	} {
		_, _, err := fx.read(bad)
		require.True(t, btslice.IsCorrupt(err), name)
		require.Zero(t, fx.cache.Stats().Locks, name)
	}

	_, _, err := fx.read(Ref{Root: ref.Root + 100, Size: ref.Size})
	require.ErrorIs(t, err, btslice.ErrOutOfRange)
}

func TestFree(t *testing.T) {
	fx := newFixture(t)
	ref := fx.write(t, randomBytes(504*123+1))
	segments, indexes, _ := Layout(fx.cache.PageSize(), ref.Size)

	require.NoError(t, fx.sched.Run(0, func(task *sched.Task) error {
		tx, err := fx.cache.Begin(task, btslice.Write)
		if err != nil {
			return err
		}
		if err = Free(task, tx, ref); err != nil {
			tx.Abort(task)
			return err
		}
		return tx.Commit(task)
	}))

	// every freed block is handed out again before the device grows
	limit := fx.dev.Limit()
	for range segments + indexes {
		_, err := fx.dev.AllocateBlock()
		require.NoError(t, err)
	}
	require.Equal(t, limit, fx.dev.Limit())
}

func TestReleasedValuePanics(t *testing.T) {
	fx := newFixture(t)
	ref := fx.write(t, randomBytes(10))
	require.NoError(t, fx.sched.Run(0, func(task *sched.Task) error {
		tx, _ := fx.cache.Begin(task, btslice.Read)
		v, err := Open(task, tx, ref)
		if err != nil {
			return err
		}
		v.Release(task)
		require.Panics(t, func() { v.Segment(0) })
		return tx.Commit(task)
	}))
}
