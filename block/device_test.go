package block

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dacapoday/btslice"
	"github.com/dacapoday/btslice/mem"
)

func TestDeviceFormatReopen(t *testing.T) {
	var f mem.File

	dev, err := Open(&f, Options{BlockSize: 512})
	require.NoError(t, err, "Open")
	require.Equal(t, 512, dev.BlockSize())
	require.Equal(t, 508, dev.PageSize())
	require.Equal(t, btslice.FirstBlockID, dev.Limit())

	id, err := dev.AllocateBlock()
	require.NoError(t, err)
	require.Equal(t, btslice.FirstBlockID, id)

	buffer := dev.AllocateBuffer()
	copy(buffer, "payload")
	require.NoError(t, dev.WriteBlock(id, buffer))
	require.NoError(t, dev.Sync())

	// block size option is ignored for an existing file
	again, err := Open(&f, Options{BlockSize: 4096})
	require.NoError(t, err, "reopen")
	require.Equal(t, dev.ID(), again.ID())
	require.Equal(t, 512, again.BlockSize())
	require.Equal(t, id+1, again.Limit())

	got := again.AllocateBuffer()
	require.NoError(t, again.ReadBlock(id, got))
	require.True(t, bytes.HasPrefix(got, []byte("payload")))
}

func TestDeviceSuperblockZeroPage(t *testing.T) {
	var f mem.File
	dev, err := Open(&f, Options{})
	require.NoError(t, err)

	buffer := dev.AllocateBuffer()
	require.NoError(t, dev.ReadBlock(btslice.SuperblockID, buffer))
	require.Equal(t, make([]byte, dev.PageSize()), buffer[:dev.PageSize()])
}

func TestDeviceOutOfRange(t *testing.T) {
	var f mem.File
	dev, err := Open(&f, Options{BlockSize: 512})
	require.NoError(t, err)

	buffer := dev.AllocateBuffer()
	require.ErrorIs(t, dev.ReadBlock(btslice.NullBlockID, buffer), ErrOutOfRange)
	require.ErrorIs(t, dev.ReadBlock(7, buffer), ErrOutOfRange)
	require.ErrorIs(t, dev.WriteBlock(7, buffer), ErrOutOfRange)

	// allocated but never written
	id, err := dev.AllocateBlock()
	require.NoError(t, err)
	require.ErrorIs(t, dev.ReadBlock(id, buffer), ErrOutOfRange)
}

func TestDeviceChecksum(t *testing.T) {
	var f mem.File
	dev, err := Open(&f, Options{BlockSize: 512})
	require.NoError(t, err)

	id, _ := dev.AllocateBlock()
	buffer := dev.AllocateBuffer()
	copy(buffer, "data")
	require.NoError(t, dev.WriteBlock(id, buffer))

	f.WriteAt([]byte{0xee}, int64(id)*512+3)
	require.ErrorIs(t, dev.ReadBlock(id, buffer), ErrBadChecksum)
}

func TestDeviceRecycle(t *testing.T) {
	var f mem.File
	dev, err := Open(&f, Options{BlockSize: 512})
	require.NoError(t, err)

	a, _ := dev.AllocateBlock()
	b, _ := dev.AllocateBlock()
	dev.RecycleBlock(a)
	dev.RecycleBlock(btslice.SuperblockID) // ignored

	c, err := dev.AllocateBlock()
	require.NoError(t, err)
	require.Equal(t, a, c)
	d, _ := dev.AllocateBlock()
	require.Equal(t, b+1, d)
}

func TestDeviceInvalid(t *testing.T) {
	var f mem.File
	_, err := Open(&f, Options{BlockSize: 1000})
	require.ErrorIs(t, err, ErrInvalidBlockSize)

	var g mem.File
	g.WriteAt(bytes.Repeat([]byte{'x'}, 64), 0)
	_, err = Open(&g, Options{})
	require.ErrorIs(t, err, ErrUnknownMagicCode)

	var h mem.File
	_, err = Open(&h, Options{ReadOnly: true})
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestDeviceReadOnly(t *testing.T) {
	var f mem.File
	dev, err := Open(&f, Options{BlockSize: 512})
	require.NoError(t, err)
	require.NoError(t, dev.Sync())

	ro, err := Open(&f, Options{ReadOnly: true})
	require.NoError(t, err)
	_, err = ro.AllocateBlock()
	require.ErrorIs(t, err, ErrReadOnly)
	require.ErrorIs(t, ro.WriteBlock(btslice.SuperblockID, ro.AllocateBuffer()), ErrReadOnly)

	require.NoError(t, dev.Close())
	require.ErrorIs(t, dev.Close(), ErrClosed)
}
