package value

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dacapoday/btslice"
)

func TestInline(t *testing.T) {
	v := Inline([]byte("payload"), 0xDEADBEEF, 0)
	buf := v.Encode(nil)
	require.Len(t, buf, v.EncodedSize())

	got, err := Decode(buf)
	require.NoError(t, err)
	require.False(t, got.IsLarge())
	require.Equal(t, "payload", string(got.Data()))
	require.Equal(t, uint32(0xDEADBEEF), got.Flags())
	require.Zero(t, got.Exptime())
	require.EqualValues(t, 7, got.Size())
	require.False(t, got.Expired(time.Unix(1<<31, 0)))
}

func TestLarge(t *testing.T) {
	v := Large(Ref{Root: 77, Size: 1 << 40}, 3, 1700000000)
	buf := v.Encode([]byte("prefix"))
	require.Len(t, buf, len("prefix")+v.EncodedSize())

	got, err := Decode(buf[len("prefix"):])
	require.NoError(t, err)
	require.True(t, got.IsLarge())
	require.Equal(t, Ref{Root: 77, Size: 1 << 40}, got.Ref())
	require.Equal(t, uint32(3), got.Flags())
	require.Equal(t, uint32(1700000000), got.Exptime())
	require.Nil(t, got.Data())
	require.LessOrEqual(t, v.EncodedSize(), MaxHeaderSize+MaxRefSize)
}

func TestExpired(t *testing.T) {
	v := Inline(nil, 0, 1000)
	require.False(t, v.Expired(time.Unix(999, 0)))
	require.True(t, v.Expired(time.Unix(1000, 0)))
	require.True(t, v.Expired(time.Unix(1001, 0)))
}

func TestDecodeCorrupt(t *testing.T) {
	for name, src := range map[string][]byte{
		"empty":     nil,
		"short":     {0, 1, 2},
		"tag":       {0x80, 0, 0, 0, 0},
		"exptime":   {tagExptime, 0, 0, 0, 0, 1},
		"ref":       {tagLarge, 0, 0, 0, 0, 9},
		"size":      {tagLarge, 0, 0, 0, 0, 9, 0, 0, 0, 0x80},
		"trailing":  {tagLarge, 0, 0, 0, 0, 9, 0, 0, 0, 1, 1},
		"null root": {tagLarge, 0, 0, 0, 0, 0, 0, 0, 0, 1},
	} {
		_, err := Decode(src)
		require.True(t, btslice.IsCorrupt(err), name)
	}
}
