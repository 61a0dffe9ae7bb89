package mem

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileReadWrite(t *testing.T) {
	var f File
	defer f.Close()

	n, err := f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	n, err = f.WriteAt([]byte("world"), 10)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.EqualValues(t, 15, f.Size())

	buf := make([]byte, 15)
	n, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 15, n)
	require.Equal(t, []byte("hello\x00\x00\x00\x00\x00world"), buf)
}

func TestFileReadPastEnd(t *testing.T) {
	var f File
	f.WriteAt([]byte("abc"), 0)

	buf := make([]byte, 8)
	n, err := f.ReadAt(buf, 1)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 2, n)
	require.Equal(t, "bc", string(buf[:n]))

	n, err = f.ReadAt(buf, 3)
	require.ErrorIs(t, err, io.EOF)
	require.Zero(t, n)

	_, err = f.ReadAt(buf, -1)
	require.Error(t, err)
}

func TestFileAcrossChunks(t *testing.T) {
	var f File
	data := bytes.Repeat([]byte("0123456789abcdef"), chunkSize/8)
	off := int64(chunkSize - 7)

	n, err := f.WriteAt(data, off)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	got := make([]byte, len(data))
	n, err = f.ReadAt(got, off)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, got)
}

func TestFileTruncate(t *testing.T) {
	var f File
	f.WriteAt(bytes.Repeat([]byte{0xff}, 100), 0)

	require.NoError(t, f.Truncate(10))
	require.EqualValues(t, 10, f.Size())

	// bytes beyond the cut must read back as zero after growing again
	require.NoError(t, f.Truncate(20))
	buf := make([]byte, 20)
	_, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0xff}, 10), buf[:10])
	require.Equal(t, make([]byte, 10), buf[10:])

	require.Error(t, f.Truncate(-1))
}

func TestFileConcurrent(t *testing.T) {
	var f File
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunk := bytes.Repeat([]byte{byte(i)}, 512)
			f.WriteAt(chunk, int64(i)*512)
		}()
	}
	wg.Wait()

	buf := make([]byte, 512)
	for i := range 8 {
		_, err := f.ReadAt(buf, int64(i)*512)
		require.NoError(t, err)
		require.Equal(t, bytes.Repeat([]byte{byte(i)}, 512), buf)
	}
}
