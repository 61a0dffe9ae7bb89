// Package mem provides an in-memory implementation of btslice.File.
package mem

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/dacapoday/btslice"
)

const chunkSize = 64 << 10

var errNegativeOffset = errors.New("negative offset")

// File is an in-memory file safe for concurrent use by multiple goroutines.
// The zero value is an empty file ready to use:
//
//	var f mem.File
//	f.WriteAt([]byte("hello"), 0)
type File struct {
	rw     sync.RWMutex
	chunks [][]byte
	size   int64
}

var _ btslice.File = new(File)

// Size returns the current size of the file in bytes.
func (file *File) Size() int64 {
	file.rw.RLock()
	defer file.rw.RUnlock()
	return file.size
}

// Close discards the file content. The file may be written again afterwards.
func (file *File) Close() error {
	file.rw.Lock()
	file.chunks = nil
	file.size = 0
	file.rw.Unlock()
	return nil
}

// ReadAt implements io.ReaderAt. Reading past the end returns io.EOF along
// with the bytes that were available.
func (file *File) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errNegativeOffset
	}
	file.rw.RLock()
	defer file.rw.RUnlock()

	if off >= file.size {
		return 0, io.EOF
	}
	want := len(p)
	if rest := file.size - off; int64(want) > rest {
		want = int(rest)
		err = io.EOF
	}
	for n < want {
		pos := off + int64(n)
		chunk := file.chunks[pos/chunkSize]
		n += copy(p[n:want], chunk[pos%chunkSize:])
	}
	return
}

// WriteAt implements io.WriterAt. Writing past the end grows the file and
// fills the gap with zero bytes.
func (file *File) WriteAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errNegativeOffset
	}
	if len(p) == 0 {
		return 0, nil
	}
	file.rw.Lock()
	defer file.rw.Unlock()

	file.grow(off + int64(len(p)))
	for n < len(p) {
		pos := off + int64(n)
		chunk := file.chunks[pos/chunkSize]
		n += copy(chunk[pos%chunkSize:], p[n:])
	}
	return
}

// Truncate changes the size of the file. Shrinking discards the tail,
// growing fills the new space with zero bytes.
func (file *File) Truncate(size int64) error {
	if size < 0 {
		return errNegativeOffset
	}
	file.rw.Lock()
	defer file.rw.Unlock()

	if size >= file.size {
		file.grow(size)
		return nil
	}
	keep := (size + chunkSize - 1) / chunkSize
	file.chunks = file.chunks[:keep]
	if tail := size % chunkSize; tail != 0 {
		clear(file.chunks[keep-1][tail:])
	}
	file.size = size
	return nil
}

// Sync is a no-op.
func (file *File) Sync() error {
	return nil
}

func (file *File) grow(size int64) {
	for int64(len(file.chunks))*chunkSize < size {
		file.chunks = append(file.chunks, make([]byte, chunkSize))
	}
	if size > file.size {
		file.size = size
	}
}
