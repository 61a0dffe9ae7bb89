// Package btslice defines the vocabulary shared by the components of a B-tree
// slice: block identifiers, lock modes and the storage file interface.
package btslice

import "io"

// BlockID addresses a fixed-size block of the slice file.
type BlockID = uint32

const (
	// NullBlockID marks the absence of a block (empty tree, no child).
	NullBlockID BlockID = 0
	// SuperblockID is the block holding the tree root pointer.
	SuperblockID BlockID = 1
	// FirstBlockID is the first block id handed out by the allocator.
	FirstBlockID BlockID = 2
)

// Mode is the intent of a block lock or a transaction.
type Mode uint8

const (
	Read Mode = iota
	Write
)

func (mode Mode) String() string {
	switch mode {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// File provides access to the storage backend of a slice.
//
// The *os.File type satisfies this interface.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Truncate changes the size of the file.
	Truncate(size int64) error

	// Sync commits the current contents of the file to stable storage.
	Sync() error
}
