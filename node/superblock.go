package node

import (
	"encoding/binary"

	"github.com/dacapoday/btslice"
)

// Superblock page is {byte[0:4]:Magic "BTSB", byte[4:8]:Root}.
const superblockMagic = "BTSB"

// SuperblockSize is the encoded size of the superblock.
const SuperblockSize = 8

// Root returns the tree root recorded in a superblock page. NullBlockID means
// the tree is empty.
func Root(page []byte) (BlockID, error) {
	if len(page) < SuperblockSize || string(page[:4]) != superblockMagic {
		return btslice.NullBlockID, btslice.Corruptf("superblock magic %q", page[:min(len(page), 4)])
	}
	root := binary.LittleEndian.Uint32(page[4:])
	if root == btslice.SuperblockID {
		return btslice.NullBlockID, btslice.Corruptf("superblock root points at itself")
	}
	return root, nil
}

// Blank reports whether a superblock page was never initialized.
func Blank(page []byte) bool {
	for _, b := range page[:min(len(page), SuperblockSize)] {
		if b != 0 {
			return false
		}
	}
	return true
}

// EncodeSuperblock writes a superblock recording root into page.
func EncodeSuperblock(page []byte, root BlockID) {
	copy(page, superblockMagic)
	binary.LittleEndian.PutUint32(page[4:], root)
	clear(page[SuperblockSize:])
}
