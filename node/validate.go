package node

import (
	"bytes"
	"encoding/binary"

	"github.com/dacapoday/btslice"
)

// Validate checks the structure of a node page: the offset table, item
// bounds, key order and, for internal pages, the child ids.
func Validate(page []byte) error {
	if len(page) < HeadSize {
		return btslice.Corruptf("node page of %d bytes", len(page))
	}
	n := Count(page)
	size := Size(page)
	if size > len(page) {
		return btslice.Corruptf("node size %d beyond page of %d bytes", size, len(page))
	}
	if HeadSize+2*n > size {
		return btslice.Corruptf("node offset table of %d items beyond size %d", n, size)
	}
	internal := IsInternal(page)
	if internal && n == 0 {
		return btslice.Corruptf("empty internal node")
	}

	end := size - HeadSize
	var prev []byte
	for i := range n {
		beg := int(binary.LittleEndian.Uint16(page[HeadSize+2*i:]))
		if beg < 2*n || beg > end {
			return btslice.Corruptf("node item %d at [%d:%d]", i, beg, end)
		}
		item := page[HeadSize+beg : HeadSize+end]
		end = beg

		var key []byte
		if internal {
			if len(item) < 4 {
				return btslice.Corruptf("internal item %d of %d bytes", i, len(item))
			}
			if child := binary.LittleEndian.Uint32(item); child < btslice.FirstBlockID {
				return btslice.Corruptf("internal item %d child block(%d)", i, child)
			}
			key = item[4:]
		} else {
			klen, m := binary.Uvarint(item)
			if m <= 0 || klen > uint64(len(item)-m) {
				return btslice.Corruptf("leaf item %d key length", i)
			}
			key = item[m : uint64(m)+klen]
		}
		if i > 0 && bytes.Compare(prev, key) >= 0 {
			return btslice.Corruptf("node keys out of order at item %d", i)
		}
		prev = key
	}
	return nil
}
