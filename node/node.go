// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package node interprets tree blocks: the superblock and the internal and
// leaf node pages. Every function is a pure read over the page bytes, with no
// locking concerns of its own.
package node

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/dacapoday/btslice"
)

type BlockID = btslice.BlockID

// Node pages use LittleEndian encoding.
//
// Page is {byte[0:2]:Head, byte[2:4]:Size, byte[4:4+Count*2]:offset, items}
// with the items packed at the end of the page, first item last.
// Head is MSB{bit0:reserved, bit1:IsInternal, bit[2:]:Count}LSB.
// LeafItem is {uvarint,Key,Val}, uvarint is key's length size, Val an encoded value.
// InternalItem is {BlockID,Key}, Key the largest key reachable through BlockID.
const (
	HeadSize = 4 // Head + Size

	internalFlag = 0x4000
	countMask    = 0x3FFF

	// MaxCount bounds the items of one page.
	MaxCount = countMask

	// MaxKeySize bounds the keys stored in a tree.
	MaxKeySize = 250
)

// MinPageSize is the smallest page that keeps internal fan-out above two for
// maximum-size keys.
const MinPageSize = HeadSize + 3*(2+4+MaxKeySize)

// IsInternal reports whether page is an internal (routing) node.
func IsInternal(page []byte) bool {
	if len(page) < HeadSize {
		return false
	}
	return page[1]&(internalFlag>>8) != 0
}

// Count returns the number of items in the page.
func Count(page []byte) int {
	if len(page) < HeadSize {
		return 0
	}
	return int(binary.LittleEndian.Uint16(page) & countMask)
}

// Size returns the bytes of the page covered by the header and items.
func Size(page []byte) int {
	if len(page) < HeadSize {
		return len(page)
	}
	return int(binary.LittleEndian.Uint16(page[2:])) + HeadSize
}

// count is Count clamped to the offsets that fit in the page, so that lookups
// over a damaged page stay in bounds.
func count(page []byte) uint16 {
	n := Count(page)
	if limit := (len(page) - HeadSize) / 2; n > limit {
		n = max(limit, 0)
	}
	return uint16(n)
}

func item(page []byte, index uint16) []byte {
	offset := 2*int(index) + HeadSize
	beg := int(binary.LittleEndian.Uint16(page[offset:])) + HeadSize
	end := int(binary.LittleEndian.Uint16(page[offset-2:])) + HeadSize
	if beg > end || end > len(page) {
		return nil
	}
	return page[beg:end]
}

// LeafKey returns the key at index of a leaf page.
func LeafKey(page []byte, index int) []byte {
	key, _ := leafItem(item(page, uint16(index)))
	return key
}

// LeafVal returns the encoded value at index of a leaf page.
func LeafVal(page []byte, index int) []byte {
	_, val := leafItem(item(page, uint16(index)))
	return val
}

func leafItem(item []byte) (key, val []byte) {
	klen, n := binary.Uvarint(item)
	if n <= 0 || klen > uint64(len(item)-n) {
		return
	}
	end := uint64(n) + klen
	return item[n:end], item[end:]
}

// InternalKey returns the boundary key at index of an internal page.
func InternalKey(page []byte, index int) []byte {
	item := item(page, uint16(index))
	if len(item) < 4 {
		return nil
	}
	return item[4:]
}

// InternalChild returns the child block at index of an internal page.
func InternalChild(page []byte, index int) BlockID {
	item := item(page, uint16(index))
	if len(item) < 4 {
		return btslice.NullBlockID
	}
	return binary.LittleEndian.Uint32(item)
}

// InternalLookup returns the child to descend into for key: the first child
// whose boundary is not below key, or the last child when key is above them
// all. It returns NullBlockID for an empty or damaged page.
func InternalLookup(page []byte, key []byte) BlockID {
	n := count(page)
	if n == 0 {
		return btslice.NullBlockID
	}
	i := search(n-1, func(i uint16) int {
		return bytes.Compare(key, InternalKey(page, int(i)))
	})
	return InternalChild(page, int(i))
}

// LeafLookup returns the encoded value stored under key in a leaf page.
func LeafLookup(page []byte, key []byte) (val []byte, found bool) {
	i, found := find(count(page), func(i uint16) int {
		return bytes.Compare(key, LeafKey(page, int(i)))
	})
	if !found {
		return
	}
	return LeafVal(page, int(i)), true
}

// LeafItems is an iter for leaf page key-value pairs.
type LeafItems func(yield func(key, val []byte) bool)

// ItemSize yields the page bytes every item takes.
func (items LeafItems) ItemSize(yield func(int) bool) {
	for k, v := range items {
		if !yield(LeafItemSize(len(k), len(v))) {
			return
		}
	}
}

// InternalItems is an iter for internal page key-child pairs.
type InternalItems func(yield func(key []byte, child BlockID) bool)

func (items InternalItems) ItemSize(yield func(int) bool) {
	for k := range items {
		if !yield(InternalItemSize(len(k))) {
			return
		}
	}
}

// Leaf returns the items of a leaf page in key order.
func Leaf(page []byte) LeafItems {
	return func(yield func([]byte, []byte) bool) {
		for i := range int(count(page)) {
			if !yield(leafItem(item(page, uint16(i)))) {
				return
			}
		}
	}
}

// Internal returns the items of an internal page in key order.
func Internal(page []byte) InternalItems {
	return func(yield func([]byte, BlockID) bool) {
		for i := range int(count(page)) {
			if !yield(InternalKey(page, i), InternalChild(page, i)) {
				return
			}
		}
	}
}

// LeafItemSize returns the page bytes of one leaf item.
func LeafItemSize(klen, vlen int) int {
	// offset + klen_size + klen + vlen
	return 2 + sizeUvarint(klen) + klen + vlen
}

// InternalItemSize returns the page bytes of one internal item.
func InternalItemSize(klen int) int {
	// offset + BlockID + klen
	return 2 + 4 + klen
}

// InlineSize returns the largest encoded value a leaf stores inline for a
// page of pageSize bytes: any two items with maximum-size keys fit one page.
func InlineSize(pageSize int) int {
	return (pageSize-HeadSize)/2 - LeafItemSize(MaxKeySize, 0)
}

// EncodeLeaf writes items as a leaf page into buffer and returns the item
// count. An empty leaf is valid. It panics if the items do not fit.
func EncodeLeaf(buffer []byte, items LeafItems) int {
	beg := len(buffer) - HeadSize
	end := beg
	binary.LittleEndian.PutUint16(buffer[2:], uint16(end))

	body := buffer[HeadSize:]
	var offset, klen int
	var item []byte
	for key, val := range items {
		offset += 2
		klen = len(key)
		beg -= sizeUvarint(klen) + klen + len(val)

		if offset > beg || offset > 2*MaxCount {
			panic(errors.AssertionFailedf("leaf page of %d bytes too small", len(buffer)))
		}

		binary.LittleEndian.PutUint16(body[offset-2:], uint16(beg))

		item = body[beg:end]
		item = item[binary.PutUvarint(item, uint64(klen)):]
		copy(item, key)
		copy(item[klen:], val)
		end = beg
	}
	clear(body[offset:beg])

	binary.LittleEndian.PutUint16(buffer, uint16(offset/2)) // count
	return offset / 2
}

// EncodeInternal writes items as an internal page into buffer and returns the
// item count. It panics if the items are empty or do not fit.
func EncodeInternal(buffer []byte, items InternalItems) int {
	beg := len(buffer) - HeadSize
	end := beg
	binary.LittleEndian.PutUint16(buffer[2:], uint16(end))

	body := buffer[HeadSize:]
	var offset int
	var item []byte
	for key, child := range items {
		offset += 2
		beg -= 4 + len(key)

		if offset > beg || offset > 2*MaxCount {
			panic(errors.AssertionFailedf("internal page of %d bytes too small", len(buffer)))
		}

		binary.LittleEndian.PutUint16(body[offset-2:], uint16(beg))

		item = body[beg:end]
		binary.LittleEndian.PutUint32(item, child)
		copy(item[4:], key)
		end = beg
	}

	if offset == 0 {
		panic(errors.AssertionFailedf("empty internal page"))
	}
	clear(body[offset:beg])
	binary.LittleEndian.PutUint16(buffer, uint16(offset/2)|internalFlag) // count
	return offset / 2
}

func search(n uint16, f func(uint16) int) uint16 {
	var i, j uint16 = 0, n
	for i < j {
		h := (i + j) >> 1
		if f(h) > 0 {
			i = h + 1
		} else {
			j = h
		}
	}
	return i
}

func find(n uint16, f func(uint16) int) (uint16, bool) {
	i := search(n, f)
	return i, i < n && f(i) == 0
}

func sizeUvarint(x int) (size int) {
	switch {
	case x < 1<<7:
		return 1
	case x < 1<<14:
		return 2
	case x < 1<<21:
		return 3
	case x < 1<<28:
		return 4
	default:
		return 5
	}
}
