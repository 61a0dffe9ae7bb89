// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package block implements the block device beneath the buffer cache: fixed
// size blocks over a btslice.File, each protected by a CRC32 trailer.
package block

import (
	"hash/crc32"

	"github.com/dacapoday/btslice"
)

type File = btslice.File
type BlockID = btslice.BlockID

const (
	DefaultBlockSize = 4096
	MinBlockSize     = 512
	MaxBlockSize     = 1 << 16

	// TrailerSize is the per-block checksum size; PageSize = BlockSize - TrailerSize.
	TrailerSize = 4
)

// Options configures a Device.
type Options struct {
	// BlockSize is used when formatting a new file; an existing file keeps its own.
	BlockSize int
	ReadOnly  bool
}

func (opt Options) blockSize() int {
	if opt.BlockSize == 0 {
		return DefaultBlockSize
	}
	return opt.BlockSize
}

func validBlockSize(size int) bool {
	return size >= MinBlockSize && size <= MaxBlockSize && size&(size-1) == 0
}

var castagnoliCrcTable = crc32.MakeTable(crc32.Castagnoli)

func checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliCrcTable)
}
