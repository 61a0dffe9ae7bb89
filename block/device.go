// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package block

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/dacapoday/btslice"
)

var (
	ErrReadOnly         = btslice.ErrReadOnly
	ErrClosed           = btslice.ErrClosed
	ErrBadChecksum      = btslice.ErrBadChecksum
	ErrOutOfRange       = btslice.ErrOutOfRange
	ErrUnknownMagicCode = btslice.ErrUnknownMagicCode
	ErrInvalidBlockSize = btslice.ErrInvalidBlockSize
)

var magicCode = [4]byte{'B', 'T', 'S', 'L'}

const version = 1

// header is stored in block 0, which NullBlockID never addresses.
// {magic[4], version u16, reserved u16, blockSize u32, limit u32, uuid[16], crc32}
const headerSize = 36

// Device is a fixed-size block store over a file. Block n lives at offset
// n*BlockSize; the last TrailerSize bytes of every block hold its checksum.
//
// Reads and writes are safe for concurrent use. The allocator is a bump
// pointer plus an in-memory recycle list; recycled ids are not persisted.
type Device[F File] struct {
	file      F
	pool      sync.Pool
	id        uuid.UUID
	blockSize int
	readOnly  bool

	mutex  sync.Mutex
	limit  BlockID
	free   []BlockID
	closed bool
}

// Open loads the device stored in file, formatting it when the file is empty.
func Open[F File](file F, opt Options) (dev *Device[F], err error) {
	dev = new(Device[F])
	if err = dev.Load(file, opt); err != nil {
		dev = nil
	}
	return
}

// Load initializes a zero Device from file.
func (dev *Device[F]) Load(file F, opt Options) (err error) {
	dev.file = file
	dev.readOnly = opt.ReadOnly

	var head [headerSize]byte
	n, err := file.ReadAt(head[:], 0)
	switch {
	case n == 0 && errors.Is(err, io.EOF):
		if opt.ReadOnly {
			return errors.Wrap(ErrReadOnly, "format empty file")
		}
		return dev.format(opt.blockSize())
	case err != nil && !errors.Is(err, io.EOF):
		return errors.Wrap(err, "read device header")
	case n < headerSize:
		return errors.Wrapf(ErrUnknownMagicCode, "short device header (%d bytes)", n)
	}

	if [4]byte(head[0:4]) != magicCode {
		return errors.Wrapf(ErrUnknownMagicCode, "device header %q", head[0:4])
	}
	if sum := binary.LittleEndian.Uint32(head[32:]); sum != checksum(head[:32]) {
		return errors.Wrap(ErrBadChecksum, "device header")
	}
	if v := binary.LittleEndian.Uint16(head[4:]); v != version {
		return errors.Newf("unsupported device version %d", v)
	}
	blockSize := int(binary.LittleEndian.Uint32(head[8:]))
	if !validBlockSize(blockSize) {
		return errors.Wrapf(ErrInvalidBlockSize, "%d", blockSize)
	}
	dev.setBlockSize(blockSize)
	dev.limit = binary.LittleEndian.Uint32(head[12:])
	copy(dev.id[:], head[16:32])
	if dev.limit < btslice.FirstBlockID {
		return errors.Wrapf(ErrOutOfRange, "device limit %d", dev.limit)
	}
	return nil
}

func (dev *Device[F]) format(blockSize int) (err error) {
	if !validBlockSize(blockSize) {
		return errors.Wrapf(ErrInvalidBlockSize, "%d", blockSize)
	}
	dev.setBlockSize(blockSize)
	dev.id = uuid.New()
	dev.limit = btslice.FirstBlockID

	// the superblock exists from the start as a zero page
	buffer := dev.AllocateBuffer()
	defer dev.RecycleBuffer(buffer)
	clear(buffer)
	if err = dev.WriteBlock(btslice.SuperblockID, buffer); err != nil {
		return
	}
	return dev.Sync()
}

func (dev *Device[F]) setBlockSize(blockSize int) {
	dev.blockSize = blockSize
	dev.pool.New = func() any { return make([]byte, blockSize) }
}

// ID returns the volume id assigned when the device was formatted.
func (dev *Device[F]) ID() uuid.UUID {
	return dev.id
}

func (dev *Device[F]) File() F {
	return dev.file
}

func (dev *Device[F]) BlockSize() int {
	return dev.blockSize
}

// PageSize returns the usable bytes of a block.
func (dev *Device[F]) PageSize() int {
	return dev.blockSize - TrailerSize
}

func (dev *Device[F]) AllocateBuffer() []byte {
	return dev.pool.Get().([]byte)
}

func (dev *Device[F]) RecycleBuffer(buffer []byte) {
	if len(buffer) != dev.blockSize {
		return
	}
	dev.pool.Put(buffer)
}

// AllocateBlock hands out an unused block id.
func (dev *Device[F]) AllocateBlock() (blockID BlockID, err error) {
	if dev.readOnly {
		err = ErrReadOnly
		return
	}
	dev.mutex.Lock()
	defer dev.mutex.Unlock()
	if dev.closed {
		err = ErrClosed
		return
	}
	if n := len(dev.free); n != 0 {
		blockID = dev.free[n-1]
		dev.free = dev.free[:n-1]
		return
	}
	blockID = dev.limit
	dev.limit++
	return
}

// RecycleBlock returns blockID to the allocator.
func (dev *Device[F]) RecycleBlock(blockID BlockID) {
	if blockID < btslice.FirstBlockID {
		return
	}
	dev.mutex.Lock()
	dev.free = append(dev.free, blockID)
	dev.mutex.Unlock()
}

// Limit returns the first block id never handed out.
func (dev *Device[F]) Limit() BlockID {
	dev.mutex.Lock()
	defer dev.mutex.Unlock()
	return dev.limit
}

func (dev *Device[F]) inRange(blockID BlockID) bool {
	if blockID == btslice.SuperblockID {
		return true
	}
	return blockID >= btslice.FirstBlockID && blockID < dev.Limit()
}

// ReadBlock reads and verifies block blockID into buffer, which must be
// BlockSize bytes long.
func (dev *Device[F]) ReadBlock(blockID BlockID, buffer []byte) (err error) {
	if !dev.inRange(blockID) {
		return errors.Wrapf(ErrOutOfRange, "block(%d)", blockID)
	}
	n, err := dev.file.ReadAt(buffer[:dev.blockSize], int64(blockID)*int64(dev.blockSize))
	if n < dev.blockSize {
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrOutOfRange
		}
		return errors.Wrapf(err, "read block(%d)", blockID)
	}

	page := dev.PageSize()
	if sum := binary.LittleEndian.Uint32(buffer[page:]); sum != checksum(buffer[:page]) {
		return errors.Wrapf(ErrBadChecksum, "block(%d)", blockID)
	}
	return nil
}

// WriteBlock stamps the checksum into buffer's trailer and writes it.
func (dev *Device[F]) WriteBlock(blockID BlockID, buffer []byte) (err error) {
	if dev.readOnly {
		return ErrReadOnly
	}
	if !dev.inRange(blockID) {
		return errors.Wrapf(ErrOutOfRange, "block(%d)", blockID)
	}
	page := dev.PageSize()
	binary.LittleEndian.PutUint32(buffer[page:], checksum(buffer[:page]))
	if _, err = dev.file.WriteAt(buffer[:dev.blockSize], int64(blockID)*int64(dev.blockSize)); err != nil {
		return errors.Wrapf(err, "write block(%d)", blockID)
	}
	return nil
}

// Sync persists the device header and flushes the file.
func (dev *Device[F]) Sync() (err error) {
	if dev.readOnly {
		return nil
	}
	var head [headerSize]byte
	copy(head[0:4], magicCode[:])
	binary.LittleEndian.PutUint16(head[4:], version)
	binary.LittleEndian.PutUint32(head[8:], uint32(dev.blockSize))
	binary.LittleEndian.PutUint32(head[12:], dev.Limit())
	copy(head[16:32], dev.id[:])
	binary.LittleEndian.PutUint32(head[32:], checksum(head[:32]))

	if _, err = dev.file.WriteAt(head[:], 0); err != nil {
		return errors.Wrap(err, "write device header")
	}
	return dev.file.Sync()
}

// Close syncs the header and closes the file.
func (dev *Device[F]) Close() (err error) {
	dev.mutex.Lock()
	if dev.closed {
		dev.mutex.Unlock()
		return ErrClosed
	}
	dev.closed = true
	dev.mutex.Unlock()

	err = dev.Sync()
	return errors.CombineErrors(err, dev.file.Close())
}
