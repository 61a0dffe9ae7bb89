// Package value implements the tagged value stored in a leaf slot: either the
// inline payload or a reference to a large value, both carrying opaque flags
// and an optional expiration time.
package value

import (
	"encoding/binary"
	"time"

	"github.com/dacapoday/btslice"
)

// Encoded value is {byte[0]:Tag, byte[1:5]:Flags, [byte[5:9]:Exptime], Payload}
// in LittleEndian. Tag is MSB{bit[2:]:reserved, bit1:HasExptime, bit0:IsLarge}LSB.
// Payload is the inline data, or {byte[0:4]:Root, uvarint:Size} for a large value.
const (
	tagLarge   = 0x01
	tagExptime = 0x02
	tagMask    = tagLarge | tagExptime

	// MaxHeaderSize is the most bytes an encoded value spends before its payload.
	MaxHeaderSize = 1 + 4 + 4
	// MaxRefSize is the most bytes of an encoded large value reference.
	MaxRefSize = 4 + binary.MaxVarintLen64
)

// Ref references a large value stored out of line.
type Ref struct {
	Root btslice.BlockID
	Size uint64
}

// Value is either inline or large, decided once when it is read.
type Value struct {
	data    []byte
	ref     Ref
	flags   uint32
	exptime uint32
	large   bool
}

// Inline creates an inline value. exptime is in unix seconds, 0 for none.
func Inline(data []byte, flags, exptime uint32) Value {
	return Value{data: data, flags: flags, exptime: exptime}
}

// Large creates a large value reference. exptime is in unix seconds, 0 for none.
func Large(ref Ref, flags, exptime uint32) Value {
	return Value{ref: ref, flags: flags, exptime: exptime, large: true}
}

func (v Value) IsLarge() bool {
	return v.large
}

func (v Value) Flags() uint32 {
	return v.flags
}

// Exptime returns the expiration time in unix seconds, 0 when unset.
func (v Value) Exptime() uint32 {
	return v.exptime
}

// Data returns the payload of an inline value.
func (v Value) Data() []byte {
	return v.data
}

// Ref returns the reference of a large value.
func (v Value) Ref() Ref {
	return v.ref
}

// Size returns the payload size.
func (v Value) Size() uint64 {
	if v.large {
		return v.ref.Size
	}
	return uint64(len(v.data))
}

// Expired reports whether an expiration time is set and now has reached it.
func (v Value) Expired(now time.Time) bool {
	return v.exptime != 0 && now.Unix() >= int64(v.exptime)
}

// EncodedSize returns the bytes Encode appends.
func (v Value) EncodedSize() int {
	n := 1 + 4
	if v.exptime != 0 {
		n += 4
	}
	if v.large {
		var buf [binary.MaxVarintLen64]byte
		return n + 4 + binary.PutUvarint(buf[:], v.ref.Size)
	}
	return n + len(v.data)
}

// Encode appends the encoded value to dst.
func (v Value) Encode(dst []byte) []byte {
	var tag byte
	if v.large {
		tag |= tagLarge
	}
	if v.exptime != 0 {
		tag |= tagExptime
	}
	dst = append(dst, tag)
	dst = binary.LittleEndian.AppendUint32(dst, v.flags)
	if v.exptime != 0 {
		dst = binary.LittleEndian.AppendUint32(dst, v.exptime)
	}
	if v.large {
		dst = binary.LittleEndian.AppendUint32(dst, v.ref.Root)
		return binary.AppendUvarint(dst, v.ref.Size)
	}
	return append(dst, v.data...)
}

// Decode decodes an encoded value. The inline payload aliases src.
func Decode(src []byte) (v Value, err error) {
	if len(src) < 1+4 {
		err = btslice.Corruptf("value of %d bytes", len(src))
		return
	}
	tag := src[0]
	if tag&^tagMask != 0 {
		err = btslice.Corruptf("value tag %#x", tag)
		return
	}
	v.flags = binary.LittleEndian.Uint32(src[1:])
	src = src[5:]
	if tag&tagExptime != 0 {
		if len(src) < 4 {
			err = btslice.Corruptf("value exptime truncated")
			return
		}
		v.exptime = binary.LittleEndian.Uint32(src)
		src = src[4:]
	}
	if tag&tagLarge == 0 {
		v.data = src
		return
	}

	v.large = true
	if len(src) < 4 {
		err = btslice.Corruptf("large value reference truncated")
		return
	}
	v.ref.Root = binary.LittleEndian.Uint32(src)
	size, n := binary.Uvarint(src[4:])
	if n <= 0 || 4+n != len(src) {
		err = btslice.Corruptf("large value size")
		return
	}
	v.ref.Size = size
	if v.ref.Root < btslice.FirstBlockID {
		err = btslice.Corruptf("large value root block(%d)", v.ref.Root)
	}
	return
}
