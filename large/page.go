package large

import "encoding/binary"

// Large value pages use LittleEndian encoding.
//
// IndexPage is {byte[0]:Kind 'I', byte[1]:reserved, byte[2:4]:Count, byte[4:8]:Next, byte[8:16]:Size, byte[16:16+Count*4]:SegmentID}
// SegmentPage is {byte[0]:Kind 'S', byte[1]:reserved, byte[2:4]:Size, byte[4:4+Size]:Data}
// Size of an index page is the total size of the value. Next is NullBlockID on the last index page.
const (
	HeadSize = 4 // Kind + reserved + Count/Size

	indexHeadSize = HeadSize + 4 + 8
	kindIndex     = 'I'
	kindSegment   = 'S'
)

// MaxSize bounds the size of a large value.
const MaxSize = 1 << 30

// SegmentCapacity returns the data bytes one segment block holds.
func SegmentCapacity(pageSize int) int {
	return pageSize - HeadSize
}

// IndexCapacity returns the segment ids one index block holds.
func IndexCapacity(pageSize int) int {
	return (pageSize - indexHeadSize) / 4
}

// Layout returns how a value of size bytes is laid out on pages of pageSize
// bytes: the number of segments, of index blocks, and the size of the last
// segment.
func Layout(pageSize int, size uint64) (segments, indexes, last int) {
	capacity := uint64(SegmentCapacity(pageSize))
	if size == 0 {
		return 0, 1, 0
	}
	segments = int(size / capacity)
	if size%capacity != 0 {
		segments++
	}
	indexes = (segments + IndexCapacity(pageSize) - 1) / IndexCapacity(pageSize)
	last = int(size - uint64(segments-1)*capacity)
	return
}

type indexPage []byte

func (page indexPage) valid() bool {
	return len(page) >= indexHeadSize && page[0] == kindIndex && indexHeadSize+4*page.count() <= len(page)
}

func (page indexPage) count() int {
	return int(binary.LittleEndian.Uint16(page[2:]))
}

func (page indexPage) next() BlockID {
	return binary.LittleEndian.Uint32(page[4:])
}

func (page indexPage) size() uint64 {
	return binary.LittleEndian.Uint64(page[8:])
}

func (page indexPage) segment(i int) BlockID {
	return binary.LittleEndian.Uint32(page[indexHeadSize+4*i:])
}

func encodeIndexPage(buffer []byte, ids []BlockID, next BlockID, size uint64) {
	buffer[0] = kindIndex
	buffer[1] = 0
	binary.LittleEndian.PutUint16(buffer[2:], uint16(len(ids)))
	binary.LittleEndian.PutUint32(buffer[4:], next)
	binary.LittleEndian.PutUint64(buffer[8:], size)
	body := buffer[indexHeadSize:]
	for i, id := range ids {
		binary.LittleEndian.PutUint32(body[4*i:], id)
	}
	clear(body[4*len(ids):])
}

type segmentPage []byte

func (page segmentPage) data() ([]byte, bool) {
	if len(page) < HeadSize || page[0] != kindSegment {
		return nil, false
	}
	end := HeadSize + int(binary.LittleEndian.Uint16(page[2:]))
	if end > len(page) {
		return nil, false
	}
	return page[HeadSize:end], true
}

func encodeSegmentPage(buffer []byte, data []byte) {
	buffer[0] = kindSegment
	buffer[1] = 0
	binary.LittleEndian.PutUint16(buffer[2:], uint16(len(data)))
	clear(buffer[HeadSize+copy(buffer[HeadSize:], data):])
}
