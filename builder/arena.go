package builder

import "encoding/binary"

// arena is a bump allocator over a growing byte slice: every allocation
// is 4-byte aligned and the arena never shrinks or reuses a freed region.
// Serializing an offline trie needs nothing more than grow-and-append.
type arena struct {
	data []byte
}

func newArena() *arena {
	return &arena{data: make([]byte, 0, 16*1024)}
}

func align4(n uint32) uint32 { return (n + 3) &^ 3 }

// size returns the current bump-allocator high-water mark, i.e. the total
// number of bytes allocated so far.
func (a *arena) size() uint32 { return uint32(len(a.data)) }

// allocate bump-allocates size bytes (rounded up to 4), appending
// zero-filled space and returning the offset of its start.
func (a *arena) allocate(size uint32) uint32 {
	off := uint32(len(a.data))
	a.data = append(a.data, make([]byte, align4(size))...)
	return off
}

func (a *arena) putUint32(off, v uint32) {
	binary.LittleEndian.PutUint32(a.data[off:off+4], v)
}

func (a *arena) uint32At(off uint32) uint32 {
	return binary.LittleEndian.Uint32(a.data[off : off+4])
}

// allocateUint32Array bump-allocates n contiguous u32 slots and returns
// their start offset.
func (a *arena) allocateUint32Array(n int) uint32 {
	return a.allocate(uint32(4 * n))
}

func (a *arena) setUint32ArrayElem(arrayOff uint32, i int, v uint32) {
	a.putUint32(arrayOff+uint32(4*i), v)
}

// writeString bump-allocates len(s)+1 bytes and writes s followed by a
// NUL terminator, returning the start offset.
func (a *arena) writeString(s string) uint32 {
	off := a.allocate(uint32(len(s) + 1))
	copy(a.data[off:], s)
	a.data[int(off)+len(s)] = 0
	return off
}

func (a *arena) takeData() []byte {
	return a.data
}
