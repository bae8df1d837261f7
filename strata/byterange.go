package strata

import "fmt"

// ByteRange selects a contiguous region of a chunk's bytes. Offsets are
// relative to the chunk, not to any underlying object. The zero value
// selects all bytes.
type ByteRange struct {
	start  uint64
	end    uint64
	hasEnd bool
}

// AllBytes selects the whole chunk.
func AllBytes() ByteRange { return ByteRange{} }

// Bounded selects [start, end). An end before start selects nothing.
func Bounded(start, end uint64) ByteRange {
	if end < start {
		end = start
	}
	return ByteRange{start: start, end: end, hasEnd: true}
}

// FromOffset selects [start, len).
func FromOffset(start uint64) ByteRange { return ByteRange{start: start} }

// ToOffset selects [0, end).
func ToOffset(end uint64) ByteRange { return ByteRange{end: end, hasEnd: true} }

// Start returns the inclusive start offset.
func (r ByteRange) Start() uint64 { return r.start }

// End returns the exclusive end offset and whether it is bounded.
func (r ByteRange) End() (uint64, bool) { return r.end, r.hasEnd }

// IsAll reports whether r selects every byte.
func (r ByteRange) IsAll() bool { return r.start == 0 && !r.hasEnd }

// Slice applies r to b. Ranges past the end are clamped.
func (r ByteRange) Slice(b []byte) []byte {
	start, length := r.Window(0, uint64(len(b)))
	return b[start : start+length]
}

// Window applies r to a payload occupying [offset, offset+length) of some
// larger object, returning the absolute start and the clamped length to read.
func (r ByteRange) Window(offset, length uint64) (uint64, uint64) {
	start := min(r.start, length)
	end := length
	if r.hasEnd {
		end = min(r.end, length)
	}
	if end < start {
		end = start
	}
	return offset + start, end - start
}

func (r ByteRange) String() string {
	switch {
	case r.IsAll():
		return "[..]"
	case !r.hasEnd:
		return fmt.Sprintf("[%d..]", r.start)
	default:
		return fmt.Sprintf("[%d..%d)", r.start, r.end)
	}
}
