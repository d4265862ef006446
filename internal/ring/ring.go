// Package ring provides a bounded byte ring used as the session scrollback
// buffer: O(1) append, zero-copy two-slice reads, and byte-offset range
// queries over the most recently written bytes.
package ring

// DefaultCapacity is the scrollback capacity used when none is configured.
const DefaultCapacity = 1 << 20 // 1 MiB

// Ring is a fixed-capacity byte ring. The zero value is not usable; use New.
type Ring struct {
	buf    []byte
	head   int // index of the oldest byte, when full
	length int // number of valid bytes currently stored

	// totalWritten counts every byte ever appended, including ones that
	// have since been overwritten. It gives pause/resume a stable cursor
	// independent of ring wraparound (spec.md §4.5 pause/resume).
	totalWritten uint64
}

// New creates a Ring with the given capacity. A non-positive capacity falls
// back to DefaultCapacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Capacity returns the ring's fixed capacity.
func (r *Ring) Capacity() int {
	return len(r.buf)
}

// Size returns the number of bytes currently retained.
func (r *Ring) Size() int {
	return r.length
}

// TotalWritten returns the number of bytes ever appended, including bytes
// that have since been evicted by wraparound.
func (r *Ring) TotalWritten() uint64 {
	return r.totalWritten
}

// Write appends bytes to the ring. If len(p) >= capacity, only the trailing
// capacity bytes are kept and the ring is reset to start at index 0.
// Otherwise the ring wraps, overwriting the oldest bytes as needed.
func (r *Ring) Write(p []byte) {
	r.totalWritten += uint64(len(p))

	cap := len(r.buf)
	if cap == 0 {
		return
	}

	if len(p) >= cap {
		copy(r.buf, p[len(p)-cap:])
		r.head = 0
		r.length = cap
		return
	}

	// Write position is just past the current logical end.
	end := (r.head + r.length) % cap
	n := copy(r.buf[end:], p)
	if n < len(p) {
		copy(r.buf, p[n:])
	}

	if r.length+len(p) > cap {
		// Overflow: advance head to drop the oldest overwritten bytes.
		overflow := r.length + len(p) - cap
		r.head = (r.head + overflow) % cap
		r.length = cap
	} else {
		r.length += len(p)
	}
}

// Slices exposes the logical contents as up to two contiguous regions
// without copying. The first slice starts at the oldest retained byte.
func (r *Ring) Slices() (first, second []byte) {
	if r.length == 0 {
		return nil, nil
	}
	cap := len(r.buf)
	end := r.head + r.length
	if end <= cap {
		return r.buf[r.head:end], nil
	}
	return r.buf[r.head:cap], r.buf[:end-cap]
}

// SliceRange returns up to limit bytes starting at byte offset offset from
// the oldest retained byte, as up to two slices. offset and limit beyond
// the retained range are clamped.
func (r *Ring) SliceRange(offset, limit int) (first, second []byte) {
	if offset < 0 {
		offset = 0
	}
	if offset >= r.length || limit <= 0 {
		return nil, nil
	}
	if limit > r.length-offset {
		limit = r.length - offset
	}

	cap := len(r.buf)
	start := (r.head + offset) % cap
	end := start + limit
	if end <= cap {
		return r.buf[start:end], nil
	}
	return r.buf[start:cap], r.buf[:end-cap]
}

// Bytes copies the full logical contents into a single slice. Prefer
// Slices/SliceRange on hot paths; this is a convenience for tests and
// callers that need a contiguous copy (e.g. building a response payload).
func (r *Ring) Bytes() []byte {
	first, second := r.Slices()
	out := make([]byte, 0, len(first)+len(second))
	out = append(out, first...)
	out = append(out, second...)
	return out
}

// SinceClamped returns the bytes written since the given totalWritten
// cursor, clamped to what the ring still retains. Used by resume (§4.5) to
// flush the bytes that arrived during a pause.
func (r *Ring) SinceClamped(since uint64) (first, second []byte) {
	if since >= r.totalWritten {
		return nil, nil
	}
	delta := r.totalWritten - since
	if delta > uint64(r.length) {
		delta = uint64(r.length)
	}
	offset := r.length - int(delta)
	return r.SliceRange(offset, int(delta))
}
