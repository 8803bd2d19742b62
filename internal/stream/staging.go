package stream

// Ring is a bounded staging area: a fixed set of reusable byte slabs that
// workers copy produced granule bytes into before handing them to the
// frame thread for upload.
//
// Acquire blocks when every slab is in flight, which backpressures the
// workers against a slow upload path without unbounded memory growth.
type Ring struct {
	slabs    chan []byte
	slabSize int
}

// NewRing creates a staging ring of count slabs of slabSize bytes each.
func NewRing(count, slabSize int) *Ring {
	if count < 1 {
		count = 1
	}
	if slabSize < 1 {
		slabSize = 1
	}

	r := &Ring{
		slabs:    make(chan []byte, count),
		slabSize: slabSize,
	}
	for range count {
		r.slabs <- make([]byte, slabSize)
	}
	return r
}

// Acquire returns a slab holding a copy of data, blocking until one is
// free or done is closed (second result false). Payloads larger than the
// slab size bypass the ring: the data slice itself is returned and Release
// of it is a no-op.
func (r *Ring) Acquire(data []byte, done <-chan struct{}) ([]byte, bool) {
	if len(data) > r.slabSize {
		return data, true
	}

	select {
	case slab := <-r.slabs:
		n := copy(slab[:len(data)], data)
		return slab[:n], true
	case <-done:
		return nil, false
	}
}

// Release returns a slab to the ring. Oversize bypass buffers and nil are
// ignored.
func (r *Ring) Release(slab []byte) {
	if slab == nil || cap(slab) != r.slabSize {
		return
	}

	select {
	case r.slabs <- slab[:cap(slab)]:
	default:
		// Double release; drop rather than grow the ring.
	}
}

// SlabSize returns the byte size of one slab.
func (r *Ring) SlabSize() int { return r.slabSize }

// Free returns the number of slabs currently available.
func (r *Ring) Free() int { return len(r.slabs) }
