package stream

import (
	"bytes"
	"testing"
)

// TestAcquireCopiesData tests that a slab holds a copy of the payload.
func TestAcquireCopiesData(t *testing.T) {
	r := NewRing(2, 8)
	done := make(chan struct{})

	data := []byte{1, 2, 3}
	slab, ok := r.Acquire(data, done)
	if !ok {
		t.Fatal("Acquire should succeed with free slabs")
	}
	if !bytes.Equal(slab, data) {
		t.Errorf("slab = %v, want %v", slab, data)
	}
	if r.Free() != 1 {
		t.Errorf("Free() = %d, want 1", r.Free())
	}

	// Mutating the source must not reach the slab.
	data[0] = 99
	if slab[0] != 1 {
		t.Error("slab shares memory with the caller's slice")
	}

	r.Release(slab)
	if r.Free() != 2 {
		t.Errorf("Free() after release = %d, want 2", r.Free())
	}
}

// TestAcquireUnblocksOnDone tests that a full ring does not deadlock
// shutdown.
func TestAcquireUnblocksOnDone(t *testing.T) {
	r := NewRing(1, 8)
	done := make(chan struct{})

	if _, ok := r.Acquire([]byte{1}, done); !ok {
		t.Fatal("first Acquire should succeed")
	}

	close(done)
	if _, ok := r.Acquire([]byte{2}, done); ok {
		t.Error("Acquire after done should report false")
	}
}

// TestOversizePayloadBypasses tests that payloads larger than a slab skip
// the ring entirely.
func TestOversizePayloadBypasses(t *testing.T) {
	r := NewRing(1, 4)
	done := make(chan struct{})

	big := []byte{1, 2, 3, 4, 5, 6}
	got, ok := r.Acquire(big, done)
	if !ok {
		t.Fatal("oversize Acquire should succeed")
	}
	if &got[0] != &big[0] {
		t.Error("oversize payload should be passed through, not copied")
	}
	if r.Free() != 1 {
		t.Errorf("Free() = %d, ring should be untouched", r.Free())
	}

	// Releasing a bypass buffer is a no-op.
	r.Release(got)
	if r.Free() != 1 {
		t.Errorf("Free() after bypass release = %d, want 1", r.Free())
	}
}

// TestDoubleReleaseDropped tests that a duplicate release cannot grow the
// ring.
func TestDoubleReleaseDropped(t *testing.T) {
	r := NewRing(1, 8)
	done := make(chan struct{})

	slab, _ := r.Acquire([]byte{1}, done)
	r.Release(slab)
	r.Release(slab)
	r.Release(nil)
	if r.Free() != 1 {
		t.Errorf("Free() = %d, want 1", r.Free())
	}
}
