package feedback

import (
	"testing"

	"github.com/gogpu/vstream/streamcore"
)

func entry(r uint32, l uint16, cov float32) streamcore.FeedbackEntry {
	return streamcore.FeedbackEntry{Resource: streamcore.ResourceID(r), Level: l, Coverage: cov}
}

// TestDrainDeduplicates tests idempotent feedback: N identical entries in
// one frame collapse to one demand.
func TestDrainDeduplicates(t *testing.T) {
	c := NewCollector(16)
	for range 5 {
		c.Add(entry(1, 0, 0.5))
	}
	c.Add(entry(1, 1, 0.1))

	demands := c.Drain()
	if len(demands) != 2 {
		t.Fatalf("Drain() returned %d demands, want 2", len(demands))
	}
}

// TestDrainKeepsMaxCoverage tests that duplicates keep the largest
// reported coverage.
func TestDrainKeepsMaxCoverage(t *testing.T) {
	c := NewCollector(16)
	c.Add(entry(1, 0, 0.2))
	c.Add(entry(1, 0, 0.9))
	c.Add(entry(1, 0, 0.4))

	demands := c.Drain()
	if len(demands) != 1 {
		t.Fatalf("Drain() returned %d demands, want 1", len(demands))
	}
	if demands[0].Coverage != 0.9 {
		t.Errorf("Coverage = %v, want 0.9", demands[0].Coverage)
	}
}

// TestOverflowDropsSilently tests the lossy-channel contract: entries
// past capacity are dropped and counted, never an error.
func TestOverflowDropsSilently(t *testing.T) {
	c := NewCollector(2)
	c.Add(entry(1, 0, 0), entry(1, 1, 0), entry(1, 2, 0), entry(1, 3, 0))

	if got := c.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
	if demands := c.Drain(); len(demands) != 2 {
		t.Errorf("Drain() returned %d demands, want 2", len(demands))
	}
}

// TestDrainResets tests that a drain consumes the buffer.
func TestDrainResets(t *testing.T) {
	c := NewCollector(4)
	c.Add(entry(1, 0, 0))
	if demands := c.Drain(); len(demands) != 1 {
		t.Fatalf("first Drain() returned %d demands, want 1", len(demands))
	}
	if demands := c.Drain(); demands != nil {
		t.Errorf("second Drain() returned %d demands, want none", len(demands))
	}

	// Capacity is available again after the drain.
	c.Add(entry(1, 1, 0))
	if demands := c.Drain(); len(demands) != 1 {
		t.Errorf("Drain() after reset returned %d demands, want 1", len(demands))
	}
}

// TestBitmapMarkDrain tests set-bit iteration.
func TestBitmapMarkDrain(t *testing.T) {
	b := NewBitmap(130) // spans three words

	b.Mark(0)
	b.Mark(63)
	b.Mark(64)
	b.Mark(129)
	b.Mark(-1)  // ignored
	b.Mark(130) // ignored

	var pages []int
	b.Drain(func(page int) { pages = append(pages, page) })

	want := []int{0, 63, 64, 129}
	if len(pages) != len(want) {
		t.Fatalf("Drain visited %v, want %v", pages, want)
	}
	for i := range want {
		if pages[i] != want[i] {
			t.Fatalf("Drain visited %v, want %v", pages, want)
		}
	}

	// Drain clears the bitmap.
	count := 0
	b.Drain(func(int) { count++ })
	if count != 0 {
		t.Errorf("second Drain visited %d pages, want 0", count)
	}
}

// TestBitmapMerge tests the OR-reduction ingestion path.
func TestBitmapMerge(t *testing.T) {
	b := NewBitmap(128)
	b.Merge([]uint64{1 << 3, 1 << 5})
	b.Merge([]uint64{1 << 3, 0, 0xFFFF}) // extra word ignored

	var pages []int
	b.Drain(func(page int) { pages = append(pages, page) })

	want := []int{3, 69}
	if len(pages) != 2 || pages[0] != want[0] || pages[1] != want[1] {
		t.Errorf("Drain visited %v, want %v", pages, want)
	}
}

// TestBitmapMasksTail tests that bits beyond the page count never visit.
func TestBitmapMasksTail(t *testing.T) {
	b := NewBitmap(3)
	b.Merge([]uint64{0xFF}) // bits 3..7 are out of range

	var pages []int
	b.Drain(func(page int) { pages = append(pages, page) })
	if len(pages) != 3 {
		t.Errorf("Drain visited %v, want pages 0..2 only", pages)
	}
}
