// Package feedback turns one frame's worth of raw consumer-reported usage
// signals into deduplicated scheduling demand.
//
// Two ingestion shapes exist: a bounded entry list (mip-pyramid variant)
// and a dense per-page bitmap (page-table variant, OR-reduced across many
// parallel producers). Both are lossy or latency-tolerant by design and
// both normalize into the same Demand stream.
package feedback

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/gogpu/vstream/streamcore"
)

// DefaultCapacity is the default bound on buffered feedback entries.
const DefaultCapacity = 1024

// Collector buffers raw feedback entries up to a fixed capacity.
// Entries beyond capacity are silently dropped; missed demand is
// re-signaled on a later frame if still needed, so overflow costs latency,
// never correctness.
//
// Collector is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	entries []streamcore.FeedbackEntry
	cap     int

	dropped atomic.Uint64
}

// NewCollector creates a collector with the given entry capacity.
// If capacity <= 0, DefaultCapacity is used.
func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Collector{
		entries: make([]streamcore.FeedbackEntry, 0, capacity),
		cap:     capacity,
	}
}

// Add buffers feedback entries. Entries past the capacity bound are
// dropped and counted.
func (c *Collector) Add(entries ...streamcore.FeedbackEntry) {
	c.mu.Lock()
	for _, e := range entries {
		if len(c.entries) >= c.cap {
			c.dropped.Add(1)
			continue
		}
		c.entries = append(c.entries, e)
	}
	c.mu.Unlock()
}

// Drain consumes all buffered entries and returns one Demand per distinct
// granule, carrying the maximum coverage reported for it. Repeated
// feedback for the same granule within a frame collapses to a single
// demand (idempotent feedback).
func (c *Collector) Drain() []streamcore.Demand {
	c.mu.Lock()
	raw := c.entries
	c.entries = make([]streamcore.FeedbackEntry, 0, c.cap)
	c.mu.Unlock()

	if len(raw) == 0 {
		return nil
	}

	seen := make(map[streamcore.GranuleKey]int, len(raw))
	demands := make([]streamcore.Demand, 0, len(raw))
	for _, e := range raw {
		key := e.Key()
		if i, ok := seen[key]; ok {
			if e.Coverage > demands[i].Coverage {
				demands[i].Coverage = e.Coverage
			}
			continue
		}
		seen[key] = len(demands)
		demands = append(demands, streamcore.Demand{Key: key, Coverage: e.Coverage})
	}
	return demands
}

// Dropped returns the total number of entries dropped to the capacity
// bound.
func (c *Collector) Dropped() uint64 {
	return c.dropped.Load()
}

// Bitmap is the dense feedback variant: one bit per virtual page, set by
// an OR-reduction across producers. Draining iterates set bits, so the
// collector cost is bounded by the page-table size rather than by the
// producer count.
//
// Bitmap is safe for concurrent use.
type Bitmap struct {
	mu    sync.Mutex
	words []uint64
	pages int
}

// NewBitmap creates a bitmap covering pageCount virtual pages.
func NewBitmap(pageCount int) *Bitmap {
	if pageCount < 1 {
		pageCount = 1
	}
	return &Bitmap{
		words: make([]uint64, (pageCount+63)/64),
		pages: pageCount,
	}
}

// Mark sets the bit for one page. Out-of-range indices are ignored.
func (b *Bitmap) Mark(page int) {
	if page < 0 || page >= b.pages {
		return
	}
	b.mu.Lock()
	b.words[page/64] |= 1 << uint(page%64)
	b.mu.Unlock()
}

// Merge ORs a producer-written word slice into the bitmap. Extra words are
// ignored; bits beyond the page count are masked off at drain time.
func (b *Bitmap) Merge(words []uint64) {
	b.mu.Lock()
	n := min(len(words), len(b.words))
	for i := range n {
		b.words[i] |= words[i]
	}
	b.mu.Unlock()
}

// Drain visits every set page bit and clears the bitmap.
func (b *Bitmap) Drain(visit func(page int)) {
	b.mu.Lock()
	words := b.words
	b.words = make([]uint64, len(words))
	b.mu.Unlock()

	for wi, w := range words {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			w &^= 1 << uint(bit)
			page := wi*64 + bit
			if page >= b.pages {
				return
			}
			visit(page)
		}
	}
}
