package vaddr

import (
	"sync"

	"github.com/gogpu/vstream/streamcore"
)

// PageTable is the virtual-to-physical slot map of a sparse page-grid
// resource. The frame thread writes mappings as pages are bound and
// unbound; consumers read a published snapshot.
//
// Publication is double-buffered: Publish(frame) copies the live table into
// a two-slot ring indexed by frame%2, and Published(frame) returns the
// snapshot published on the previous frame. Consumers therefore observe the
// table with exactly one frame of latency, which matches the frame-delayed
// readback contract of the feedback buffer.
type PageTable struct {
	countX int
	countY int

	// slots is the live table, written only by the frame thread.
	slots []streamcore.SlotIndex

	mu   sync.RWMutex
	ring [2][]streamcore.SlotIndex
}

// NewPageTable creates a page table of countX by countY virtual pages, all
// unmapped.
func NewPageTable(countX, countY int) *PageTable {
	if countX < 1 {
		countX = 1
	}
	if countY < 1 {
		countY = 1
	}

	t := &PageTable{
		countX: countX,
		countY: countY,
		slots:  make([]streamcore.SlotIndex, countX*countY),
	}
	for i := range t.slots {
		t.slots[i] = streamcore.InvalidSlot
	}
	for r := range t.ring {
		t.ring[r] = make([]streamcore.SlotIndex, countX*countY)
		copy(t.ring[r], t.slots)
	}
	return t
}

// PageCount returns the number of virtual pages.
func (t *PageTable) PageCount() int { return t.countX * t.countY }

// PageIndex maps a 2D virtual page coordinate to its linear index.
// Returns -1 if the coordinate is outside the grid.
func (t *PageTable) PageIndex(x, y int) int {
	if x < 0 || y < 0 || x >= t.countX || y >= t.countY {
		return -1
	}
	return y*t.countX + x
}

// PageCoord maps a linear page index back to its 2D coordinate.
func (t *PageTable) PageCoord(i int) (x, y int) {
	return i % t.countX, i / t.countX
}

// Set binds a virtual page to a physical slot in the live table.
// Called only from the frame thread.
func (t *PageTable) Set(page int, slot streamcore.SlotIndex) {
	if page < 0 || page >= len(t.slots) {
		return
	}
	t.slots[page] = slot
}

// Clear unbinds a virtual page in the live table.
// Called only from the frame thread.
func (t *PageTable) Clear(page int) {
	t.Set(page, streamcore.InvalidSlot)
}

// Slot returns the live mapping of a page. Frame-thread view; consumers
// should use Published.
func (t *PageTable) Slot(page int) streamcore.SlotIndex {
	if page < 0 || page >= len(t.slots) {
		return streamcore.InvalidSlot
	}
	return t.slots[page]
}

// Publish snapshots the live table into the ring slot for the given frame.
// Called once per frame, at the end of the engine update.
func (t *PageTable) Publish(frame uint64) {
	t.mu.Lock()
	copy(t.ring[frame%2], t.slots)
	t.mu.Unlock()
}

// Published returns the snapshot from the previous frame. The returned
// slice is owned by the table and is stable until that ring slot is
// republished two frames later; consumers must not retain it across frames.
func (t *PageTable) Published(frame uint64) []streamcore.SlotIndex {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ring[(frame+1)%2]
}
