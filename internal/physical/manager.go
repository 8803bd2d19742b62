// Package physical manages the bounded pool of physical storage slots: it
// grants slots to newly resident granules and reclaims slots from cold
// ones under byte-budget pressure.
//
// The manager is touched only by the frame thread (allocation and eviction
// both run on it), so it carries no internal locking. This is a deliberate
// simplification enabled by funneling all allocation decisions through one
// thread; callers must not use a Manager from fulfillment workers.
package physical

import (
	"github.com/gogpu/vstream/internal/lru"
	"github.com/gogpu/vstream/streamcore"
)

// binding records one granule bound to one physical slot.
type binding struct {
	slot     streamcore.SlotIndex
	size     uint64
	lastUsed uint64
	node     *lru.Node[streamcore.GranuleKey]
}

// retireRecord is a slot awaiting epoch retirement before reuse. The slot
// stays out of the free list until the graphics collaborator confirms no
// in-flight read can still touch it.
type retireRecord struct {
	key  streamcore.GranuleKey
	slot streamcore.SlotIndex
}

// Manager owns the slot arena, the free list, and the access-ordered LRU
// ranking used for eviction.
type Manager struct {
	slotSize    uint64
	budgetBytes uint64
	grace       uint64 // frames a granule must stay unaccessed before eviction

	free     []streamcore.SlotIndex
	count    int
	bindings map[streamcore.GranuleKey]*binding
	order    *lru.List[streamcore.GranuleKey] // front = most recently accessed

	retiring map[uint64][]retireRecord // epoch -> slots awaiting retirement

	bound     uint64 // running byte total of bound granules
	evictions uint64
}

// NewManager creates a manager with slotCount physical slots of slotSize
// bytes each, a byte budget, and a grace window of framesBeforeEvict
// frames.
func NewManager(slotCount int, slotSize, budgetBytes, framesBeforeEvict uint64) *Manager {
	if slotCount < 1 {
		slotCount = 1
	}

	m := &Manager{
		slotSize:    slotSize,
		budgetBytes: budgetBytes,
		grace:       framesBeforeEvict,
		free:        make([]streamcore.SlotIndex, 0, slotCount),
		count:       slotCount,
		bindings:    make(map[streamcore.GranuleKey]*binding),
		order:       lru.New[streamcore.GranuleKey](),
		retiring:    make(map[uint64][]retireRecord),
	}
	// Free list is a stack of indices; pop order is highest-first, which
	// keeps low indices stable for long-lived floor granules.
	for i := slotCount - 1; i >= 0; i-- {
		m.free = append(m.free, streamcore.SlotIndex(i)) //nolint:gosec // bounded by slotCount
	}
	return m
}

// Alloc grants a free slot to a granule of the given byte size and stamps
// it as accessed at the given frame. Returns false if the free list is
// empty: the granule simply stays unloaded for this frame and the consumer
// falls back to a coarser source.
//
// A single allocation may push the bound byte total past the budget; the
// next EvictIfNeeded call restores the invariant.
func (m *Manager) Alloc(key streamcore.GranuleKey, size uint64, frame uint64) (streamcore.SlotIndex, bool) {
	if _, ok := m.bindings[key]; ok {
		return streamcore.InvalidSlot, false
	}
	if len(m.free) == 0 {
		return streamcore.InvalidSlot, false
	}

	slot := m.free[len(m.free)-1]
	m.free = m.free[:len(m.free)-1]

	m.bindings[key] = &binding{
		slot:     slot,
		size:     size,
		lastUsed: frame,
		node:     m.order.PushFront(key),
	}
	m.bound += size
	return slot, true
}

// Touch stamps a bound granule as accessed at the given frame and moves it
// to the front of the recency order.
func (m *Manager) Touch(key streamcore.GranuleKey, frame uint64) bool {
	b, ok := m.bindings[key]
	if !ok {
		return false
	}
	b.lastUsed = frame
	m.order.MoveToFront(b.node)
	return true
}

// SlotOf returns the physical slot a granule is bound to.
func (m *Manager) SlotOf(key streamcore.GranuleKey) (streamcore.SlotIndex, bool) {
	b, ok := m.bindings[key]
	if !ok {
		return streamcore.InvalidSlot, false
	}
	return b.slot, true
}

// LastAccess returns the frame at which a bound granule was last accessed.
func (m *Manager) LastAccess(key streamcore.GranuleKey) (uint64, bool) {
	b, ok := m.bindings[key]
	if !ok {
		return 0, false
	}
	return b.lastUsed, true
}

// Release immediately unbinds a granule and returns its slot to the free
// list, bypassing epoch retirement. Used on resource unregistration, where
// the caller guarantees no consumer can still reference the resource.
func (m *Manager) Release(key streamcore.GranuleKey) (streamcore.SlotIndex, bool) {
	b, ok := m.bindings[key]
	if !ok {
		return streamcore.InvalidSlot, false
	}
	m.order.Remove(b.node)
	delete(m.bindings, key)
	m.bound -= b.size
	m.free = append(m.free, b.slot)
	return b.slot, true
}

// ReleaseResource releases every slot bound to granules of the resource,
// including slots still awaiting epoch retirement. Returns the freed
// slots.
func (m *Manager) ReleaseResource(id streamcore.ResourceID) []streamcore.SlotIndex {
	var freed []streamcore.SlotIndex

	for key, b := range m.bindings {
		if key.Resource != id {
			continue
		}
		m.order.Remove(b.node)
		delete(m.bindings, key)
		m.bound -= b.size
		m.free = append(m.free, b.slot)
		freed = append(freed, b.slot)
	}

	for epoch, records := range m.retiring {
		kept := records[:0]
		for _, r := range records {
			if r.key.Resource != id {
				kept = append(kept, r)
				continue
			}
			m.free = append(m.free, r.slot)
			freed = append(freed, r.slot)
		}
		if len(kept) == 0 {
			delete(m.retiring, epoch)
		} else {
			m.retiring[epoch] = kept
		}
	}
	return freed
}

// EvictIfNeeded reclaims cold granules until the bound byte total meets
// the budget. Candidates are ranked oldest-access-first; granules for
// which protected returns true (the per-resource fallback floor) and
// granules accessed within the grace window are skipped, preventing
// thrashing when a granule is evicted and immediately re-requested.
//
// Eviction never blocks: chosen granules are unbound from the accounting
// immediately but their slots join the retiring set for the given epoch
// and return to the free list only in RetireEpoch. Returns the keys of the
// granules marked for eviction; the caller transitions them to
// PendingEvict.
func (m *Manager) EvictIfNeeded(frame, epoch uint64, protected func(streamcore.GranuleKey) bool) []streamcore.GranuleKey {
	if m.bound <= m.budgetBytes {
		return nil
	}

	var marked []streamcore.GranuleKey
	node := m.order.Oldest()
	for node != nil && m.bound > m.budgetBytes {
		next := m.order.Newer(node)
		key := node.Key()
		b := m.bindings[key]

		eligible := b != nil &&
			(protected == nil || !protected(key)) &&
			b.lastUsed+m.grace <= frame

		if eligible {
			m.order.Remove(node)
			delete(m.bindings, key)
			m.bound -= b.size
			m.retiring[epoch] = append(m.retiring[epoch], retireRecord{key: key, slot: b.slot})
			m.evictions++
			marked = append(marked, key)
		}
		node = next
	}
	return marked
}

// RetireEpoch returns the slots of every eviction marked at or before the
// given epoch to the free list, completing their reclamation. Returns the
// granule keys whose eviction finished; the caller transitions them to
// NotLoaded.
func (m *Manager) RetireEpoch(epoch uint64) []streamcore.GranuleKey {
	var done []streamcore.GranuleKey
	for e, records := range m.retiring {
		if e > epoch {
			continue
		}
		for _, r := range records {
			m.free = append(m.free, r.slot)
			done = append(done, r.key)
		}
		delete(m.retiring, e)
	}
	return done
}

// SetBudget replaces the byte budget. If the new budget is below the
// current bound total, the next EvictIfNeeded call reclaims the excess.
func (m *Manager) SetBudget(budgetBytes uint64) { m.budgetBytes = budgetBytes }

// BudgetBytes returns the byte budget.
func (m *Manager) BudgetBytes() uint64 { return m.budgetBytes }

// BoundBytes returns the byte total of granules currently bound to slots,
// excluding slots awaiting retirement.
func (m *Manager) BoundBytes() uint64 { return m.bound }

// BoundSlots returns the number of slots bound to resident granules.
func (m *Manager) BoundSlots() int { return len(m.bindings) }

// FreeSlots returns the number of slots in the free list.
func (m *Manager) FreeSlots() int { return len(m.free) }

// SlotCount returns the total number of physical slots.
func (m *Manager) SlotCount() int { return m.count }

// SlotSize returns the byte size of one physical slot.
func (m *Manager) SlotSize() uint64 { return m.slotSize }

// Evictions returns the total number of granules evicted.
func (m *Manager) Evictions() uint64 { return m.evictions }
