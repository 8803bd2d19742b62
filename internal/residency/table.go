// Package residency implements the authoritative per-granule status table.
// It is the single source of truth for "is this granule usable right now"
// and is shared between the frame thread and the fulfillment workers.
package residency

import (
	"sync"

	"github.com/gogpu/vstream/streamcore"
)

// Table tracks the residency status of every granule of every registered
// resource.
//
// Table is safe for concurrent use. It is guarded by a single mutex that is
// never held together with the scheduler's pending lock (lock-ordering
// deadlock avoidance).
type Table struct {
	mu        sync.Mutex
	resources map[streamcore.ResourceID][]streamcore.Status
}

// NewTable creates an empty residency table.
func NewTable() *Table {
	return &Table{
		resources: make(map[streamcore.ResourceID][]streamcore.Status),
	}
}

// Register allocates a status vector of granuleCount entries, all
// NotLoaded. Registering an already-known ID replaces its vector.
func (t *Table) Register(id streamcore.ResourceID, granuleCount int) {
	if granuleCount < 1 {
		granuleCount = 1
	}
	t.mu.Lock()
	t.resources[id] = make([]streamcore.Status, granuleCount)
	t.mu.Unlock()
}

// Unregister removes a resource. Returns false (no-op) if the ID is
// unknown; callers are expected to only hold valid IDs.
func (t *Table) Unregister(id streamcore.ResourceID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.resources[id]; !ok {
		return false
	}
	delete(t.resources, id)
	return true
}

// Known returns true if the resource is registered.
func (t *Table) Known(id streamcore.ResourceID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.resources[id]
	return ok
}

// GranuleCount returns the number of granules of a resource, or 0 if the
// ID is unknown.
func (t *Table) GranuleCount(id streamcore.ResourceID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.resources[id])
}

// Status returns the status of a granule. The second result is false if
// the resource or level is unknown.
func (t *Table) Status(key streamcore.GranuleKey) (streamcore.Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.resources[key.Resource]
	if !ok || int(key.Level) >= len(v) {
		return streamcore.StatusNotLoaded, false
	}
	return v[key.Level], true
}

// SetStatus updates the status of a granule. Returns false if the resource
// or level is unknown (the update is dropped).
func (t *Table) SetStatus(key streamcore.GranuleKey, status streamcore.Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.resources[key.Resource]
	if !ok || int(key.Level) >= len(v) {
		return false
	}
	v[key.Level] = status
	return true
}

// CompareAndSetStatus updates the status only if the granule currently has
// the expected status. Returns true on success. Used by workers to claim a
// granule for loading without racing a concurrent state change.
func (t *Table) CompareAndSetStatus(key streamcore.GranuleKey, expect, status streamcore.Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.resources[key.Resource]
	if !ok || int(key.Level) >= len(v) {
		return false
	}
	if v[key.Level] != expect {
		return false
	}
	v[key.Level] = status
	return true
}

// LowestResidentLevel returns the numerically lowest (finest) level of the
// resource that is currently Resident. This is the best currently usable
// detail level, the fallback contract of resource streaming: the ideal
// level may still be loading, but a consumer can always sample the lowest
// resident one. The second result is false if nothing is resident or the
// ID is unknown.
func (t *Table) LowestResidentLevel(id streamcore.ResourceID) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.resources[id]
	if !ok {
		return 0, false
	}
	for level, s := range v {
		if s == streamcore.StatusResident {
			return level, true
		}
	}
	return 0, false
}

// Counts returns the number of granules currently Resident and Loading
// across all resources.
func (t *Table) Counts() (resident, loading int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, v := range t.resources {
		for _, s := range v {
			switch s {
			case streamcore.StatusResident:
				resident++
			case streamcore.StatusLoading:
				loading++
			}
		}
	}
	return resident, loading
}
