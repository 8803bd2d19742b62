package streamcore

import "fmt"

// ResourceID is an opaque handle to a registered streamable resource.
// IDs are allocated from an instance-scoped counter and are never reused
// within the lifetime of an engine.
type ResourceID uint32

// InvalidResource is the zero value, representing an invalid/null resource.
const InvalidResource ResourceID = 0

// GranuleKey identifies one streamable granule: a mip level of a pyramid
// resource, or one page of a virtual page table (Level holds the linear
// page index in that case).
type GranuleKey struct {
	Resource ResourceID
	Level    uint16
}

// String returns a compact representation, e.g. "r3/l2".
func (k GranuleKey) String() string {
	return fmt.Sprintf("r%d/l%d", k.Resource, k.Level)
}

// Status is the residency state of a granule.
type Status uint8

// Granule residency states.
const (
	// StatusNotLoaded means the granule has no physical backing.
	StatusNotLoaded Status = iota

	// StatusLoading means a worker is producing the granule's bytes.
	// Loading is a liveness guarantee: a granule always leaves this state
	// within a bounded number of update cycles.
	StatusLoading

	// StatusResident means the granule is bound to exactly one physical slot.
	StatusResident

	// StatusPendingEvict means the granule was chosen for eviction and its
	// slot will be reclaimed once the owning epoch retires.
	StatusPendingEvict
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case StatusNotLoaded:
		return "NotLoaded"
	case StatusLoading:
		return "Loading"
	case StatusResident:
		return "Resident"
	case StatusPendingEvict:
		return "PendingEvict"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Priority orders stream requests. Higher values are served first.
type Priority uint8

// Request priorities.
const (
	// PriorityLow is for speculative prefetch.
	PriorityLow Priority = iota

	// PriorityNormal is for off-screen or distant granules.
	PriorityNormal

	// PriorityHigh is for on-screen, feedback-driven demand.
	PriorityHigh

	// PriorityCritical bypasses normal ordering (forced loads, floor preload).
	PriorityCritical
)

// String returns the name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityNormal:
		return "Normal"
	case PriorityHigh:
		return "High"
	case PriorityCritical:
		return "Critical"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(p))
	}
}

// SlotIndex identifies one physical slot in the bounded backing store.
type SlotIndex int32

// InvalidSlot marks a virtual page with no physical backing.
const InvalidSlot SlotIndex = -1

// ResourceKind selects the addressing variant of a resource.
type ResourceKind uint8

// Resource kinds.
const (
	// KindMipPyramid streams whole mip levels of a 2D pyramid.
	KindMipPyramid ResourceKind = iota

	// KindPageTable streams fixed-size pages of a sparse virtual grid.
	KindPageTable
)

// String returns the name of the kind.
func (k ResourceKind) String() string {
	switch k {
	case KindMipPyramid:
		return "MipPyramid"
	case KindPageTable:
		return "PageTable"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// Request is one outstanding granule-load request.
type Request struct {
	// Key identifies the granule to load.
	Key GranuleKey

	// Priority orders the request against others.
	Priority Priority

	// Coverage is the approximate screen coverage of the requesting sample,
	// used as a tiebreaker between requests of equal priority.
	Coverage float32

	// Frame is the frame number at which the request was created.
	Frame uint64

	// Seq is an instance-scoped sequence number for stable FIFO ordering
	// among otherwise equal requests.
	Seq uint64
}

// FeedbackEntry is one consumer-reported demand signal: "this granule was
// needed this frame". The feedback channel is lossy by design; entries
// beyond the collector's capacity are dropped.
type FeedbackEntry struct {
	Resource ResourceID
	Level    uint16
	Coverage float32
}

// Key returns the granule key the entry refers to.
func (e FeedbackEntry) Key() GranuleKey {
	return GranuleKey{Resource: e.Resource, Level: e.Level}
}

// Demand is one deduplicated unit of scheduling demand produced by draining
// a frame's feedback.
type Demand struct {
	Key      GranuleKey
	Coverage float32
}
