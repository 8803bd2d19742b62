package vstream

import "github.com/gogpu/vstream/streamcore"

// Aliases for the shared streamcore types, so most callers never import
// streamcore directly.
type (
	// ResourceID is an opaque handle to a registered resource.
	ResourceID = streamcore.ResourceID

	// GranuleKey identifies one streamable granule.
	GranuleKey = streamcore.GranuleKey

	// Status is the residency state of a granule.
	Status = streamcore.Status

	// Priority orders stream requests.
	Priority = streamcore.Priority

	// SlotIndex identifies one physical slot.
	SlotIndex = streamcore.SlotIndex

	// FeedbackEntry is one consumer-reported demand signal.
	FeedbackEntry = streamcore.FeedbackEntry

	// ResourceKind selects the addressing variant of a resource.
	ResourceKind = streamcore.ResourceKind
)

// Re-exported streamcore constants.
const (
	InvalidResource = streamcore.InvalidResource
	InvalidSlot     = streamcore.InvalidSlot

	StatusNotLoaded    = streamcore.StatusNotLoaded
	StatusLoading      = streamcore.StatusLoading
	StatusResident     = streamcore.StatusResident
	StatusPendingEvict = streamcore.StatusPendingEvict

	PriorityLow      = streamcore.PriorityLow
	PriorityNormal   = streamcore.PriorityNormal
	PriorityHigh     = streamcore.PriorityHigh
	PriorityCritical = streamcore.PriorityCritical

	KindMipPyramid = streamcore.KindMipPyramid
	KindPageTable  = streamcore.KindPageTable
)
