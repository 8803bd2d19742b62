package vstream

import "fmt"

// Stats is a point-in-time snapshot of engine state and counters.
type Stats struct {
	// BudgetBytes is the physical byte budget.
	BudgetBytes uint64

	// BoundBytes is the byte total of granules bound to slots.
	BoundBytes uint64

	// BoundSlots and FreeSlots partition the physical slot arena
	// (slots awaiting epoch retirement are in neither).
	BoundSlots int
	FreeSlots  int

	// Resident and Loading are granule counts across all resources.
	Resident int
	Loading  int

	// Evictions is the total number of granules evicted.
	Evictions uint64

	// LoadFailures counts produce or submit failures; each rolled the
	// granule back to NotLoaded for a later retry.
	LoadFailures uint64

	// DroppedFeedback counts feedback entries lost to the capacity bound.
	DroppedFeedback uint64

	// Uploads is the number of copy commands submitted.
	Uploads uint64

	// CacheHits and CacheMisses are decode byte cache counters.
	CacheHits   uint64
	CacheMisses uint64
}

// Utilization returns the fraction of the byte budget in use (0.0 to 1.0).
func (s Stats) Utilization() float64 {
	if s.BudgetBytes == 0 {
		return 0
	}
	return float64(s.BoundBytes) / float64(s.BudgetBytes)
}

// String returns a human-readable summary of the stats.
func (s Stats) String() string {
	return fmt.Sprintf("Stream[%.1f%% of %d MB, %d resident, %d loading, %d evictions, %d failures]",
		s.Utilization()*100,
		s.BudgetBytes/(1024*1024),
		s.Resident,
		s.Loading,
		s.Evictions,
		s.LoadFailures)
}
