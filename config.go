package vstream

// Default engine limits.
const (
	// DefaultBudgetMB is the default physical memory budget (256 MB).
	DefaultBudgetMB = 256

	// MinBudgetMB is the minimum allowed memory budget (16 MB).
	MinBudgetMB = 16

	// DefaultSlotSizeBytes is the default physical slot size (64 KB, one
	// 128x128 RGBA8 page).
	DefaultSlotSizeBytes = 64 * 1024

	// DefaultFramesBeforeEvict is the default grace window: a granule
	// accessed within this many frames is never evicted.
	DefaultFramesBeforeEvict = 60

	// DefaultFeedbackCapacity is the default bound on buffered feedback
	// entries per frame.
	DefaultFeedbackCapacity = 1024

	// DefaultStagingSlabs is the default number of staging slabs shared
	// by the fulfillment workers.
	DefaultStagingSlabs = 8

	// DefaultStagingSlabBytes is the default staging slab size (1 MB).
	// Larger granules bypass the staging ring.
	DefaultStagingSlabBytes = 1 << 20
)

// Config holds configuration for creating an Engine. The zero value is
// usable: every field has a documented default.
type Config struct {
	// BudgetMB is the physical memory budget in megabytes.
	// Defaults to DefaultBudgetMB; values below MinBudgetMB are raised to
	// the default, matching the engine's refusal to run on a budget that
	// cannot hold the fallback floors.
	BudgetMB int

	// SlotSizeBytes is the size of one physical slot. The slot count is
	// the budget divided by this. Defaults to DefaultSlotSizeBytes.
	SlotSizeBytes uint64

	// Workers is the fulfillment worker count.
	// Defaults to min(GOMAXPROCS, 4): fulfillment is bounded by I/O and
	// decode concurrency, not by GPU concurrency.
	Workers int

	// FramesBeforeEvict is the eviction grace window in frames.
	// Defaults to DefaultFramesBeforeEvict.
	FramesBeforeEvict uint64

	// FeedbackCapacity bounds buffered feedback entries. Overflow entries
	// are dropped (lossy by design). Defaults to DefaultFeedbackCapacity.
	FeedbackCapacity int

	// StagingSlabs and StagingSlabBytes shape the bounded staging ring.
	StagingSlabs     int
	StagingSlabBytes int

	// CacheCapacity is the per-shard capacity of the decode byte cache.
	// Zero selects the default; negative disables the cache.
	CacheCapacity int

	// Submitter receives upload commands. Defaults to a MemorySubmitter.
	Submitter Submitter
}

// withDefaults returns a copy of the config with every zero field
// replaced by its default.
func (c Config) withDefaults() Config {
	if c.BudgetMB < MinBudgetMB {
		c.BudgetMB = DefaultBudgetMB
	}
	if c.SlotSizeBytes == 0 {
		c.SlotSizeBytes = DefaultSlotSizeBytes
	}
	if c.FramesBeforeEvict == 0 {
		c.FramesBeforeEvict = DefaultFramesBeforeEvict
	}
	if c.FeedbackCapacity <= 0 {
		c.FeedbackCapacity = DefaultFeedbackCapacity
	}
	if c.StagingSlabs <= 0 {
		c.StagingSlabs = DefaultStagingSlabs
	}
	if c.StagingSlabBytes <= 0 {
		c.StagingSlabBytes = DefaultStagingSlabBytes
	}
	if c.Submitter == nil {
		c.Submitter = NewMemorySubmitter()
	}
	return c
}
