// Package vstream provides a demand-paged virtual resource streaming core
// for the GoGPU ecosystem.
//
// # Overview
//
// vstream incrementally backs a huge, nominally infinite-resolution
// resource (a texture's mip pyramid, or a virtual shadow map's page grid)
// with a small, bounded pool of physical memory. Demand is driven by
// consumer-reported usage feedback, fulfilled asynchronously by a fixed
// worker pool, and bounded by least-recently-used eviction under a hard
// byte budget.
//
// # Quick Start
//
//	import "github.com/gogpu/vstream"
//
//	eng, err := vstream.New(vstream.Config{BudgetMB: 64})
//	if err != nil { ... }
//	defer eng.Close()
//
//	producer, _ := vstream.NewMipProducer(img)
//	id, _ := eng.RegisterResource(vstream.ResourceDesc{
//	    Width: 2048, Height: 2048,
//	    Producer: producer,
//	})
//
//	for frame := uint64(1); ; frame++ {
//	    eng.BeginFrame(frame)
//	    eng.Feedback(vstream.FeedbackEntry{Resource: id, Level: 0})
//	    eng.Update()
//	    level, ok := eng.ResidentLevel(id) // best currently usable level
//	    ...
//	}
//
// # Architecture
//
// One frame thread plus a fixed pool of fulfillment workers; Update never
// blocks on streaming I/O. Per frame:
//
//	feedback -> collector -> scheduler -> workers -> staging -> upload ->
//	residency -> eviction -> published page table
//
// The library is organized into:
//   - Public API: Engine, Config, ResourceDesc, Producer, Submitter
//   - streamcore: shared identifiers, statuses, priorities
//   - Internal: residency, vaddr, feedback, sched, stream, physical
//
// # Residency Contract
//
// Consumers must distinguish the ideal level from the usable level: the
// ideal level may still be loading, but ResidentLevel always names the
// finest level that is backed right now, and the coarsest floor levels of
// a preloaded resource are never evicted. Granule loads may complete out
// of order; never assume contiguous coverage.
//
// # Thread Safety
//
// RegisterResource, Feedback, FeedbackBitmap, ForceLoad, and the query
// methods are safe for concurrent use. BeginFrame, Update, SetBudget,
// NotifyEpochRetired, and UnregisterResource belong to the frame thread
// and must be called from one goroutine.
package vstream
