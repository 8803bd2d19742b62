package vstream

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vstream/internal/feedback"
	"github.com/gogpu/vstream/internal/physical"
	"github.com/gogpu/vstream/internal/residency"
	"github.com/gogpu/vstream/internal/sched"
	"github.com/gogpu/vstream/internal/stream"
	"github.com/gogpu/vstream/internal/vaddr"
	"github.com/gogpu/vstream/streamcore"
)

// Engine is the streaming core: it owns the residency table, the request
// scheduler, the fulfillment pool, and the physical slot pool, and drives
// them once per frame from BeginFrame/Update.
//
// See the package documentation for the threading contract.
type Engine struct {
	cfg Config
	log *slog.Logger

	res     *residency.Table
	queue   *sched.Queue
	pool    *stream.Pool
	phys    *physical.Manager
	list    *feedback.Collector
	staging *stream.Ring
	cache   *stream.ByteCache

	submitter Submitter

	mu        sync.Mutex // guards resources
	resources map[streamcore.ResourceID]*resourceState

	nextID     atomic.Uint32
	requestSeq atomic.Uint64
	frame      atomic.Uint64
	closed     atomic.Bool

	loadFailures atomic.Uint64
	uploads      atomic.Uint64
}

// resourceState is the engine-side record of one registered resource.
type resourceState struct {
	desc     ResourceDesc
	id       streamcore.ResourceID
	granules int
	sizes    []uint64 // per-level byte sizes (mip kind); nil for pages

	// floorStart is the first level index of the pinned fallback floor,
	// or granules when the resource has no floor.
	floorStart int

	// pages and bitmap exist only for the page-table kind.
	pages  *vaddr.PageTable
	bitmap *feedback.Bitmap
}

// granuleSize returns the byte size of one granule.
func (rs *resourceState) granuleSize(level int) uint64 {
	if rs.sizes != nil && level < len(rs.sizes) {
		return rs.sizes[level]
	}
	return rs.desc.PageSizeBytes
}

// extent returns the texel extent of one granule's payload.
func (rs *resourceState) extent(level int) gputypes.Extent3D {
	if rs.desc.Kind == streamcore.KindMipPyramid {
		return vaddr.LevelExtent(rs.desc.Width, rs.desc.Height, level)
	}
	texels := rs.desc.PageSizeBytes / vaddr.TexelSize(rs.desc.Format)
	return gputypes.Extent3D{Width: uint32(texels), Height: 1, DepthOrArrayLayers: 1} //nolint:gosec // page sizes are small
}

// New creates a streaming engine. The zero Config is usable; see Config
// for the defaults.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	log := Logger()

	budgetBytes := uint64(cfg.BudgetMB) * 1024 * 1024 //nolint:gosec // bounded by MinBudgetMB check
	slotCount := int(budgetBytes / cfg.SlotSizeBytes)
	if slotCount < 1 {
		slotCount = 1
	}

	e := &Engine{
		cfg:       cfg,
		log:       log,
		res:       residency.NewTable(),
		queue:     sched.NewQueue(),
		phys:      physical.NewManager(slotCount, cfg.SlotSizeBytes, budgetBytes, cfg.FramesBeforeEvict),
		list:      feedback.NewCollector(cfg.FeedbackCapacity),
		staging:   stream.NewRing(cfg.StagingSlabs, cfg.StagingSlabBytes),
		submitter: cfg.Submitter,
		resources: make(map[streamcore.ResourceID]*resourceState),
	}
	if cfg.CacheCapacity >= 0 {
		e.cache = stream.NewByteCache(cfg.CacheCapacity)
	}

	pool, err := stream.NewPool(stream.Config{
		Workers:   cfg.Workers,
		Queue:     e.queue,
		Residency: e.res,
		Staging:   e.staging,
		Produce:   e.produceGranule,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	e.pool = pool

	log.Info("streaming engine created",
		"budgetMB", cfg.BudgetMB,
		"slots", slotCount,
		"workers", pool.Workers())
	return e, nil
}

// Close shuts the engine down: it joins all fulfillment workers first and
// only then releases physical state, guaranteeing no worker touches freed
// slots. Close is safe to call multiple times.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}

	e.pool.Close()

	// Workers are gone; drain completions that never reached a frame.
	for {
		select {
		case c := <-e.pool.Completions():
			if c.Data != nil {
				e.staging.Release(c.Data)
			}
			e.res.CompareAndSetStatus(c.Key, streamcore.StatusLoading, streamcore.StatusNotLoaded)
			e.queue.EndPending(c.Key)
		default:
			e.releaseAll()
			e.log.Info("streaming engine closed")
			return
		}
	}
}

// releaseAll returns every bound slot to the arena.
func (e *Engine) releaseAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.resources {
		e.phys.ReleaseResource(id)
	}
	e.resources = make(map[streamcore.ResourceID]*resourceState)
}

// RegisterResource registers a streamable resource and schedules its
// floor levels for preload at Critical priority.
func (e *Engine) RegisterResource(desc ResourceDesc) (ResourceID, error) {
	if e.closed.Load() {
		return streamcore.InvalidResource, ErrEngineClosed
	}

	granules, err := desc.validate(e.cfg.SlotSizeBytes)
	if err != nil {
		return streamcore.InvalidResource, err
	}

	id := streamcore.ResourceID(e.nextID.Add(1))
	rs := &resourceState{
		desc:       desc,
		id:         id,
		granules:   granules,
		floorStart: granules,
	}

	switch desc.Kind {
	case streamcore.KindMipPyramid:
		rs.sizes = make([]uint64, granules)
		for level := range granules {
			rs.sizes[level] = vaddr.LevelByteSize(desc.Width, desc.Height, desc.Format, level)
		}
		rs.floorStart = granules - desc.FloorLevels
	case streamcore.KindPageTable:
		rs.pages = vaddr.NewPageTable(desc.PageCountX, desc.PageCountY)
		rs.bitmap = feedback.NewBitmap(granules)
	}

	e.res.Register(id, granules)
	e.mu.Lock()
	e.resources[id] = rs
	e.mu.Unlock()

	frame := e.frame.Load()
	for level := rs.floorStart; level < granules; level++ {
		e.pushRequest(streamcore.GranuleKey{Resource: id, Level: uint16(level)}, //nolint:gosec // granules fits uint16
			streamcore.PriorityCritical, 0, frame)
	}

	e.log.Info("resource registered",
		"id", id,
		"label", desc.Label,
		"kind", desc.Kind,
		"granules", granules)
	return id, nil
}

// UnregisterResource evicts every resident granule of the resource,
// returns their slots to the arena, and removes the resource. Unknown IDs
// are a silent no-op (logged at debug level); callers are expected to
// only hold valid IDs. Frame-thread only.
func (e *Engine) UnregisterResource(id ResourceID) {
	if !e.res.Unregister(id) {
		e.log.Debug("unregister of unknown resource ignored", "id", id)
		return
	}

	e.phys.ReleaseResource(id)
	if e.cache != nil {
		e.cache.DropResource(id)
	}

	e.mu.Lock()
	delete(e.resources, id)
	e.mu.Unlock()

	e.log.Info("resource unregistered", "id", id)
}

// BeginFrame starts a new frame. Must be called exactly once per frame,
// before Update.
func (e *Engine) BeginFrame(frame uint64) {
	e.frame.Store(frame)
}

// Update runs one frame of streaming control: it drains feedback into the
// scheduler, applies worker completions (slot allocation, upload
// submission, residency transitions), evicts under budget pressure, and
// publishes the page tables for the next frame's consumers.
//
// Update never blocks on streaming I/O; all blocking work happens on the
// fulfillment workers.
func (e *Engine) Update() {
	if e.closed.Load() {
		return
	}
	frame := e.frame.Load()

	e.processFeedback(frame)
	e.applyCompletions(frame)
	e.evict(frame)
	e.publish(frame)
}

// Feedback buffers consumer-reported demand entries. Lossy past the
// configured capacity. Safe for concurrent use.
func (e *Engine) Feedback(entries ...FeedbackEntry) {
	e.list.Add(entries...)
}

// FeedbackBitmap ORs a producer-written request bitmap into the page
// feedback of a page-table resource. Unknown IDs and non-page resources
// are a no-op. Safe for concurrent use.
func (e *Engine) FeedbackBitmap(id ResourceID, words []uint64) {
	e.mu.Lock()
	rs := e.resources[id]
	e.mu.Unlock()
	if rs == nil || rs.bitmap == nil {
		e.log.Debug("bitmap feedback for unknown page resource ignored", "id", id)
		return
	}
	rs.bitmap.Merge(words)
}

// ForceLoad schedules a granule at Critical priority, bypassing normal
// feedback-driven ordering. For assets that must never show a coarse
// fallback. Safe for concurrent use.
func (e *Engine) ForceLoad(id ResourceID, level int) {
	if level < 0 || level > int(^uint16(0)) {
		return
	}
	key := streamcore.GranuleKey{Resource: id, Level: uint16(level)}
	if st, ok := e.res.Status(key); !ok || st != streamcore.StatusNotLoaded {
		return
	}
	e.pushRequest(key, streamcore.PriorityCritical, 1, e.frame.Load())
}

// ResidentLevel returns the finest currently resident level of the
// resource: the best level a consumer can sample right now. The second
// result is false for unknown IDs or when nothing is resident yet.
func (e *Engine) ResidentLevel(id ResourceID) (int, bool) {
	return e.res.LowestResidentLevel(id)
}

// GranuleStatus returns the residency status of one granule.
func (e *Engine) GranuleStatus(key GranuleKey) (Status, bool) {
	return e.res.Status(key)
}

// PageSlot returns last frame's published physical slot of a virtual
// page, or InvalidSlot if the page is unmapped or the resource is not a
// page table.
func (e *Engine) PageSlot(id ResourceID, x, y int) SlotIndex {
	e.mu.Lock()
	rs := e.resources[id]
	e.mu.Unlock()
	if rs == nil || rs.pages == nil {
		return streamcore.InvalidSlot
	}
	page := rs.pages.PageIndex(x, y)
	if page < 0 {
		return streamcore.InvalidSlot
	}
	return rs.pages.Published(e.frame.Load())[page]
}

// NotifyEpochRetired completes the reclamation of every eviction marked
// at or before the given epoch: the graphics collaborator calls this once
// it knows no in-flight read can touch the affected slots. Frame-thread
// only.
func (e *Engine) NotifyEpochRetired(epoch uint64) {
	for _, key := range e.phys.RetireEpoch(epoch) {
		e.res.CompareAndSetStatus(key, streamcore.StatusPendingEvict, streamcore.StatusNotLoaded)
		e.log.Debug("eviction retired", "granule", key, "epoch", epoch)
	}
}

// SetBudget replaces the byte budget. Lowering it below current usage
// triggers eviction on the next Update. Values below MinBudgetMB are
// raised to it. Frame-thread only.
func (e *Engine) SetBudget(megabytes int) {
	if megabytes < MinBudgetMB {
		megabytes = MinBudgetMB
	}
	e.phys.SetBudget(uint64(megabytes) * 1024 * 1024) //nolint:gosec // clamped above
}

// Stats returns a snapshot of engine state and counters.
func (e *Engine) Stats() Stats {
	resident, loading := e.res.Counts()
	s := Stats{
		BudgetBytes:     e.phys.BudgetBytes(),
		BoundBytes:      e.phys.BoundBytes(),
		BoundSlots:      e.phys.BoundSlots(),
		FreeSlots:       e.phys.FreeSlots(),
		Resident:        resident,
		Loading:         loading,
		Evictions:       e.phys.Evictions(),
		LoadFailures:    e.loadFailures.Load(),
		DroppedFeedback: e.list.Dropped(),
		Uploads:         e.uploads.Load(),
	}
	if e.cache != nil {
		s.CacheHits = e.cache.Hits()
		s.CacheMisses = e.cache.Misses()
	}
	return s
}

// pushRequest enqueues a load request with an instance-scoped sequence
// number.
func (e *Engine) pushRequest(key streamcore.GranuleKey, prio streamcore.Priority, coverage float32, frame uint64) {
	e.queue.Push(streamcore.Request{
		Key:      key,
		Priority: prio,
		Coverage: coverage,
		Frame:    frame,
		Seq:      e.requestSeq.Add(1),
	})
}

// produceGranule is the pool's produce function: cache lookup, then the
// resource's producer. Runs on fulfillment workers.
func (e *Engine) produceGranule(key streamcore.GranuleKey) ([]byte, error) {
	e.mu.Lock()
	rs := e.resources[key.Resource]
	e.mu.Unlock()
	if rs == nil {
		return nil, ErrUnknownResource
	}

	if e.cache != nil {
		if data, ok := e.cache.Get(key); ok {
			return data, nil
		}
	}

	data, err := rs.desc.Producer.Produce(int(key.Level))
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Put(key, data)
	}
	return data, nil
}

// processFeedback drains both feedback shapes into scheduling demand.
func (e *Engine) processFeedback(frame uint64) {
	for _, d := range e.list.Drain() {
		e.applyDemand(d, frame)
	}

	e.mu.Lock()
	var pageResources []*resourceState
	for _, rs := range e.resources {
		if rs.bitmap != nil {
			pageResources = append(pageResources, rs)
		}
	}
	e.mu.Unlock()

	for _, rs := range pageResources {
		id := rs.id
		rs.bitmap.Drain(func(page int) {
			e.applyDemand(streamcore.Demand{
				Key: streamcore.GranuleKey{Resource: id, Level: uint16(page)}, //nolint:gosec // grid bounded at validate
			}, frame)
		})
	}
}

// applyDemand classifies one deduplicated demand against the residency
// table: resident granules are touched (refreshing the grace window),
// missing granules are scheduled at High priority, and granules already
// loading or awaiting eviction retirement are left alone.
func (e *Engine) applyDemand(d streamcore.Demand, frame uint64) {
	st, ok := e.res.Status(d.Key)
	if !ok {
		e.log.Debug("feedback for unknown granule ignored", "granule", d.Key)
		return
	}
	switch st {
	case streamcore.StatusResident:
		e.phys.Touch(d.Key, frame)
	case streamcore.StatusNotLoaded:
		e.pushRequest(d.Key, streamcore.PriorityHigh, d.Coverage, frame)
	case streamcore.StatusLoading, streamcore.StatusPendingEvict:
		// Already in flight, or the slot is still draining; the demand
		// re-signals next frame if it persists.
	}
}

// applyCompletions drains the worker completion channel without blocking
// and finishes each load on the frame thread: slot allocation, upload
// submission, and the Resident transition.
func (e *Engine) applyCompletions(frame uint64) {
	for {
		select {
		case c := <-e.pool.Completions():
			e.applyCompletion(c, frame)
		default:
			return
		}
	}
}

func (e *Engine) applyCompletion(c stream.Completion, frame uint64) {
	defer e.queue.EndPending(c.Key)

	release := func() {
		if c.Data != nil {
			e.staging.Release(c.Data)
		}
	}

	e.mu.Lock()
	rs := e.resources[c.Key.Resource]
	e.mu.Unlock()
	if rs == nil {
		// Resource unregistered while the load was in flight.
		release()
		return
	}

	if c.Err != nil {
		e.res.CompareAndSetStatus(c.Key, streamcore.StatusLoading, streamcore.StatusNotLoaded)
		e.loadFailures.Add(1)
		e.log.Warn("granule load failed", "granule", c.Key, "err", c.Err)
		release()
		return
	}

	slot, ok := e.phys.Alloc(c.Key, rs.granuleSize(int(c.Key.Level)), frame)
	if !ok {
		// No free slot: stay NotLoaded and rely on the fallback floor;
		// feedback re-signals the demand once slots drain.
		e.res.CompareAndSetStatus(c.Key, streamcore.StatusLoading, streamcore.StatusNotLoaded)
		release()
		return
	}

	err := e.submitter.Submit(CopyCommand{
		Key:    c.Key,
		Slot:   slot,
		Extent: rs.extent(int(c.Key.Level)),
		Format: rs.desc.Format,
		Data:   c.Data,
		Epoch:  frame,
	})
	release()
	if err != nil {
		// Nothing consumed the slot yet, so it can return immediately.
		e.phys.Release(c.Key)
		e.res.CompareAndSetStatus(c.Key, streamcore.StatusLoading, streamcore.StatusNotLoaded)
		e.loadFailures.Add(1)
		e.log.Warn("granule upload failed", "granule", c.Key, "err", err)
		return
	}

	e.uploads.Add(1)
	e.res.CompareAndSetStatus(c.Key, streamcore.StatusLoading, streamcore.StatusResident)
	if rs.pages != nil {
		rs.pages.Set(int(c.Key.Level), slot)
	}
	e.log.Debug("granule resident", "granule", c.Key, "slot", slot)
}

// evict reclaims cold granules once the bound byte total exceeds the
// budget, excluding floor granules and anything inside the grace window.
func (e *Engine) evict(frame uint64) {
	marked := e.phys.EvictIfNeeded(frame, frame, e.isFloor)
	if len(marked) == 0 {
		return
	}

	for _, key := range marked {
		e.res.SetStatus(key, streamcore.StatusPendingEvict)

		// Unmap the page right away so no new consumer resolves to a slot
		// that is about to drain.
		e.mu.Lock()
		rs := e.resources[key.Resource]
		e.mu.Unlock()
		if rs != nil && rs.pages != nil {
			rs.pages.Clear(int(key.Level))
		}
		e.log.Debug("granule marked for eviction", "granule", key)
	}
}

// isFloor reports whether a granule belongs to its resource's pinned
// fallback floor.
func (e *Engine) isFloor(key streamcore.GranuleKey) bool {
	e.mu.Lock()
	rs := e.resources[key.Resource]
	e.mu.Unlock()
	if rs == nil {
		return false
	}
	return int(key.Level) >= rs.floorStart
}

// publish snapshots every page table for the next frame's consumers. This
// is the only state that must be visible to consumers synchronously with
// the frame boundary; everything else is internal bookkeeping.
func (e *Engine) publish(frame uint64) {
	e.mu.Lock()
	var pageResources []*resourceState
	for _, rs := range e.resources {
		if rs.pages != nil {
			pageResources = append(pageResources, rs)
		}
	}
	e.mu.Unlock()

	for _, rs := range pageResources {
		rs.pages.Publish(frame)
	}
}
