package vstream

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// levelProducer returns len-sized payloads filled with the level index so
// uploads are distinguishable in the submitter.
func levelProducer(w, h uint32) ProducerFunc {
	return func(granule int) ([]byte, error) {
		size := int(levelBytes(w, h, granule))
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(granule)
		}
		return data, nil
	}
}

func levelBytes(w, h uint32, level int) uint64 {
	for range level {
		if w > 1 {
			w >>= 1
		}
		if h > 1 {
			h >>= 1
		}
	}
	return uint64(w) * uint64(h) * 4
}

// pump drives frames until cond holds or the deadline passes. Fulfillment
// is asynchronous, so tests poll across frames rather than assuming a
// load count per update.
func pump(t *testing.T, e *Engine, frame *uint64, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		*frame++
		e.BeginFrame(*frame)
		e.Update()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestRegisterPreloadsFloor tests that the pinned coarse levels become
// resident without any feedback, and that ResidentLevel reports the
// finest of them.
func TestRegisterPreloadsFloor(t *testing.T) {
	e, err := New(Config{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	id, err := e.RegisterResource(ResourceDesc{
		Width: 8, Height: 8, // 4-level chain
		FloorLevels: 2,
		Producer:    levelProducer(8, 8),
	})
	if err != nil {
		t.Fatal(err)
	}

	var frame uint64
	pump(t, e, &frame, "floor preload", func() bool {
		for level := uint16(2); level < 4; level++ {
			st, _ := e.GranuleStatus(GranuleKey{Resource: id, Level: level})
			if st != StatusResident {
				return false
			}
		}
		return true
	})

	if level, ok := e.ResidentLevel(id); !ok || level != 2 {
		t.Errorf("ResidentLevel = %d, %v; want 2, true", level, ok)
	}
	if st, _ := e.GranuleStatus(GranuleKey{Resource: id, Level: 0}); st != StatusNotLoaded {
		t.Errorf("level 0 = %v, want NotLoaded without feedback", st)
	}
}

// TestFeedbackDrivesLoad tests the end-to-end demand path: a feedback
// entry for a missing level makes it resident, its bytes reach the
// submitter, and duplicate entries cause exactly one upload.
func TestFeedbackDrivesLoad(t *testing.T) {
	sub := NewMemorySubmitter()
	e, err := New(Config{Workers: 2, Submitter: sub})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	id, err := e.RegisterResource(ResourceDesc{
		Width: 8, Height: 8,
		Producer: levelProducer(8, 8),
	})
	if err != nil {
		t.Fatal(err)
	}

	var frame uint64
	pump(t, e, &frame, "floor preload", func() bool {
		_, ok := e.ResidentLevel(id)
		return ok
	})

	key := GranuleKey{Resource: id, Level: 0}
	for range 5 {
		e.Feedback(FeedbackEntry{Resource: id, Level: 0, Coverage: 0.8})
	}
	pump(t, e, &frame, "level 0 load", func() bool {
		st, _ := e.GranuleStatus(key)
		return st == StatusResident
	})

	if level, _ := e.ResidentLevel(id); level != 0 {
		t.Errorf("ResidentLevel = %d, want 0", level)
	}

	// One floor upload plus one level-0 upload; the duplicates collapsed.
	if got := e.Stats().Uploads; got != 2 {
		t.Errorf("Uploads = %d, want 2", got)
	}

	// The uploaded bytes must be the producer's level-0 payload: 8x8 RGBA
	// filled with the level index zero.
	want := make([]byte, 8*8*4)
	found := false
	for slot := 0; slot < e.Stats().BoundSlots+e.Stats().FreeSlots; slot++ {
		if data := sub.Slot(SlotIndex(slot)); bytes.Equal(data, want) {
			found = true
			break
		}
	}
	if !found {
		t.Error("level 0 payload not found in any submitter slot")
	}
}

// TestEvictionUnderPressure tests the budget invariant end to end: an
// oversized granule is marked for eviction after its grace window, its
// slot returns only on epoch retirement, and the pinned floor survives.
func TestEvictionUnderPressure(t *testing.T) {
	e, err := New(Config{
		BudgetMB:          16,
		Workers:           2,
		FramesBeforeEvict: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	// Level 0 of a 4096x4096 RGBA chain accounts for 64 MB, four times
	// the budget. The producer returns placeholder bytes; accounting uses
	// the computed level size.
	id, err := e.RegisterResource(ResourceDesc{
		Width: 4096, Height: 4096,
		Producer: ProducerFunc(func(granule int) ([]byte, error) {
			return []byte{byte(granule)}, nil
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	var frame uint64
	pump(t, e, &frame, "floor preload", func() bool {
		_, ok := e.ResidentLevel(id)
		return ok
	})
	floorKey := GranuleKey{Resource: id, Level: 12}

	key := GranuleKey{Resource: id, Level: 0}
	e.Feedback(FeedbackEntry{Resource: id, Level: 0, Coverage: 1})
	pump(t, e, &frame, "level 0 load", func() bool {
		st, _ := e.GranuleStatus(key)
		return st == StatusResident
	})

	// Over budget with no fresh access: the next updates mark it.
	pump(t, e, &frame, "eviction mark", func() bool {
		st, _ := e.GranuleStatus(key)
		return st == StatusPendingEvict
	})
	if st, _ := e.GranuleStatus(floorKey); st != StatusResident {
		t.Errorf("floor = %v, want Resident through eviction pressure", st)
	}
	if got := e.Stats().BoundBytes; got > e.Stats().BudgetBytes {
		t.Errorf("BoundBytes = %d still over budget %d after marking", got, e.Stats().BudgetBytes)
	}

	// Reclamation completes only when the consumer retires the epoch.
	e.NotifyEpochRetired(frame)
	if st, _ := e.GranuleStatus(key); st != StatusNotLoaded {
		t.Errorf("status after retirement = %v, want NotLoaded", st)
	}
	if got := e.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

// TestLoadFailureRollsBack tests that a failing producer counts a load
// failure and leaves the granule retryable instead of wedged in Loading.
func TestLoadFailureRollsBack(t *testing.T) {
	boom := errors.New("backing store unreachable")
	e, err := New(Config{Workers: 1, CacheCapacity: -1})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	var fail atomic.Bool
	fail.Store(true)
	id, err := e.RegisterResource(ResourceDesc{
		Width: 8, Height: 8,
		FloorLevels: 1,
		Producer: ProducerFunc(func(granule int) ([]byte, error) {
			if granule == 0 && fail.Load() {
				return nil, boom
			}
			return make([]byte, levelBytes(8, 8, granule)), nil
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	var frame uint64
	pump(t, e, &frame, "floor preload", func() bool {
		_, ok := e.ResidentLevel(id)
		return ok
	})

	key := GranuleKey{Resource: id, Level: 0}
	e.Feedback(FeedbackEntry{Resource: id, Level: 0})
	pump(t, e, &frame, "load failure", func() bool {
		return e.Stats().LoadFailures >= 1
	})
	pump(t, e, &frame, "rollback to NotLoaded", func() bool {
		st, _ := e.GranuleStatus(key)
		return st == StatusNotLoaded
	})

	// The failure is transient; a later demand succeeds.
	fail.Store(false)
	e.Feedback(FeedbackEntry{Resource: id, Level: 0})
	pump(t, e, &frame, "retry after failure", func() bool {
		st, _ := e.GranuleStatus(key)
		return st == StatusResident
	})
}

// TestForceLoad tests the priority bypass for must-have granules.
func TestForceLoad(t *testing.T) {
	e, err := New(Config{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	id, err := e.RegisterResource(ResourceDesc{
		Width: 8, Height: 8,
		Producer: levelProducer(8, 8),
	})
	if err != nil {
		t.Fatal(err)
	}

	e.ForceLoad(id, 1)
	e.ForceLoad(id, 99) // out of range, dropped

	var frame uint64
	pump(t, e, &frame, "forced load", func() bool {
		st, _ := e.GranuleStatus(GranuleKey{Resource: id, Level: 1})
		return st == StatusResident
	})
}

// TestPageTableResource tests the page-table kind end to end: bitmap
// feedback maps pages, PageSlot resolves through the published snapshot
// with one frame of latency, and unmapped pages stay invalid.
func TestPageTableResource(t *testing.T) {
	e, err := New(Config{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	id, err := e.RegisterResource(ResourceDesc{
		Kind:       KindPageTable,
		PageCountX: 4,
		PageCountY: 4,
		Producer: ProducerFunc(func(granule int) ([]byte, error) {
			return []byte{byte(granule)}, nil
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Request page 5, grid coordinate (1, 1).
	e.FeedbackBitmap(id, []uint64{1 << 5})
	e.FeedbackBitmap(999, []uint64{1}) // unknown resource, dropped

	var frame uint64
	pump(t, e, &frame, "page mapping", func() bool {
		return e.PageSlot(id, 1, 1) != InvalidSlot
	})

	if got := e.PageSlot(id, 0, 0); got != InvalidSlot {
		t.Errorf("PageSlot(0,0) = %d, want InvalidSlot for an unrequested page", got)
	}
	if got := e.PageSlot(id, -1, 7); got != InvalidSlot {
		t.Errorf("PageSlot out of grid = %d, want InvalidSlot", got)
	}
	if got := e.PageSlot(999, 0, 0); got != InvalidSlot {
		t.Errorf("PageSlot of unknown resource = %d, want InvalidSlot", got)
	}
}

// TestUnregisterResource tests teardown of a live resource and the
// silent no-op contract for unknown IDs.
func TestUnregisterResource(t *testing.T) {
	e, err := New(Config{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	id, err := e.RegisterResource(ResourceDesc{
		Width: 8, Height: 8,
		Producer: levelProducer(8, 8),
	})
	if err != nil {
		t.Fatal(err)
	}

	var frame uint64
	pump(t, e, &frame, "floor preload", func() bool {
		_, ok := e.ResidentLevel(id)
		return ok
	})
	slotsBefore := e.Stats().FreeSlots

	e.UnregisterResource(id)
	if _, ok := e.ResidentLevel(id); ok {
		t.Error("unregistered resource should have no resident level")
	}
	if got := e.Stats().FreeSlots; got <= slotsBefore {
		t.Errorf("FreeSlots = %d, want more than %d after release", got, slotsBefore)
	}

	e.UnregisterResource(id)  // double unregister: no-op
	e.UnregisterResource(424) // unknown: no-op
}

// TestRegisterValidation tests descriptor rejection.
func TestRegisterValidation(t *testing.T) {
	e, err := New(Config{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	tests := []struct {
		name string
		desc ResourceDesc
		want error
	}{
		{"nil producer", ResourceDesc{Width: 8, Height: 8}, ErrNilProducer},
		{"zero extent", ResourceDesc{Producer: levelProducer(8, 8)}, ErrInvalidDescriptor},
		{
			"page grid too large",
			ResourceDesc{
				Kind:       KindPageTable,
				PageCountX: 1024,
				PageCountY: 1024,
				Producer:   levelProducer(8, 8),
			},
			ErrInvalidDescriptor,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.RegisterResource(tt.desc); !errors.Is(err, tt.want) {
				t.Errorf("RegisterResource() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestSubmitFailureRollsBack tests that an upload failure releases the
// slot and counts as a load failure.
func TestSubmitFailureRollsBack(t *testing.T) {
	e, err := New(Config{Workers: 1, Submitter: submitFunc(func(CopyCommand) error {
		return errors.New("device lost")
	})})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	id, err := e.RegisterResource(ResourceDesc{
		Width: 8, Height: 8,
		Producer: levelProducer(8, 8),
	})
	if err != nil {
		t.Fatal(err)
	}

	var frame uint64
	pump(t, e, &frame, "submit failure", func() bool {
		return e.Stats().LoadFailures >= 1
	})
	if e.Stats().BoundSlots != 0 {
		t.Errorf("BoundSlots = %d, want 0 after failed submit", e.Stats().BoundSlots)
	}
	_, _ = e.ResidentLevel(id)
}

type submitFunc func(CopyCommand) error

func (f submitFunc) Submit(cmd CopyCommand) error { return f(cmd) }

// TestCloseIsTerminal tests post-Close behavior.
func TestCloseIsTerminal(t *testing.T) {
	e, err := New(Config{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}

	e.Close()
	e.Close() // idempotent

	if _, err := e.RegisterResource(ResourceDesc{
		Width: 8, Height: 8,
		Producer: levelProducer(8, 8),
	}); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("RegisterResource after Close = %v, want ErrEngineClosed", err)
	}

	// Update after Close is a no-op, not a panic.
	e.BeginFrame(1)
	e.Update()
}

// TestSetBudgetClamps tests the budget floor.
func TestSetBudgetClamps(t *testing.T) {
	e, err := New(Config{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	e.SetBudget(1)
	if got := e.Stats().BudgetBytes; got != MinBudgetMB*1024*1024 {
		t.Errorf("BudgetBytes = %d, want the %d MB floor", got, MinBudgetMB)
	}

	e.SetBudget(64)
	if got := e.Stats().BudgetBytes; got != 64*1024*1024 {
		t.Errorf("BudgetBytes = %d, want 64 MB", got)
	}
}
