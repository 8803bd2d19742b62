package vstream

import (
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vstream/streamcore"
)

// CopyCommand describes one granule upload from the staging area into its
// physical slot. The engine's frame thread issues exactly one command per
// granule that becomes resident.
type CopyCommand struct {
	// Key identifies the granule being uploaded.
	Key GranuleKey

	// Slot is the destination physical slot.
	Slot SlotIndex

	// Extent is the texel extent of the payload. For the page-table kind
	// the payload is linear and Extent describes a Width-by-1 run.
	Extent gputypes.Extent3D

	// Format is the texel format of the payload.
	Format gputypes.TextureFormat

	// Data is the staged payload. It is valid only for the duration of
	// Submit; implementations that upload asynchronously must copy it.
	Data []byte

	// Epoch is the frame the command was issued on. The collaborator
	// reports retirement of whole epochs back through
	// Engine.NotifyEpochRetired.
	Epoch uint64
}

// Submitter is the graphics-command submission collaborator: it owns
// device memory and turns copy commands into GPU work. The streaming core
// never talks to a device directly.
//
// Submit is called from the frame thread only.
type Submitter interface {
	Submit(cmd CopyCommand) error
}

// MemorySubmitter is a Submitter that stores slot contents in host memory.
// It backs the examples and tests, and works as a reference for real
// device-backed implementations.
//
// MemorySubmitter is safe for concurrent use.
type MemorySubmitter struct {
	mu    sync.RWMutex
	slots map[streamcore.SlotIndex][]byte
}

// NewMemorySubmitter creates an empty in-memory submitter.
func NewMemorySubmitter() *MemorySubmitter {
	return &MemorySubmitter{
		slots: make(map[streamcore.SlotIndex][]byte),
	}
}

// Submit copies the payload into the slot's backing buffer.
func (s *MemorySubmitter) Submit(cmd CopyCommand) error {
	buf := make([]byte, len(cmd.Data))
	copy(buf, cmd.Data)

	s.mu.Lock()
	s.slots[cmd.Slot] = buf
	s.mu.Unlock()
	return nil
}

// Slot returns the current contents of a physical slot, or nil if nothing
// was ever uploaded to it. The returned slice is shared; treat it as
// read-only.
func (s *MemorySubmitter) Slot(i SlotIndex) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots[i]
}
