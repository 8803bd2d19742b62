package vstream

import "errors"

// Engine errors. Nothing in this core is fatal to a frame loop: every
// runtime failure mode degrades quality, never availability. These
// sentinels cover construction-time and boundary misuse only.
var (
	// ErrEngineClosed is returned when operating on a closed engine.
	ErrEngineClosed = errors.New("vstream: engine closed")

	// ErrInvalidDescriptor is returned when a resource descriptor fails
	// validation.
	ErrInvalidDescriptor = errors.New("vstream: invalid resource descriptor")

	// ErrNilProducer is returned when a descriptor carries no producer.
	ErrNilProducer = errors.New("vstream: descriptor has no producer")

	// ErrNilSource is returned when a mip producer is created without a
	// source image.
	ErrNilSource = errors.New("vstream: mip producer has no source image")

	// ErrUnknownResource is returned by workers producing for a resource
	// that was unregistered mid-flight. Query APIs never return it; they
	// degrade to no-ops at the boundary.
	ErrUnknownResource = errors.New("vstream: unknown resource")

	// ErrLevelOutOfRange is returned when producing a granule outside the
	// resource's level range.
	ErrLevelOutOfRange = errors.New("vstream: level out of range")
)
