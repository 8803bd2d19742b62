// Package vaddr implements the virtual address translator: pure mapping
// functions between virtual coordinates, detail levels, and granule IDs,
// plus the page-table array for the sparse-addressing variant.
package vaddr

import (
	"github.com/chewxy/math32"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/vstream/streamcore"
)

// MipCount returns the number of mip levels for a pyramid of the given
// base extent: floor(log2(max(w, h))) + 1. Zero extents count as one texel.
func MipCount(width, height uint32) int {
	m := max(width, height)
	if m <= 1 {
		return 1
	}
	count := 1
	for m > 1 {
		m >>= 1
		count++
	}
	return count
}

// LevelExtent returns the extent of one mip level. Each level halves both
// dimensions, clamped to one texel.
func LevelExtent(width, height uint32, level int) gputypes.Extent3D {
	w := width >> uint(level)
	h := height >> uint(level)
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	return gputypes.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1}
}

// LevelByteSize returns the byte size of one mip level in the given format.
func LevelByteSize(width, height uint32, format gputypes.TextureFormat, level int) uint64 {
	e := LevelExtent(width, height, level)
	return uint64(e.Width) * uint64(e.Height) * TexelSize(format)
}

// TexelSize returns the bytes per texel of a format. Formats outside the
// streaming-relevant set fall back to 4 bytes.
func TexelSize(format gputypes.TextureFormat) uint64 {
	switch format {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatDepth24PlusStencil8:
		return 4
	default:
		return 4
	}
}

// IdealLevel returns the mip level that maps the given texel-to-pixel ratio
// to roughly one texel per pixel, clamped to [0, maxLevel]. A ratio of 1 or
// less selects the finest level.
func IdealLevel(texelsPerPixel float32, maxLevel int) int {
	if texelsPerPixel <= 1 {
		return 0
	}
	level := int(math32.Floor(math32.Log2(texelsPerPixel)))
	if level < 0 {
		level = 0
	}
	if level > maxLevel {
		level = maxLevel
	}
	return level
}

// GranuleForCoord maps a normalized virtual coordinate plus detail level to
// the granule key of a mip-pyramid resource. For whole-level streaming the
// coordinate only selects the level.
func GranuleForCoord(id streamcore.ResourceID, texelsPerPixel float32, maxLevel int) streamcore.GranuleKey {
	return streamcore.GranuleKey{
		Resource: id,
		Level:    uint16(IdealLevel(texelsPerPixel, maxLevel)), //nolint:gosec // clamped to maxLevel
	}
}
