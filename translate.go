package vstream

import "github.com/gogpu/vstream/internal/vaddr"

// MipCount returns the number of mip levels in a full chain for the given
// base extent.
func MipCount(width, height uint32) int {
	return vaddr.MipCount(width, height)
}

// IdealLevel maps a sampling density (texels per screen pixel at the
// finest level) to the mip level closest to one texel per pixel, clamped
// to [0, maxLevel]. Consumers use it to turn their sampling footprint
// into FeedbackEntry levels.
func IdealLevel(texelsPerPixel float32, maxLevel int) int {
	return vaddr.IdealLevel(texelsPerPixel, maxLevel)
}
