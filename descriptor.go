package vstream

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vstream/internal/vaddr"
	"github.com/gogpu/vstream/streamcore"
)

// Descriptor defaults.
const (
	// DefaultPageCount is the default virtual page grid edge (128x128
	// pages) for the page-table kind.
	DefaultPageCount = 128

	// DefaultFloorLevels is the number of coarsest mip levels preloaded
	// and kept permanently resident as the sampling fallback.
	DefaultFloorLevels = 1
)

// ResourceDesc describes a streamable resource at registration time.
// The zero Kind is KindMipPyramid.
type ResourceDesc struct {
	// Kind selects mip-pyramid or page-table addressing.
	Kind ResourceKind

	// Label is an optional debug label.
	Label string

	// Width and Height are the base extent in texels (mip-pyramid kind).
	Width  uint32
	Height uint32

	// Format determines granule byte sizes. Defaults to RGBA8Unorm.
	Format gputypes.TextureFormat

	// MipLevels limits the pyramid depth. Zero means the full chain down
	// to one texel.
	MipLevels int

	// FloorLevels is the number of coarsest levels to preload and pin.
	// Defaults to DefaultFloorLevels for the mip-pyramid kind; the
	// page-table kind has no floor (its fallback is an external coarser
	// source).
	FloorLevels int

	// PageCountX and PageCountY are the virtual grid dimensions
	// (page-table kind). Both default to DefaultPageCount.
	PageCountX int
	PageCountY int

	// PageSizeBytes is the byte size of one page (page-table kind).
	// Defaults to the engine's physical slot size.
	PageSizeBytes uint64

	// Producer supplies granule bytes. Required.
	Producer Producer
}

// validate normalizes the descriptor against engine defaults and returns
// the derived granule geometry.
func (d *ResourceDesc) validate(slotSize uint64) (granules int, err error) {
	if d.Producer == nil {
		return 0, ErrNilProducer
	}

	switch d.Kind {
	case streamcore.KindMipPyramid:
		if d.Width == 0 || d.Height == 0 {
			return 0, fmt.Errorf("%w: mip pyramid needs a nonzero extent", ErrInvalidDescriptor)
		}
		full := vaddr.MipCount(d.Width, d.Height)
		if d.MipLevels <= 0 || d.MipLevels > full {
			d.MipLevels = full
		}
		if d.FloorLevels <= 0 {
			d.FloorLevels = DefaultFloorLevels
		}
		if d.FloorLevels > d.MipLevels {
			d.FloorLevels = d.MipLevels
		}
		if d.Format == gputypes.TextureFormatUndefined {
			d.Format = gputypes.TextureFormatRGBA8Unorm
		}
		return d.MipLevels, nil

	case streamcore.KindPageTable:
		if d.PageCountX <= 0 {
			d.PageCountX = DefaultPageCount
		}
		if d.PageCountY <= 0 {
			d.PageCountY = DefaultPageCount
		}
		if d.PageSizeBytes == 0 {
			d.PageSizeBytes = slotSize
		}
		if d.Format == gputypes.TextureFormatUndefined {
			d.Format = gputypes.TextureFormatRGBA8Unorm
		}
		d.FloorLevels = 0
		granules = d.PageCountX * d.PageCountY
		if granules > int(^uint16(0))+1 {
			return 0, fmt.Errorf("%w: page grid %dx%d exceeds the granule address space",
				ErrInvalidDescriptor, d.PageCountX, d.PageCountY)
		}
		return granules, nil

	default:
		return 0, fmt.Errorf("%w: unknown kind %v", ErrInvalidDescriptor, d.Kind)
	}
}
