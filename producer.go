package vstream

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/vstream/internal/vaddr"
)

// Producer supplies the raw bytes of one granule on demand. Produce is
// called synchronously from fulfillment workers and must be safe for
// concurrent use; blocking on I/O or decode inside Produce is expected
// and is the reason fulfillment runs off the frame thread.
type Producer interface {
	// Produce returns the bytes of the given granule: a mip level index
	// for the pyramid kind, a linear page index for the page-table kind.
	Produce(granule int) ([]byte, error)
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(granule int) ([]byte, error)

// Produce calls f.
func (f ProducerFunc) Produce(granule int) ([]byte, error) { return f(granule) }

// MipProducer produces RGBA8 mip levels of a source image by filtered
// downsampling. It is the built-in producer for the mip-pyramid kind;
// anything beyond simple downsampling (disk reads, transcoding) belongs
// in a caller-supplied Producer.
type MipProducer struct {
	src    *image.RGBA
	width  uint32
	height uint32
	levels int
}

// NewMipProducer creates a producer for the full mip chain of src.
// The source is copied into tightly packed RGBA once, up front.
func NewMipProducer(src image.Image) (*MipProducer, error) {
	if src == nil {
		return nil, ErrNilSource
	}

	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty source bounds %v", ErrNilSource, b)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Copy(rgba, image.Point{}, src, b, xdraw.Src, nil)

	w := uint32(b.Dx()) //nolint:gosec // bounds checked positive above
	h := uint32(b.Dy()) //nolint:gosec
	return &MipProducer{
		src:    rgba,
		width:  w,
		height: h,
		levels: vaddr.MipCount(w, h),
	}, nil
}

// Levels returns the number of mip levels the producer can supply.
func (p *MipProducer) Levels() int { return p.levels }

// Produce renders one mip level. Level 0 returns a copy of the source
// pixels; deeper levels are box-filtered down via the x/image scaler.
func (p *MipProducer) Produce(granule int) ([]byte, error) {
	if granule < 0 || granule >= p.levels {
		return nil, fmt.Errorf("%w: level %d of %d", ErrLevelOutOfRange, granule, p.levels)
	}

	if granule == 0 {
		out := make([]byte, len(p.src.Pix))
		copy(out, p.src.Pix)
		return out, nil
	}

	e := vaddr.LevelExtent(p.width, p.height, granule)
	dst := image.NewRGBA(image.Rect(0, 0, int(e.Width), int(e.Height)))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), p.src, p.src.Bounds(), xdraw.Src, nil)
	return dst.Pix, nil
}
