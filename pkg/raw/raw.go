// Package raw turns an 8-bit Bayer sensor dump into a color image: the
// interleaved row bands are put back in order and the mosaic is
// interpolated.
package raw

import (
	"errors"
	"fmt"

	"github.com/wachiwi/framecam/pkg/header"
	"github.com/wachiwi/framecam/pkg/imaging"
)

var (
	// ErrPrecondition means the frame's geometry is unusable. Only the
	// current frame is lost.
	ErrPrecondition = errors.New("raw frame precondition failed")
	// ErrUnsupportedFormat means no Bayer pattern exists for the format.
	ErrUnsupportedFormat = errors.New("unsupported raw format")
)

// Pattern is the arrangement of the 2×2 Bayer filter cell.
type Pattern int

const (
	GRBG Pattern = iota
	BGGR
)

func (p Pattern) String() string {
	switch p {
	case GRBG:
		return "GRBG"
	case BGGR:
		return "BGGR"
	}
	return fmt.Sprintf("Pattern(%d)", int(p))
}

// cells lists the channel sampled at each phase, indexed by
// (y&1)*2 + (x&1).
var cells = map[Pattern][4]int{
	GRBG: {imaging.Green, imaging.Red, imaging.Blue, imaging.Green},
	BGGR: {imaging.Blue, imaging.Green, imaging.Green, imaging.Red},
}

// PatternFor maps a header format to its Bayer pattern.
func PatternFor(f header.Format) (Pattern, error) {
	switch f {
	case header.RawGRBG8:
		return GRBG, nil
	case header.RawBGGR8:
		return BGGR, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
}

// Frame is a received raw payload with its geometry.
type Frame struct {
	Format       header.Format
	Interleaving int
	Width        int
	Height       int
	Data         []byte
}

// Reconstruct deinterleaves and demosaics f.
func Reconstruct(f Frame) (*imaging.Image, error) {
	p, err := PatternFor(f.Format)
	if err != nil {
		return nil, err
	}
	if len(f.Data) != f.Width*f.Height {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", ErrPrecondition, len(f.Data), f.Width, f.Height)
	}

	mosaic := f.Data
	if f.Interleaving > 1 {
		mosaic, err = Deinterleave(f.Data, f.Width, f.Height, f.Interleaving)
		if err != nil {
			return nil, err
		}
	}
	return Demosaic(mosaic, f.Width, f.Height, p)
}

// Deinterleave restores row order. The input holds factor bands of
// height/factor rows; row i of band k becomes output row i*factor+k.
func Deinterleave(buf []byte, width, height, factor int) ([]byte, error) {
	if factor <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w: %dx%d with interleaving %d", ErrPrecondition, width, height, factor)
	}
	if height%factor != 0 {
		return nil, fmt.Errorf("%w: height %d is not a multiple of interleaving %d", ErrPrecondition, height, factor)
	}
	if len(buf) != width*height {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", ErrPrecondition, len(buf), width, height)
	}

	band := height / factor
	out := make([]byte, len(buf))
	for k := 0; k < factor; k++ {
		for i := 0; i < band; i++ {
			src := (k*band + i) * width
			dst := (i*factor + k) * width
			copy(out[dst:dst+width], buf[src:src+width])
		}
	}
	return out, nil
}

// Demosaic interpolates a Bayer mosaic. Each output pixel takes its red and
// blue from the 2×2 cell starting at the pixel and the rounded mean of the
// two greens in it. On the last row and column the cell shifts back by one.
func Demosaic(mosaic []byte, width, height int, p Pattern) (*imaging.Image, error) {
	cell, ok := cells[p]
	if !ok {
		return nil, fmt.Errorf("%w: pattern %s", ErrUnsupportedFormat, p)
	}
	if width < 2 || height < 2 {
		return nil, fmt.Errorf("%w: %dx%d is smaller than one Bayer cell", ErrPrecondition, width, height)
	}
	if len(mosaic) != width*height {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", ErrPrecondition, len(mosaic), width, height)
	}

	img := imaging.New(width, height)
	for y := 0; y < height; y++ {
		y0 := min(y, height-2)
		for x := 0; x < width; x++ {
			x0 := min(x, width-2)

			var rgb [3]uint8
			var greens uint16
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					py, px := y0+dy, x0+dx
					v := mosaic[py*width+px]
					switch c := cell[(py&1)*2+(px&1)]; c {
					case imaging.Green:
						greens += uint16(v)
					default:
						rgb[c] = v
					}
				}
			}
			rgb[imaging.Green] = uint8((greens + 1) >> 1)
			img.SetRGB(x, y, rgb[imaging.Red], rgb[imaging.Green], rgb[imaging.Blue])
		}
	}
	return img, nil
}
