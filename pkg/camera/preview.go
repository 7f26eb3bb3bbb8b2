package camera

import (
	"context"
	"fmt"

	"github.com/wachiwi/framecam/pkg/encode"
	"github.com/wachiwi/framecam/pkg/imaging"
)

// Default preview window.
const (
	PreviewWidth  = 1280
	PreviewHeight = 720
)

// Preview keeps a JPEG copy of the latest frame scaled to fit a window.
type Preview struct {
	*Cell
	MaxWidth  int
	MaxHeight int
}

func NewPreview(maxWidth, maxHeight int, cell *Cell) *Preview {
	if maxWidth <= 0 {
		maxWidth = PreviewWidth
	}
	if maxHeight <= 0 {
		maxHeight = PreviewHeight
	}
	return &Preview{Cell: cell, MaxWidth: maxWidth, MaxHeight: maxHeight}
}

// Deliver transcodes f when it is not a JPEG or does not fit the window.
// The decode and encode run outside the cell's lock.
func (p *Preview) Deliver(ctx context.Context, f *Frame) error {
	w, h := imaging.FitSize(f.Width, f.Height, p.MaxWidth, p.MaxHeight)
	if f.Format == encode.JPEG && w == f.Width && h == f.Height {
		return p.Cell.Deliver(ctx, f)
	}

	img, _, err := encode.Decode(f.Data)
	if err != nil {
		return fmt.Errorf("preview frame %d: %w", f.Seq, err)
	}
	scaled := imaging.Fit(img, p.MaxWidth, p.MaxHeight)
	data, err := encode.Encode(scaled, encode.JPEG)
	if err != nil {
		return fmt.Errorf("preview frame %d: %w", f.Seq, err)
	}

	b := scaled.Bounds()
	return p.Cell.Deliver(ctx, &Frame{
		Seq:        f.Seq,
		Format:     encode.JPEG,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Data:       data,
		CapturedAt: f.CapturedAt,
	})
}
