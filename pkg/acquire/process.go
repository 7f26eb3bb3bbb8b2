package acquire

import (
	"context"
	"fmt"
	"image"

	"github.com/wachiwi/framecam/pkg/camera"
	"github.com/wachiwi/framecam/pkg/encode"
	"github.com/wachiwi/framecam/pkg/header"
	"github.com/wachiwi/framecam/pkg/imaging"
	"github.com/wachiwi/framecam/pkg/raw"
	"github.com/wachiwi/framecam/pkg/sequencer"
)

// ProcessOptions shape payloads into output frames.
type ProcessOptions struct {
	Output encode.Format
	HFlip  bool
	VFlip  bool
	// WhiteBalance and Gamma apply to raw frames only. Gamma of 0 skips
	// the correction.
	WhiteBalance bool
	Gamma        float64
	// Focus selects a sharpness metric: "laplacian", "tenengrad" or "".
	Focus string
}

func (o ProcessOptions) flips() bool { return o.HFlip || o.VFlip }

// process turns a payload into an encoded frame. JPEG payloads pass
// through untouched unless they must be flipped, measured or converted.
func (s *Session) process(ctx context.Context, p *sequencer.Payload) (*camera.Frame, error) {
	po := s.opts.Process

	var img *imaging.Image
	switch {
	case p.Format.IsRaw():
		var err error
		img, err = raw.Reconstruct(raw.Frame{
			Format:       p.Format,
			Interleaving: p.Interleaving,
			Width:        p.Width,
			Height:       p.Height,
			Data:         p.Data,
		})
		if err != nil {
			return nil, err
		}
		if po.WhiteBalance {
			img = imaging.WhiteBalance(img)
		}
		if po.Gamma > 0 {
			img = imaging.Gamma(img, po.Gamma)
		}

	case p.Format == header.JPEG:
		if po.Output == encode.JPEG && !po.flips() && po.Focus == "" {
			return &camera.Frame{
				Format: encode.JPEG,
				Width:  p.Width,
				Height: p.Height,
				Data:   p.Data,
			}, nil
		}
		decoded, _, err := encode.Decode(p.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", sequencer.ErrCorruptPayload, err)
		}
		img = decoded

	default:
		return nil, fmt.Errorf("%w: %s", raw.ErrUnsupportedFormat, p.Format)
	}

	s.measureFocus(ctx, img)
	img = imaging.Flip(img, po.HFlip, po.VFlip)

	data, err := encode.Encode(img, po.Output)
	if err != nil {
		return nil, err
	}
	return &camera.Frame{
		Format: po.Output,
		Width:  img.Width,
		Height: img.Height,
		Data:   data,
	}, nil
}

func (s *Session) measureFocus(ctx context.Context, img *imaging.Image) {
	var score float64
	switch s.opts.Process.Focus {
	case "laplacian":
		score = imaging.Laplacian(img, image.Rectangle{})
	case "tenengrad":
		score = imaging.Tenengrad(img, image.Rectangle{})
	default:
		return
	}
	s.observer.FocusMeasured(ctx, s.opts.Process.Focus, score)
	s.logger.Debug("focus", "method", s.opts.Process.Focus, "score", fmt.Sprintf("%.2f", score))
}
