package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// Flip mirrors m horizontally, vertically or both. It returns m itself
// when neither is requested.
func Flip(m *Image, horizontal, vertical bool) *Image {
	if !horizontal && !vertical {
		return m
	}
	out := New(m.Width, m.Height)
	row := m.Width * 3
	for y := 0; y < m.Height; y++ {
		sy := y
		if vertical {
			sy = m.Height - 1 - y
		}
		src := m.Pix[sy*row : (sy+1)*row]
		dst := out.Pix[y*row : (y+1)*row]
		if !horizontal {
			copy(dst, src)
			continue
		}
		for x := 0; x < m.Width; x++ {
			sx := (m.Width - 1 - x) * 3
			copy(dst[x*3:x*3+3], src[sx:sx+3])
		}
	}
	return out
}

// FitSize returns the largest size with the aspect ratio of w×h that fits
// within maxW×maxH. Sizes that already fit are returned unchanged.
func FitSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 || maxW <= 0 || maxH <= 0 {
		return w, h
	}
	if w <= maxW && h <= maxH {
		return w, h
	}
	if w*maxH > h*maxW {
		return maxW, max(1, h*maxW/w)
	}
	return max(1, w*maxH/h), maxH
}

// Fit scales src down to fit within maxW×maxH preserving its aspect
// ratio. Images that already fit are returned as is.
func Fit(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	w, h := FitSize(b.Dx(), b.Dy(), maxW, maxH)
	if w == b.Dx() && h == b.Dy() {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
