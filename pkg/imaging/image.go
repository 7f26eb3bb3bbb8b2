// Package imaging holds the reconstructed color image and the pixel
// operations applied to it before encoding.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// ErrDimensions reports an image whose pixel buffer does not match its size.
var ErrDimensions = errors.New("image dimensions do not match pixel data")

// Channel indexes into an RGB triple.
const (
	Red = iota
	Green
	Blue
)

// Image is an 8-bit RGB image stored row-major, three bytes per pixel.
// It implements image.Image.
type Image struct {
	Width  int
	Height int
	Pix    []uint8
}

func New(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]uint8, width*height*3)}
}

// Wrap adopts pix as the pixel buffer of a width×height image.
func Wrap(width, height int, pix []uint8) (*Image, error) {
	if width <= 0 || height <= 0 || len(pix) != width*height*3 {
		return nil, fmt.Errorf("%w: %dx%d with %d bytes", ErrDimensions, width, height, len(pix))
	}
	return &Image{Width: width, Height: height, Pix: pix}, nil
}

func (m *Image) offset(x, y int) int {
	return (y*m.Width + x) * 3
}

// RGB returns the channels of the pixel at (x, y).
func (m *Image) RGB(x, y int) (r, g, b uint8) {
	i := m.offset(x, y)
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

func (m *Image) SetRGB(x, y int, r, g, b uint8) {
	i := m.offset(x, y)
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = r, g, b
}

func (m *Image) Clone() *Image {
	out := &Image{Width: m.Width, Height: m.Height, Pix: make([]uint8, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

func (m *Image) ColorModel() color.Model { return color.RGBAModel }

func (m *Image) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

func (m *Image) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(m.Bounds())) {
		return color.RGBA{}
	}
	r, g, b := m.RGB(x, y)
	return color.RGBA{r, g, b, 0xFF}
}

// RGBA converts m to an opaque *image.RGBA, the layout the standard
// encoders handle fastest.
func (m *Image) RGBA() *image.RGBA {
	out := image.NewRGBA(m.Bounds())
	for i, j := 0, 0; i < len(m.Pix); i, j = i+3, j+4 {
		out.Pix[j] = m.Pix[i]
		out.Pix[j+1] = m.Pix[i+1]
		out.Pix[j+2] = m.Pix[i+2]
		out.Pix[j+3] = 0xFF
	}
	return out
}

// FromImage copies any image into an Image. Alpha is dropped.
func FromImage(src image.Image) *Image {
	if m, ok := src.(*Image); ok {
		return m.Clone()
	}
	b := src.Bounds()
	rgba, ok := src.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	}
	out := New(b.Dx(), b.Dy())
	for i, j := 0, 0; i < len(out.Pix); i, j = i+3, j+4 {
		out.Pix[i] = rgba.Pix[j]
		out.Pix[i+1] = rgba.Pix[j+1]
		out.Pix[i+2] = rgba.Pix[j+2]
	}
	return out
}
