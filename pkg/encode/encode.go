// Package encode serializes color images into JPEG or PNG.
package encode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/wachiwi/framecam/pkg/imaging"
)

// ErrUnsupportedFormat is a configuration error: the requested output format
// is not one Encode can produce.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Format is an output container.
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
)

// JPEGQuality is high enough that re-encoded frames are visually lossless.
const JPEGQuality = 95

// ParseFormat accepts "jpeg", "jpg" or "png" in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpeg", "jpg":
		return JPEG, nil
	case "png":
		return PNG, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

func (f Format) Valid() bool {
	return f == JPEG || f == PNG
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	if f == JPEG {
		return "jpg"
	}
	return string(f)
}

func (f Format) ContentType() string {
	return "image/" + string(f)
}

// Encode writes img in format f. The format is checked before any pixel is
// touched.
func Encode(img image.Image, f Format) ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
	}
	if m, ok := img.(*imaging.Image); ok {
		img = m.RGBA()
	}

	var buf bytes.Buffer
	var err error
	switch f {
	case JPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality})
	case PNG:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f, err)
	}
	return buf.Bytes(), nil
}

// Decode reads a JPEG or PNG image.
func Decode(data []byte) (*imaging.Image, Format, error) {
	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	f, err := ParseFormat(name)
	if err != nil {
		return nil, "", err
	}
	return imaging.FromImage(img), f, nil
}
