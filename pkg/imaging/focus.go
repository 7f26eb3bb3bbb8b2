package imaging

import (
	"image"
	"math"
)

// Luma converts m to 8-bit gray using the Rec. 601 weights.
func Luma(m *Image) []float64 {
	out := make([]float64, m.Width*m.Height)
	for i := range out {
		p := m.Pix[i*3 : i*3+3]
		out[i] = 0.299*float64(p[Red]) + 0.587*float64(p[Green]) + 0.114*float64(p[Blue])
	}
	return out
}

// region clips roi to m; an empty roi selects the whole image.
func region(m *Image, roi image.Rectangle) image.Rectangle {
	if roi.Empty() {
		return m.Bounds()
	}
	return roi.Intersect(m.Bounds())
}

// Laplacian returns the variance of the 4-neighbour Laplacian of the luma
// inside roi. Sharper images score higher.
func Laplacian(m *Image, roi image.Rectangle) float64 {
	r := region(m, roi)
	if r.Dx() < 3 || r.Dy() < 3 {
		return 0
	}
	gray := Luma(m)
	at := func(x, y int) float64 { return gray[y*m.Width+x] }

	var sum, sq float64
	n := 0
	for y := r.Min.Y + 1; y < r.Max.Y-1; y++ {
		for x := r.Min.X + 1; x < r.Max.X-1; x++ {
			v := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += v
			sq += v * v
			n++
		}
	}
	mean := sum / float64(n)
	return sq/float64(n) - mean*mean
}

// Tenengrad returns the mean Sobel gradient magnitude of the luma inside
// roi.
func Tenengrad(m *Image, roi image.Rectangle) float64 {
	r := region(m, roi)
	if r.Dx() < 3 || r.Dy() < 3 {
		return 0
	}
	gray := Luma(m)
	at := func(x, y int) float64 { return gray[y*m.Width+x] }

	var sum float64
	n := 0
	for y := r.Min.Y + 1; y < r.Max.Y-1; y++ {
		for x := r.Min.X + 1; x < r.Max.X-1; x++ {
			gx := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			gy := at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)
			sum += math.Hypot(gx, gy)
			n++
		}
	}
	return sum / float64(n)
}
