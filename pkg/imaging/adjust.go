package imaging

import "math"

// DefaultGamma is the display gamma undone by Gamma.
const DefaultGamma = 2.2

// Means returns the average value of each channel.
func (m *Image) Means() [3]float64 {
	var sum [3]uint64
	for i := 0; i < len(m.Pix); i += 3 {
		sum[Red] += uint64(m.Pix[i])
		sum[Green] += uint64(m.Pix[i+1])
		sum[Blue] += uint64(m.Pix[i+2])
	}
	var means [3]float64
	n := float64(len(m.Pix) / 3)
	if n == 0 {
		return means
	}
	for c := range sum {
		means[c] = float64(sum[c]) / n
	}
	return means
}

// WhiteBalance applies gray-world white balance: each channel is scaled by
// the mean of all channels over its own mean, then truncated into 0..255.
// A channel with mean zero is left as is.
func WhiteBalance(m *Image) *Image {
	means := m.Means()
	gray := (means[Red] + means[Green] + means[Blue]) / 3

	var gain [3]float64
	for c, mean := range means {
		gain[c] = 1
		if mean > 0 {
			gain[c] = gray / mean
		}
	}

	out := &Image{Width: m.Width, Height: m.Height, Pix: make([]uint8, len(m.Pix))}
	for i, v := range m.Pix {
		out.Pix[i] = clamp(float64(v) * gain[i%3])
	}
	return out
}

// GammaTable builds the lookup table 255*(v/255)^(1/gamma), truncated.
func GammaTable(gamma float64) [256]uint8 {
	var t [256]uint8
	inv := 1 / gamma
	for i := range t {
		t[i] = clamp(math.Pow(float64(i)/255, inv) * 255)
	}
	return t
}

// Gamma applies GammaTable(gamma) to every channel. A non-positive gamma
// uses DefaultGamma.
func Gamma(m *Image, gamma float64) *Image {
	if gamma <= 0 {
		gamma = DefaultGamma
	}
	t := GammaTable(gamma)
	out := &Image{Width: m.Width, Height: m.Height, Pix: make([]uint8, len(m.Pix))}
	for i, v := range m.Pix {
		out.Pix[i] = t[v]
	}
	return out
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}
