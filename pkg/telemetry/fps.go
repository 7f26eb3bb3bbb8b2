package telemetry

import "time"

// DefaultFPSAlpha weights the newest sample in the moving average.
const DefaultFPSAlpha = 0.2

// FPS is an exponentially smoothed frame rate.
type FPS struct {
	alpha float64
	last  time.Time
	value float64
}

func NewFPS(alpha float64) *FPS {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultFPSAlpha
	}
	return &FPS{alpha: alpha}
}

// Update registers a frame at now and returns the smoothed rate. The first
// call only starts the clock; the first interval seeds the average.
func (f *FPS) Update(now time.Time) float64 {
	if f.last.IsZero() {
		f.last = now
		return f.value
	}
	delta := now.Sub(f.last).Seconds()
	f.last = now
	if delta <= 0 {
		return f.value
	}
	current := 1 / delta
	if f.value == 0 {
		f.value = current
	} else {
		f.value = f.alpha*current + (1-f.alpha)*f.value
	}
	return f.value
}

func (f *FPS) Value() float64 { return f.value }
