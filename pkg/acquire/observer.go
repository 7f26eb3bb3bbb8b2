package acquire

import (
	"context"
	"time"
)

// Observer receives acquisition events. *telemetry.Metrics implements it.
type Observer interface {
	StartCycle(ctx context.Context, mode string) (context.Context, func(error))
	LinkOpened(ctx context.Context, address string)
	TransferDone(ctx context.Context, format string, size int, d time.Duration)
	FrameDelivered(ctx context.Context, format string, at time.Time) float64
	CycleFailed(ctx context.Context, class string)
	FocusMeasured(ctx context.Context, method string, score float64)
}

type nopObserver struct{}

func (nopObserver) StartCycle(ctx context.Context, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}
func (nopObserver) LinkOpened(context.Context, string)                        {}
func (nopObserver) TransferDone(context.Context, string, int, time.Duration)  {}
func (nopObserver) FrameDelivered(context.Context, string, time.Time) float64 { return 0 }
func (nopObserver) CycleFailed(context.Context, string)                       {}
func (nopObserver) FocusMeasured(context.Context, string, float64)            {}
