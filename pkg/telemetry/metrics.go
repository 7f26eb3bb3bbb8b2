package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics records acquisition counters, transfer timings and spans.
type Metrics struct {
	tracer trace.Tracer

	frames    metric.Int64Counter
	bytes     metric.Int64Counter
	failures  metric.Int64Counter
	transfer  metric.Float64Histogram
	speed     metric.Float64Histogram
	fpsGauge  metric.Float64Gauge
	focus     metric.Float64Gauge
	linkOpens metric.Int64Counter

	mu  sync.Mutex
	fps *FPS
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter, tracer trace.Tracer) (*Metrics, error) {
	m := &Metrics{tracer: tracer, fps: NewFPS(DefaultFPSAlpha)}
	var err error

	if m.frames, err = meter.Int64Counter("framecam.frames",
		metric.WithDescription("Frames delivered downstream")); err != nil {
		return nil, fmt.Errorf("failed to create frames counter: %w", err)
	}
	if m.bytes, err = meter.Int64Counter("framecam.transfer.bytes",
		metric.WithDescription("Payload bytes received from the device"), metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("failed to create bytes counter: %w", err)
	}
	if m.failures, err = meter.Int64Counter("framecam.cycle.failures",
		metric.WithDescription("Acquisition cycles that produced no frame, by error class")); err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}
	if m.transfer, err = meter.Float64Histogram("framecam.transfer.duration",
		metric.WithDescription("Time from transfer request to last payload byte"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create transfer histogram: %w", err)
	}
	if m.speed, err = meter.Float64Histogram("framecam.transfer.speed",
		metric.WithDescription("Payload transfer speed"), metric.WithUnit("Mbit/s")); err != nil {
		return nil, fmt.Errorf("failed to create speed histogram: %w", err)
	}
	if m.fpsGauge, err = meter.Float64Gauge("framecam.fps",
		metric.WithDescription("Smoothed delivered frames per second")); err != nil {
		return nil, fmt.Errorf("failed to create fps gauge: %w", err)
	}
	if m.focus, err = meter.Float64Gauge("framecam.focus",
		metric.WithDescription("Sharpness score of the last frame")); err != nil {
		return nil, fmt.Errorf("failed to create focus gauge: %w", err)
	}
	if m.linkOpens, err = meter.Int64Counter("framecam.link.opens",
		metric.WithDescription("Times the device link was opened")); err != nil {
		return nil, fmt.Errorf("failed to create link counter: %w", err)
	}
	return m, nil
}

// StartCycle opens a span for one acquisition cycle. The returned function
// ends it, recording err when non-nil.
func (m *Metrics) StartCycle(ctx context.Context, mode string) (context.Context, func(error)) {
	ctx, span := m.tracer.Start(ctx, "acquire.cycle", trace.WithAttributes(attribute.String("mode", mode)))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (m *Metrics) LinkOpened(ctx context.Context, address string) {
	m.linkOpens.Add(ctx, 1, metric.WithAttributes(attribute.String("port", address)))
}

// TransferDone records one received payload.
func (m *Metrics) TransferDone(ctx context.Context, format string, size int, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("format", format))
	m.bytes.Add(ctx, int64(size), attrs)
	m.transfer.Record(ctx, d.Seconds(), attrs)
	if _, mbps := Speed(size, d); mbps > 0 {
		m.speed.Record(ctx, mbps, attrs)
	}
}

// FrameDelivered counts a frame and updates the FPS gauge. It returns the
// smoothed rate.
func (m *Metrics) FrameDelivered(ctx context.Context, format string, at time.Time) float64 {
	m.frames.Add(ctx, 1, metric.WithAttributes(attribute.String("format", format)))

	m.mu.Lock()
	fps := m.fps.Update(at)
	m.mu.Unlock()
	m.fpsGauge.Record(ctx, fps)
	return fps
}

func (m *Metrics) CycleFailed(ctx context.Context, class string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}

func (m *Metrics) FocusMeasured(ctx context.Context, method string, score float64) {
	m.focus.Record(ctx, score, metric.WithAttributes(attribute.String("method", method)))
}

// Speed converts a transfer into KiB and Mbit/s, with binary megabits.
func Speed(size int, d time.Duration) (kib, mbps float64) {
	kib = float64(size) / 1024
	if d <= 0 {
		return kib, 0
	}
	return kib, float64(size) * 8 / (d.Seconds() * 1024 * 1024)
}
