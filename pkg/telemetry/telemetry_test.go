package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestFPSSmoothing(t *testing.T) {
	f := NewFPS(0.2)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Zero(t, f.Update(start))
	// First interval seeds the average.
	assert.InDelta(t, 10, f.Update(start.Add(100*time.Millisecond)), 1e-9)
	// 0.2*5 + 0.8*10
	assert.InDelta(t, 9, f.Update(start.Add(300*time.Millisecond)), 1e-9)
	// A zero interval leaves the value alone.
	assert.InDelta(t, 9, f.Update(start.Add(300*time.Millisecond)), 1e-9)
	assert.InDelta(t, 9, f.Value(), 1e-9)
}

func TestFPSDefaultAlpha(t *testing.T) {
	assert.Equal(t, DefaultFPSAlpha, NewFPS(0).alpha)
	assert.Equal(t, DefaultFPSAlpha, NewFPS(3).alpha)
}

func TestSpeed(t *testing.T) {
	kib, mbps := Speed(2*1024*1024, 2*time.Second)
	assert.InDelta(t, 2048, kib, 1e-9)
	assert.InDelta(t, 8, mbps, 1e-9)

	_, mbps = Speed(100, 0)
	assert.Zero(t, mbps)
}

func TestMetricsWithNoopProviders(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"), tracenoop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.LinkOpened(ctx, "/dev/ttyUSB0")
	cctx, end := m.StartCycle(ctx, "header-driven")
	require.NotNil(t, cctx)
	m.TransferDone(cctx, "jpeg", 4096, 10*time.Millisecond)
	end(errors.New("boom"))

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.FrameDelivered(ctx, "jpeg", start)
	fps := m.FrameDelivered(ctx, "jpeg", start.Add(500*time.Millisecond))
	assert.InDelta(t, 2, fps, 1e-9)

	m.CycleFailed(ctx, "incomplete-transfer")
	m.FocusMeasured(ctx, "laplacian", 12.5)
}
