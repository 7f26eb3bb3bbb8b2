package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wachiwi/framecam/pkg/camera"
	"github.com/wachiwi/framecam/pkg/demux"
	"github.com/wachiwi/framecam/pkg/encode"
	"github.com/wachiwi/framecam/pkg/header"
	"github.com/wachiwi/framecam/pkg/imaging"
	"github.com/wachiwi/framecam/pkg/link"
	"github.com/wachiwi/framecam/pkg/link/linktest"
	"github.com/wachiwi/framecam/pkg/raw"
	"github.com/wachiwi/framecam/pkg/sequencer"
)

type locatorFunc func(ctx context.Context) (string, error)

func (f locatorFunc) Find(ctx context.Context) (string, error) { return f(ctx) }

type recorder struct {
	nopObserver
	failures []string
	opened   int
}

func (r *recorder) CycleFailed(_ context.Context, class string) { r.failures = append(r.failures, class) }
func (r *recorder) LinkOpened(context.Context, string)         { r.opened++ }

type harness struct {
	clock  *linktest.Clock
	links  []*linktest.Fake
	opened []string
	sleeps []time.Duration
	frames []*camera.Frame
	obs    *recorder
}

func newHarness(links ...*linktest.Fake) *harness {
	return &harness{clock: linktest.NewClock(), links: links, obs: &recorder{}}
}

func (h *harness) link(chunks ...[]byte) *linktest.Fake {
	f := linktest.New(h.clock, chunks...)
	f.Exhausted = io.EOF
	h.links = append(h.links, f)
	return f
}

func (h *harness) options() Options {
	return Options{
		Port: "COM3",
		Open: func(address string) (link.Transport, error) {
			h.opened = append(h.opened, address)
			if len(h.links) == 0 {
				return nil, fmt.Errorf("%w: no device at %s", link.ErrLinkIO, address)
			}
			f := h.links[0]
			h.links = h.links[1:]
			return f, nil
		},
		Strategy:      demux.KindLengthPrefixed,
		Demux:         demux.Options{Timeout: time.Second, IdleThreshold: time.Second},
		Sequencer:     sequencer.Options{SettleDelay: time.Second},
		Mode:          Single,
		RetryDelay:    time.Second,
		MaxRetryDelay: 4 * time.Second,
		Sinks: []camera.Sink{camera.SinkFunc(func(_ context.Context, f *camera.Frame) error {
			h.frames = append(h.frames, f.Clone())
			return nil
		})},
		Observer: h.obs,
		Now:      h.clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if d > 0 {
				h.sleeps = append(h.sleeps, d)
				h.clock.Advance(d)
			}
			return nil
		},
	}
}

func (h *harness) run(t *testing.T, opts Options) error {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)
	return s.Run(context.Background())
}

func hdr(t *testing.T, f header.Format, factor uint8, w, hgt int, size int) []byte {
	t.Helper()
	b, err := (&header.SnapshotHeader{
		Magic:        header.Magic,
		Format:       f,
		Interleaving: factor,
		Width:        uint16(w),
		Height:       uint16(hgt),
		ImageSize:    uint32(size),
	}).MarshalBinary()
	require.NoError(t, err)
	return b
}

// halves returns a JPEG that is black on the left and white on the right.
func halves(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(0)
			if x >= w/2 {
				v = 255
			}
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestSingleJPEGFrame(t *testing.T) {
	h := newHarness()
	jpg := halves(t, 16, 8)
	fake := h.link(hdr(t, header.JPEG, 1, 16, 8, len(jpg)), jpg)

	require.NoError(t, h.run(t, h.options()))

	require.Len(t, h.frames, 1)
	assert.Equal(t, jpg, h.frames[0].Data)
	assert.Equal(t, encode.JPEG, h.frames[0].Format)
	assert.Equal(t, uint64(1), h.frames[0].Seq)
	assert.Equal(t, 16, h.frames[0].Width)
	assert.Equal(t, "RST", fake.Written())
	assert.True(t, fake.Closed())
	assert.Equal(t, []string{"COM3"}, h.opened)
	assert.Equal(t, []time.Duration{time.Second}, h.sleeps)
	assert.Equal(t, 1, h.obs.opened)
}

func TestCycleErrorRetriesOnSameLink(t *testing.T) {
	h := newHarness()
	jpg := halves(t, 16, 8)
	bad := hdr(t, header.JPEG, 1, 16, 8, len(jpg))
	copy(bad, []byte{0, 0, 0, 0, 0, 0})
	fake := h.link(bad, nil, hdr(t, header.JPEG, 1, 16, 8, len(jpg)), jpg)

	require.NoError(t, h.run(t, h.options()))

	require.Len(t, h.frames, 1)
	assert.Equal(t, "RSRST", fake.Written())
	assert.Equal(t, 1, fake.Flushes())
	assert.Equal(t, []string{"COM3"}, h.opened)
	// settle, retry delay, settle after the recovery reset
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, h.sleeps)
	assert.Equal(t, []string{"invalid-header"}, h.obs.failures)
}

func TestStalledTransferRetries(t *testing.T) {
	h := newHarness()
	jpg := halves(t, 16, 8)
	fake := h.link(
		hdr(t, header.JPEG, 1, 16, 8, len(jpg)), jpg[:10], nil,
		jpg[10:20], nil,
		hdr(t, header.JPEG, 1, 16, 8, len(jpg)), jpg,
	)

	require.NoError(t, h.run(t, h.options()))

	require.Len(t, h.frames, 1)
	assert.Equal(t, jpg, h.frames[0].Data)
	assert.Equal(t, "RSTRST", fake.Written())
	assert.Equal(t, []string{"incomplete-transfer"}, h.obs.failures)
}

func TestOversizedFrameRecovers(t *testing.T) {
	h := newHarness()
	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i * 16)
	}
	fake := h.link(
		hdr(t, header.RawGRBG8, 2, 10, 20, 200), make([]byte, 200), nil,
		hdr(t, header.RawGRBG8, 2, 4, 4, 16), payload,
	)

	opts := h.options()
	opts.Demux.MaxFrameSize = 128
	require.NoError(t, h.run(t, opts))

	require.Len(t, h.frames, 1)
	assert.Equal(t, 4, h.frames[0].Width)
	assert.Equal(t, "RSRST", fake.Written())
	assert.Equal(t, []string{"incomplete-transfer"}, h.obs.failures)
	assert.Equal(t, []string{"COM3"}, h.opened)
}

func TestLinkFailureRediscovers(t *testing.T) {
	h := newHarness()
	broken := linktest.New(h.clock)
	broken.Exhausted = io.ErrUnexpectedEOF
	h.links = append(h.links, broken)
	jpg := halves(t, 16, 8)
	good := h.link(hdr(t, header.JPEG, 1, 16, 8, len(jpg)), jpg)

	opts := h.options()
	opts.Locator = locatorFunc(func(context.Context) (string, error) { return "/dev/ttyUSB0", nil })
	require.NoError(t, h.run(t, opts))

	assert.Equal(t, []string{"COM3", "/dev/ttyUSB0"}, h.opened)
	assert.True(t, broken.Closed())
	assert.Equal(t, "RS", broken.Written())
	assert.Equal(t, "RST", good.Written())
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, h.sleeps)
	assert.Equal(t, []string{"link-io"}, h.obs.failures)
}

func TestReopenBackoffIsCapped(t *testing.T) {
	h := newHarness()
	jpg := halves(t, 16, 8)
	good := linktest.New(h.clock, hdr(t, header.JPEG, 1, 16, 8, len(jpg)), jpg)

	opts := h.options()
	opts.Port = ""
	opts.Locator = locatorFunc(func(context.Context) (string, error) { return "/dev/ttyACM0", nil })
	attempts := 0
	opts.Open = func(address string) (link.Transport, error) {
		attempts++
		if attempts <= 4 {
			return nil, fmt.Errorf("%w: busy", link.ErrLinkIO)
		}
		return good, nil
	}
	require.NoError(t, h.run(t, opts))

	require.Len(t, h.sleeps, 5)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}, h.sleeps[:4])
	assert.Len(t, h.frames, 1)
}

func TestDeviceNotFoundPolls(t *testing.T) {
	h := newHarness()
	jpg := halves(t, 16, 8)
	h.link(hdr(t, header.JPEG, 1, 16, 8, len(jpg)), jpg)

	opts := h.options()
	opts.Port = ""
	calls := 0
	opts.Locator = locatorFunc(func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", link.ErrDeviceNotFound
		}
		return "/dev/ttyUSB0", nil
	})
	require.NoError(t, h.run(t, opts))

	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"device-not-found", "device-not-found"}, h.obs.failures)
	assert.Len(t, h.frames, 1)
}

func TestRawFramePipeline(t *testing.T) {
	h := newHarness()
	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i * 16)
	}
	h.link(hdr(t, header.RawGRBG8, 2, 4, 4, 16), payload)

	opts := h.options()
	opts.Process.Output = encode.PNG
	require.NoError(t, h.run(t, opts))

	require.Len(t, h.frames, 1)
	f := h.frames[0]
	assert.Equal(t, encode.PNG, f.Format)
	img, format, err := encode.Decode(f.Data)
	require.NoError(t, err)
	assert.Equal(t, encode.PNG, format)
	r, g, b := img.RGB(0, 0)
	assert.Equal(t, [3]uint8{16, 72, 128}, [3]uint8{r, g, b})
}

func TestRawFrameFlipAndCorrect(t *testing.T) {
	h := newHarness()
	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i * 16)
	}
	h.link(hdr(t, header.RawGRBG8, 2, 4, 4, 16), payload)

	opts := h.options()
	opts.Process = ProcessOptions{Output: encode.PNG, HFlip: true, VFlip: true, Gamma: 2.2, Focus: "laplacian"}
	require.NoError(t, h.run(t, opts))

	img, _, err := encode.Decode(h.frames[0].Data)
	require.NoError(t, err)

	want, err := raw.Reconstruct(raw.Frame{Format: header.RawGRBG8, Interleaving: 2, Width: 4, Height: 4, Data: payload})
	require.NoError(t, err)
	want = imaging.Flip(imaging.Gamma(want, 2.2), true, true)
	assert.Equal(t, want.Pix, img.Pix)
}

func TestPreconditionDropsFrame(t *testing.T) {
	h := newHarness()
	payload := make([]byte, 16)
	fake := h.link(
		hdr(t, header.RawBGGR8, 3, 4, 4, 16), payload,
		hdr(t, header.RawBGGR8, 2, 4, 4, 16), payload,
	)

	require.NoError(t, h.run(t, h.options()))

	assert.Len(t, h.frames, 1)
	assert.Equal(t, "RSTST", fake.Written())
	assert.Equal(t, []time.Duration{time.Second}, h.sleeps)
	assert.Equal(t, []string{"reconstruction-precondition"}, h.obs.failures)
}

func TestMarkerDrivenSession(t *testing.T) {
	h := newHarness()
	jpg := halves(t, 16, 8)
	fake := h.link(append([]byte{0x00, 0x42}, jpg...))

	opts := h.options()
	opts.Strategy = demux.KindMarkerDelimited
	require.NoError(t, h.run(t, opts))

	require.Len(t, h.frames, 1)
	assert.Equal(t, jpg, h.frames[0].Data)
	assert.Equal(t, 16, h.frames[0].Width)
	assert.Equal(t, 8, h.frames[0].Height)
	assert.Equal(t, "RS", fake.Written())
}

func TestOnDemandMarkerRequestsEachFrame(t *testing.T) {
	h := newHarness()
	jpg := halves(t, 16, 8)
	fake := h.link(jpg, jpg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var s *Session
	opts := h.options()
	opts.Strategy = demux.KindMarkerDelimited
	opts.Mode = OnDemand
	opts.Sinks = append(opts.Sinks, camera.SinkFunc(func(_ context.Context, f *camera.Frame) error {
		if f.Seq == 1 {
			s.RequestFrame()
		} else {
			cancel()
		}
		return nil
	}))
	s, err := New(opts)
	require.NoError(t, err)

	s.RequestFrame()
	require.NoError(t, s.Run(ctx))
	assert.Len(t, h.frames, 2)
	assert.Equal(t, "RSS", fake.Written())
}

func TestFlipReencodesJPEG(t *testing.T) {
	h := newHarness()
	jpg := halves(t, 16, 8)
	h.link(hdr(t, header.JPEG, 1, 16, 8, len(jpg)), jpg)

	opts := h.options()
	opts.Process.HFlip = true
	require.NoError(t, h.run(t, opts))

	require.Len(t, h.frames, 1)
	img, format, err := encode.Decode(h.frames[0].Data)
	require.NoError(t, err)
	assert.Equal(t, encode.JPEG, format)
	left, _, _ := img.RGB(0, 4)
	right, _, _ := img.RGB(15, 4)
	assert.Greater(t, left, uint8(200))
	assert.Less(t, right, uint8(55))
}

func TestOnDemandWaitsForTrigger(t *testing.T) {
	h := newHarness()
	jpg := halves(t, 16, 8)
	fake := h.link(hdr(t, header.JPEG, 1, 16, 8, len(jpg)), jpg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := h.options()
	opts.Mode = OnDemand
	opts.Sinks = append(opts.Sinks, camera.SinkFunc(func(context.Context, *camera.Frame) error {
		cancel()
		return errors.New("sink errors are only logged")
	}))
	s, err := New(opts)
	require.NoError(t, err)

	assert.True(t, s.RequestFrame())
	assert.False(t, s.RequestFrame())

	require.NoError(t, s.Run(ctx))
	assert.Len(t, h.frames, 1)
	assert.Equal(t, uint64(1), s.Delivered())
	assert.Equal(t, "RST", fake.Written())
}

func TestCanceledBeforeRun(t *testing.T) {
	h := newHarness()
	s, err := New(h.options())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
	assert.Empty(t, h.opened)
}

func TestNewRejectsBadOptions(t *testing.T) {
	h := newHarness()

	opts := h.options()
	opts.Process.Output = "tiff"
	_, err := New(opts)
	assert.ErrorIs(t, err, encode.ErrUnsupportedFormat)
	assert.Equal(t, ClassFatal, Classify(err))

	opts = h.options()
	opts.Open = nil
	_, err = New(opts)
	assert.ErrorIs(t, err, ErrConfig)

	opts = h.options()
	opts.Port = ""
	_, err = New(opts)
	assert.ErrorIs(t, err, ErrConfig)

	opts = h.options()
	opts.Strategy = "guess"
	_, err = New(opts)
	assert.ErrorIs(t, err, ErrConfig)

	opts = h.options()
	opts.Mode = "burst"
	_, err = New(opts)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{nil, ClassNone},
		{context.Canceled, ClassCanceled},
		{fmt.Errorf("find: %w", link.ErrDeviceNotFound), ClassDeviceNotFound},
		{fmt.Errorf("%w: read: %w", link.ErrLinkIO, io.EOF), ClassLinkIO},
		{header.ErrInvalidHeader, ClassInvalidHeader},
		{sequencer.ErrNoResponse, ClassInvalidHeader},
		{demux.ErrIncompleteTransfer, ClassIncompleteTransfer},
		{demux.ErrFrameOverflow, ClassIncompleteTransfer},
		{sequencer.ErrCorruptPayload, ClassIncompleteTransfer},
		{raw.ErrPrecondition, ClassPrecondition},
		{raw.ErrUnsupportedFormat, ClassFatal},
		{encode.ErrUnsupportedFormat, ClassFatal},
		{ErrConfig, ClassFatal},
		{errors.New("something else"), ClassLinkIO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"continuous", "single", "on-demand"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}
	_, err := ParseMode("burst")
	assert.Error(t, err)
}
