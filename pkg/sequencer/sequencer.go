// Package sequencer drives the command/response exchange with a FrameCam
// device: reset, request a snapshot, read its header, request the transfer
// and hand the received bytes to a boundary strategy.
package sequencer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"time"

	"github.com/wachiwi/framecam/pkg/demux"
	"github.com/wachiwi/framecam/pkg/header"
	"github.com/wachiwi/framecam/pkg/link"
)

var (
	// ErrNoResponse means the device stayed silent for a full read timeout
	// while a reply was awaited.
	ErrNoResponse = errors.New("no response from device")
	// ErrCorruptPayload means a JPEG payload could not be parsed.
	ErrCorruptPayload = errors.New("corrupt payload")
)

// State is the position in the acquisition cycle.
type State int

const (
	Idle State = iota
	AwaitingHeader
	Transferring
	AwaitingFrame
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingHeader:
		return "awaiting-header"
	case Transferring:
		return "transferring"
	case AwaitingFrame:
		return "awaiting-frame"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Mode says whether a cycle starts with a snapshot header.
type Mode int

const (
	HeaderDriven Mode = iota
	MarkerDriven
)

func (m Mode) String() string {
	if m == MarkerDriven {
		return "marker-driven"
	}
	return "header-driven"
}

// ModeFor returns the mode that fits a boundary strategy. Only the marker
// scan works without a header.
func ModeFor(kind demux.Kind) Mode {
	if kind == demux.KindMarkerDelimited {
		return MarkerDriven
	}
	return HeaderDriven
}

// Options configures a Sequencer.
type Options struct {
	SettleDelay time.Duration
	// ReadTimeout bounds the wait for a header.
	ReadTimeout time.Duration
	ChunkSize   int
	// StrictHeader rejects headers whose size disagrees with their geometry.
	StrictHeader bool
	// RequestEachFrame re-sends the snapshot command before every
	// marker-driven frame instead of only the first.
	RequestEachFrame bool
	// SendTransfer follows a marker-driven snapshot command with a transfer
	// command after SettleDelay.
	SendTransfer bool
	// MaxFrameSize rejects larger declared payloads before the transfer
	// command is sent.
	MaxFrameSize int

	Logger *slog.Logger
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Payload is one complete frame as received.
type Payload struct {
	Format       header.Format
	Interleaving int
	Width        int
	Height       int
	Data         []byte
	// Transfer is the time from the transfer request to the last byte.
	Transfer time.Duration
}

// Sequencer runs cycles on one open transport. It is not safe for
// concurrent use.
type Sequencer struct {
	t        link.Transport
	strategy demux.Strategy
	mode     Mode
	state    State
	primed   bool
	opts     Options
	chunk    []byte
}

func New(t link.Transport, strategy demux.Strategy, opts Options) *Sequencer {
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = time.Second
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 2048
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = demux.DefaultMaxFrameSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}
	return &Sequencer{
		t:        t,
		strategy: strategy,
		mode:     ModeFor(strategy.Kind()),
		opts:     opts,
		chunk:    make([]byte, opts.ChunkSize),
	}
}

func (s *Sequencer) State() State { return s.state }

func (s *Sequencer) Mode() Mode { return s.mode }

// Reset puts the device back into its initial state and waits for it to
// settle.
func (s *Sequencer) Reset(ctx context.Context) error {
	s.strategy.Reset()
	s.state = Idle
	s.primed = false
	if err := s.command(link.CmdReset); err != nil {
		return err
	}
	return s.opts.Sleep(ctx, s.opts.SettleDelay)
}

// Recover brings the link back to a known state after a failed cycle. It
// drops whatever the device already sent, and in header-driven mode keeps
// reading until the device falls silent so that leftover payload bytes are
// not taken for the next header. Then it resets the device.
func (s *Sequencer) Recover(ctx context.Context) error {
	if err := s.t.ResetInputBuffer(); err != nil {
		return fmt.Errorf("%w: flush input: %w", link.ErrLinkIO, err)
	}
	if s.mode == HeaderDriven {
		n, err := s.drain(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			s.opts.Logger.Warn("discarded stale bytes", "bytes", n)
		}
	}
	return s.Reset(ctx)
}

// RequestSnapshot asks the device to capture a frame and reads the header
// describing it.
func (s *Sequencer) RequestSnapshot(ctx context.Context) (*header.SnapshotHeader, error) {
	s.state = AwaitingHeader
	if err := s.command(link.CmdSnapshot); err != nil {
		return nil, s.fail(err)
	}

	b, err := s.readExact(ctx, header.Size)
	if err != nil {
		return nil, s.fail(err)
	}
	h, err := header.Parse(b)
	if err != nil {
		return nil, s.fail(err)
	}
	if !h.Valid() {
		return nil, s.fail(fmt.Errorf("%w: bad magic % x", header.ErrInvalidHeader, h.Magic))
	}
	if s.opts.StrictHeader {
		if err := h.CheckGeometry(); err != nil {
			return nil, s.fail(err)
		}
	}
	if int(h.ImageSize) > s.opts.MaxFrameSize {
		return nil, s.fail(fmt.Errorf("%w: declared %d bytes, limit %d", demux.ErrFrameOverflow, h.ImageSize, s.opts.MaxFrameSize))
	}
	return h, nil
}

// RequestTransfer asks the device to send the payload h describes and
// collects it.
func (s *Sequencer) RequestTransfer(ctx context.Context, h *header.SnapshotHeader) (*Payload, error) {
	s.state = Transferring
	started := s.opts.Now()
	s.strategy.Begin(int(h.ImageSize), started)
	if err := s.command(link.CmdTransfer); err != nil {
		return nil, s.fail(err)
	}

	data, err := s.collect(ctx)
	if err != nil {
		return nil, s.fail(err)
	}
	if h.Format == header.JPEG {
		if _, err := jpeg.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil, s.fail(fmt.Errorf("%w: %w", ErrCorruptPayload, err))
		}
	}
	s.state = Idle
	return &Payload{
		Format:       h.Format,
		Interleaving: h.Factor(),
		Width:        int(h.Width),
		Height:       int(h.Height),
		Data:         data,
		Transfer:     s.opts.Now().Sub(started),
	}, nil
}

// AwaitFrame waits for the next marker-delimited JPEG frame.
func (s *Sequencer) AwaitFrame(ctx context.Context) (*Payload, error) {
	s.state = AwaitingFrame
	if s.opts.RequestEachFrame || !s.primed {
		if err := s.command(link.CmdSnapshot); err != nil {
			return nil, s.fail(err)
		}
		if s.opts.SendTransfer {
			if err := s.opts.Sleep(ctx, s.opts.SettleDelay); err != nil {
				return nil, s.fail(err)
			}
			if err := s.command(link.CmdTransfer); err != nil {
				return nil, s.fail(err)
			}
		}
		s.primed = true
	}

	started := s.opts.Now()
	s.strategy.Begin(0, started)
	data, err := s.collect(ctx)
	if err != nil {
		return nil, s.fail(err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, s.fail(fmt.Errorf("%w: %w", ErrCorruptPayload, err))
	}
	s.state = Idle
	return &Payload{
		Format:       header.JPEG,
		Interleaving: 1,
		Width:        cfg.Width,
		Height:       cfg.Height,
		Data:         data,
		Transfer:     s.opts.Now().Sub(started),
	}, nil
}

// Next runs one full cycle in the sequencer's mode.
func (s *Sequencer) Next(ctx context.Context) (*Payload, error) {
	if s.mode == MarkerDriven {
		return s.AwaitFrame(ctx)
	}
	h, err := s.RequestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.opts.Logger.Debug("snapshot header",
		"format", h.Format,
		"width", h.Width,
		"height", h.Height,
		"interleaving", h.Interleaving,
		"size", h.ImageSize,
	)
	return s.RequestTransfer(ctx, h)
}

type remainder interface {
	Remaining() int
}

func (s *Sequencer) collect(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf := s.chunk
		if r, ok := s.strategy.(remainder); ok {
			if n := r.Remaining(); n > 0 && n < len(buf) {
				buf = buf[:n]
			}
		}
		n, err := s.t.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: read: %w", link.ErrLinkIO, err)
		}
		payload, err := s.strategy.Feed(buf[:n], s.opts.Now())
		if err != nil {
			return nil, err
		}
		if payload != nil {
			return payload, nil
		}
	}
}

// drain reads until a read times out. A device that sends more than two
// frames' worth without pausing is treated as a link failure.
func (s *Sequencer) drain(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.t.Read(s.chunk)
		if err != nil {
			return total, fmt.Errorf("%w: read: %w", link.ErrLinkIO, err)
		}
		if n == 0 {
			return total, nil
		}
		total += n
		if total > 2*s.opts.MaxFrameSize {
			return total, fmt.Errorf("%w: device still sending after %d stale bytes", link.ErrLinkIO, total)
		}
	}
}

func (s *Sequencer) readExact(ctx context.Context, size int) ([]byte, error) {
	b := make([]byte, size)
	got := 0
	last := s.opts.Now()
	for got < size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.t.Read(b[got:])
		if err != nil {
			return nil, fmt.Errorf("%w: read: %w", link.ErrLinkIO, err)
		}
		now := s.opts.Now()
		if n > 0 {
			got += n
			last = now
			continue
		}
		if now.Sub(last) >= s.opts.ReadTimeout {
			return nil, fmt.Errorf("%w: %s after %d of %d bytes", ErrNoResponse, s.state, got, size)
		}
	}
	return b, nil
}

func (s *Sequencer) command(c byte) error {
	if _, err := s.t.Write([]byte{c}); err != nil {
		return fmt.Errorf("%w: write %q: %w", link.ErrLinkIO, c, err)
	}
	return nil
}

func (s *Sequencer) fail(err error) error {
	s.opts.Logger.Debug("cycle aborted", "state", s.state, "pending", s.strategy.Pending(), "error", err)
	s.strategy.Reset()
	s.state = Idle
	s.primed = false
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
