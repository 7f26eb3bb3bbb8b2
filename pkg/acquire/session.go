// Package acquire runs the acquisition session: it finds the device, opens
// the link, runs frame cycles, turns payloads into encoded frames and hands
// them to sinks. Failures are recovered according to their Class.
package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/wachiwi/framecam/pkg/camera"
	"github.com/wachiwi/framecam/pkg/demux"
	"github.com/wachiwi/framecam/pkg/encode"
	"github.com/wachiwi/framecam/pkg/link"
	"github.com/wachiwi/framecam/pkg/sequencer"
	"github.com/wachiwi/framecam/pkg/telemetry"
)

// Mode controls when cycles run.
type Mode string

const (
	// Continuous runs cycles back to back.
	Continuous Mode = "continuous"
	// Single stops after the first delivered frame.
	Single Mode = "single"
	// OnDemand runs one cycle per RequestFrame.
	OnDemand Mode = "on-demand"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Continuous, Single, OnDemand:
		return m, nil
	}
	return "", fmt.Errorf("unknown capture mode %q", s)
}

// Options configures a Session.
type Options struct {
	// Port is opened first; after a link failure the Locator is asked.
	Port    string
	Locator link.Locator
	Open    link.OpenFunc

	Strategy  demux.Kind
	Demux     demux.Options
	Sequencer sequencer.Options
	Mode      Mode

	// RetryDelay follows a failed cycle and starts the link reopen
	// backoff, which doubles up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	Process ProcessOptions
	Sinks   []camera.Sink

	Observer Observer
	Logger   *slog.Logger
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Session owns one physical link at a time. Run must not be called
// concurrently; RequestFrame may be called from any goroutine.
type Session struct {
	opts      Options
	id        string
	logger    *slog.Logger
	observer  Observer
	trigger   chan struct{}
	reopen    *backoff.ExponentialBackOff
	seq       atomic.Uint64
	delivered atomic.Uint64
}

// New checks opts and prepares a session.
func New(opts Options) (*Session, error) {
	if opts.Open == nil {
		return nil, fmt.Errorf("%w: no link opener", ErrConfig)
	}
	if opts.Port == "" && opts.Locator == nil {
		return nil, fmt.Errorf("%w: neither port nor locator set", ErrConfig)
	}
	if opts.Mode == "" {
		opts.Mode = Continuous
	}
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if _, err := demux.New(opts.Strategy, opts.Demux); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	// An on-demand marker stream must be asked for every frame.
	if opts.Mode == OnDemand && sequencer.ModeFor(opts.Strategy) == sequencer.MarkerDriven {
		opts.Sequencer.RequestEachFrame = true
	}
	if opts.Process.Output == "" {
		opts.Process.Output = encode.JPEG
	}
	if !opts.Process.Output.Valid() {
		return nil, fmt.Errorf("%w: %q", encode.ErrUnsupportedFormat, string(opts.Process.Output))
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.MaxRetryDelay < opts.RetryDelay {
		opts.MaxRetryDelay = opts.RetryDelay
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sequencer.Sleep
	}

	reopen := backoff.NewExponentialBackOff()
	reopen.InitialInterval = opts.RetryDelay
	reopen.MaxInterval = opts.MaxRetryDelay
	reopen.Multiplier = 2
	reopen.RandomizationFactor = 0

	id := uuid.NewString()
	return &Session{
		opts:     opts,
		id:       id,
		logger:   opts.Logger.With("session", id),
		observer: opts.Observer,
		trigger:  make(chan struct{}, 1),
		reopen:   reopen,
	}, nil
}

func (s *Session) ID() string { return s.id }

// Delivered returns the number of frames handed to sinks.
func (s *Session) Delivered() uint64 { return s.delivered.Load() }

// RequestFrame asks an on-demand session for the next frame. It reports
// false when a request is already pending.
func (s *Session) RequestFrame() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run acquires frames until ctx is done, a single-mode frame has been
// delivered, or a fatal error occurs. Only fatal errors are returned.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("session started",
		"strategy", s.opts.Strategy,
		"mode", s.opts.Mode,
		"output", s.opts.Process.Output,
	)
	defer s.logger.Info("session stopped", "frames", s.Delivered())

	address := s.opts.Port
	for {
		if ctx.Err() != nil {
			return nil
		}

		if address == "" && s.opts.Locator == nil {
			address = s.opts.Port
		}
		if address == "" {
			found, err := s.opts.Locator.Find(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("No FrameCam device found", "error", err)
				s.observer.CycleFailed(ctx, ClassDeviceNotFound.String())
				if s.opts.Sleep(ctx, s.opts.RetryDelay) != nil {
					return nil
				}
				continue
			}
			address = found
		}

		done, err := s.runLink(ctx, address)
		if done {
			return err
		}

		delay := s.reopen.NextBackOff()
		s.logger.Warn("link failed, rediscovering", "port", address, "error", err, "retry_in", delay)
		address = ""
		if s.opts.Sleep(ctx, delay) != nil {
			return nil
		}
	}
}

// runLink opens address and runs cycles on it. done reports that Run
// should return err; otherwise the link failed with err.
func (s *Session) runLink(ctx context.Context, address string) (done bool, err error) {
	log := s.logger.With("port", address)
	log.Info("Opening serial port")

	t, err := s.opts.Open(address)
	if err != nil {
		s.observer.CycleFailed(ctx, ClassLinkIO.String())
		return false, err
	}
	defer func() {
		if cerr := t.Close(); cerr != nil {
			log.Warn("Could not close serial port cleanly", "error", cerr)
		} else {
			log.Info("Serial port closed")
		}
	}()
	s.observer.LinkOpened(ctx, address)

	dopts := s.opts.Demux
	dopts.Logger = log
	strategy, err := demux.New(s.opts.Strategy, dopts)
	if err != nil {
		return true, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	sopts := s.opts.Sequencer
	sopts.Logger = log
	if sopts.MaxFrameSize <= 0 {
		sopts.MaxFrameSize = dopts.MaxFrameSize
	}
	sopts.Sleep = s.opts.Sleep
	if sopts.Now == nil {
		sopts.Now = s.opts.Now
	}
	seq := sequencer.New(t, strategy, sopts)

	if err := seq.Reset(ctx); err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		s.observer.CycleFailed(ctx, ClassLinkIO.String())
		return false, err
	}
	log.Info("device reset", "mode", seq.Mode())

	for {
		if s.opts.Mode == OnDemand {
			select {
			case <-ctx.Done():
				return true, nil
			case <-s.trigger:
			}
		}
		if ctx.Err() != nil {
			return true, nil
		}

		err := s.cycle(ctx, seq, log)
		class := Classify(err)
		if class != ClassNone && class != ClassCanceled {
			s.observer.CycleFailed(ctx, class.String())
		}

		switch class {
		case ClassNone:
			s.reopen.Reset()
			if s.opts.Mode == Single {
				return true, nil
			}
		case ClassCanceled:
			return true, nil
		case ClassInvalidHeader, ClassIncompleteTransfer:
			log.Warn("cycle failed, retrying", "class", class, "error", err, "retry_in", s.opts.RetryDelay)
			if s.opts.Mode == OnDemand {
				s.RequestFrame()
			}
			if s.opts.Sleep(ctx, s.opts.RetryDelay) != nil {
				return true, nil
			}
			if err := seq.Recover(ctx); err != nil {
				if ctx.Err() != nil {
					return true, nil
				}
				s.observer.CycleFailed(ctx, ClassLinkIO.String())
				return false, err
			}
		case ClassPrecondition:
			log.Warn("dropping frame", "error", err)
		case ClassFatal:
			log.Error("stopping session", "error", err)
			return true, err
		default:
			return false, err
		}
	}
}

func (s *Session) cycle(ctx context.Context, seq *sequencer.Sequencer, log *slog.Logger) (err error) {
	ctx, end := s.observer.StartCycle(ctx, seq.Mode().String())
	defer func() { end(err) }()

	p, err := seq.Next(ctx)
	if err != nil {
		return err
	}

	kib, mbps := telemetry.Speed(len(p.Data), p.Transfer)
	log.Info("Transfer done",
		"format", p.Format,
		"width", p.Width,
		"height", p.Height,
		"kib", fmt.Sprintf("%.1f", kib),
		"mbit_s", fmt.Sprintf("%.2f", mbps),
	)
	s.observer.TransferDone(ctx, p.Format.String(), len(p.Data), p.Transfer)

	frame, err := s.process(ctx, p)
	if err != nil {
		return err
	}
	frame.Seq = s.seq.Add(1)
	frame.CapturedAt = s.opts.Now()

	s.deliver(ctx, frame, log)
	return nil
}

func (s *Session) deliver(ctx context.Context, frame *camera.Frame, log *slog.Logger) {
	for _, sink := range s.opts.Sinks {
		if err := sink.Deliver(ctx, frame); err != nil {
			log.Warn("sink failed", "frame", frame.Seq, "error", err)
		}
	}
	s.delivered.Add(1)
	fps := s.observer.FrameDelivered(ctx, string(frame.Format), frame.CapturedAt)
	log.Debug("frame delivered", "frame", frame.String(), "fps", fmt.Sprintf("%.1f", fps))
}
