package demux

import (
	"fmt"
	"time"
)

// IdleTimeout treats a frame as complete once the link has been silent for
// longer than IdleThreshold. A link that stalls mid-frame for that long
// truncates the frame.
type IdleTimeout struct {
	opts Options
	buf  Buffer
}

func NewIdleTimeout(opts Options) *IdleTimeout {
	return &IdleTimeout{opts: opts.withDefaults()}
}

func (s *IdleTimeout) Kind() Kind { return KindIdleTimeout }

func (s *IdleTimeout) Begin(_ int, now time.Time) {
	s.buf.Reset()
	s.buf.Begin(now)
}

func (s *IdleTimeout) Feed(chunk []byte, now time.Time) ([]byte, error) {
	if len(chunk) > 0 {
		s.buf.Append(chunk, now)
		if s.buf.Len() > s.opts.MaxFrameSize {
			got := s.buf.Len()
			s.Reset()
			return nil, fmt.Errorf("%w: %d bytes without idle gap", ErrFrameOverflow, got)
		}
		return nil, nil
	}

	if s.buf.Len() > 0 {
		if s.buf.Idle(now) <= s.opts.IdleThreshold {
			return nil, nil
		}
		payload := s.buf.Take(0, s.buf.Len())
		s.Reset()
		return payload, nil
	}

	if s.buf.Idle(now) >= s.opts.Timeout {
		s.Reset()
		return nil, fmt.Errorf("%w: no bytes within %s", ErrIncompleteTransfer, s.opts.Timeout)
	}
	return nil, nil
}

func (s *IdleTimeout) Pending() int { return s.buf.Len() }

func (s *IdleTimeout) Reset() {
	s.buf.Reset()
}
