package demux

import (
	"fmt"
	"time"
)

// LengthPrefixed reads exactly the number of bytes the header declared.
type LengthPrefixed struct {
	opts     Options
	buf      Buffer
	expected int
}

func NewLengthPrefixed(opts Options) *LengthPrefixed {
	return &LengthPrefixed{opts: opts.withDefaults()}
}

func (s *LengthPrefixed) Kind() Kind { return KindLengthPrefixed }

func (s *LengthPrefixed) Begin(expected int, now time.Time) {
	s.buf.Reset()
	s.expected = expected
	s.buf.Begin(now)
}

// Remaining returns how many bytes are still owed.
func (s *LengthPrefixed) Remaining() int {
	return s.expected - s.buf.Len()
}

func (s *LengthPrefixed) Feed(chunk []byte, now time.Time) ([]byte, error) {
	if s.expected <= 0 {
		s.Reset()
		return nil, fmt.Errorf("%w: no payload size declared", ErrIncompleteTransfer)
	}
	if s.expected > s.opts.MaxFrameSize {
		size := s.expected
		s.Reset()
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameOverflow, size, s.opts.MaxFrameSize)
	}

	if len(chunk) > 0 {
		s.buf.Append(chunk, now)
		if s.buf.Len() < s.expected {
			return nil, nil
		}
		if extra := s.buf.Len() - s.expected; extra > 0 {
			s.opts.Logger.Warn("discarding bytes past declared payload size", "bytes", extra)
		}
		payload := s.buf.Take(0, s.expected)
		s.Reset()
		return payload, nil
	}

	if s.buf.Idle(now) >= s.opts.Timeout {
		got, want := s.buf.Len(), s.expected
		s.Reset()
		return nil, fmt.Errorf("%w: received %d of %d bytes", ErrIncompleteTransfer, got, want)
	}
	return nil, nil
}

func (s *LengthPrefixed) Pending() int { return s.buf.Len() }

func (s *LengthPrefixed) Reset() {
	s.buf.Reset()
	s.expected = 0
}
