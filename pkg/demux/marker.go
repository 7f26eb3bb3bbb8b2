package demux

import (
	"bytes"
	"fmt"
	"time"
)

// JPEG stream markers.
var (
	StartOfImage = []byte{0xFF, 0xD8}
	EndOfImage   = []byte{0xFF, 0xD9}
)

// MarkerStats counts what the marker scan threw away.
type MarkerStats struct {
	Frames     int
	Discarded  int
	NoiseBytes int
}

// MarkerDelimited cuts JPEG frames out of a continuous stream. The first
// end-of-image marker closes the frame; the first start-of-image marker
// before it opens it. Bytes after the end marker seed the next frame.
type MarkerDelimited struct {
	opts    Options
	buf     Buffer
	scanned int
	stats   MarkerStats
}

func NewMarkerDelimited(opts Options) *MarkerDelimited {
	return &MarkerDelimited{opts: opts.withDefaults()}
}

func (s *MarkerDelimited) Kind() Kind { return KindMarkerDelimited }

func (s *MarkerDelimited) Begin(_ int, now time.Time) {
	s.buf.Begin(now)
}

func (s *MarkerDelimited) Feed(chunk []byte, now time.Time) ([]byte, error) {
	if len(chunk) > 0 {
		s.buf.Append(chunk, now)
	}

	if frame, found := s.extract(); found {
		return frame, nil
	}

	if len(chunk) == 0 && s.buf.Idle(now) >= s.opts.Timeout {
		got := s.buf.Len()
		s.Reset()
		return nil, fmt.Errorf("%w: no end-of-image marker after %d bytes", ErrIncompleteTransfer, got)
	}

	if s.buf.Len() > s.opts.MaxFrameSize {
		got := s.buf.Len()
		s.opts.Logger.Warn("frame buffer overflow, resetting", "bytes", got)
		s.Reset()
		return nil, fmt.Errorf("%w: %d bytes without end-of-image marker", ErrFrameOverflow, got)
	}
	return nil, nil
}

// extract looks for a complete frame. It reports found only when a frame
// is returned; a discarded buffer leaves found false.
func (s *MarkerDelimited) extract() ([]byte, bool) {
	data := s.buf.Bytes()
	from := max(s.scanned-1, 0)
	if from >= len(data) {
		return nil, false
	}

	i := bytes.Index(data[from:], EndOfImage)
	if i < 0 {
		s.scanned = len(data)
		return nil, false
	}
	end := from + i

	start := bytes.Index(data[:end], StartOfImage)
	if start < 0 {
		s.opts.Logger.Warn("start-of-image marker not found, skipping image", "bytes", len(data))
		s.stats.Discarded++
		s.Reset()
		return nil, false
	}
	if start > 0 {
		s.opts.Logger.Warn("discarding bytes before start-of-image marker", "bytes", start)
		s.stats.NoiseBytes += start
	}

	frame := make([]byte, end+2-start)
	copy(frame, data[start:end+2])
	s.buf.Keep(end + 2)
	s.scanned = 0
	s.stats.Frames++
	return frame, true
}

func (s *MarkerDelimited) Pending() int { return s.buf.Len() }

// Stats returns counters since construction.
func (s *MarkerDelimited) Stats() MarkerStats { return s.stats }

func (s *MarkerDelimited) Reset() {
	s.buf.Reset()
	s.scanned = 0
}
