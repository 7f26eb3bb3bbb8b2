// Package camera holds the frames an acquisition session produces and shares
// the latest one with readers on other goroutines.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wachiwi/framecam/pkg/encode"
)

var (
	ErrNoFrame = errors.New("no frame available yet")
	ErrStale   = errors.New("frame is stale")
)

// Frame is one encoded image as delivered downstream.
type Frame struct {
	Seq        uint64
	Format     encode.Format
	Width      int
	Height     int
	Data       []byte
	CapturedAt time.Time
}

// Clone returns a deep copy of f.
func (f *Frame) Clone() *Frame {
	out := *f
	out.Data = make([]byte, len(f.Data))
	copy(out.Data, f.Data)
	return &out
}

func (f *Frame) String() string {
	return fmt.Sprintf("#%d %s %dx%d %d bytes", f.Seq, f.Format, f.Width, f.Height, len(f.Data))
}

// Sink receives every completed frame. Sinks must not retain f after
// returning; Clone it instead.
type Sink interface {
	Deliver(ctx context.Context, f *Frame) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, f *Frame) error

func (fn SinkFunc) Deliver(ctx context.Context, f *Frame) error {
	return fn(ctx, f)
}

// Cell is a single-slot store for the most recent frame. The lock is only
// held while copying in or out.
type Cell struct {
	mu         sync.RWMutex
	frame      *Frame
	storedAt   time.Time
	staleAfter time.Duration
	now        func() time.Time
}

// NewCell returns an empty cell. Frames older than staleAfter are reported
// as ErrStale; zero disables the check.
func NewCell(staleAfter time.Duration) *Cell {
	return &Cell{staleAfter: staleAfter, now: time.Now}
}

// Deliver stores a copy of f, replacing the previous frame.
func (c *Cell) Deliver(_ context.Context, f *Frame) error {
	frame := f.Clone()
	now := c.now()

	c.mu.Lock()
	c.frame = frame
	c.storedAt = now
	c.mu.Unlock()
	return nil
}

// Latest returns a copy of the most recent frame.
func (c *Cell) Latest() (*Frame, error) {
	c.mu.RLock()
	frame, storedAt := c.frame, c.storedAt
	c.mu.RUnlock()

	if frame == nil {
		return nil, ErrNoFrame
	}
	if c.staleAfter > 0 && c.now().Sub(storedAt) > c.staleAfter {
		return nil, fmt.Errorf("%w: %s old", ErrStale, c.now().Sub(storedAt).Round(time.Millisecond))
	}
	return frame.Clone(), nil
}

// Seq returns the sequence number of the stored frame, 0 when empty.
func (c *Cell) Seq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.frame == nil {
		return 0
	}
	return c.frame.Seq
}
