// Package linktest provides a scripted in-memory transport for tests.
package linktest

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by reads and writes after Close.
var ErrClosed = errors.New("linktest: transport closed")

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Fake replays a script of read results. An empty entry behaves like a read
// timeout: it returns 0, nil and advances Clock by the configured read
// timeout. When the script runs out every read times out, or fails with
// Exhausted if that is set.
type Fake struct {
	mu      sync.Mutex
	script  [][]byte
	written []byte
	timeout time.Duration
	closed  bool
	partial bool
	flushes int

	Clock *Clock
	// Exhausted, when non-nil, is returned once the script is consumed.
	Exhausted error
	// WriteErr, when non-nil, fails every write.
	WriteErr error
	// OnWrite is called with each written command.
	OnWrite func(p []byte)
}

// New returns a fake that will serve chunks in order.
func New(clock *Clock, chunks ...[]byte) *Fake {
	return &Fake{script: chunks, Clock: clock, timeout: time.Second}
}

// Push appends chunks to the script.
func (f *Fake) Push(chunks ...[]byte) {
	f.mu.Lock()
	f.script = append(f.script, chunks...)
	f.mu.Unlock()
}

func (f *Fake) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, ErrClosed
	}
	if len(f.script) == 0 {
		exhausted := f.Exhausted
		f.mu.Unlock()
		if exhausted != nil {
			return 0, exhausted
		}
		f.idle()
		return 0, nil
	}

	chunk := f.script[0]
	if len(chunk) == 0 {
		f.script = f.script[1:]
		f.mu.Unlock()
		f.idle()
		return 0, nil
	}
	n := copy(p, chunk)
	f.partial = n < len(chunk)
	if f.partial {
		f.script[0] = chunk[n:]
	} else {
		f.script = f.script[1:]
	}
	f.mu.Unlock()
	return n, nil
}

func (f *Fake) idle() {
	if f.Clock != nil {
		f.Clock.Advance(f.timeout)
	}
}

func (f *Fake) Write(p []byte) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, ErrClosed
	}
	if f.WriteErr != nil {
		err := f.WriteErr
		f.mu.Unlock()
		return 0, err
	}
	f.written = append(f.written, p...)
	hook := f.OnWrite
	f.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return len(p), nil
}

func (f *Fake) SetReadTimeout(t time.Duration) error {
	f.mu.Lock()
	f.timeout = t
	f.mu.Unlock()
	return nil
}

// ResetInputBuffer drops the unread rest of a partly consumed chunk. Later
// script entries count as not yet received and survive.
func (f *Fake) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.flushes++
	if f.partial && len(f.script) > 0 {
		f.script = f.script[1:]
	}
	f.partial = false
	return nil
}

// Flushes returns how often ResetInputBuffer was called.
func (f *Fake) Flushes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Written returns every byte written so far.
func (f *Fake) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.written)
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Remaining returns the number of unread script entries.
func (f *Fake) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.script)
}
