package demux

import "time"

// Buffer accumulates the bytes of one in-flight frame.
type Buffer struct {
	data           []byte
	StartedAt      time.Time
	LastActivityAt time.Time
}

// Begin marks the start of a wait for frame bytes. Carried-over bytes are
// kept; the idle clock restarts.
func (b *Buffer) Begin(now time.Time) {
	if len(b.data) == 0 {
		b.StartedAt = now
	}
	b.LastActivityAt = now
}

// Append adds p and resets the idle clock.
func (b *Buffer) Append(p []byte, now time.Time) {
	if len(b.data) == 0 {
		b.StartedAt = now
	}
	b.data = append(b.data, p...)
	b.LastActivityAt = now
}

func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the accumulated bytes. The slice is only valid until the
// next call that modifies b.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Idle returns the time since the last activity.
func (b *Buffer) Idle(now time.Time) time.Duration {
	return now.Sub(b.LastActivityAt)
}

// Take removes and returns a copy of data[from:to]; data[to:] is kept as the
// seed of the next frame.
func (b *Buffer) Take(from, to int) []byte {
	out := make([]byte, to-from)
	copy(out, b.data[from:to])
	b.Keep(to)
	return out
}

// Keep drops data[:from].
func (b *Buffer) Keep(from int) {
	rest := len(b.data) - from
	if rest <= 0 {
		b.data = nil
		return
	}
	next := make([]byte, rest)
	copy(next, b.data[from:])
	b.data = next
}

// Reset empties the buffer and clears its timestamps.
func (b *Buffer) Reset() {
	b.data = nil
	b.StartedAt = time.Time{}
	b.LastActivityAt = time.Time{}
}
