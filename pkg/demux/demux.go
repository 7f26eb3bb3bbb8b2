// Package demux finds frame boundaries in the byte stream coming from the
// device. Three strategies share one interface: a declared length, JPEG
// start/end markers, or an idle gap after the last byte.
package demux

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrIncompleteTransfer reports a frame that stopped arriving before its
	// boundary was found. The partial bytes are discarded.
	ErrIncompleteTransfer = errors.New("incomplete transfer")
	// ErrFrameOverflow reports an accumulation that outgrew MaxFrameSize.
	ErrFrameOverflow = errors.New("frame exceeds size limit")
)

// Kind selects a boundary detection strategy.
type Kind string

const (
	KindLengthPrefixed  Kind = "length-prefixed"
	KindMarkerDelimited Kind = "marker-delimited"
	KindIdleTimeout     Kind = "idle-timeout"
)

// ParseKind validates a configured strategy name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindLengthPrefixed, KindMarkerDelimited, KindIdleTimeout:
		return k, nil
	}
	return "", fmt.Errorf("unknown boundary strategy %q", s)
}

// Strategy consumes read results and reports complete payloads.
//
// Feed is called once per read; an empty chunk means the read timed out.
// It returns a non-nil payload exactly once per frame and never returns a
// partial one. After an error the accumulated bytes are gone.
type Strategy interface {
	Kind() Kind
	// Begin starts waiting for a frame. expected is the declared payload
	// size, or 0 when unknown.
	Begin(expected int, now time.Time)
	Feed(chunk []byte, now time.Time) ([]byte, error)
	// Pending returns the number of buffered bytes.
	Pending() int
	Reset()
}

// Options tune the strategies.
type Options struct {
	// Timeout is how long a frame may go without new bytes before it is
	// abandoned.
	Timeout time.Duration
	// IdleThreshold is the silence that finalizes an idle-timeout frame.
	IdleThreshold time.Duration
	// MaxFrameSize caps the accumulation buffer.
	MaxFrameSize int
	Logger       *slog.Logger
}

// DefaultMaxFrameSize caps a frame at 10 MiB.
const DefaultMaxFrameSize = 10 * 1024 * 1024

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = time.Second
	}
	if o.IdleThreshold <= 0 {
		o.IdleThreshold = time.Second
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// New builds the strategy for kind.
func New(kind Kind, opts Options) (Strategy, error) {
	switch kind {
	case KindLengthPrefixed:
		return NewLengthPrefixed(opts), nil
	case KindMarkerDelimited:
		return NewMarkerDelimited(opts), nil
	case KindIdleTimeout:
		return NewIdleTimeout(opts), nil
	}
	return nil, fmt.Errorf("unknown boundary strategy %q", kind)
}
