package acquire

import (
	"context"
	"errors"

	"github.com/wachiwi/framecam/pkg/demux"
	"github.com/wachiwi/framecam/pkg/encode"
	"github.com/wachiwi/framecam/pkg/header"
	"github.com/wachiwi/framecam/pkg/imaging"
	"github.com/wachiwi/framecam/pkg/link"
	"github.com/wachiwi/framecam/pkg/raw"
	"github.com/wachiwi/framecam/pkg/sequencer"
)

// ErrConfig reports session options that can never work.
var ErrConfig = errors.New("invalid session configuration")

// Class groups errors by how the session recovers from them.
type Class int

const (
	ClassNone Class = iota
	ClassCanceled
	// ClassDeviceNotFound: poll discovery again.
	ClassDeviceNotFound
	// ClassLinkIO: close the link, forget its address, rediscover.
	ClassLinkIO
	// ClassInvalidHeader and ClassIncompleteTransfer: drop the cycle, wait
	// the retry delay, flush and reset the device, retry on the same link.
	ClassInvalidHeader
	ClassIncompleteTransfer
	// ClassPrecondition: drop the frame, carry on.
	ClassPrecondition
	// ClassFatal: stop the session.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassCanceled:
		return "canceled"
	case ClassDeviceNotFound:
		return "device-not-found"
	case ClassLinkIO:
		return "link-io"
	case ClassInvalidHeader:
		return "invalid-header"
	case ClassIncompleteTransfer:
		return "incomplete-transfer"
	case ClassPrecondition:
		return "reconstruction-precondition"
	case ClassFatal:
		return "fatal"
	}
	return "unknown"
}

// Classify maps err to its recovery class. Errors no package claims are
// treated as link failures.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	case errors.Is(err, link.ErrDeviceNotFound):
		return ClassDeviceNotFound
	case errors.Is(err, link.ErrLinkIO):
		return ClassLinkIO
	case errors.Is(err, header.ErrInvalidHeader), errors.Is(err, sequencer.ErrNoResponse):
		return ClassInvalidHeader
	case errors.Is(err, demux.ErrIncompleteTransfer),
		errors.Is(err, demux.ErrFrameOverflow),
		errors.Is(err, sequencer.ErrCorruptPayload):
		return ClassIncompleteTransfer
	case errors.Is(err, raw.ErrPrecondition), errors.Is(err, imaging.ErrDimensions):
		return ClassPrecondition
	case errors.Is(err, raw.ErrUnsupportedFormat),
		errors.Is(err, encode.ErrUnsupportedFormat),
		errors.Is(err, ErrConfig):
		return ClassFatal
	}
	return ClassLinkIO
}
