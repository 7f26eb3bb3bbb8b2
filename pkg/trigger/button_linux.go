//go:build linux

package trigger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Button requests a frame on each press of a shutter button wired between
// a GPIO line and ground.
type Button struct {
	line *gpiocdev.Line
}

// NewButton requests line on chip as a pulled-up input watching falling
// edges.
func NewButton(chip, line string, debounce time.Duration, r Requester, log *slog.Logger) (*Button, error) {
	offset, err := ResolveLine(line)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("chip", chip, "line", offset)

	l, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.WithConsumer("framecam"),
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithDebounce(debounce),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			log.Debug("button pressed", "seqno", evt.Seqno)
			fire(r, log, "button")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to request gpio line: %w", err)
	}
	log.Info("Shutter button armed")
	return &Button{line: l}, nil
}

func (b *Button) Close() error {
	return b.line.Close()
}
