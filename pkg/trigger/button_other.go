//go:build !linux

package trigger

import (
	"errors"
	"log/slog"
	"time"
)

// ErrNoGPIO is returned where the GPIO character device is unavailable.
var ErrNoGPIO = errors.New("gpio buttons need linux")

type Button struct{}

func NewButton(chip, line string, debounce time.Duration, r Requester, log *slog.Logger) (*Button, error) {
	if _, err := ResolveLine(line); err != nil {
		return nil, err
	}
	return nil, ErrNoGPIO
}

func (b *Button) Close() error { return nil }
