// Package link opens the byte-stream connection to a FrameCam device and
// locates the device by its USB vendor and product ids.
package link

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

var (
	// ErrDeviceNotFound is returned when no attached port matches the ids.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrLinkIO reports a transport failure that requires reopening the link.
	ErrLinkIO = errors.New("link i/o failure")
)

// Command bytes understood by the device.
const (
	CmdReset    byte = 'R'
	CmdSnapshot byte = 'S'
	CmdTransfer byte = 'T'
)

// Transport is a bidirectional byte stream with a bounded read. A Read that
// times out returns 0, nil.
type Transport interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	// ResetInputBuffer drops bytes received but not yet read.
	ResetInputBuffer() error
}

// SerialConfig holds the serial line settings.
type SerialConfig struct {
	BaudRate    int
	ReadTimeout time.Duration
}

// OpenFunc opens a transport for a link address.
type OpenFunc func(address string) (Transport, error)

// OpenSerial opens address as an 8N1 serial port. A zero BaudRate defaults
// to 460800 and a zero ReadTimeout to one second.
func OpenSerial(address string, cfg SerialConfig) (Transport, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 460800
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = time.Second
	}

	port, err := serial.Open(address, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrLinkIO, address, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: set read timeout on %s: %w", ErrLinkIO, address, err)
	}
	return port, nil
}

// SerialOpener binds cfg into an OpenFunc.
func SerialOpener(cfg SerialConfig) OpenFunc {
	return func(address string) (Transport, error) {
		return OpenSerial(address, cfg)
	}
}
