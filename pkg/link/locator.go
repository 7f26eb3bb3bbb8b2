package link

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.bug.st/serial/enumerator"
)

// Default USB ids of FrameCam boards.
var (
	DefaultVendorIDs  = []uint16{0x1A86, 12619}
	DefaultProductIDs = []uint16{0xFE01}
)

// Locator resolves the address of an attached device.
type Locator interface {
	Find(ctx context.Context) (string, error)
}

// PortInfo is the subset of enumerated port details the locator matches on.
type PortInfo struct {
	Name  string
	IsUSB bool
	VID   string
	PID   string
}

// USBLocator polls the serial port list until a port with a matching
// vendor/product id pair shows up.
type USBLocator struct {
	VendorIDs  []uint16
	ProductIDs []uint16
	Interval   time.Duration
	// Timeout bounds one Find call. The session loop calls Find again after
	// it gives up.
	Timeout time.Duration
	Logger  *slog.Logger

	// list is replaced in tests.
	list func() ([]PortInfo, error)
}

// NewUSBLocator returns a locator for the given ids polling at interval.
func NewUSBLocator(vids, pids []uint16, interval time.Duration) *USBLocator {
	if len(vids) == 0 {
		vids = DefaultVendorIDs
	}
	if len(pids) == 0 {
		pids = DefaultProductIDs
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &USBLocator{
		VendorIDs:  vids,
		ProductIDs: pids,
		Interval:   interval,
		Timeout:    24 * time.Hour,
		Logger:     slog.Default(),
		list:       listSerialPorts,
	}
}

// Find blocks until a matching port is present, ctx is done, or Timeout
// elapses.
func (l *USBLocator) Find(ctx context.Context) (string, error) {
	notify := func(err error, next time.Duration) {
		l.Logger.Info("waiting for USB device to be connected", "retry_in", next)
	}
	return backoff.Retry(ctx, l.scan,
		backoff.WithBackOff(backoff.NewConstantBackOff(l.Interval)),
		backoff.WithMaxElapsedTime(l.Timeout),
		backoff.WithNotify(notify),
	)
}

func (l *USBLocator) scan() (string, error) {
	ports, err := l.list()
	if err != nil {
		return "", fmt.Errorf("%w: list ports: %w", ErrDeviceNotFound, err)
	}
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		vid, err := strconv.ParseUint(p.VID, 16, 16)
		if err != nil {
			continue
		}
		pid, err := strconv.ParseUint(p.PID, 16, 16)
		if err != nil {
			continue
		}
		if slices.Contains(l.VendorIDs, uint16(vid)) && slices.Contains(l.ProductIDs, uint16(pid)) {
			l.Logger.Info("found device", "port", p.Name, "vid", p.VID, "pid", p.PID)
			return p.Name, nil
		}
	}
	return "", ErrDeviceNotFound
}

func listSerialPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{Name: d.Name, IsUSB: d.IsUSB, VID: d.VID, PID: d.PID})
	}
	return ports, nil
}
