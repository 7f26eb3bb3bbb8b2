// Package trigger turns cron schedules and shutter button presses into
// frame requests for an on-demand session.
package trigger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warthog618/go-gpiocdev/device/rpi"

	"github.com/wachiwi/framecam/pkg/logger"
)

// Requester is satisfied by *acquire.Session.
type Requester interface {
	RequestFrame() bool
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func() bool

func (fn RequesterFunc) RequestFrame() bool { return fn() }

func fire(r Requester, log *slog.Logger, source string) {
	if r.RequestFrame() {
		log.Info("Frame requested", "source", source)
		return
	}
	log.Debug("frame request already pending", "source", source)
}

// Schedule requests a frame on every tick of a standard cron expression.
type Schedule struct {
	cron     *cron.Cron
	schedule cron.Schedule
	id       cron.EntryID
	loc      *time.Location
}

// NewSchedule parses spec and registers the job. Nothing fires until Start.
func NewSchedule(spec string, loc *time.Location, r Requester, log *slog.Logger) (*Schedule, error) {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = slog.Default()
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	cl := &logger.CronLogger{Logger: log.With("component", "cron")}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	id := c.Schedule(sched, cron.FuncJob(func() { fire(r, log, "schedule") }))
	return &Schedule{cron: c, schedule: sched, id: id, loc: loc}, nil
}

func (s *Schedule) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for a running job.
func (s *Schedule) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the first activation after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// ResolveLine maps a line name such as "GPIO17", "J8p11" or "17" to its
// offset on the Raspberry Pi header.
func ResolveLine(name string) (int, error) {
	offset, err := rpi.Pin(name)
	if err != nil {
		return 0, fmt.Errorf("unknown gpio line %q: %w", name, err)
	}
	return offset, nil
}
