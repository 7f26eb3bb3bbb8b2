// Command framecam acquires frames from a FrameCam device over a serial
// link, saves them and serves a live preview.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/wachiwi/framecam/pkg/acquire"
	"github.com/wachiwi/framecam/pkg/camera"
	"github.com/wachiwi/framecam/pkg/chime"
	"github.com/wachiwi/framecam/pkg/config"
	"github.com/wachiwi/framecam/pkg/demux"
	"github.com/wachiwi/framecam/pkg/encode"
	"github.com/wachiwi/framecam/pkg/link"
	"github.com/wachiwi/framecam/pkg/logger"
	"github.com/wachiwi/framecam/pkg/sequencer"
	"github.com/wachiwi/framecam/pkg/store"
	"github.com/wachiwi/framecam/pkg/telemetry"
	"github.com/wachiwi/framecam/pkg/trigger"
)

const instrumentationName = "github.com/wachiwi/framecam"

type options struct {
	config   string
	com      string
	format   string
	logLevel string
	hflip    bool
	vflip    bool
	video    bool
	single   bool
}

func parseFlags(args []string, out io.Writer) (*options, error) {
	var o options
	fs := flag.NewFlagSet("framecam", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.config, "config", "", "Path to framecam.yaml")
	fs.StringVar(&o.com, "com", "", "Serial port, e.g. /dev/ttyUSB0 or COM3 (default: discover by USB id)")
	fs.StringVar(&o.format, "format", "", "Output format: jpeg or png")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&o.hflip, "hflip", false, "Mirror frames horizontally")
	fs.BoolVar(&o.vflip, "vflip", false, "Mirror frames vertically")
	fs.BoolVar(&o.video, "video", false, "Capture continuously")
	fs.BoolVar(&o.single, "single", false, "Stop after the first frame")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.video && o.single {
		return nil, errors.New("-video and -single are mutually exclusive")
	}
	return &o, nil
}

// apply overrides cfg with the flags that were given.
func (o *options) apply(cfg *config.Config) {
	if o.com != "" {
		cfg.Link.Port = o.com
	}
	if o.format != "" {
		cfg.Output.Format = o.format
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.hflip {
		cfg.Output.HFlip = true
	}
	if o.vflip {
		cfg.Output.VFlip = true
	}
	if o.video {
		cfg.Capture.Mode = string(acquire.Continuous)
		if cfg.Capture.Strategy == string(demux.KindMarkerDelimited) {
			cfg.Capture.RequestEachFrame = true
		}
	}
	if o.single {
		cfg.Capture.Mode = string(acquire.Single)
	}
}

func loadConfig(o *options) (*config.Config, error) {
	cfg := config.Default()
	if o.config != "" {
		f, err := os.Open(o.config)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		defer f.Close()
		if err := cfg.Decode(f); err != nil {
			return nil, err
		}
	}
	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := logger.Setup(cfg.Log.Level); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		logger.Fatal("framecam stopped", "error", err)
	}
}

func sessionOptions(cfg *config.Config, sinks []camera.Sink, observer acquire.Observer) (acquire.Options, error) {
	kind, err := demux.ParseKind(cfg.Capture.Strategy)
	if err != nil {
		return acquire.Options{}, err
	}
	format, err := encode.ParseFormat(cfg.Output.Format)
	if err != nil {
		return acquire.Options{}, err
	}

	var locator link.Locator
	if len(cfg.Link.VendorIDs) > 0 && len(cfg.Link.ProductIDs) > 0 {
		l := link.NewUSBLocator(cfg.Link.VendorIDs, cfg.Link.ProductIDs, cfg.Link.DiscoveryInterval)
		l.Timeout = cfg.Link.DiscoveryTimeout
		locator = l
	}

	return acquire.Options{
		Port:    cfg.Link.Port,
		Locator: locator,
		Open: link.SerialOpener(link.SerialConfig{
			BaudRate:    cfg.Link.BaudRate,
			ReadTimeout: cfg.Link.ReadTimeout,
		}),
		Strategy: kind,
		Demux: demux.Options{
			Timeout:       cfg.Link.ReadTimeout,
			IdleThreshold: cfg.Capture.IdleThreshold,
			MaxFrameSize:  cfg.Capture.MaxFrameSize,
		},
		Sequencer: sequencer.Options{
			SettleDelay:      cfg.Capture.SettleDelay,
			ReadTimeout:      cfg.Link.ReadTimeout,
			ChunkSize:        cfg.Capture.ChunkSize,
			StrictHeader:     cfg.Capture.StrictHeader,
			RequestEachFrame: cfg.Capture.RequestEachFrame,
			SendTransfer:     cfg.Capture.SendTransfer,
		},
		Mode:          acquire.Mode(cfg.Capture.Mode),
		RetryDelay:    cfg.Capture.RetryDelay,
		MaxRetryDelay: cfg.Capture.MaxRetryDelay,
		Process: acquire.ProcessOptions{
			Output:       format,
			HFlip:        cfg.Output.HFlip,
			VFlip:        cfg.Output.VFlip,
			WhiteBalance: cfg.Output.WhiteBalance,
			Gamma:        cfg.Output.Gamma,
			Focus:        cfg.Output.Focus,
		},
		Sinks:    sinks,
		Observer: observer,
	}, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("Failed to flush telemetry", "error", err)
			}
		}()
	}
	metrics, err := telemetry.NewMetrics(otel.Meter(instrumentationName), otel.Tracer(instrumentationName))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	latest := camera.NewCell(cfg.Preview.StaleAfter)
	sinks := []camera.Sink{latest}

	frames := store.New(cfg.Store.Dir, cfg.Store.Retention)
	if cfg.Store.Enabled {
		sinks = append(sinks, frames)
	}

	var preview *camera.Preview
	if cfg.Preview.Enabled {
		preview = camera.NewPreview(cfg.Preview.MaxWidth, cfg.Preview.MaxHeight, camera.NewCell(cfg.Preview.StaleAfter))
		sinks = append(sinks, preview)
	}

	if cfg.Chime.File != "" {
		if c, err := newChime(cfg.Chime.File); err != nil {
			slog.Warn("Shutter chime disabled", "error", err)
		} else {
			sinks = append(sinks, c)
			defer c.Wait()
		}
	}

	opts, err := sessionOptions(cfg, sinks, metrics)
	if err != nil {
		return err
	}
	session, err := acquire.New(opts)
	if err != nil {
		return err
	}

	var requester trigger.Requester
	if opts.Mode == acquire.OnDemand {
		requester = session
		stopTriggers, err := startTriggers(cfg, session)
		if err != nil {
			return err
		}
		defer stopTriggers()
	}

	if preview != nil {
		srv := &http.Server{
			Addr: cfg.Preview.Listen,
			Handler: newRouter(routes{
				Latest:        latest,
				Preview:       preview.Cell,
				Store:         frames,
				Trigger:       requester,
				User:          cfg.Preview.User,
				Password:      cfg.Preview.Password,
				SessionSecret: cfg.Preview.SessionSecret,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("Preview server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Preview server failed", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				slog.Warn("Preview server did not stop cleanly", "error", err)
			}
		}()
	}

	return session.Run(ctx)
}

func newChime(path string) (*chime.Chime, error) {
	sound, err := chime.Load(path)
	if err != nil {
		return nil, err
	}
	speaker, err := chime.NewSpeaker()
	if err != nil {
		return nil, err
	}
	slog.Info("Shutter chime loaded", "file", sound.Name, "duration", sound.Duration())
	return chime.New(sound, speaker, nil), nil
}

// startTriggers arms the cron schedule and the shutter button. A missing
// button is logged, not fatal.
func startTriggers(cfg *config.Config, r trigger.Requester) (func(), error) {
	var stops []func()
	stop := func() {
		for _, s := range stops {
			s()
		}
	}

	if cfg.Capture.Schedule != "" {
		sched, err := trigger.NewSchedule(cfg.Capture.Schedule, time.Local, r, slog.Default())
		if err != nil {
			return nil, err
		}
		sched.Start()
		stops = append(stops, sched.Stop)
		slog.Info("Capture schedule armed", "schedule", cfg.Capture.Schedule, "next", sched.Next(time.Now()))
	}

	if cfg.Trigger.GPIOLine != "" {
		btn, err := trigger.NewButton(cfg.Trigger.GPIOChip, cfg.Trigger.GPIOLine, cfg.Trigger.Debounce, r, slog.Default())
		if err != nil {
			slog.Warn("Shutter button unavailable", "error", err)
		} else {
			stops = append(stops, func() {
				if err := btn.Close(); err != nil {
					slog.Warn("Failed to release shutter button", "error", err)
				}
			})
		}
	}
	return stop, nil
}
