// Package config loads the FrameCam YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/wachiwi/framecam/pkg/acquire"
	"github.com/wachiwi/framecam/pkg/demux"
	"github.com/wachiwi/framecam/pkg/encode"
	"github.com/wachiwi/framecam/pkg/link"
	"github.com/wachiwi/framecam/pkg/logger"
	"github.com/wachiwi/framecam/pkg/trigger"
)

// ErrInvalid marks a configuration that cannot run.
var ErrInvalid = errors.New("invalid configuration")

type Link struct {
	// Port is tried before discovery; empty means discover.
	Port              string        `yaml:"port"`
	BaudRate          int           `yaml:"baud_rate"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	VendorIDs         []uint16      `yaml:"vendor_ids"`
	ProductIDs        []uint16      `yaml:"product_ids"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout"`
}

type Capture struct {
	Strategy         string        `yaml:"strategy"`
	Mode             string        `yaml:"mode"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	MaxRetryDelay    time.Duration `yaml:"max_retry_delay"`
	IdleThreshold    time.Duration `yaml:"idle_threshold"`
	ChunkSize        int           `yaml:"chunk_size"`
	MaxFrameSize     int           `yaml:"max_frame_size"`
	StrictHeader     bool          `yaml:"strict_header"`
	RequestEachFrame bool          `yaml:"request_each_frame"`
	SendTransfer     bool          `yaml:"send_transfer"`
	// Schedule is a cron spec that requests frames in on-demand mode.
	Schedule string `yaml:"schedule"`
}

type Output struct {
	Format       string `yaml:"format"`
	HFlip        bool   `yaml:"hflip"`
	VFlip        bool   `yaml:"vflip"`
	WhiteBalance bool   `yaml:"white_balance"`
	// Gamma of 0 disables gamma correction.
	Gamma float64 `yaml:"gamma"`
	// Focus names a sharpness metric computed per frame: laplacian,
	// tenengrad or empty.
	Focus string `yaml:"focus"`
}

type Store struct {
	Enabled   bool          `yaml:"enabled"`
	Dir       string        `yaml:"dir"`
	Retention time.Duration `yaml:"retention"`
}

type Preview struct {
	Enabled       bool          `yaml:"enabled"`
	Listen        string        `yaml:"listen"`
	MaxWidth      int           `yaml:"max_width"`
	MaxHeight     int           `yaml:"max_height"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	SessionSecret string        `yaml:"session_secret"`
	StaleAfter    time.Duration `yaml:"stale_after"`
}

type Trigger struct {
	GPIOChip string `yaml:"gpio_chip"`
	// GPIOLine names the shutter button line: an offset, "GPIO17" or
	// "J8p11". Empty disables it.
	GPIOLine string        `yaml:"gpio_line"`
	Debounce time.Duration `yaml:"debounce"`
}

type Chime struct {
	File string `yaml:"file"`
}

type Telemetry struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Config is the top-level structure of framecam.yaml.
type Config struct {
	Link      Link      `yaml:"link"`
	Capture   Capture   `yaml:"capture"`
	Output    Output    `yaml:"output"`
	Store     Store     `yaml:"store"`
	Preview   Preview   `yaml:"preview"`
	Trigger   Trigger   `yaml:"trigger"`
	Chime     Chime     `yaml:"chime"`
	Telemetry Telemetry `yaml:"telemetry"`
	Log       Log       `yaml:"log"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Link: Link{
			BaudRate:          460800,
			ReadTimeout:       time.Second,
			VendorIDs:         append([]uint16(nil), link.DefaultVendorIDs...),
			ProductIDs:        append([]uint16(nil), link.DefaultProductIDs...),
			DiscoveryInterval: time.Second,
			DiscoveryTimeout:  24 * time.Hour,
		},
		Capture: Capture{
			Strategy:      string(demux.KindLengthPrefixed),
			Mode:          string(acquire.Continuous),
			SettleDelay:   time.Second,
			RetryDelay:    time.Second,
			MaxRetryDelay: 30 * time.Second,
			IdleThreshold: time.Second,
			ChunkSize:     2048,
			MaxFrameSize:  demux.DefaultMaxFrameSize,
		},
		Output: Output{
			Format: string(encode.JPEG),
		},
		Store: Store{
			Enabled:   true,
			Dir:       "DCIM",
			Retention: 7 * 24 * time.Hour,
		},
		Preview: Preview{
			Listen:     ":8080",
			MaxWidth:   1280,
			MaxHeight:  720,
			StaleAfter: 5 * time.Second,
		},
		Trigger: Trigger{
			GPIOChip: "gpiochip0",
			Debounce: 50 * time.Millisecond,
		},
		Telemetry: Telemetry{
			ServiceName: "framecam",
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path over the defaults and validates the result. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()

	if err := cfg.Decode(f); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Decode overlays YAML from r onto cfg. Unknown keys are rejected.
func (c *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: parse config: %w", ErrInvalid, err)
	}
	return nil
}

// Validate reports every problem at once, each wrapping ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if c.Link.BaudRate <= 0 {
		bad("link.baud_rate must be positive, got %d", c.Link.BaudRate)
	}
	if c.Link.ReadTimeout <= 0 {
		bad("link.read_timeout must be positive")
	}
	if c.Link.Port == "" && (len(c.Link.VendorIDs) == 0 || len(c.Link.ProductIDs) == 0) {
		bad("link.vendor_ids and link.product_ids are required without link.port")
	}
	if c.Link.DiscoveryInterval <= 0 || c.Link.DiscoveryTimeout <= 0 {
		bad("link.discovery_interval and link.discovery_timeout must be positive")
	}

	if _, err := demux.ParseKind(c.Capture.Strategy); err != nil {
		bad("capture.strategy: %v", err)
	}
	mode, err := acquire.ParseMode(c.Capture.Mode)
	if err != nil {
		bad("capture.mode: %v", err)
	}
	if c.Capture.Schedule != "" {
		if _, err := cron.ParseStandard(c.Capture.Schedule); err != nil {
			bad("capture.schedule: %v", err)
		} else if mode != acquire.OnDemand {
			bad("capture.schedule needs capture.mode %q", acquire.OnDemand)
		}
	}
	if c.Capture.SettleDelay < 0 {
		bad("capture.settle_delay must not be negative")
	}
	if c.Capture.RetryDelay <= 0 {
		bad("capture.retry_delay must be positive")
	}
	if c.Capture.MaxRetryDelay < c.Capture.RetryDelay {
		bad("capture.max_retry_delay must be at least capture.retry_delay")
	}
	if c.Capture.IdleThreshold <= 0 {
		bad("capture.idle_threshold must be positive")
	}
	if c.Capture.ChunkSize <= 0 {
		bad("capture.chunk_size must be positive")
	}
	if c.Capture.MaxFrameSize <= 0 {
		bad("capture.max_frame_size must be positive")
	}

	if _, err := encode.ParseFormat(c.Output.Format); err != nil {
		bad("output.format: %v", err)
	}
	if c.Output.Gamma < 0 {
		bad("output.gamma must not be negative")
	}
	switch c.Output.Focus {
	case "", "laplacian", "tenengrad":
	default:
		bad("output.focus: unknown metric %q", c.Output.Focus)
	}

	if c.Store.Enabled && c.Store.Dir == "" {
		bad("store.dir is required")
	}
	if c.Preview.Enabled {
		if c.Preview.Listen == "" {
			bad("preview.listen is required")
		}
		if c.Preview.MaxWidth <= 0 || c.Preview.MaxHeight <= 0 {
			bad("preview.max_width and preview.max_height must be positive")
		}
		if (c.Preview.User == "") != (c.Preview.Password == "") {
			bad("preview.user and preview.password must be set together")
		}
	}
	if c.Trigger.GPIOLine != "" {
		if _, err := trigger.ResolveLine(c.Trigger.GPIOLine); err != nil {
			bad("trigger.gpio_line: %v", err)
		}
		if mode != acquire.OnDemand {
			bad("trigger.gpio_line needs capture.mode %q", acquire.OnDemand)
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		bad("log.level: %v", err)
	}

	return errors.Join(errs...)
}
