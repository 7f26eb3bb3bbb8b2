package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 460800, cfg.Link.BaudRate)
	assert.Equal(t, time.Second, cfg.Link.ReadTimeout)
	assert.Equal(t, []uint16{0x1A86, 12619}, cfg.Link.VendorIDs)
	assert.Equal(t, []uint16{0xFE01}, cfg.Link.ProductIDs)
	assert.Equal(t, "length-prefixed", cfg.Capture.Strategy)
	assert.Equal(t, 2048, cfg.Capture.ChunkSize)
	assert.Equal(t, 10*1024*1024, cfg.Capture.MaxFrameSize)
	assert.Equal(t, "DCIM", cfg.Store.Dir)
	assert.Equal(t, 1280, cfg.Preview.MaxWidth)
	assert.Equal(t, 720, cfg.Preview.MaxHeight)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framecam.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
link:
  port: /dev/ttyUSB1
  product_ids: [0xFE02]
capture:
  strategy: marker-delimited
  mode: on-demand
  schedule: "*/5 * * * *"
  retry_delay: 250ms
  request_each_frame: true
output:
  format: png
  vflip: true
  gamma: 2.2
  focus: laplacian
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Link.Port)
	assert.Equal(t, []uint16{0xFE02}, cfg.Link.ProductIDs)
	assert.Equal(t, []uint16{0x1A86, 12619}, cfg.Link.VendorIDs)
	assert.Equal(t, "marker-delimited", cfg.Capture.Strategy)
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.RetryDelay)
	assert.True(t, cfg.Capture.RequestEachFrame)
	assert.Equal(t, "png", cfg.Output.Format)
	assert.True(t, cfg.Output.VFlip)
	assert.InDelta(t, 2.2, cfg.Output.Gamma, 1e-9)
	// Untouched keys keep their defaults.
	assert.Equal(t, time.Second, cfg.Capture.SettleDelay)
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	cfg := Default()
	err := cfg.Decode(strings.NewReader("capture:\n  strategi: idle-timeout\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"strategy", func(c *Config) { c.Capture.Strategy = "guess" }, "capture.strategy"},
		{"mode", func(c *Config) { c.Capture.Mode = "burst" }, "capture.mode"},
		{"format", func(c *Config) { c.Output.Format = "bmp" }, "output.format"},
		{"gamma", func(c *Config) { c.Output.Gamma = -1 }, "output.gamma"},
		{"focus", func(c *Config) { c.Output.Focus = "sobel" }, "output.focus"},
		{"baud", func(c *Config) { c.Link.BaudRate = 0 }, "link.baud_rate"},
		{"ids", func(c *Config) { c.Link.VendorIDs = nil }, "link.vendor_ids"},
		{"retry", func(c *Config) { c.Capture.MaxRetryDelay = time.Millisecond }, "capture.max_retry_delay"},
		{"schedule syntax", func(c *Config) {
			c.Capture.Mode = "on-demand"
			c.Capture.Schedule = "every day"
		}, "capture.schedule"},
		{"schedule mode", func(c *Config) { c.Capture.Schedule = "@hourly" }, "capture.schedule"},
		{"preview auth", func(c *Config) {
			c.Preview.Enabled = true
			c.Preview.User = "admin"
		}, "preview.user"},
		{"gpio line", func(c *Config) {
			c.Capture.Mode = "on-demand"
			c.Trigger.GPIOLine = "pin seventeen"
		}, "trigger.gpio_line"},
		{"gpio mode", func(c *Config) { c.Trigger.GPIOLine = "GPIO17" }, "trigger.gpio_line"},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateAllowsPortWithoutIDs(t *testing.T) {
	cfg := Default()
	cfg.Link.Port = "COM3"
	cfg.Link.VendorIDs = nil
	cfg.Link.ProductIDs = nil
	assert.NoError(t, cfg.Validate())
}
