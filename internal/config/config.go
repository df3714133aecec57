package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// DisplayConfig describes the panel and its chrome.
type DisplayConfig struct {
	// Panel selects the driver: "memory" or "waveshare2in13v4".
	Panel string `yaml:"panel" json:"panel"`
	// Width and Height are the native panel size at rotation 0.
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
	// Rotation is the boot rotation (0..3) until the IMU confirms another.
	Rotation     int `yaml:"rotation" json:"rotation"`
	HeaderHeight int `yaml:"header_height" json:"header_height"`
	FooterHeight int `yaml:"footer_height" json:"footer_height"`
	Margin       int `yaml:"margin" json:"margin"`
	// DumpDir, if set, makes the memory panel write preview.png and
	// frame.bin on every refresh.
	DumpDir string `yaml:"dump_dir" json:"dump_dir"`
}

// ImageConfig bounds image uploads.
type ImageConfig struct {
	MaxBytes        int `yaml:"max_bytes" json:"max_bytes"`
	MaxSurfaceBytes int `yaml:"max_surface_bytes" json:"max_surface_bytes"`
}

// MQTTConfig tunes the broker link. Broker and topic come from the API.
type MQTTConfig struct {
	RetryInterval  time.Duration `yaml:"retry_interval" json:"retry_interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// TouchConfig selects the touch source.
type TouchConfig struct {
	// Source is "none", "evdev" or "gt1151".
	Source string `yaml:"source" json:"source"`
	// Device is an evdev path or device name.
	Device string `yaml:"device" json:"device"`
	I2CBus string `yaml:"i2c_bus" json:"i2c_bus"`
}

// IMUConfig enables the accelerometer.
type IMUConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	I2CBus  string `yaml:"i2c_bus" json:"i2c_bus"`
	Address uint16 `yaml:"address" json:"address"`
}

// BatteryConfig controls the header battery gauge.
type BatteryConfig struct {
	// Refresh is a cron schedule ("@every 1m", "*/5 * * * *").
	Refresh string `yaml:"refresh" json:"refresh"`
	I2CBus  string `yaml:"i2c_bus" json:"i2c_bus"`
	Address uint16 `yaml:"address" json:"address"`
}

// PowerConfig is the command run when the idle timeout expires. An empty
// command (or "none") only logs.
type PowerConfig struct {
	Command []string `yaml:"command" json:"command"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// StreamListen is the raw TCP stream address.
	StreamListen string `yaml:"stream_listen" json:"stream_listen"`

	// LogLevel is one of debug, info, warn, error. It is reloaded when the
	// file changes.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// IdleTimeout powers the device off after this long without activity.
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	Display DisplayConfig `yaml:"display" json:"display"`
	Image   ImageConfig   `yaml:"image" json:"image"`
	MQTT    MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	Touch   TouchConfig   `yaml:"touch" json:"touch"`
	IMU     IMUConfig     `yaml:"imu" json:"imu"`
	Battery BatteryConfig `yaml:"battery" json:"battery"`
	Power   PowerConfig   `yaml:"power" json:"power"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "0.0.0.0:80"
	}
	if c.StreamListen == "" {
		c.StreamListen = "0.0.0.0:2323"
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = "info"
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 3 * time.Minute
	}

	d := &c.Display
	if d.Panel == "" {
		d.Panel = "memory"
	}
	if d.Width <= 0 || d.Height <= 0 {
		d.Width, d.Height = 540, 960
	}
	d.Rotation &= 3
	if d.HeaderHeight <= 0 {
		d.HeaderHeight = 44
	}
	if d.FooterHeight <= 0 {
		d.FooterHeight = 60
	}
	if d.Margin <= 0 {
		d.Margin = 10
	}

	if c.Image.MaxBytes <= 0 {
		c.Image.MaxBytes = 4 << 20
	}
	if c.Image.MaxSurfaceBytes <= 0 {
		c.Image.MaxSurfaceBytes = 32 << 20
	}

	if c.MQTT.RetryInterval <= 0 {
		c.MQTT.RetryInterval = 5 * time.Second
	}
	if c.MQTT.ConnectTimeout <= 0 {
		c.MQTT.ConnectTimeout = 5 * time.Second
	}

	switch c.Touch.Source {
	case "none", "evdev", "gt1151":
	default:
		c.Touch.Source = "none"
	}

	if c.IMU.Address == 0 {
		c.IMU.Address = 0x68
	}

	if c.Battery.Refresh == "" {
		c.Battery.Refresh = "@every 1m"
	}
	if c.Battery.Address == 0 {
		c.Battery.Address = 0x57
	}

	if c.Power.Command == nil {
		c.Power.Command = []string{"systemctl", "poweroff"}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".paperpiper-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Set permissions to 0600 on temp file before rename.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
