// Package config loads service configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"crowdcount/internal/occupancy"
)

// Config is the complete service configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Log       LogConfig        `yaml:"log"`
	Database  DatabaseConfig   `yaml:"database"`
	Detection occupancy.Config `yaml:"detection"`
	Capture   CaptureConfig    `yaml:"capture"`
	Cameras   []CameraConfig   `yaml:"cameras"`
	Alerts    AlertsConfig     `yaml:"alerts"`
	Uplink    UplinkConfig     `yaml:"uplink"`
	Auth      AuthConfig       `yaml:"auth"`
	Heatmap   HeatmapConfig    `yaml:"heatmap"`
	Retention RetentionConfig  `yaml:"retention"`
}

type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"` // Forces debug logging
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CaptureConfig controls frame acquisition and sampling
type CaptureConfig struct {
	FPS       int           `yaml:"fps"`
	Width     int           `yaml:"width"`  // Processing width
	Height    int           `yaml:"height"` // Processing height
	Grayscale bool          `yaml:"grayscale"`
	BlurSigma float32       `yaml:"blur_sigma"`
	Mode      string        `yaml:"mode"` // disabled, continuous, every_n, scheduled
	EveryN    int           `yaml:"every_n"`
	Interval  time.Duration `yaml:"interval"`
}

// CameraConfig declares a camera that is registered at startup
type CameraConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Source   string `yaml:"source"` // Device path, RTSP or HTTP URL
	Enabled  bool   `yaml:"enabled"`
	Capacity int    `yaml:"capacity"` // Maximum comfortable occupancy, 0 disables capacity alerts
}

type AlertsConfig struct {
	TelegramEnabled  bool    `yaml:"telegram_enabled"`
	TelegramBotToken string  `yaml:"telegram_bot_token"`
	TelegramChatID   string  `yaml:"telegram_chat_id"`
	CooldownSeconds  int     `yaml:"cooldown_seconds"`
	WarnRatio        float64 `yaml:"warn_ratio"` // Fraction of capacity that triggers a warning
}

type UplinkConfig struct {
	Address string        `yaml:"address"` // Collector address, empty disables the uplink
	Listen  string        `yaml:"listen"`  // Address for the embedded collector, empty disables it
	Timeout time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`
}

type HeatmapConfig struct {
	Cols int `yaml:"cols"`
	Rows int `yaml:"rows"`
}

type RetentionConfig struct {
	Samples        time.Duration `yaml:"samples"` // How long count samples are kept
	PruneInterval  time.Duration `yaml:"prune_interval"`
	SampleInterval time.Duration `yaml:"sample_interval"` // At most one stored sample per camera per interval
}

// Default returns the documented defaults
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8080},
		Log:       LogConfig{Level: "info"},
		Database:  DatabaseConfig{Path: "crowdcount.db"},
		Detection: occupancy.DefaultConfig(),
		Capture: CaptureConfig{
			FPS:      15,
			Width:    640,
			Height:   480,
			Mode:     "every_n",
			EveryN:   1,
			Interval: 5 * time.Second,
		},
		Alerts: AlertsConfig{
			CooldownSeconds: 300,
			WarnRatio:       0.8,
		},
		Uplink: UplinkConfig{Timeout: 5 * time.Second},
		Auth: AuthConfig{
			Username:  "admin",
			JWTExpiry: 24 * time.Hour,
		},
		Heatmap: HeatmapConfig{Cols: 16, Rows: 12},
		Retention: RetentionConfig{
			Samples:        7 * 24 * time.Hour,
			PruneInterval:  time.Hour,
			SampleInterval: 5 * time.Second,
		},
	}
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply more overrides
// before validating
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv applies environment overrides. lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("DATABASE_PATH", &c.Database.Path)
	str("UPLINK_ADDR", &c.Uplink.Address)
	str("LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	boolean("AUTH_ENABLED", &c.Auth.Enabled)
	str("AUTH_USERNAME", &c.Auth.Username)
	str("AUTH_PASSWORD", &c.Auth.Password)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	duration("JWT_EXPIRY", &c.Auth.JWTExpiry)

	str("TELEGRAM_BOT_TOKEN", &c.Alerts.TelegramBotToken)
	str("TELEGRAM_CHAT_ID", &c.Alerts.TelegramChatID)
	if c.Alerts.TelegramBotToken != "" && c.Alerts.TelegramChatID != "" {
		boolean("TELEGRAM_ENABLED", &c.Alerts.TelegramEnabled)
	}

	// Single-camera deployments configure their camera through the environment.
	id, hasID := lookup("CAMERA_ID")
	source := ""
	if v, ok := lookup("RTSP_URL"); ok && v != "" {
		source = v
	} else if v, ok := lookup("CAMERA_SOURCE"); ok && v != "" {
		source = v
	}
	if hasID && id != "" && source != "" {
		c.upsertCamera(CameraConfig{ID: id, Name: id, Source: normalizeSource(source), Enabled: true})
	}
}

func (c *Config) upsertCamera(cam CameraConfig) {
	for i := range c.Cameras {
		if c.Cameras[i].ID == cam.ID {
			cam.Capacity = c.Cameras[i].Capacity
			c.Cameras[i] = cam
			return
		}
	}
	c.Cameras = append(c.Cameras, cam)
}

// normalizeSource maps a bare webcam index to its V4L2 device
func normalizeSource(source string) string {
	if _, err := strconv.Atoi(source); err == nil {
		return "/dev/video" + source
	}
	return source
}

// BindFlags registers command line overrides on fs. Call Validate after parsing.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Server.Host, "host", c.Server.Host, "HTTP listen host")
	fs.IntVar(&c.Server.Port, "port", c.Server.Port, "HTTP listen port")
	fs.BoolVar(&c.Server.Debug, "debug", c.Server.Debug, "Enable debug logging")
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.Database.Path, "db", c.Database.Path, "SQLite database path")
	fs.StringVar(&c.Uplink.Address, "uplink", c.Uplink.Address, "gRPC collector address")
	fs.StringVar(&c.Uplink.Listen, "collector-listen", c.Uplink.Listen, "Run an embedded gRPC collector on this address")
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errs []error

	if err := c.Detection.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Capture.FPS <= 0 {
		errs = append(errs, errors.New("capture.fps must be > 0"))
	}
	if c.Capture.Width < 0 || c.Capture.Height < 0 {
		errs = append(errs, errors.New("capture size must not be negative"))
	}
	switch c.Capture.Mode {
	case "disabled", "continuous", "every_n", "scheduled":
	default:
		errs = append(errs, fmt.Errorf("capture.mode %q is not one of disabled, continuous, every_n, scheduled", c.Capture.Mode))
	}
	if c.Heatmap.Cols <= 0 || c.Heatmap.Rows <= 0 {
		errs = append(errs, errors.New("heatmap grid must be at least 1x1"))
	}
	if c.Retention.Samples <= 0 || c.Retention.PruneInterval <= 0 || c.Retention.SampleInterval < 0 {
		errs = append(errs, errors.New("retention durations must be positive"))
	}
	if c.Alerts.WarnRatio <= 0 || c.Alerts.WarnRatio > 1 {
		errs = append(errs, errors.New("alerts.warn_ratio must be in (0, 1]"))
	}

	seen := make(map[string]bool)
	for _, cam := range c.Cameras {
		if cam.ID == "" {
			errs = append(errs, errors.New("camera id must not be empty"))
			continue
		}
		if seen[cam.ID] {
			errs = append(errs, fmt.Errorf("duplicate camera id %q", cam.ID))
		}
		seen[cam.ID] = true
		if strings.TrimSpace(cam.Source) == "" {
			errs = append(errs, fmt.Errorf("camera %q has no source", cam.ID))
		}
	}

	return multierr.Combine(errs...)
}
