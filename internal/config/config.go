// Package config loads the monitor configuration: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/controller"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/webmonitor"
)

// Model backends
const (
	ModelRemote = "remote"
	ModelDNN    = "dnn"
)

// Video backends
const (
	VideoWebcam      = "webcam"
	VideoGoCV        = "gocv"
	VideoTestPattern = "testpattern"
)

// Config is the full runtime configuration of the monitor process.
type Config struct {
	HTTP struct {
		Addr              string        `yaml:"addr" env:"MONITOR_HTTP_ADDR"`
		AssetsDir         string        `yaml:"assets_dir" env:"MONITOR_ASSETS_DIR"`
		KeepaliveInterval time.Duration `yaml:"keepalive_interval" env:"MONITOR_KEEPALIVE_INTERVAL"`
		MJPEGInterval     time.Duration `yaml:"mjpeg_interval" env:"MONITOR_MJPEG_INTERVAL"`
		JPEGQuality       int           `yaml:"jpeg_quality" env:"MONITOR_JPEG_QUALITY"`
	} `yaml:"http"`

	Log struct {
		Level string `yaml:"level" env:"MONITOR_LOG_LEVEL"`
		Color bool   `yaml:"color" env:"MONITOR_LOG_COLOR"`
	} `yaml:"log"`

	Detection struct {
		FilterClasses []string `yaml:"filter_classes" env:"DETECTION_FILTER_CLASSES" envSeparator:","`
		WatchList     []string `yaml:"watch_list" env:"DETECTION_WATCH_LIST" envSeparator:","`
		RefreshHz     int      `yaml:"refresh_hz" env:"DETECTION_REFRESH_HZ"`
	} `yaml:"detection"`

	Model struct {
		Backend     string        `yaml:"backend" env:"MODEL_BACKEND"`
		Endpoint    string        `yaml:"endpoint" env:"MODEL_ENDPOINT"`
		Timeout     time.Duration `yaml:"timeout" env:"MODEL_TIMEOUT"`
		WeightsPath string        `yaml:"weights_path" env:"MODEL_WEIGHTS_PATH"`
		ConfigPath  string        `yaml:"config_path" env:"MODEL_CONFIG_PATH"`
		Threshold   float64       `yaml:"threshold" env:"MODEL_THRESHOLD"`
	} `yaml:"model"`

	Video struct {
		Backend   string `yaml:"backend" env:"VIDEO_BACKEND"`
		Device    string `yaml:"device" env:"VIDEO_DEVICE"`
		Width     int    `yaml:"width" env:"VIDEO_WIDTH"`
		Height    int    `yaml:"height" env:"VIDEO_HEIGHT"`
		FrameRate int    `yaml:"frame_rate" env:"VIDEO_FRAME_RATE"`
	} `yaml:"video"`

	Weather struct {
		Endpoint string        `yaml:"endpoint" env:"WEATHER_ENDPOINT"`
		APIKey   string        `yaml:"api_key" env:"WEATHER_API_KEY"`
		Location string        `yaml:"location" env:"WEATHER_LOCATION"`
		Timeout  time.Duration `yaml:"timeout" env:"WEATHER_TIMEOUT"`
	} `yaml:"weather"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}

	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.KeepaliveInterval = 15 * time.Second
	cfg.HTTP.MJPEGInterval = 33 * time.Millisecond
	cfg.HTTP.JPEGQuality = 80

	cfg.Log.Level = "info"
	cfg.Log.Color = true

	cfg.Detection.FilterClasses = []string{"person", "cat", "dog", "cow", "goat"}
	cfg.Detection.WatchList = []string{"lion", "tiger", "elephant", "bear", "leopard"}
	cfg.Detection.RefreshHz = 30

	cfg.Model.Backend = ModelRemote
	cfg.Model.Endpoint = "http://localhost:8000"
	cfg.Model.Timeout = 5 * time.Second
	cfg.Model.Threshold = 0.5

	cfg.Video.Backend = VideoTestPattern
	cfg.Video.Device = "0"
	cfg.Video.Width = 640
	cfg.Video.Height = 480
	cfg.Video.FrameRate = 30

	cfg.Weather.Endpoint = "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline"
	cfg.Weather.Location = "trichy"
	cfg.Weather.Timeout = 10 * time.Second

	return cfg
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	trim := func(s string, _ int) string { return strings.TrimSpace(s) }
	c.Detection.FilterClasses = lo.Compact(lo.Map(c.Detection.FilterClasses, trim))
	c.Detection.WatchList = lo.Compact(lo.Map(c.Detection.WatchList, trim))
	c.Model.Backend = strings.ToLower(strings.TrimSpace(c.Model.Backend))
	c.Video.Backend = strings.ToLower(strings.TrimSpace(c.Video.Backend))
	c.Weather.Endpoint = strings.TrimRight(c.Weather.Endpoint, "/")
	c.Model.Endpoint = strings.TrimRight(c.Model.Endpoint, "/")
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.JPEGQuality < 1 || c.HTTP.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("http.jpeg_quality must be within [1, 100], got %d", c.HTTP.JPEGQuality))
	}
	if c.Detection.RefreshHz <= 0 {
		errs = append(errs, fmt.Errorf("detection.refresh_hz must be positive, got %d", c.Detection.RefreshHz))
	}
	if len(c.Detection.FilterClasses) == 0 {
		errs = append(errs, errors.New("detection.filter_classes must not be empty"))
	}

	switch c.Model.Backend {
	case ModelRemote:
		if c.Model.Endpoint == "" {
			errs = append(errs, errors.New("model.endpoint is required for the remote backend"))
		}
	case ModelDNN:
		if c.Model.WeightsPath == "" {
			errs = append(errs, errors.New("model.weights_path is required for the dnn backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown model backend %q", c.Model.Backend))
	}
	if c.Model.Threshold < 0 || c.Model.Threshold > 1 {
		errs = append(errs, fmt.Errorf("model.threshold must be within [0, 1], got %v", c.Model.Threshold))
	}

	if !lo.Contains([]string{VideoWebcam, VideoGoCV, VideoTestPattern}, c.Video.Backend) {
		errs = append(errs, fmt.Errorf("unknown video backend %q", c.Video.Backend))
	}
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		errs = append(errs, fmt.Errorf("video size must be positive, got %dx%d", c.Video.Width, c.Video.Height))
	}
	if c.Video.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("video.frame_rate must be positive, got %d", c.Video.FrameRate))
	}

	if c.Weather.Endpoint == "" {
		errs = append(errs, errors.New("weather.endpoint is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RefreshInterval is the period between detection cycles.
func (c *Config) RefreshInterval() time.Duration {
	return controller.RefreshInterval(c.Detection.RefreshHz)
}

// Controller returns the settings the detection loop controller needs.
func (c *Config) Controller() controller.Config {
	return controller.Config{
		FilterClasses:       append([]string(nil), c.Detection.FilterClasses...),
		WatchList:           append([]string(nil), c.Detection.WatchList...),
		TemperatureEndpoint: c.Weather.Endpoint,
		APIKey:              c.Weather.APIKey,
		Location:            c.Weather.Location,
	}
}

// WebMonitor returns the HTTP server settings.
func (c *Config) WebMonitor() webmonitor.Config {
	return webmonitor.Config{
		Addr:              c.HTTP.Addr,
		AssetsDir:         c.HTTP.AssetsDir,
		KeepaliveInterval: c.HTTP.KeepaliveInterval,
		MJPEGInterval:     c.HTTP.MJPEGInterval,
		JPEGQuality:       c.HTTP.JPEGQuality,
	}
}
