package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/config"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/controller"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/logger"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/metrics"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/model"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/overlay"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/video"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/weather"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/webmonitor"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		configPath string
		envFile    string
		httpAddr   string
		logLevel   string
		logColor   bool
	)
	flag.StringVar(&configPath, "config", "", "YAML config file (optional)")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flag.StringVar(&httpAddr, "http", "", "HTTP server address (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", envFile, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if flagSet("log-color") {
		cfg.Log.Color = logColor
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)

	if err := run(cfg); err != nil {
		logger.Error("Main", "%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	loader, err := newLoader(cfg)
	if err != nil {
		return err
	}
	source, err := newSource(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	scheduler := controller.NewTickScheduler(nil, cfg.RefreshInterval())
	defer scheduler.Stop()

	ctrl, err := controller.New(cfg.Controller(), controller.Deps{
		Loader:      loader,
		Source:      source,
		Temperature: weather.NewClient(cfg.Weather.Endpoint, cfg.Weather.APIKey, cfg.Weather.Timeout, nil),
		Surface:     overlay.New(),
		Scheduler:   scheduler,
		Metrics:     m,
	})
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl.Bootstrap(ctx)

	server := webmonitor.NewServer(cfg.WebMonitor(), ctrl, m)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Main", "Animal health monitor listening on %s", cfg.HTTP.Addr)
	logger.Info("Main", "Model backend: %s, video backend: %s, refresh: %d Hz",
		cfg.Model.Backend, cfg.Video.Backend, cfg.Detection.RefreshHz)
	logger.Info("Main", "Log level: %s", logger.GetLevel())

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Main", "Shutdown signal received")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// Streams end first so Shutdown does not wait on them
	server.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}

	if err := ctrl.Teardown(); err != nil {
		logger.Warn("Main", "Teardown: %v", err)
	}
	logger.Info("Main", "Stopped")
	return runErr
}

func newLoader(cfg *config.Config) (model.Loader, error) {
	switch cfg.Model.Backend {
	case config.ModelRemote:
		return model.RemoteLoader{
			Endpoint:    cfg.Model.Endpoint,
			Timeout:     cfg.Model.Timeout,
			JPEGQuality: cfg.HTTP.JPEGQuality,
		}, nil
	case config.ModelDNN:
		return model.DNNLoader{
			WeightsPath: cfg.Model.WeightsPath,
			ConfigPath:  cfg.Model.ConfigPath,
			Threshold:   cfg.Model.Threshold,
		}, nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Model.Backend)
	}
}

func newSource(cfg *config.Config) (video.Source, error) {
	switch cfg.Video.Backend {
	case config.VideoWebcam:
		return video.WebcamSource{
			Width:     cfg.Video.Width,
			Height:    cfg.Video.Height,
			FrameRate: float64(cfg.Video.FrameRate),
		}, nil
	case config.VideoGoCV:
		return video.GoCVSource{Device: cfg.Video.Device}, nil
	case config.VideoTestPattern:
		return video.TestPatternSource{
			Width:     cfg.Video.Width,
			Height:    cfg.Video.Height,
			FrameRate: cfg.Video.FrameRate,
		}, nil
	default:
		return nil, fmt.Errorf("unknown video backend %q", cfg.Video.Backend)
	}
}

// flagSet reports whether the named flag was given on the command line.
func flagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
