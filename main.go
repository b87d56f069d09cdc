package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/camkit/cmd"
	"github.com/smazurov/camkit/internal/api"
	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/internal/config"
	"github.com/smazurov/camkit/internal/events"
	"github.com/smazurov/camkit/internal/led"
	"github.com/smazurov/camkit/internal/logging"
	"github.com/smazurov/camkit/internal/media"
	"github.com/smazurov/camkit/internal/metrics"
	"github.com/smazurov/camkit/internal/metrics/exporters"
	"github.com/smazurov/camkit/internal/pipeline/virtual"
	"github.com/smazurov/camkit/internal/systemd"
	"github.com/smazurov/camkit/internal/version"

	_ "github.com/smazurov/camkit/internal/pipeline/vivid"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Device settings
	DevicesSysfs   bool `help:"Enumerate kernel video devices" default:"true" toml:"devices.sysfs" env:"DEVICES_SYSFS"`
	DevicesHotplug bool `help:"Follow device hotplug events" default:"true" toml:"devices.hotplug" env:"DEVICES_HOTPLUG"`

	// Virtual camera settings
	VirtualCount    int    `help:"Number of virtual cameras" default:"0" toml:"virtual.count" env:"VIRTUAL_COUNT"`
	VirtualFormats  string `help:"Comma separated virtual pixel formats" default:"" toml:"virtual.formats" env:"VIRTUAL_FORMATS"`
	VirtualSizes    string `help:"Comma separated virtual frame sizes" default:"" toml:"virtual.sizes" env:"VIRTUAL_SIZES"`
	VirtualInterval string `help:"Virtual frame interval" default:"33ms" toml:"virtual.interval" env:"VIRTUAL_INTERVAL"`

	// Features settings
	FeaturesLEDControl bool `help:"Enable LED control" default:"false" toml:"features.led_control_enabled" env:"FEATURES_LED_CONTROL"`
	FeaturesPrometheus bool `help:"Serve Prometheus metrics on /metrics" default:"true" toml:"features.prometheus_enabled" env:"FEATURES_PROMETHEUS"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCamera     string `help:"Camera logging level" default:"info" toml:"logging.camera" env:"LOGGING_CAMERA"`
	LoggingPipeline   string `help:"Pipeline handler logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingCapture    string `help:"Capture device logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingDispatcher string `help:"Event dispatcher logging level" default:"info" toml:"logging.dispatcher" env:"LOGGING_DISPATCHER"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// newManager builds the camera manager for the configured device sources.
func newManager(opts *Options, bus *events.Bus, logger *slog.Logger) *camera.Manager {
	var sources []media.Source
	if opts.DevicesSysfs {
		sources = append(sources, media.SysfsSource{})
	}
	handlers := camera.PipelineHandlers()

	if opts.VirtualCount > 0 {
		interval, err := time.ParseDuration(opts.VirtualInterval)
		if err != nil {
			logger.Warn("Invalid virtual frame interval, using default", "interval", opts.VirtualInterval, "error", err)
			interval = 0
		}
		vcfg, err := virtual.ParseConfig(opts.VirtualCount, splitList(opts.VirtualFormats), splitList(opts.VirtualSizes), interval)
		if err != nil {
			logger.Warn("Invalid virtual camera settings, using defaults", "error", err)
			vcfg = virtual.DefaultConfig()
			vcfg.Count = opts.VirtualCount
		}
		sources = append(sources, virtual.Source(vcfg))
		handlers = append(handlers, virtual.Factory(vcfg))
	}
	if len(sources) == 0 {
		sources = append(sources, media.StaticSource{})
	}
	return camera.NewManager(camera.Options{Sources: sources, Handlers: handlers, Bus: bus})
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		loggingConfig := logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"camera":     opts.LoggingCamera,
				"pipeline":   opts.LoggingPipeline,
				"capture":    opts.LoggingCapture,
				"dispatcher": opts.LoggingDispatcher,
				"api":        opts.LoggingAPI,
			},
		}
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")
		logger.Info("Starting camkit", "version", version.Get().String())
		notifier := systemd.NewNotifier(logger)

		// Create event bus for in-process event handling
		eventBus := events.New()
		collector := metrics.NewCollector(eventBus)

		var ledManager *led.Manager
		if opts.FeaturesLEDControl {
			logger.Info("LED control enabled, initializing")
			ledManager = led.NewManager(led.New(logger), eventBus, logger)
		}

		manager := newManager(opts, eventBus, logger)

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Cameras:      api.ManagerSource{Manager: manager},
			EventBus:     eventBus,
			LEDManager:   ledManager,
		}
		if opts.FeaturesPrometheus {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
		}
		server := api.NewServer(apiOpts)

		// Log levels follow the config file at runtime
		watcher := config.NewConfigWatcher(opts.Config, config.ReadLoggingConfig, logger)
		watcher.OnReload(func(cfg logging.Config) {
			logger.Info("Reloading logging levels", "level", cfg.Level)
			logging.SetLevels(cfg)
		})

		loopCtx, stopLoop := context.WithCancel(context.Background())
		loopDone := make(chan error, 1)

		hooks.OnStart(func() {
			// Subscribers first so that the initial cameras are counted
			collector.Start()
			if ledManager != nil {
				ledManager.Start()
			}

			if startErr := manager.Start(); startErr != nil {
				logger.Error("Failed to start camera manager", "error", startErr)
				os.Exit(1)
			}
			logger.Info("Camera manager started", "session", manager.SessionID(), "cameras", len(manager.Cameras()))

			if opts.DevicesHotplug {
				if hpErr := manager.EnableHotplug(); hpErr != nil {
					logger.Warn("Hotplug monitoring unavailable", "error", hpErr)
				}
			}
			go func() { loopDone <- manager.Run(loopCtx) }()
			go notifier.Watchdog(loopCtx)

			if _, statErr := os.Stat(opts.Config); statErr == nil {
				if watchErr := watcher.Start(); watchErr != nil {
					logger.Warn("Failed to watch config file", "error", watchErr)
				}
			}

			notifier.Ready()
			notifier.Status("%d cameras, API on %s", len(manager.Cameras()), opts.Port)

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}

			// The manager is only touched from the loop goroutine until it exits
			stopLoop()
			select {
			case runErr := <-loopDone:
				if runErr != nil {
					logger.Error("Event loop failed", "error", runErr)
				}
			case <-time.After(5 * time.Second):
				logger.Warn("Event loop did not stop in time")
			}
			if stopErr := manager.Stop(); stopErr != nil {
				logger.Error("Error stopping camera manager", "error", stopErr)
			}

			if ledManager != nil {
				ledManager.Stop()
			}
			collector.Stop()
		})
	})

	cli.Root().AddCommand(cmd.CreateCamerasCmd())
	cli.Root().AddCommand(cmd.CreateCaptureCmd())
	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	// Run the CLI
	cli.Run()
}
