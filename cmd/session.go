// Package cmd holds the camkit sub-commands.
package cmd

import (
	"time"

	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/internal/events"
	"github.com/smazurov/camkit/internal/logging"
	"github.com/smazurov/camkit/internal/media"
	"github.com/smazurov/camkit/internal/pipeline/virtual"
	"github.com/spf13/cobra"

	// Registers the vivid pipeline handler.
	_ "github.com/smazurov/camkit/internal/pipeline/vivid"
)

// sessionFlags select the devices a command-line session sees.
type sessionFlags struct {
	virtualCount    int
	virtualInterval time.Duration
	noSysfs         bool
	logLevel        string
	logJSON         bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.virtualCount, "virtual", 0, "Number of virtual cameras to add")
	cmd.Flags().DurationVar(&f.virtualInterval, "virtual-interval", 33*time.Millisecond, "Frame interval of virtual cameras")
	cmd.Flags().BoolVar(&f.noSysfs, "no-sysfs", false, "Skip kernel video devices")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "warn", "Logging level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&f.logJSON, "log-json", false, "Log in JSON format")
}

func (f *sessionFlags) initLogging() {
	cfg := logging.Config{Level: f.logLevel, Format: "text"}
	if f.logJSON {
		cfg.Format = "json"
	}
	logging.Initialize(cfg)
}

// newManager creates a manager over the kernel devices and the requested
// virtual cameras. bus may be nil.
func (f *sessionFlags) newManager(bus *events.Bus) *camera.Manager {
	var sources []media.Source
	if !f.noSysfs {
		sources = append(sources, media.SysfsSource{})
	}
	handlers := camera.PipelineHandlers()
	if f.virtualCount > 0 {
		cfg := virtual.DefaultConfig()
		cfg.Count = f.virtualCount
		cfg.Interval = f.virtualInterval
		sources = append(sources, virtual.Source(cfg))
		handlers = append(handlers, virtual.Factory(cfg))
	}
	if len(sources) == 0 {
		sources = append(sources, media.StaticSource{})
	}
	return camera.NewManager(camera.Options{Sources: sources, Handlers: handlers, Bus: bus})
}
