package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/internal/events"
	"github.com/spf13/cobra"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var session sessionFlags
	var watch bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List media devices",
		Long: `Lists the media devices known to the enumerator, their entities and whether a pipeline handler claimed them. ` +
			`With --watch, follows kernel hotplug events until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session.initLogging()
			bus := events.New()
			m := session.newManager(bus)
			if err := m.Start(); err != nil {
				return err
			}
			defer m.Stop()

			out := cmd.OutOrStdout()
			printDevices(out, m)
			if !watch {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchDevices(ctx, out, m, bus)
		},
	}

	session.register(cmd)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow hotplug events")
	return cmd
}

func printDevices(w io.Writer, m *camera.Manager) {
	devices := m.Enumerator().Devices()
	if len(devices) == 0 {
		fmt.Fprintln(w, "No media devices found")
		return
	}
	for _, dev := range devices {
		claimed := "free"
		if dev.Acquired() {
			claimed = "claimed"
		}
		fmt.Fprintf(w, "%s [%s] %s\n", dev.String(), dev.Driver, claimed)
		for _, e := range dev.Entities {
			fmt.Fprintf(w, "  %-24s %s\n", e.Name, e.DeviceNode)
		}
	}
}

// watchDevices prints hotplug and camera events until ctx is done. Events
// are published from the event loop and printed from bus goroutines.
func watchDevices(ctx context.Context, w io.Writer, m *camera.Manager, bus *events.Bus) error {
	if err := m.EnableHotplug(); err != nil {
		return err
	}
	defer m.DisableHotplug()

	lines := make(chan string, 16)
	emit := func(format string, args ...any) {
		select {
		case lines <- fmt.Sprintf(format, args...):
		case <-ctx.Done():
		}
	}
	unsubscribers := []func(){
		bus.Subscribe(func(e events.DeviceHotplugEvent) {
			emit("%s %s %s %s", e.Timestamp, e.Action, e.Subsystem, e.DevNode)
		}),
		bus.Subscribe(func(e events.CameraAddedEvent) {
			emit("%s camera added %s (%s)", e.Timestamp, e.CameraID, e.Pipeline)
		}),
		bus.Subscribe(func(e events.CameraRemovedEvent) {
			emit("%s camera removed %s", e.Timestamp, e.CameraID)
		}),
	}
	defer func() {
		for _, unsub := range unsubscribers {
			unsub()
		}
	}()

	fmt.Fprintln(w, "Watching for device events, press Ctrl-C to stop")
	loopDone := make(chan error, 1)
	go func() { loopDone <- m.Run(ctx) }()
	for {
		select {
		case line := <-lines:
			fmt.Fprintln(w, line)
		case err := <-loopDone:
			return err
		}
	}
}
