package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/smazurov/camkit/internal/api"
	"github.com/smazurov/camkit/internal/api/models"
	"github.com/smazurov/camkit/internal/camera"
	"github.com/spf13/cobra"
)

// CreateCamerasCmd creates the cameras command.
func CreateCamerasCmd() *cobra.Command {
	var session sessionFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "cameras",
		Short: "List cameras",
		Long:  `Enumerates media devices, lets every pipeline handler match them and lists the resulting cameras with their formats, controls and properties.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session.initLogging()
			m := session.newManager(nil)
			if err := m.Start(); err != nil {
				return err
			}
			defer m.Stop()

			// Nothing else runs the event loop, so snapshots are safe here.
			infos := make([]models.CameraInfo, 0, len(m.Cameras()))
			for _, cam := range m.Cameras() {
				infos = append(infos, describe(cam))
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			if len(infos) == 0 {
				fmt.Fprintln(out, "No cameras found")
				return nil
			}
			for _, info := range infos {
				printCamera(out, info)
			}
			return nil
		},
	}

	session.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// describe reports cam with the streams of its default viewfinder
// configuration filled in.
func describe(cam *camera.Camera) models.CameraInfo {
	info := api.CameraInfo(cam)
	cfg, err := cam.GenerateConfiguration(camera.RoleViewfinder)
	if err != nil {
		return info
	}
	for i := range info.Streams {
		if i >= cfg.Len() {
			break
		}
		sc := cfg.At(i)
		info.Streams[i].Format = sc.PixelFormat.String()
		info.Streams[i].Width, info.Streams[i].Height = sc.Size.Width, sc.Size.Height
		info.Streams[i].BufferCount = sc.BufferCount
		info.Streams[i].Formats = api.FormatInfos(sc.Formats())
	}
	return info
}

func printCamera(w io.Writer, info models.CameraInfo) {
	fmt.Fprintf(w, "%s (%s)\n", info.ID, info.Pipeline)
	if info.Device != "" {
		fmt.Fprintf(w, "  device: %s\n", info.Device)
	}
	for name, value := range info.Properties {
		fmt.Fprintf(w, "  %s: %s\n", name, value)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range info.Streams {
		fmt.Fprintf(tw, "  stream %d\tdefault %s %dx%d x%d\n", s.Index, s.Format, s.Width, s.Height, s.BufferCount)
		for _, f := range s.Formats {
			sizes := strings.Join(f.Sizes, " ")
			if f.Range != "" {
				sizes = f.Range
			}
			fmt.Fprintf(tw, "    %s\t%s\t%s\n", f.Format, f.FourCC, sizes)
		}
	}
	if len(info.Controls) > 0 {
		fmt.Fprintln(tw, "  controls")
		for _, c := range info.Controls {
			fmt.Fprintf(tw, "    %s\t%s\t[%s, %s]\tdefault %s\n", c.Name, c.Type, c.Min, c.Max, c.Default)
		}
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}
