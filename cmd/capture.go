package cmd

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/internal/config"
	"github.com/smazurov/camkit/internal/host"
	"github.com/smazurov/camkit/internal/logging"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

type captureOptions struct {
	session  sessionFlags
	camera   string
	role     string
	format   string
	size     string
	frames   int
	controls []string
	output   string
	crc      bool
	profile  string
	profiles string
	save     string
	timeout  time.Duration
}

// CreateCaptureCmd creates the capture command.
func CreateCaptureCmd() *cobra.Command {
	var opts captureOptions

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture frames from a camera",
		Long: `Configures a camera, allocates its buffers and captures the requested number of frames, ` +
			`requeueing requests as they complete. Completions are consumed outside the event loop ` +
			`through the completion queue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.session.initLogging()
			if err := opts.applyProfile(cmd); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCapture(ctx, cmd.OutOrStdout(), &opts)
		},
	}

	opts.session.register(cmd)
	f := cmd.Flags()
	f.StringVar(&opts.camera, "camera", "", "Camera ID or part of it (default: first camera)")
	f.StringVar(&opts.role, "role", "viewfinder", "Stream role (raw, still, video, viewfinder)")
	f.StringVar(&opts.format, "format", "", "Pixel format, e.g. YUYV or BGR888")
	f.StringVar(&opts.size, "size", "", "Frame size, e.g. 1280x720")
	f.IntVarP(&opts.frames, "frames", "n", 10, "Frames to capture")
	f.StringArrayVar(&opts.controls, "control", nil, "Control to set on every request, name=value")
	f.StringVarP(&opts.output, "output", "o", "", "Directory to write raw frames to")
	f.BoolVar(&opts.crc, "crc", false, "Print the CRC32 of every frame")
	f.StringVar(&opts.profile, "profile", "", "Capture profile to apply")
	f.StringVar(&opts.profiles, "profiles", "profiles.toml", "Capture profiles file")
	f.StringVar(&opts.save, "save-profile", "", "Store the effective settings as this profile")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Give up when no frame arrives for this long")
	return cmd
}

// applyProfile fills settings not given on the command line from the
// selected profile and stores the result when asked to.
func (o *captureOptions) applyProfile(cmd *cobra.Command) error {
	if o.profile == "" && o.save == "" {
		return nil
	}
	store := config.NewProfileStore(o.profiles)
	if err := store.Load(); err != nil {
		return err
	}

	if o.profile != "" {
		p, ok := store.Get(o.profile)
		if !ok {
			return fmt.Errorf("profile %q not found in %s", o.profile, o.profiles)
		}
		changed := cmd.Flags().Changed
		if p.Camera != "" && !changed("camera") {
			o.camera = p.Camera
		}
		if p.Role != "" && !changed("role") {
			o.role = p.Role
		}
		if p.Format != "" && !changed("format") {
			o.format = p.Format
		}
		if p.Size != "" && !changed("size") {
			o.size = p.Size
		}
		if p.Frames > 0 && !changed("frames") {
			o.frames = p.Frames
		}
		var fromProfile []string
		for name, v := range p.Controls {
			fromProfile = append(fromProfile, fmt.Sprintf("%s=%v", name, v))
		}
		o.controls = append(fromProfile, o.controls...)
	}

	if o.save == "" {
		return nil
	}
	p := config.CaptureProfile{
		Camera: o.camera,
		Role:   o.role,
		Format: o.format,
		Size:   o.size,
		Frames: o.frames,
	}
	if len(o.controls) > 0 {
		p.Controls = make(map[string]any, len(o.controls))
		for _, c := range o.controls {
			name, value, err := parseControl(c)
			if err != nil {
				return err
			}
			p.Controls[name] = value
		}
	}
	return store.Put(o.save, p)
}

// parseControl splits name=value and types the value as an integer, a
// float, a boolean or a string, in that order.
func parseControl(s string) (string, any, error) {
	name, raw, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return "", nil, fmt.Errorf("control %q: want name=value", s)
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return name, i, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return name, f, nil
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return name, b, nil
	}
	return name, raw, nil
}

// configureCamera acquires cam and commits the requested stream settings.
func configureCamera(cam *camera.Camera, o *captureOptions) (*camera.Configuration, error) {
	role, err := camera.ParseStreamRole(o.role)
	if err != nil {
		return nil, err
	}
	if err := cam.Acquire(); err != nil {
		return nil, err
	}
	cfg, err := cam.GenerateConfiguration(role)
	if err != nil {
		return nil, err
	}
	sc := cfg.At(0)
	if o.format != "" {
		if sc.PixelFormat, err = camera.ParsePixelFormat(o.format); err != nil {
			return nil, err
		}
	}
	if o.size != "" {
		if sc.Size, err = camera.ParseSize(o.size); err != nil {
			return nil, err
		}
	}
	switch cfg.Validate() {
	case camera.Invalid:
		return nil, fmt.Errorf("%s: %w", sc, camera.ErrInvalidConfiguration)
	case camera.Adjusted:
		logging.GetLogger("main").Warn("Configuration adjusted", "camera", cam.ID(), "config", sc.String())
	}
	if err := cam.Configure(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runCapture(ctx context.Context, out io.Writer, o *captureOptions) error {
	logger := logging.GetLogger("main")
	m := o.session.newManager(nil)
	if err := m.Start(); err != nil {
		return err
	}
	defer m.Stop()

	var cam *camera.Camera
	if o.camera == "" {
		if cams := m.Cameras(); len(cams) > 0 {
			cam = cams[0]
		}
	} else if cam = m.Get(o.camera); cam == nil {
		cam = m.Find(o.camera)
	}
	if cam == nil {
		return fmt.Errorf("no camera matches %q", o.camera)
	}
	defer cam.Release()

	cfg, err := configureCamera(cam, o)
	if err != nil {
		return fmt.Errorf("configure %s: %w", cam.ID(), err)
	}
	stream := cfg.At(0).Stream()
	sc := stream.Configuration()
	fmt.Fprintf(out, "Capturing %d frames from %s: %s stride %d\n", o.frames, cam.ID(), sc.String(), sc.Stride)

	alloc := camera.NewFrameBufferAllocator(cam)
	if _, err := alloc.Allocate(stream); err != nil {
		return err
	}
	defer alloc.Free(stream)

	type control struct {
		name  string
		value any
	}
	controls := make([]control, 0, len(o.controls))
	for _, c := range o.controls {
		name, value, err := parseControl(c)
		if err != nil {
			return err
		}
		controls = append(controls, control{name, value})
	}
	setControls := func(req *camera.Request) error {
		for _, c := range controls {
			if err := host.SetControl(req, c.name, c.value); err != nil {
				return err
			}
		}
		return nil
	}

	var requests []*camera.Request
	for i, buf := range alloc.Buffers(stream) {
		req, err := cam.CreateRequest(uint64(i))
		if err != nil {
			return err
		}
		if err := req.AddBuffer(stream, buf); err != nil {
			return err
		}
		if err := setControls(req); err != nil {
			return err
		}
		requests = append(requests, req)
	}

	q, err := host.NewCompletionQueue()
	if err != nil {
		return err
	}
	defer q.Close()
	unbind := host.Bind(cam, q)
	defer unbind()

	if err := cam.Start(); err != nil {
		return err
	}
	defer cam.Stop()

	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan error, 1)
	go func() { loopDone <- m.Run(loopCtx) }()
	defer func() {
		stopLoop()
		if err := <-loopDone; err != nil {
			logger.Warn("Event loop failed", "error", err)
		}
	}()

	m.Post(func() {
		for _, req := range requests {
			if err := cam.QueueRequest(req); err != nil {
				logger.Warn("Failed to queue request", "request", req.ID(), "error", err)
			}
		}
	})
	// Completed requests are recycled on the event loop.
	requeue := func(req *camera.Request) {
		m.Post(func() {
			err := req.Reuse(camera.ReuseBuffers)
			if err == nil {
				err = setControls(req)
			}
			if err == nil {
				err = cam.QueueRequest(req)
			}
			if err != nil {
				logger.Warn("Failed to requeue request", "request", req.ID(), "error", err)
			}
		})
	}

	writer := frameWriter{out: out, dir: o.output, crc: o.crc, prefix: cam.ID()}
	if writer.dir != "" {
		if err := os.MkdirAll(writer.dir, 0o755); err != nil {
			return err
		}
	}

	started := time.Now()
	captured, queued := 0, len(requests)
	for captured < o.frames {
		waitCtx, cancel := context.WithTimeout(ctx, o.timeout)
		err := q.Wait(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("waiting for frames after %d captured: %w", captured, err)
		}
		done, err := q.Drain()
		if err != nil {
			return err
		}
		for _, cr := range done {
			if cr.Status != camera.RequestComplete {
				continue
			}
			if captured < o.frames {
				if err := writer.write(captured, cr, stream); err != nil {
					return err
				}
				captured++
			}
			if queued < o.frames {
				requeue(cr.Request)
				queued++
			}
		}
	}

	elapsed := time.Since(started)
	fps := 0.0
	if elapsed > 0 {
		fps = float64(captured) / elapsed.Seconds()
	}
	fmt.Fprintf(out, "Captured %d frames in %s (%.1f fps)\n", captured, elapsed.Round(time.Millisecond), fps)
	return nil
}

// frameWriter reports and optionally stores captured frames.
type frameWriter struct {
	out    io.Writer
	dir    string
	crc    bool
	prefix string
}

func (w frameWriter) write(n int, cr *host.CompletedRequest, stream *camera.Stream) error {
	buf := cr.Buffers[stream]
	if buf == nil {
		return errors.New("completed request carries no buffer")
	}
	md := buf.Metadata()
	line := fmt.Sprintf("frame %d seq %d ts %s %s %d bytes", n, md.Sequence, md.Timestamp, md.Status, md.BytesUsed())

	if md.Status == camera.FrameSuccess && (w.crc || w.dir != "") {
		data, err := readFrame(buf)
		if err != nil {
			return err
		}
		if w.crc {
			line += fmt.Sprintf(" crc32 %08x", crc32.ChecksumIEEE(data))
		}
		if w.dir != "" {
			path := filepath.Join(w.dir, fmt.Sprintf("%s-%04d.raw", w.prefix, n))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintln(w.out, line)
	return err
}

// readFrame copies the payload of every plane of buf.
func readFrame(buf *camera.FrameBuffer) ([]byte, error) {
	md := buf.Metadata()
	var data []byte
	for i, p := range buf.Planes() {
		used := p.Length
		if i < len(md.Planes) {
			used = md.Planes[i].BytesUsed
		}
		mem, err := unix.Mmap(p.Fd, int64(p.Offset), int(p.Length), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return nil, fmt.Errorf("map plane %d: %w", i, err)
		}
		data = append(data, mem[:used]...)
		if err := unix.Munmap(mem); err != nil {
			return nil, fmt.Errorf("unmap plane %d: %w", i, err)
		}
	}
	return data, nil
}
