//go:build linux

// Package pipeline holds the parts shared by pipeline handlers that drive
// one capture node per camera.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/internal/capture"
	"github.com/smazurov/camkit/internal/media"
)

// BufferCount is the number of buffers single-stream cameras use.
const BufferCount = 4

// CameraData is the per-camera state of a single-stream handler.
type CameraData struct {
	Device  *capture.Device
	Stream  *camera.Stream
	Formats *camera.StreamFormats

	camera   *camera.Camera
	controls []deviceControl
	handler  *SingleStream

	// OnStart and OnStop run after streaming starts and before it stops.
	OnStart func()
	OnStop  func()
}

// Camera returns the camera the data belongs to.
func (d *CameraData) Camera() *camera.Camera { return d.camera }

// SingleStream implements every PipelineHandler operation except Match for
// cameras made of one capture node with one stream. Handlers embed it.
type SingleStream struct {
	*camera.PipelineBase

	// DefaultFormat and DefaultSize seed GenerateConfiguration.
	DefaultFormat camera.PixelFormat
	DefaultSize   camera.Size
}

// NewSingleStream creates the shared handler part.
func NewSingleStream(name string, m *camera.Manager, format camera.PixelFormat, size camera.Size) *SingleStream {
	return &SingleStream{
		PipelineBase:  camera.NewPipelineBase(name, m),
		DefaultFormat: format,
		DefaultSize:   size,
	}
}

// RegisterNode creates a camera of handler h for node, backed by dev, and
// registers it. h is the handler embedding p. On error the caller still
// owns node.
func (p *SingleStream) RegisterNode(h camera.PipelineHandler, id string, dev *media.Device, node capture.Node, model string) (*CameraData, error) {
	formats, err := capture.StreamFormats(node, camera.SizeRange{})
	if err != nil {
		return nil, err
	}
	if len(formats.PixelFormats()) == 0 {
		return nil, fmt.Errorf("%s advertises no formats: %w", node.Path(), camera.ErrNotSupported)
	}

	data := &CameraData{
		Device:  capture.NewDevice(node, p.Dispatcher()),
		Stream:  camera.NewStream(0),
		Formats: formats,
		handler: p,
	}
	cam := camera.NewCamera(h, id, []*camera.Stream{data.Stream}, data)
	data.camera = cam
	data.Device.BufferReady = data.bufferReady

	if cn, ok := node.(capture.ControlNode); ok {
		var infos camera.ControlInfoMap
		infos, data.controls = probeControls(cn)
		cam.SetControlInfo(infos)
	}
	_ = cam.Properties().Set(camera.PropertyModel, camera.NewStringValue(model))
	if sizes := formats.Sizes(formats.PixelFormats()[0]); len(sizes) > 0 {
		_ = cam.Properties().Set(camera.PropertyPixelArraySize, camera.NewSizeValue(sizes[len(sizes)-1]))
	}

	if err := p.RegisterCamera(cam, dev); err != nil {
		return nil, err
	}
	p.Logger().Info("Camera registered", "camera", id, "node", node.Path(), "formats", len(formats.PixelFormats()))
	return data, nil
}

func cameraData(cam *camera.Camera) *CameraData {
	return cam.Data().(*CameraData)
}

// validate caps the configuration to one stream, snaps it to the device
// formats and forces the buffer count.
func (d *CameraData) validate(cfg *camera.Configuration) camera.Status {
	status := camera.Valid
	if cfg.Len() > 1 {
		cfg.Truncate(1)
		status = camera.Adjusted
	}
	sc := cfg.At(0)
	if camera.AdjustStreamConfiguration(sc, d.Formats) {
		status = camera.Adjusted
	}
	if sc.BufferCount != BufferCount {
		sc.BufferCount = BufferCount
		status = camera.Adjusted
	}
	return status
}

// GenerateConfiguration returns the default single-stream configuration.
func (p *SingleStream) GenerateConfiguration(cam *camera.Camera, roles []camera.StreamRole) (*camera.Configuration, error) {
	data := cameraData(cam)
	cfg := camera.NewConfiguration(camera.ValidatorFunc(data.validate))
	if len(roles) == 0 {
		return cfg, nil
	}

	sc := camera.NewStreamConfiguration(data.Formats)
	sc.PixelFormat = p.DefaultFormat
	sc.Size = p.DefaultSize
	sc.BufferCount = BufferCount
	cfg.AddConfiguration(sc)
	if cfg.Validate() == camera.Invalid {
		return nil, fmt.Errorf("generate configuration: %w", camera.ErrInvalidConfiguration)
	}
	return cfg, nil
}

// Configure sets the device format and reads the negotiated one back.
func (p *SingleStream) Configure(cam *camera.Camera, cfg *camera.Configuration) error {
	data := cameraData(cam)
	sc := cfg.At(0)

	got, err := data.Device.SetFormat(capture.PixFormat(*sc))
	if err != nil {
		return err
	}
	if err := capture.ApplyFormat(sc, got); err != nil {
		return err
	}
	sc.SetStream(data.Stream)
	return nil
}

// ExportFrameBuffers exports the configured number of device buffers.
func (p *SingleStream) ExportFrameBuffers(cam *camera.Camera, s *camera.Stream) ([]*camera.FrameBuffer, error) {
	data := cameraData(cam)
	if s != data.Stream {
		return nil, fmt.Errorf("export buffers: unknown stream: %w", camera.ErrInvalidArgument)
	}
	return data.Device.ExportBuffers(s.Configuration().BufferCount)
}

// Start imports buffer slots and starts streaming. The slots are released
// again if streaming cannot start.
func (p *SingleStream) Start(cam *camera.Camera) error {
	data := cameraData(cam)
	if err := data.Device.ImportBuffers(data.Stream.Configuration().BufferCount); err != nil {
		return err
	}
	if err := data.Device.StreamOn(); err != nil {
		if rerr := data.Device.ReleaseBuffers(); rerr != nil {
			p.Logger().Warn("Failed to release buffers", "camera", cam.ID(), "error", rerr)
		}
		return err
	}
	if data.OnStart != nil {
		data.OnStart()
	}
	return nil
}

// Stop stops streaming and releases the buffer slots. Queued buffers come
// back cancelled. It is safe on a camera that never started.
func (p *SingleStream) Stop(cam *camera.Camera) error {
	data := cameraData(cam)
	if data.OnStop != nil {
		data.OnStop()
	}
	return errors.Join(data.Device.StreamOff(), data.Device.ReleaseBuffers())
}

// QueueRequestDevice applies the request controls and queues its buffer.
func (p *SingleStream) QueueRequestDevice(cam *camera.Camera, req *camera.Request) error {
	data := cameraData(cam)
	buf := req.Buffer(data.Stream)
	if buf == nil {
		return fmt.Errorf("request %d has no buffer for the stream: %w", req.ID(), camera.ErrInvalidArgument)
	}
	if cn, ok := data.Device.Node().(capture.ControlNode); ok && req.Controls().Len() > 0 {
		if err := applyControls(cn, data.controls, req.Controls()); err != nil {
			p.Logger().Warn("Failed to apply controls", "camera", cam.ID(), "request", req.ID(), "error", err)
		}
	}
	return data.Device.QueueBuffer(buf)
}

// bufferReady completes the request owning buf.
func (d *CameraData) bufferReady(buf *camera.FrameBuffer) {
	req := buf.Request()
	if req == nil {
		return
	}
	md := buf.Metadata()
	if md.Status != camera.FrameCancelled {
		_ = req.Metadata().Set(camera.SensorTimestamp, camera.NewInt64Value(md.Timestamp.Nanoseconds()))
		_ = req.Metadata().Set(camera.SensorSequence, camera.NewInt32Value(int32(md.Sequence)))
	}
	d.handler.CompleteBuffer(req, buf)
	if !req.HasPendingBuffers() {
		d.handler.CompleteRequest(req)
	}
}

// RemoveCamera closes the capture node of a removed camera.
func (p *SingleStream) RemoveCamera(cam *camera.Camera) {
	if err := cameraData(cam).Device.Close(); err != nil {
		p.Logger().Warn("Failed to close capture device", "camera", cam.ID(), "error", err)
	}
	p.PipelineBase.RemoveCamera(cam)
}

// Close closes every capture node and releases the media devices.
func (p *SingleStream) Close() error {
	var errs []error
	for _, cam := range p.Cameras() {
		errs = append(errs, cameraData(cam).Device.Close())
	}
	errs = append(errs, p.PipelineBase.Close())
	return errors.Join(errs...)
}
