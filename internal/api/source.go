package api

import (
	"context"
	"errors"
	"time"

	"github.com/smazurov/camkit/internal/api/models"
	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/internal/metrics"
)

// ErrCameraNotFound is returned for unknown camera IDs.
var ErrCameraNotFound = errors.New("camera not found")

// CameraSource provides snapshots of the capture session to HTTP handlers.
type CameraSource interface {
	Session() models.HealthData
	Cameras(ctx context.Context) ([]models.CameraInfo, error)
	Devices(ctx context.Context) ([]models.DeviceInfo, error)
}

// ManagerSource snapshots a camera.Manager. Snapshots are taken on the
// event loop goroutine through Manager.Post, so the loop must be running.
type ManagerSource struct {
	Manager *camera.Manager
	// Timeout bounds the wait for the event loop. Defaults to two seconds.
	Timeout time.Duration
}

// onLoop runs fn on the event loop and waits for it.
func (s ManagerSource) onLoop(ctx context.Context, fn func()) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	s.Manager.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session returns the session identity. It is safe from any goroutine.
func (s ManagerSource) Session() models.HealthData {
	h := models.HealthData{
		SessionID: s.Manager.SessionID(),
		Cameras:   len(s.Manager.Cameras()),
	}
	if t := s.Manager.StartedAt(); !t.IsZero() {
		h.StartedAt = t.Format(time.RFC3339)
	}
	return h
}

// Cameras returns every registered camera.
func (s ManagerSource) Cameras(ctx context.Context) ([]models.CameraInfo, error) {
	var out []models.CameraInfo
	err := s.onLoop(ctx, func() {
		for _, cam := range s.Manager.Cameras() {
			out = append(out, CameraInfo(cam))
		}
	})
	return out, err
}

// Devices returns the media devices known to the enumerator.
func (s ManagerSource) Devices(ctx context.Context) ([]models.DeviceInfo, error) {
	var out []models.DeviceInfo
	err := s.onLoop(ctx, func() {
		for _, dev := range s.Manager.Enumerator().Devices() {
			info := models.DeviceInfo{
				Driver:   dev.Driver,
				Model:    dev.Model,
				BusInfo:  dev.BusInfo,
				Acquired: dev.Acquired(),
				Entities: make([]models.EntityInfo, 0, len(dev.Entities)),
			}
			for _, e := range dev.Entities {
				info.Entities = append(info.Entities, models.EntityInfo{Name: e.Name, DeviceNode: e.DeviceNode})
			}
			out = append(out, info)
		}
	})
	return out, err
}

// CameraInfo converts cam to its API representation. Call it on the event
// loop goroutine.
func CameraInfo(cam *camera.Camera) models.CameraInfo {
	info := models.CameraInfo{
		ID:           cam.ID(),
		Pipeline:     cam.Handler().Name(),
		State:        cam.State().String(),
		Disconnected: cam.Disconnected(),
		Queued:       cam.QueuedRequests(),
		Properties:   make(map[string]string),
		Controls:     []models.ControlInfo{},
		Streams:      []models.StreamInfo{},
		Metrics:      metrics.GetCameraMetrics(cam.ID()),
	}
	if dev := cam.MediaDevice(); dev != nil {
		info.Device = dev.String()
	}

	props := cam.Properties()
	for _, id := range props.IDs() {
		v, _ := props.Get(id)
		info.Properties[id.Name] = v.String()
	}
	for _, id := range cam.Controls().IDs() {
		ci := cam.Controls()[id]
		info.Controls = append(info.Controls, models.ControlInfo{
			Name:    id.Name,
			Type:    id.Type.String(),
			Min:     ci.Min.String(),
			Max:     ci.Max.String(),
			Default: ci.Def.String(),
		})
	}

	configured := cam.State() >= camera.StateConfigured
	for _, s := range cam.Streams() {
		si := models.StreamInfo{Index: s.Index(), Active: configured && cam.IsActive(s)}
		if si.Active {
			sc := s.Configuration()
			si.Format = sc.PixelFormat.String()
			si.Width, si.Height = sc.Size.Width, sc.Size.Height
			si.Stride, si.FrameSize, si.BufferCount = sc.Stride, sc.FrameSize, sc.BufferCount
			si.Formats = FormatInfos(sc.Formats())
		}
		info.Streams = append(info.Streams, si)
	}
	return info
}

// FormatInfos lists the formats and sizes in f.
func FormatInfos(f *camera.StreamFormats) []models.FormatInfo {
	var out []models.FormatInfo
	for _, pf := range f.PixelFormats() {
		fi := models.FormatInfo{Format: pf.String(), FourCC: pf.FourCC()}
		for _, size := range f.Sizes(pf) {
			fi.Sizes = append(fi.Sizes, size.String())
		}
		if r := f.Range(pf); !r.Discrete() {
			fi.Range = r.String()
		}
		out = append(out, fi)
	}
	return out
}
