//go:build linux

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/smazurov/camkit/internal/api/models"
	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/internal/media"
	"github.com/smazurov/camkit/internal/pipeline/virtual"
)

func runVirtual(t *testing.T) *camera.Manager {
	t.Helper()
	cfg := virtual.DefaultConfig()
	cfg.Count = 2
	m := camera.NewManager(camera.Options{
		Sources:  []media.Source{virtual.Source(cfg)},
		Handlers: []camera.HandlerFactory{virtual.Factory(cfg)},
	})
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Error(err)
		}
		_ = m.Stop()
	})
	return m
}

func TestManagerSourceSnapshots(t *testing.T) {
	m := runVirtual(t)
	src := ManagerSource{Manager: m}

	configured := make(chan error, 1)
	m.Post(func() {
		cam := m.Get("virtual-001-vid-cap")
		if err := cam.Acquire(); err != nil {
			configured <- err
			return
		}
		conf, err := cam.GenerateConfiguration(camera.RoleViewfinder)
		if err != nil {
			configured <- err
			return
		}
		configured <- cam.Configure(conf)
	})
	select {
	case err := <-configured:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not run the posted function")
	}

	session := src.Session()
	if session.SessionID == "" || session.StartedAt == "" || session.Cameras != 2 {
		t.Errorf("unexpected session %+v", session)
	}

	cams, err := src.Cameras(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cams) != 2 {
		t.Fatalf("%d cameras, want 2", len(cams))
	}
	idle, active := cams[0], cams[1]
	if idle.ID != "virtual-000-vid-cap" || idle.State != "available" || idle.Pipeline != virtual.Driver {
		t.Errorf("unexpected idle camera %+v", idle)
	}
	if len(idle.Streams) != 1 || idle.Streams[0].Active {
		t.Errorf("idle camera streams = %+v", idle.Streams)
	}
	if len(idle.Controls) == 0 {
		t.Error("camera exposes no controls")
	}

	if active.State != "configured" {
		t.Fatalf("state = %q", active.State)
	}
	s := active.Streams[0]
	if !s.Active || s.Format != "BGR888" || s.Width != 1280 || s.Height != 720 {
		t.Errorf("unexpected active stream %+v", s)
	}
	if s.Stride < 1280*3 || s.FrameSize < s.Stride*720 || s.BufferCount == 0 {
		t.Errorf("stream layout %+v", s)
	}
	if len(s.Formats) != 2 {
		t.Errorf("formats = %+v", s.Formats)
	}

	devs, err := src.Devices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 2 || !devs[0].Acquired || devs[0].Driver != virtual.Driver {
		t.Errorf("unexpected devices %+v", devs)
	}
	if len(devs[0].Entities) != 1 || devs[0].Entities[0].Name != "virtual-000-vid-cap" {
		t.Errorf("entities = %+v", devs[0].Entities)
	}
}

func TestManagerSourceOverHTTP(t *testing.T) {
	m := runVirtual(t)
	srv := NewServer(&Options{Cameras: ManagerSource{Manager: m}})

	rec := get(t, srv, "/api/cameras/virtual-000-vid-cap", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var cam models.CameraInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &cam); err != nil {
		t.Fatal(err)
	}
	if cam.Properties["Model"] == "" {
		t.Errorf("properties = %v", cam.Properties)
	}
}

func TestManagerSourceTimeout(t *testing.T) {
	cfg := virtual.DefaultConfig()
	m := camera.NewManager(camera.Options{
		Sources:  []media.Source{virtual.Source(cfg)},
		Handlers: []camera.HandlerFactory{virtual.Factory(cfg)},
	})
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	// Nothing drives the event loop.
	src := ManagerSource{Manager: m, Timeout: 20 * time.Millisecond}
	if _, err := src.Cameras(context.Background()); err == nil {
		t.Error("Cameras() without a running loop succeeded")
	}
}
