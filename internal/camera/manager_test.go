package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camkit/internal/events"
	"github.com/smazurov/camkit/internal/media"
)

func startManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	m := NewManager(opts)
	if err := m.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func TestManagerStartRegistersCameras(t *testing.T) {
	var h *fakeHandler
	m := startManager(t, Options{
		Sources:  []media.Source{media.StaticSource{fakeDevice}},
		Handlers: []HandlerFactory{fakeFactory(&h)},
	})

	cams := m.Cameras()
	if len(cams) != 1 {
		t.Fatalf("got %d cameras, want 1", len(cams))
	}
	cam := cams[0]
	if cam.ID() != "platform:fake-000" {
		t.Errorf("camera ID = %q", cam.ID())
	}
	if m.Get(cam.ID()) != cam {
		t.Error("Get() did not return the camera")
	}
	if m.Find("FAKE") != cam {
		t.Error("Find() is not case insensitive")
	}
	if m.Get("missing") != nil || m.Find("missing") != nil {
		t.Error("lookup of an unknown camera returned a camera")
	}
	if cam.MediaDevice() == nil || !cam.MediaDevice().Acquired() {
		t.Error("camera device not claimed")
	}
	if m.SessionID() == "" {
		t.Error("empty session ID")
	}
	if m.Dispatcher() == nil {
		t.Error("no dispatcher after Start")
	}
}

func TestManagerStartErrors(t *testing.T) {
	m := NewManager(Options{Sources: []media.Source{media.StaticSource{}}})
	if err := m.Start(); !errors.Is(err, ErrNoHandlers) {
		t.Errorf("Start() without handlers = %v, want ErrNoHandlers", err)
	}

	var h *fakeHandler
	m = startManager(t, Options{
		Sources:  []media.Source{media.StaticSource{}},
		Handlers: []HandlerFactory{fakeFactory(&h)},
	})
	if err := m.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Start() = %v, want ErrInvalidState", err)
	}
	if len(m.Cameras()) != 0 {
		t.Error("camera registered without a device")
	}
}

func TestManagerHandlersClaimExclusively(t *testing.T) {
	var first, second *fakeHandler
	m := startManager(t, Options{
		Sources:  []media.Source{media.StaticSource{fakeDevice}},
		Handlers: []HandlerFactory{fakeFactory(&first), fakeFactory(&second)},
	})

	if len(m.Cameras()) != 1 {
		t.Fatalf("got %d cameras, want 1", len(m.Cameras()))
	}
	if len(first.Cameras()) != 1 || len(second.Cameras()) != 0 {
		t.Errorf("first=%d second=%d cameras, want 1/0", len(first.Cameras()), len(second.Cameras()))
	}
}

func TestManagerStopReleasesEverything(t *testing.T) {
	var h *fakeHandler
	m := NewManager(Options{
		Sources:  []media.Source{media.StaticSource{fakeDevice}},
		Handlers: []HandlerFactory{fakeFactory(&h)},
	})
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	cam := m.Cameras()[0]
	_ = cam.Acquire()
	cfg, _ := cam.GenerateConfiguration(RoleViewfinder)
	_ = cam.Configure(cfg)
	_ = cam.Start()

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if cam.State() != StateAvailable {
		t.Errorf("camera state = %v after Stop", cam.State())
	}
	if h.stops != 1 {
		t.Errorf("handler stopped %d times, want 1", h.stops)
	}
	if devs := m.Enumerator().Devices(); len(devs) != 1 || devs[0].Acquired() {
		t.Error("device still claimed after Stop")
	}
	if m.Dispatcher() != nil || len(m.Cameras()) != 0 {
		t.Error("manager state not cleared")
	}
	if err := m.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}

func TestManagerRescan(t *testing.T) {
	var mu sync.Mutex
	present := true
	src := media.SourceFunc(func() ([]media.DeviceInfo, error) {
		mu.Lock()
		defer mu.Unlock()
		if !present {
			return nil, nil
		}
		return []media.DeviceInfo{fakeDevice}, nil
	})
	setPresent := func(v bool) {
		mu.Lock()
		present = v
		mu.Unlock()
	}

	var h *fakeHandler
	m := startManager(t, Options{Sources: []media.Source{src}, Handlers: []HandlerFactory{fakeFactory(&h)}})
	cam := m.Cameras()[0]
	disconnected := false
	cam.OnDisconnected(func() { disconnected = true })
	_ = cam.Acquire()

	setPresent(false)
	m.Rescan()

	if len(m.Cameras()) != 0 {
		t.Fatal("camera of a removed device still registered")
	}
	if !disconnected || !cam.Disconnected() {
		t.Error("camera not disconnected")
	}
	if len(h.removed) != 1 || h.removed[0] != cam {
		t.Errorf("handler RemoveCamera calls = %v", h.removed)
	}
	if err := cam.Release(); err != nil {
		t.Errorf("Release() of a disconnected camera = %v", err)
	}
	if err := cam.Acquire(); !errors.Is(err, ErrNoDevice) {
		t.Errorf("Acquire() of a disconnected camera = %v, want ErrNoDevice", err)
	}

	setPresent(true)
	m.Rescan()
	again := m.Get("platform:fake-000")
	if again == nil || again == cam {
		t.Fatal("replugged device did not produce a new camera")
	}
}

func TestManagerPost(t *testing.T) {
	var h *fakeHandler
	m := startManager(t, Options{Sources: []media.Source{media.StaticSource{}}, Handlers: []HandlerFactory{fakeFactory(&h)}})

	ran := false
	go m.Post(func() { ran = true })

	deadline := time.Now().Add(2 * time.Second)
	for !ran && time.Now().Before(deadline) {
		if err := m.ProcessEvents(); err != nil {
			t.Fatal(err)
		}
	}
	if !ran {
		t.Error("posted function never ran")
	}
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	var h *fakeHandler
	m := startManager(t, Options{Sources: []media.Source{media.StaticSource{}}, Handlers: []HandlerFactory{fakeFactory(&h)}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManagerNotStarted(t *testing.T) {
	m := NewManager(Options{Sources: []media.Source{media.StaticSource{}}})
	if err := m.ProcessEvents(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("ProcessEvents() = %v", err)
	}
	if err := m.Run(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Run() = %v", err)
	}
	if err := m.EnableHotplug(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("EnableHotplug() = %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}

func TestManagerPublishesEvents(t *testing.T) {
	bus := events.New()
	added := make(chan events.CameraAddedEvent, 1)
	states := make(chan events.CameraStateChangedEvent, 8)
	completed := make(chan events.RequestCompletedEvent, 1)
	defer bus.Subscribe(func(e events.CameraAddedEvent) { added <- e })()
	defer bus.Subscribe(func(e events.CameraStateChangedEvent) { states <- e })()
	defer bus.Subscribe(func(e events.RequestCompletedEvent) { completed <- e })()

	var h *fakeHandler
	m := startManager(t, Options{
		Sources:  []media.Source{media.StaticSource{fakeDevice}},
		Handlers: []HandlerFactory{fakeFactory(&h)},
		Bus:      bus,
	})

	select {
	case e := <-added:
		if e.CameraID != "platform:fake-000" || e.Pipeline != "fake" {
			t.Errorf("added event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no CameraAddedEvent")
	}

	cam := m.Cameras()[0]
	_ = cam.Acquire()
	select {
	case e := <-states:
		if e.OldState != "available" || e.NewState != "acquired" {
			t.Errorf("state event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no CameraStateChangedEvent")
	}

	cfg, _ := cam.GenerateConfiguration(RoleViewfinder)
	_ = cam.Configure(cfg)
	alloc := NewFrameBufferAllocator(cam)
	_, _ = alloc.Allocate(h.stream)
	_ = cam.Start()
	reqs := queueRequests(t, cam, h.stream, alloc.Buffers(h.stream), 1)
	h.fill(reqs[0], FrameSuccess, 3)

	select {
	case e := <-completed:
		if e.Status != "complete" || len(e.Frames) != 1 || e.Frames[0].Sequence != 3 {
			t.Errorf("completed event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no RequestCompletedEvent")
	}
}
