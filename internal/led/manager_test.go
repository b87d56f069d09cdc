package led

import (
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camkit/internal/events"
)

type setCall struct {
	ledType string
	enabled bool
	pattern string
}

// mockController records Set calls. Event handlers run on bus goroutines.
type mockController struct {
	mu       sync.Mutex
	setCalls []setCall
}

func (m *mockController) Set(ledType string, enabled bool, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls = append(m.setCalls, setCall{ledType, enabled, pattern})
	return nil
}

func (m *mockController) Available() []string {
	return []string{"system", "user"}
}

func (m *mockController) Patterns() []string {
	return []string{PatternSolid, PatternHeartbeat, PatternOff}
}

func (m *mockController) last() (setCall, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.setCalls) == 0 {
		return setCall{}, 0
	}
	return m.setCalls[len(m.setCalls)-1], len(m.setCalls)
}

func waitPattern(t *testing.T, mgr *Manager, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for mgr.Pattern() != want {
		if time.Now().After(deadline) {
			t.Fatalf("pattern = %q, want %q", mgr.Pattern(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_Patterns(t *testing.T) {
	ctrl := &mockController{}
	bus := events.New()
	mgr := NewManager(ctrl, bus, nil)
	mgr.Start()
	defer mgr.Stop()

	if call, _ := ctrl.last(); call != (setCall{"system", false, PatternOff}) {
		t.Errorf("initial call = %+v", call)
	}

	bus.Publish(events.CameraAddedEvent{CameraID: "cam0"})
	waitPattern(t, mgr, PatternHeartbeat)

	bus.Publish(events.CameraStateChangedEvent{CameraID: "cam0", OldState: "configured", NewState: "running"})
	waitPattern(t, mgr, PatternSolid)
	if call, _ := ctrl.last(); call != (setCall{"system", true, PatternSolid}) {
		t.Errorf("running call = %+v", call)
	}

	bus.Publish(events.CameraStateChangedEvent{CameraID: "cam0", OldState: "running", NewState: "configured"})
	waitPattern(t, mgr, PatternHeartbeat)

	bus.Publish(events.CameraRemovedEvent{CameraID: "cam0"})
	waitPattern(t, mgr, PatternOff)
}

func TestManager_AnyRunningIsSolid(t *testing.T) {
	ctrl := &mockController{}
	bus := events.New()
	mgr := NewManager(ctrl, bus, nil)
	mgr.Start()
	defer mgr.Stop()

	bus.Publish(events.CameraStateChangedEvent{CameraID: "cam0", NewState: "acquired"})
	bus.Publish(events.CameraStateChangedEvent{CameraID: "cam1", NewState: "running"})
	waitPattern(t, mgr, PatternSolid)
}

func TestManager_SkipsRepeatedPattern(t *testing.T) {
	ctrl := &mockController{}
	bus := events.New()
	mgr := NewManager(ctrl, bus, nil)
	mgr.Start()
	defer mgr.Stop()

	bus.Publish(events.CameraAddedEvent{CameraID: "cam0"})
	waitPattern(t, mgr, PatternHeartbeat)
	_, before := ctrl.last()

	bus.Publish(events.CameraAddedEvent{CameraID: "cam1"})
	time.Sleep(50 * time.Millisecond)
	if _, after := ctrl.last(); after != before {
		t.Errorf("LED set %d more times for an unchanged pattern", after-before)
	}
}

func TestManager_NoIndicator(t *testing.T) {
	mgr := NewManager(newNoop(nil), events.New(), nil)
	mgr.Start()
	defer mgr.Stop()
	if mgr.Pattern() != PatternOff {
		t.Errorf("pattern = %q", mgr.Pattern())
	}
	if _, ok := mgr.Controller().(*noop); !ok {
		t.Error("Controller() did not return the original controller")
	}
}
