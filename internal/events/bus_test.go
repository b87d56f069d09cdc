package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan CameraAddedEvent, 1)

	unsub := bus.Subscribe(func(e CameraAddedEvent) {
		received <- e
	})
	defer unsub()

	bus.Publish(CameraAddedEvent{CameraID: "vivid-000-vid-cap", Pipeline: "vivid"})

	select {
	case got := <-received:
		if got.CameraID != "vivid-000-vid-cap" || got.Pipeline != "vivid" {
			t.Errorf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan CameraRemovedEvent, 1)

	unsub := bus.Subscribe(func(e CameraRemovedEvent) {
		received <- e
	})

	bus.Publish(CameraRemovedEvent{CameraID: "a"})
	<-received

	unsub()

	bus.Publish(CameraRemovedEvent{CameraID: "b"})
	select {
	case <-received:
		t.Fatal("received event after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	stateReceived := make(chan struct{}, 1)
	requestReceived := make(chan struct{}, 1)

	defer bus.Subscribe(func(CameraStateChangedEvent) { stateReceived <- struct{}{} })()
	defer bus.Subscribe(func(RequestCompletedEvent) { requestReceived <- struct{}{} })()

	bus.Publish(CameraStateChangedEvent{CameraID: "cam", OldState: "configured", NewState: "running"})
	<-stateReceived

	select {
	case <-requestReceived:
		t.Fatal("request subscriber received a state change")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBus_UnknownHandler(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	if unsub == nil {
		t.Fatal("Subscribe must always return an unsubscribe function")
	}
	unsub()
}

func TestBus_ConcurrentPublish(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	publishers := 10
	perPublisher := 100
	expected := publishers * perPublisher

	receivedCh := make(chan struct{}, expected)
	defer bus.Subscribe(func(RequestCompletedEvent) { receivedCh <- struct{}{} })()

	for p := range publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perPublisher {
				bus.Publish(RequestCompletedEvent{CameraID: "cam", RequestID: uint64(p*perPublisher + i)})
			}
		}()
	}
	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"CameraAdded", CameraAddedEvent{CameraID: "a"}},
		{"CameraRemoved", CameraRemovedEvent{CameraID: "a"}},
		{"CameraStateChanged", CameraStateChangedEvent{CameraID: "a"}},
		{"RequestCompleted", RequestCompletedEvent{CameraID: "a"}},
		{"DeviceHotplug", DeviceHotplugEvent{Action: "add"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case CameraAddedEvent:
				unsub = bus.Subscribe(func(e CameraAddedEvent) { received <- e })
			case CameraRemovedEvent:
				unsub = bus.Subscribe(func(e CameraRemovedEvent) { received <- e })
			case CameraStateChangedEvent:
				unsub = bus.Subscribe(func(e CameraStateChangedEvent) { received <- e })
			case RequestCompletedEvent:
				unsub = bus.Subscribe(func(e RequestCompletedEvent) { received <- e })
			case DeviceHotplugEvent:
				unsub = bus.Subscribe(func(e DeviceHotplugEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			select {
			case got := <-received:
				if got.Type() != tt.event.Type() {
					t.Errorf("Type() = %d, want %d", got.Type(), tt.event.Type())
				}
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for event")
			}
		})
	}
}
