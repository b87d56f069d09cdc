package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
// Delivery is asynchronous: handlers run on the dispatcher's goroutines,
// never on the publisher's.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(CameraAddedEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case CameraAddedEvent:
		event.Publish(b.dispatcher, e)
	case CameraRemovedEvent:
		event.Publish(b.dispatcher, e)
	case CameraStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case RequestCompletedEvent:
		event.Publish(b.dispatcher, e)
	case DeviceHotplugEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers a handler; its parameter type selects the events it
// receives. Unknown handler types get a no-op unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e CameraStateChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(CameraAddedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CameraRemovedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CameraStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RequestCompletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceHotplugEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
