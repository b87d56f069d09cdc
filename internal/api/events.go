package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/camkit/internal/events"
)

// forward subscribes to events of type T and sends them to ch, dropping
// events when the channel is full.
func forward[T events.Event](bus *events.Bus, ch chan<- any) func() {
	return bus.Subscribe(func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

// registerSSERoutes registers the camera event stream.
func (s *Server) registerSSERoutes() {
	if s.options.EventBus == nil {
		s.logger.Debug("No event bus, skipping event stream")
		return
	}
	bus := s.options.EventBus

	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time camera lifecycle, state, request completion and hotplug events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"camera-added":         events.CameraAddedEvent{},
		"camera-removed":       events.CameraRemovedEvent{},
		"camera-state-changed": events.CameraStateChangedEvent{},
		"request-completed":    events.RequestCompletedEvent{},
		"device-hotplug":       events.DeviceHotplugEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 64)
		unsubscribers := []func(){
			forward[events.CameraAddedEvent](bus, eventCh),
			forward[events.CameraRemovedEvent](bus, eventCh),
			forward[events.CameraStateChangedEvent](bus, eventCh),
			forward[events.RequestCompletedEvent](bus, eventCh),
			forward[events.DeviceHotplugEvent](bus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
