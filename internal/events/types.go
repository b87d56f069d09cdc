package events

// Event type constants for kelindar/event.
const (
	TypeCameraAdded uint32 = iota + 1
	TypeCameraRemoved
	TypeCameraStateChanged
	TypeRequestCompleted
	TypeDeviceHotplug
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CameraAddedEvent is published when a pipeline handler registers a camera.
type CameraAddedEvent struct {
	CameraID  string `json:"camera_id" example:"vivid-000-vid-cap" doc:"Camera identifier"`
	Pipeline  string `json:"pipeline" example:"vivid" doc:"Pipeline handler that created the camera"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraAddedEvent.
func (e CameraAddedEvent) Type() uint32 { return TypeCameraAdded }

// CameraRemovedEvent is published when a camera disappears.
type CameraRemovedEvent struct {
	CameraID  string `json:"camera_id" example:"vivid-000-vid-cap" doc:"Camera identifier"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraRemovedEvent.
func (e CameraRemovedEvent) Type() uint32 { return TypeCameraRemoved }

// CameraStateChangedEvent is published on every camera state transition.
type CameraStateChangedEvent struct {
	CameraID  string `json:"camera_id" example:"vivid-000-vid-cap" doc:"Camera identifier"`
	OldState  string `json:"old_state" example:"configured" doc:"Previous state"`
	NewState  string `json:"new_state" example:"running" doc:"New state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraStateChangedEvent.
func (e CameraStateChangedEvent) Type() uint32 { return TypeCameraStateChanged }

// FrameSummary describes one buffer of a completed request.
type FrameSummary struct {
	Stream    int    `json:"stream" doc:"Stream index within the camera configuration"`
	Status    string `json:"status" example:"success" doc:"Frame status: success, error or cancelled"`
	Sequence  uint32 `json:"sequence" doc:"Frame sequence number"`
	BytesUsed uint64 `json:"bytes_used" doc:"Payload size across all planes"`
}

// RequestCompletedEvent is published once per completed request.
type RequestCompletedEvent struct {
	CameraID  string         `json:"camera_id" example:"vivid-000-vid-cap" doc:"Camera identifier"`
	RequestID uint64         `json:"request_id" doc:"Request identifier"`
	Status    string         `json:"status" example:"complete" doc:"Request status: complete or cancelled"`
	Frames    []FrameSummary `json:"frames" doc:"Per-buffer results"`
}

// Type returns the event type identifier for RequestCompletedEvent.
func (e RequestCompletedEvent) Type() uint32 { return TypeRequestCompleted }

// DeviceHotplugEvent is published for capture-related kernel uevents.
type DeviceHotplugEvent struct {
	Action    string `json:"action" example:"add" doc:"Kernel action"`
	Subsystem string `json:"subsystem" example:"video4linux" doc:"Kernel subsystem"`
	DevNode   string `json:"dev_node" example:"/dev/video0" doc:"Device node, when the event names one"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceHotplugEvent.
func (e DeviceHotplugEvent) Type() uint32 { return TypeDeviceHotplug }
