// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"github.com/smazurov/camkit/internal/logging"
	"github.com/smazurov/camkit/internal/metrics"
)

// HealthData represents the health check payload.
type HealthData struct {
	Status    string `json:"status" example:"ok" doc:"Health status"`
	Message   string `json:"message" example:"API is healthy" doc:"Health message"`
	SessionID string `json:"session_id,omitempty" example:"1c2d3e4f-..." doc:"Capture session identifier"`
	StartedAt string `json:"started_at,omitempty" example:"2025-01-27T10:30:00Z" doc:"Capture session start time"`
	Cameras   int    `json:"cameras" example:"1" doc:"Registered cameras"`
	Version   string `json:"version" example:"1.2.0" doc:"camkit release"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Body HealthData
}

// FormatInfo lists the sizes of one pixel format.
type FormatInfo struct {
	Format string   `json:"format" example:"BGR888" doc:"Pixel format name"`
	FourCC string   `json:"fourcc" example:"BGR3" doc:"V4L2 fourcc"`
	Sizes  []string `json:"sizes" example:"[\"640x480\",\"1920x1080\"]" doc:"Supported sizes, or range end points"`
	Range  string   `json:"range,omitempty" example:"16x16-1920x1080/2x2" doc:"Bounding size range"`
}

// StreamInfo describes a stream and its committed configuration.
type StreamInfo struct {
	Index       int          `json:"index" example:"0" doc:"Stream index"`
	Active      bool         `json:"active" doc:"Whether the stream is part of the current configuration"`
	Format      string       `json:"format,omitempty" example:"BGR888" doc:"Configured pixel format"`
	Width       uint32       `json:"width,omitempty" example:"1280" doc:"Configured width"`
	Height      uint32       `json:"height,omitempty" example:"720" doc:"Configured height"`
	Stride      uint32       `json:"stride,omitempty" example:"3840" doc:"Bytes per line"`
	FrameSize   uint32       `json:"frame_size,omitempty" example:"2764800" doc:"Bytes per frame"`
	BufferCount uint32       `json:"buffer_count,omitempty" example:"4" doc:"Buffers per stream"`
	Formats     []FormatInfo `json:"formats,omitempty" doc:"Formats the stream supports"`
}

// ControlInfo describes a control a camera accepts in requests.
type ControlInfo struct {
	Name    string `json:"name" example:"Brightness" doc:"Control name"`
	Type    string `json:"type" example:"float" doc:"Value type"`
	Min     string `json:"min" example:"-1" doc:"Minimum value"`
	Max     string `json:"max" example:"1" doc:"Maximum value"`
	Default string `json:"default" example:"0" doc:"Default value"`
}

// CameraInfo describes a registered camera.
type CameraInfo struct {
	ID           string                 `json:"id" example:"vivid-000-vid-cap" doc:"Camera identifier"`
	Pipeline     string                 `json:"pipeline" example:"vivid" doc:"Pipeline handler"`
	State        string                 `json:"state" example:"running" doc:"Camera state"`
	Disconnected bool                   `json:"disconnected" doc:"Whether the device is gone"`
	Device       string                 `json:"device,omitempty" example:"vivid platform:vivid-000" doc:"Backing media device"`
	Queued       int                    `json:"queued" doc:"Requests queued to the device"`
	Properties   map[string]string      `json:"properties" doc:"Static camera properties"`
	Controls     []ControlInfo          `json:"controls" doc:"Request controls"`
	Streams      []StreamInfo           `json:"streams" doc:"Camera streams"`
	Metrics      *metrics.CameraMetrics `json:"metrics,omitempty" doc:"Capture totals"`
}

// CamerasData represents the camera list payload.
type CamerasData struct {
	Cameras []CameraInfo `json:"cameras" doc:"Registered cameras"`
	Count   int          `json:"count" example:"1" doc:"Number of cameras"`
}

// CamerasResponse represents the camera list response.
type CamerasResponse struct {
	Body CamerasData
}

// CameraResponse represents a single camera response.
type CameraResponse struct {
	Body CameraInfo
}

// EntityInfo describes an entity of a media device.
type EntityInfo struct {
	Name       string `json:"name" example:"vivid-000-vid-cap" doc:"Entity name"`
	DeviceNode string `json:"device_node" example:"/dev/video0" doc:"Device node"`
}

// DeviceInfo describes a media device known to the enumerator.
type DeviceInfo struct {
	Driver   string       `json:"driver" example:"vivid" doc:"Kernel driver"`
	Model    string       `json:"model" example:"vivid" doc:"Device model"`
	BusInfo  string       `json:"bus_info" example:"platform:vivid-000" doc:"Bus location"`
	Acquired bool         `json:"acquired" doc:"Whether a pipeline handler claimed the device"`
	Entities []EntityInfo `json:"entities" doc:"Device entities"`
}

// DevicesData represents the media device list payload.
type DevicesData struct {
	Devices []DeviceInfo `json:"devices" doc:"Media devices"`
	Count   int          `json:"count" example:"1" doc:"Number of devices"`
}

// DevicesResponse represents the media device list response.
type DevicesResponse struct {
	Body DevicesData
}

// LogsData represents the recent log entries payload.
type LogsData struct {
	Entries []logging.LogEntry `json:"entries" doc:"Log entries, oldest first"`
	Count   int                `json:"count" doc:"Number of entries"`
}

// LogsResponse represents the recent log entries response.
type LogsResponse struct {
	Body LogsData
}

// MetricsData represents the capture totals payload.
type MetricsData struct {
	Cameras map[string]*metrics.CameraMetrics `json:"cameras" doc:"Totals per camera"`
}

// MetricsResponse represents the capture totals response.
type MetricsResponse struct {
	Body MetricsData
}
