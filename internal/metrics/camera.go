// Package metrics provides Prometheus metrics for cameras, fed from the
// event bus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camkit",
		Subsystem: "camera",
		Name:      "requests_completed_total",
		Help:      "Completed capture requests by status",
	}, []string{"camera", "status"})

	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camkit",
		Subsystem: "camera",
		Name:      "frames_total",
		Help:      "Returned frame buffers by status",
	}, []string{"camera", "status"})

	bytesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camkit",
		Subsystem: "camera",
		Name:      "bytes_captured_total",
		Help:      "Payload bytes of successfully captured frames",
	}, []string{"camera"})

	camerasPresent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camkit",
		Name:      "cameras_present",
		Help:      "Cameras currently registered",
	})

	camerasRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camkit",
		Name:      "cameras_running",
		Help:      "Cameras currently streaming",
	})

	// Local cache for API access.
	cameraCache   = make(map[string]*CameraMetrics)
	cameraCacheMu sync.RWMutex
)

// CameraMetrics holds the running totals of one camera.
type CameraMetrics struct {
	Requests          uint64 `json:"requests" doc:"Completed requests"`
	CancelledRequests uint64 `json:"cancelled_requests" doc:"Requests completed as cancelled"`
	Frames            uint64 `json:"frames" doc:"Successfully captured frames"`
	FrameErrors       uint64 `json:"frame_errors" doc:"Frames returned with an error"`
	Bytes             uint64 `json:"bytes" doc:"Payload bytes captured"`
	Running           bool   `json:"running" doc:"Whether the camera is streaming"`
}

// AddCamera records a newly registered camera.
func AddCamera(cameraID string) {
	cameraCacheMu.Lock()
	defer cameraCacheMu.Unlock()
	if _, ok := cameraCache[cameraID]; ok {
		return
	}
	cameraCache[cameraID] = &CameraMetrics{}
	camerasPresent.Set(float64(len(cameraCache)))
}

// RemoveCamera drops every metric of a camera.
func RemoveCamera(cameraID string) {
	requestsCompleted.DeletePartialMatch(prometheus.Labels{"camera": cameraID})
	framesTotal.DeletePartialMatch(prometheus.Labels{"camera": cameraID})
	bytesCaptured.DeleteLabelValues(cameraID)

	cameraCacheMu.Lock()
	defer cameraCacheMu.Unlock()
	delete(cameraCache, cameraID)
	camerasPresent.Set(float64(len(cameraCache)))
	camerasRunning.Set(float64(countRunning()))
}

// SetRunning records whether a camera streams.
func SetRunning(cameraID string, running bool) {
	updateCache(cameraID, func(m *CameraMetrics) { m.Running = running })
	cameraCacheMu.RLock()
	defer cameraCacheMu.RUnlock()
	camerasRunning.Set(float64(countRunning()))
}

// RecordRequest counts a completed request.
func RecordRequest(cameraID, status string) {
	requestsCompleted.WithLabelValues(cameraID, status).Inc()
	updateCache(cameraID, func(m *CameraMetrics) {
		m.Requests++
		if status == "cancelled" {
			m.CancelledRequests++
		}
	})
}

// RecordFrame counts a returned frame buffer. Only successful frames add
// to the captured bytes.
func RecordFrame(cameraID, status string, bytesUsed uint64) {
	framesTotal.WithLabelValues(cameraID, status).Inc()
	switch status {
	case "success":
		bytesCaptured.WithLabelValues(cameraID).Add(float64(bytesUsed))
		updateCache(cameraID, func(m *CameraMetrics) {
			m.Frames++
			m.Bytes += bytesUsed
		})
	case "error":
		updateCache(cameraID, func(m *CameraMetrics) { m.FrameErrors++ })
	}
}

// GetCameraMetrics returns the current totals of a camera.
func GetCameraMetrics(cameraID string) *CameraMetrics {
	cameraCacheMu.RLock()
	defer cameraCacheMu.RUnlock()
	if m, ok := cameraCache[cameraID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllCameraMetrics returns the totals of every known camera.
func GetAllCameraMetrics() map[string]*CameraMetrics {
	cameraCacheMu.RLock()
	defer cameraCacheMu.RUnlock()
	result := make(map[string]*CameraMetrics, len(cameraCache))
	for id, m := range cameraCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

// countRunning expects cameraCacheMu to be held.
func countRunning() int {
	n := 0
	for _, m := range cameraCache {
		if m.Running {
			n++
		}
	}
	return n
}

func updateCache(cameraID string, update func(*CameraMetrics)) {
	cameraCacheMu.Lock()
	defer cameraCacheMu.Unlock()
	m, ok := cameraCache[cameraID]
	if !ok {
		m = &CameraMetrics{}
		cameraCache[cameraID] = m
		camerasPresent.Set(float64(len(cameraCache)))
	}
	update(m)
}
