//go:build linux

package host

import (
	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/internal/logging"
)

// CompletedRequest is everything a host learns about a finished request.
type CompletedRequest struct {
	Camera   *camera.Camera
	Request  *camera.Request
	Status   camera.RequestStatus
	Buffers  map[*camera.Stream]*camera.FrameBuffer
	Metadata map[string]any
	Cookie   uint64
}

// NewCompletedRequest snapshots req. Metadata entries whose type has no host
// representation are left out.
func NewCompletedRequest(cam *camera.Camera, req *camera.Request) *CompletedRequest {
	cr := &CompletedRequest{
		Camera:   cam,
		Request:  req,
		Status:   req.Status(),
		Buffers:  req.Buffers(),
		Metadata: make(map[string]any, req.Metadata().Len()),
		Cookie:   req.Cookie(),
	}
	for _, id := range req.Metadata().IDs() {
		v, _ := req.Metadata().Get(id)
		a, err := ValueToAny(v)
		if err != nil {
			logging.GetLogger("host").Debug("Skipping metadata", "camera", cam.ID(), "control", id.Name, "error", err)
			continue
		}
		cr.Metadata[id.Name] = a
	}
	return cr
}

// Bind pushes every request cam completes onto q until the returned
// function is called. It must be called from the dispatch goroutine or
// before the session runs.
func Bind(cam *camera.Camera, q *CompletionQueue) (unbind func()) {
	logger := logging.GetLogger("host")
	return cam.OnRequestCompleted(func(req *camera.Request) {
		if err := q.Push(NewCompletedRequest(cam, req)); err != nil {
			logger.Warn("Dropping completed request", "camera", cam.ID(), "request", req.ID(), "error", err)
		}
	})
}
