package camera

import (
	"fmt"
	"slices"
)

// RequestStatus is the lifecycle state of a Request.
type RequestStatus int

// Request statuses.
const (
	RequestPending RequestStatus = iota
	RequestComplete
	RequestCancelled
)

func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestComplete:
		return "complete"
	default:
		return "cancelled"
	}
}

// ReuseFlag controls what Reuse keeps.
type ReuseFlag int

// Reuse flags.
const (
	ReuseDefault ReuseFlag = iota
	ReuseBuffers
)

type streamBuffer struct {
	stream *Stream
	buffer *FrameBuffer
}

// Request binds frame buffers to streams for one capture. The application
// owns it; the camera only references it between QueueRequest and
// completion.
type Request struct {
	id       uint64
	cookie   uint64
	camera   *Camera
	buffers  []streamBuffer
	pending  map[*FrameBuffer]struct{}
	controls *ControlList
	metadata *ControlList
	status   RequestStatus
	queued   bool
	done     bool
	cancel   bool
}

func newRequest(cam *Camera, id, cookie uint64) *Request {
	return &Request{
		id:       id,
		cookie:   cookie,
		camera:   cam,
		controls: NewControlList(),
		metadata: NewControlList(),
	}
}

// ID is unique among the requests of a camera.
func (r *Request) ID() uint64 { return r.id }

// Cookie returns the application value given to CreateRequest.
func (r *Request) Cookie() uint64 { return r.cookie }

// Camera returns the camera the request was created for.
func (r *Request) Camera() *Camera { return r.camera }

// Status returns the lifecycle status.
func (r *Request) Status() RequestStatus { return r.status }

// Controls are applied by the pipeline handler when the request is queued.
func (r *Request) Controls() *ControlList { return r.controls }

// Metadata is filled by the pipeline handler on completion.
func (r *Request) Metadata() *ControlList { return r.metadata }

// AddBuffer attaches buf to stream. A stream takes at most one buffer and a
// buffer serves one request at a time.
func (r *Request) AddBuffer(stream *Stream, buf *FrameBuffer) error {
	if stream == nil || buf == nil {
		return fmt.Errorf("add buffer: nil stream or buffer: %w", ErrInvalidArgument)
	}
	if r.queued {
		return fmt.Errorf("add buffer: request %d is queued: %w", r.id, ErrBusy)
	}
	if slices.ContainsFunc(r.buffers, func(sb streamBuffer) bool { return sb.stream == stream }) {
		return fmt.Errorf("add buffer: stream %d already has a buffer: %w", stream.Index(), ErrInvalidArgument)
	}
	if buf.request != nil && buf.request != r {
		return fmt.Errorf("add buffer: buffer in use by request %d: %w", buf.request.id, ErrBusy)
	}
	buf.request = r
	r.buffers = append(r.buffers, streamBuffer{stream, buf})
	return nil
}

// Buffer returns the buffer attached to stream, or nil.
func (r *Request) Buffer(stream *Stream) *FrameBuffer {
	for _, sb := range r.buffers {
		if sb.stream == stream {
			return sb.buffer
		}
	}
	return nil
}

// Buffers returns the stream to buffer associations.
func (r *Request) Buffers() map[*Stream]*FrameBuffer {
	out := make(map[*Stream]*FrameBuffer, len(r.buffers))
	for _, sb := range r.buffers {
		out[sb.stream] = sb.buffer
	}
	return out
}

// Streams returns the streams with an attached buffer, in attach order.
func (r *Request) Streams() []*Stream {
	out := make([]*Stream, len(r.buffers))
	for i, sb := range r.buffers {
		out[i] = sb.stream
	}
	return out
}

// HasPendingBuffers reports whether some buffer has not completed yet.
func (r *Request) HasPendingBuffers() bool { return len(r.pending) > 0 }

// Reuse resets a completed request so it can be queued again. Buffers stay
// attached with ReuseBuffers.
func (r *Request) Reuse(flags ReuseFlag) error {
	if r.queued {
		return fmt.Errorf("reuse: request %d is queued: %w", r.id, ErrBusy)
	}
	if flags != ReuseBuffers {
		for _, sb := range r.buffers {
			sb.buffer.request = nil
		}
		r.buffers = nil
	}
	r.status = RequestPending
	r.done = false
	r.cancel = false
	r.pending = nil
	r.controls.Clear()
	r.metadata.Clear()
	return nil
}

// prepare marks every buffer pending before the request reaches the
// handler.
func (r *Request) prepare() {
	r.pending = make(map[*FrameBuffer]struct{}, len(r.buffers))
	for _, sb := range r.buffers {
		sb.buffer.metadata = FrameMetadata{}
		r.pending[sb.buffer] = struct{}{}
	}
	r.status = RequestPending
	r.done = false
	r.cancel = false
	r.queued = true
}

// completeBuffer reports whether buf was pending in this request.
func (r *Request) completeBuffer(buf *FrameBuffer) bool {
	if _, ok := r.pending[buf]; !ok {
		return false
	}
	delete(r.pending, buf)
	if buf.metadata.Status == FrameCancelled {
		r.cancel = true
	}
	return true
}

func (r *Request) String() string {
	return fmt.Sprintf("Request(%d:%s:%d)", r.id, r.status, r.cookie)
}
