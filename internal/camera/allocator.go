package camera

import (
	"errors"
	"fmt"
)

// FrameBufferAllocator exports device buffers for the streams of a
// configured camera. The application owns the buffers until Free.
type FrameBufferAllocator struct {
	camera  *Camera
	buffers map[*Stream][]*FrameBuffer
}

// NewFrameBufferAllocator creates an allocator for cam.
func NewFrameBufferAllocator(cam *Camera) *FrameBufferAllocator {
	return &FrameBufferAllocator{camera: cam, buffers: make(map[*Stream][]*FrameBuffer)}
}

// Allocate exports the configured number of buffers for s and returns how
// many were created.
func (a *FrameBufferAllocator) Allocate(s *Stream) (int, error) {
	c := a.camera
	c.mu.Lock()
	err := c.checkState("allocate", StateConfigured)
	active := c.active[s]
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if !active {
		return 0, fmt.Errorf("allocate: stream not configured: %w", ErrInvalidArgument)
	}
	if _, ok := a.buffers[s]; ok {
		return 0, fmt.Errorf("allocate: stream %d already has buffers: %w", s.Index(), ErrBusy)
	}

	bufs, err := c.handler.ExportFrameBuffers(c, s)
	if err != nil {
		return 0, fmt.Errorf("allocate stream %d: %w", s.Index(), err)
	}
	a.buffers[s] = bufs
	c.logger.Debug("Buffers allocated", "stream", s.Index(), "count", len(bufs))
	return len(bufs), nil
}

// Free closes the buffers of s. Buffers cannot be freed while streaming.
func (a *FrameBufferAllocator) Free(s *Stream) error {
	if a.camera.State() == StateRunning {
		return fmt.Errorf("free: %w", ErrBusy)
	}
	bufs, ok := a.buffers[s]
	if !ok {
		return fmt.Errorf("free: stream has no buffers: %w", ErrInvalidArgument)
	}
	delete(a.buffers, s)

	var errs []error
	for _, b := range bufs {
		b.request = nil
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}

// Buffers returns the buffers allocated for s.
func (a *FrameBufferAllocator) Buffers(s *Stream) []*FrameBuffer {
	return a.buffers[s]
}

// Allocated reports whether any stream has buffers.
func (a *FrameBufferAllocator) Allocated() bool {
	return len(a.buffers) > 0
}
