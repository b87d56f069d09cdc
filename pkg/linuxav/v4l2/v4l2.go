//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for device enumeration, format negotiation and buffer streaming.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s (%s)\n", dev.DevicePath, dev.DeviceName, dev.Driver)
//	}
//
// # Streaming
//
// A VideoNode wraps an open capture node. Buffers are allocated by the
// driver, exported as dmabuf file descriptors and queued back by index:
//
//	node, _ := v4l2.OpenNode("/dev/video0")
//	defer node.Close()
//	got, _ := node.SetFormat(v4l2.PixFormat{Width: 1280, Height: 720, PixelFormat: v4l2.FourCC("RGB3")})
//	n, _ := node.RequestBuffers(4, v4l2.MemoryMMAP)
//	for i := uint32(0); i < n; i++ {
//	    fd, _ := node.ExportBuffer(i)
//	    ...
//	}
//
// The node is opened non-blocking: DequeueBuffer returns EAGAIN when no
// buffer is ready, and Fd can be polled for readability.
package v4l2
