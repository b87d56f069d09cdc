//go:build linux

package hotplug

import (
	"reflect"
	"testing"
)

func TestParseUEvent(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected *Event
	}{
		{
			name:     "empty input",
			input:    []byte{},
			expected: nil,
		},
		{
			name:     "nil input",
			input:    nil,
			expected: nil,
		},
		{
			name:     "no @ separator",
			input:    []byte("invalid"),
			expected: nil,
		},
		{
			name:     "missing action",
			input:    []byte("@/devices/foo"),
			expected: nil,
		},
		{
			name:  "video node add",
			input: []byte("add@/devices/platform/vivid.0/video4linux/video3\x00ACTION=add\x00SUBSYSTEM=video4linux\x00DEVNAME=video3\x00"),
			expected: &Event{
				Action:    "add",
				KObj:      "/devices/platform/vivid.0/video4linux/video3",
				Subsystem: "video4linux",
				DevName:   "video3",
				Env: map[string]string{
					"ACTION":    "add",
					"SUBSYSTEM": "video4linux",
					"DEVNAME":   "video3",
				},
			},
		},
		{
			name:  "media device remove with devpath",
			input: []byte("remove@/devices/usb/1-1/media0\x00SUBSYSTEM=media\x00DEVTYPE=media\x00DEVPATH=/devices/usb/1-1/media0\x00BROKEN\x00"),
			expected: &Event{
				Action:    "remove",
				KObj:      "/devices/usb/1-1/media0",
				Subsystem: "media",
				DevType:   "media",
				DevPath:   "/devices/usb/1-1/media0",
				Env: map[string]string{
					"SUBSYSTEM": "media",
					"DEVTYPE":   "media",
					"DEVPATH":   "/devices/usb/1-1/media0",
				},
			},
		},
		{
			name:  "libudev header is skipped",
			input: append([]byte("libudev\x00\xfe\xed\xca\xfe\x00"), []byte("change@/devices/x\x00SUBSYSTEM=video4linux\x00")...),
			expected: &Event{
				Action:    "change",
				KObj:      "/devices/x",
				Subsystem: "video4linux",
				Env:       map[string]string{"SUBSYSTEM": "video4linux"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseUEvent(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ParseUEvent() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestEventDeviceNode(t *testing.T) {
	tests := []struct {
		devName  string
		expected string
	}{
		{"video0", "/dev/video0"},
		{"/dev/media1", "/dev/media1"},
		{"", ""},
	}
	for _, tt := range tests {
		e := &Event{DevName: tt.devName}
		if got := e.DeviceNode(); got != tt.expected {
			t.Errorf("DeviceNode(%q) = %q, want %q", tt.devName, got, tt.expected)
		}
	}
}

func TestMonitorFilters(t *testing.T) {
	m := &Monitor{filters: make(map[string]struct{})}

	v4l := &Event{Subsystem: SubsystemVideo4Linux}
	usb := &Event{Subsystem: SubsystemUSB}

	if !m.accepts(v4l) || !m.accepts(usb) {
		t.Fatal("monitor without filters should accept every event")
	}

	m.AddSubsystemFilter(SubsystemVideo4Linux)
	m.AddSubsystemFilter(SubsystemMedia)

	if !m.accepts(v4l) {
		t.Error("video4linux event rejected")
	}
	if m.accepts(usb) {
		t.Error("usb event accepted with video4linux/media filters")
	}
}
