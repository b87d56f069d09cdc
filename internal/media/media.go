// Package media models the kernel media topology used to match pipeline
// handlers against hardware. A Device groups the entities (video nodes)
// exposed by one driver instance. Devices are claimed exclusively through
// Acquire; the first claimant wins.
package media

import (
	"fmt"
	"slices"
	"sync/atomic"
)

// Entity is one node of a media device.
type Entity struct {
	Name       string
	DeviceNode string
}

// DeviceInfo describes a media device as reported by a Source.
type DeviceInfo struct {
	Driver   string
	Model    string
	BusInfo  string
	Entities []Entity
}

// Key identifies a device across enumeration passes.
func (i DeviceInfo) Key() string {
	return i.Driver + ":" + i.BusInfo
}

// Device is an enumerated media device. The embedded DeviceInfo is
// immutable after enumeration.
type Device struct {
	DeviceInfo

	acquired atomic.Bool
	removed  atomic.Bool
}

// Entity returns the entity with the given name.
func (d *Device) Entity(name string) (Entity, bool) {
	i := slices.IndexFunc(d.Entities, func(e Entity) bool { return e.Name == name })
	if i < 0 {
		return Entity{}, false
	}
	return d.Entities[i], true
}

// Acquire claims the device. It reports false if the device is already
// claimed or has been removed.
func (d *Device) Acquire() bool {
	if d.removed.Load() {
		return false
	}
	return d.acquired.CompareAndSwap(false, true)
}

// Release gives up a claim made with Acquire.
func (d *Device) Release() {
	d.acquired.Store(false)
}

// Acquired reports whether the device is claimed.
func (d *Device) Acquired() bool {
	return d.acquired.Load()
}

// Removed reports whether the device disappeared from the system.
func (d *Device) Removed() bool {
	return d.removed.Load()
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Model, d.Key())
}

// DeviceMatch is the set of requirements a handler places on a device.
type DeviceMatch struct {
	Driver   string
	Entities []string
}

// NewDeviceMatch creates a DeviceMatch for a driver and its required entities.
func NewDeviceMatch(driver string, entities ...string) DeviceMatch {
	return DeviceMatch{Driver: driver, Entities: entities}
}

// Matches reports whether d provides the driver and every required entity.
func (m DeviceMatch) Matches(d *Device) bool {
	if d.Driver != m.Driver {
		return false
	}
	for _, name := range m.Entities {
		if _, ok := d.Entity(name); !ok {
			return false
		}
	}
	return true
}
