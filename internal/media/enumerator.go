package media

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/smazurov/camkit/internal/logging"
)

// Source reports the media devices currently visible on the system.
type Source interface {
	Devices() ([]DeviceInfo, error)
}

// StaticSource is a fixed device list.
type StaticSource []DeviceInfo

// Devices returns the list.
func (s StaticSource) Devices() ([]DeviceInfo, error) {
	return s, nil
}

// SourceFunc adapts a function to a Source.
type SourceFunc func() ([]DeviceInfo, error)

// Devices calls f.
func (f SourceFunc) Devices() ([]DeviceInfo, error) {
	return f()
}

// Enumerator keeps the list of known devices up to date across passes.
// Devices that stay visible keep their identity and claim state.
type Enumerator struct {
	sources []Source
	logger  *slog.Logger

	mu      sync.Mutex
	devices []*Device
}

// NewEnumerator creates an enumerator over the given sources.
func NewEnumerator(sources ...Source) *Enumerator {
	return &Enumerator{
		sources: sources,
		logger:  logging.GetLogger("media"),
	}
}

// Enumerate refreshes the device list and returns the devices that
// appeared and disappeared since the previous pass. When a source fails
// no device is considered removed during that pass.
func (e *Enumerator) Enumerate() (added, removed []*Device, err error) {
	var infos []DeviceInfo
	var errs []error
	for _, src := range e.sources {
		devs, srcErr := src.Devices()
		if srcErr != nil {
			errs = append(errs, srcErr)
			continue
		}
		infos = append(infos, devs...)
	}
	if len(errs) > 0 && len(errs) == len(e.sources) {
		return nil, nil, errors.Join(errs...)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	known := make(map[string]*Device, len(e.devices))
	for _, d := range e.devices {
		known[d.Key()] = d
	}

	seen := make(map[string]bool, len(infos))
	next := make([]*Device, 0, len(infos))
	for _, info := range infos {
		key := info.Key()
		if seen[key] {
			e.logger.Debug("Duplicate media device ignored", "key", key)
			continue
		}
		seen[key] = true

		if d, ok := known[key]; ok {
			next = append(next, d)
			continue
		}
		d := &Device{DeviceInfo: info}
		next = append(next, d)
		added = append(added, d)
		e.logger.Info("Media device added", "driver", info.Driver, "model", info.Model, "bus", info.BusInfo, "entities", len(info.Entities))
	}

	for _, d := range e.devices {
		if seen[d.Key()] {
			continue
		}
		if len(errs) > 0 {
			next = append(next, d)
			continue
		}
		d.removed.Store(true)
		removed = append(removed, d)
		e.logger.Info("Media device removed", "driver", d.Driver, "bus", d.BusInfo)
	}

	e.devices = next
	return added, removed, errors.Join(errs...)
}

// Devices returns the devices found by the last pass.
func (e *Enumerator) Devices() []*Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Device, len(e.devices))
	copy(out, e.devices)
	return out
}

// Search claims and returns the first unclaimed device satisfying dm, or nil.
func (e *Enumerator) Search(dm DeviceMatch) *Device {
	for _, d := range e.Devices() {
		if !dm.Matches(d) {
			continue
		}
		if d.Acquire() {
			e.logger.Debug("Media device acquired", "device", d.String())
			return d
		}
	}
	return nil
}
