//go:build linux

package media

import (
	"github.com/smazurov/camkit/pkg/linuxav/v4l2"
)

// SysfsSource reports the V4L2 capture nodes of the system, grouped into
// one media device per driver instance.
type SysfsSource struct{}

// Devices scans /sys/class/video4linux.
func (SysfsSource) Devices() ([]DeviceInfo, error) {
	nodes, err := v4l2.FindDevices()
	if err != nil {
		return nil, err
	}
	return groupNodes(nodes), nil
}

func groupNodes(nodes []v4l2.DeviceInfo) []DeviceInfo {
	var out []DeviceInfo
	index := make(map[string]int)
	for _, n := range nodes {
		info := DeviceInfo{Driver: n.Driver, Model: n.DeviceName, BusInfo: n.BusInfo}
		name := n.EntityName
		if name == "" {
			name = n.DeviceName
		}
		entity := Entity{Name: name, DeviceNode: n.DevicePath}

		if i, ok := index[info.Key()]; ok {
			out[i].Entities = append(out[i].Entities, entity)
			continue
		}
		info.Entities = []Entity{entity}
		index[info.Key()] = len(out)
		out = append(out, info)
	}
	return out
}
