//go:build linux

package pipeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/internal/capture"
	"github.com/smazurov/camkit/pkg/linuxav/v4l2"
)

// scale maps a framework control value onto the integer range of a V4L2
// control.
type scale int

const (
	// offset maps [-1, 1] linearly onto [min, max].
	offset scale = iota
	// gain multiplies the V4L2 default, 1.0 leaving it unchanged.
	gain
)

type controlMapping struct {
	id    *camera.ControlID
	cid   uint32
	scale scale
	info  camera.ControlInfo
}

var controlMappings = []controlMapping{
	{camera.Brightness, v4l2.CidBrightness, offset,
		camera.ControlInfo{Min: camera.NewFloatValue(-1), Max: camera.NewFloatValue(1), Def: camera.NewFloatValue(0)}},
	{camera.Contrast, v4l2.CidContrast, gain,
		camera.ControlInfo{Min: camera.NewFloatValue(0), Max: camera.NewFloatValue(2), Def: camera.NewFloatValue(1)}},
	{camera.Saturation, v4l2.CidSaturation, gain,
		camera.ControlInfo{Min: camera.NewFloatValue(0), Max: camera.NewFloatValue(2), Def: camera.NewFloatValue(1)}},
}

// deviceControl is a framework control backed by a V4L2 control.
type deviceControl struct {
	controlMapping
	v4l2 v4l2.ControlInfo
}

func (c deviceControl) value(v float32) int32 {
	lo, hi := float64(c.v4l2.Minimum), float64(c.v4l2.Maximum)
	var x float64
	switch c.scale {
	case offset:
		x = lo + (float64(v)+1)*(hi-lo)/2
	default:
		x = float64(c.v4l2.Default) * float64(v)
	}
	return int32(math.Round(math.Max(lo, math.Min(hi, x))))
}

// probeControls returns the framework controls node supports, skipping
// disabled V4L2 controls.
func probeControls(node capture.ControlNode) (camera.ControlInfoMap, []deviceControl) {
	infos := camera.ControlInfoMap{}
	var controls []deviceControl
	for _, m := range controlMappings {
		qc, err := node.QueryControl(m.cid)
		if err != nil || qc.Flags&v4l2.CtrlFlagDisabled != 0 {
			continue
		}
		infos[m.id] = m.info
		controls = append(controls, deviceControl{m, qc})
	}
	return infos, controls
}

// applyControls writes the controls set in list to the device.
func applyControls(node capture.ControlNode, controls []deviceControl, list *camera.ControlList) error {
	var errs []error
	for _, c := range controls {
		v, ok := list.Get(c.id)
		if !ok {
			continue
		}
		if err := node.SetControl(c.cid, c.value(v.Float())); err != nil {
			errs = append(errs, fmt.Errorf("set %s: %w", c.id.Name, err))
		}
	}
	return errors.Join(errs...)
}
