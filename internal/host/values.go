// Package host converts between framework values and plain Go values and
// hands completed requests to consumers outside the dispatch goroutine.
package host

import (
	"errors"
	"fmt"

	"github.com/smazurov/camkit/internal/camera"
)

var (
	// ErrUnsupportedType is returned for control types with no host
	// representation: none, rectangle and size.
	ErrUnsupportedType = errors.New("host: unsupported control type")
	// ErrTypeMismatch is returned when a Go value does not fit the control
	// type.
	ErrTypeMismatch = errors.New("host: value type mismatch")
	// ErrUnknownControl is returned for control names the camera does not
	// expose.
	ErrUnknownControl = errors.New("host: unknown control")
)

// ValueToAny converts v to bool, byte, int32, int64, float32 or string.
func ValueToAny(v camera.ControlValue) (any, error) {
	switch v.Type() {
	case camera.ControlTypeBool:
		return v.Bool(), nil
	case camera.ControlTypeByte:
		return v.Byte(), nil
	case camera.ControlTypeInteger32:
		return v.Int32(), nil
	case camera.ControlTypeInteger64:
		return v.Int64(), nil
	case camera.ControlTypeFloat:
		return v.Float(), nil
	case camera.ControlTypeString:
		return v.Text(), nil
	default:
		return nil, fmt.Errorf("%s: %w", v.Type(), ErrUnsupportedType)
	}
}

// ValueFromAny converts a Go value to a control value of type typ. Integer
// values are accepted for numeric types when they fit; nothing else is
// coerced.
func ValueFromAny(typ camera.ControlType, a any) (camera.ControlValue, error) {
	mismatch := func() (camera.ControlValue, error) {
		return camera.ControlValue{}, fmt.Errorf("%T for %s control: %w", a, typ, ErrTypeMismatch)
	}

	switch typ {
	case camera.ControlTypeBool:
		if b, ok := a.(bool); ok {
			return camera.NewBoolValue(b), nil
		}
	case camera.ControlTypeByte:
		if i, ok := toInt64(a); ok && i >= 0 && i <= 0xff {
			return camera.NewByteValue(byte(i)), nil
		}
	case camera.ControlTypeInteger32:
		if i, ok := toInt64(a); ok && i >= -1<<31 && i < 1<<31 {
			return camera.NewInt32Value(int32(i)), nil
		}
	case camera.ControlTypeInteger64:
		if i, ok := toInt64(a); ok {
			return camera.NewInt64Value(i), nil
		}
	case camera.ControlTypeFloat:
		switch f := a.(type) {
		case float32:
			return camera.NewFloatValue(f), nil
		case float64:
			return camera.NewFloatValue(float32(f)), nil
		}
		if i, ok := toInt64(a); ok {
			return camera.NewFloatValue(float32(i)), nil
		}
	case camera.ControlTypeString:
		if s, ok := a.(string); ok {
			return camera.NewStringValue(s), nil
		}
	default:
		return camera.ControlValue{}, fmt.Errorf("%s: %w", typ, ErrUnsupportedType)
	}
	return mismatch()
}

func toInt64(a any) (int64, bool) {
	switch i := a.(type) {
	case int:
		return int64(i), true
	case int8:
		return int64(i), true
	case int16:
		return int64(i), true
	case int32:
		return int64(i), true
	case int64:
		return i, true
	case uint8:
		return int64(i), true
	case uint16:
		return int64(i), true
	case uint32:
		return int64(i), true
	}
	return 0, false
}

// SetControl sets the control called name on req from a Go value. The name
// is matched against the controls the camera exposes, ignoring case.
func SetControl(req *camera.Request, name string, a any) error {
	id, _, ok := req.Camera().Controls().Find(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownControl)
	}
	v, err := ValueFromAny(id.Type, a)
	if err != nil {
		return fmt.Errorf("set %s: %w", id.Name, err)
	}
	return req.Controls().Set(id, v)
}
