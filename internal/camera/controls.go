package camera

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// ControlType is the value type of a control.
type ControlType int

// Control types.
const (
	ControlTypeNone ControlType = iota
	ControlTypeBool
	ControlTypeByte
	ControlTypeInteger32
	ControlTypeInteger64
	ControlTypeFloat
	ControlTypeString
	ControlTypeRectangle
	ControlTypeSize
)

var controlTypeNames = [...]string{"none", "bool", "byte", "int32", "int64", "float", "string", "rectangle", "size"}

func (t ControlType) String() string {
	if t >= 0 && int(t) < len(controlTypeNames) {
		return controlTypeNames[t]
	}
	return fmt.Sprintf("ControlType(%d)", int(t))
}

// Rectangle is a region within a frame.
type Rectangle struct {
	X      int32
	Y      int32
	Width  uint32
	Height uint32
}

// ControlID names a control and fixes its type.
type ControlID struct {
	ID   uint32
	Name string
	Type ControlType
}

func (id *ControlID) String() string { return id.Name }

// Controls and properties known to the framework.
var (
	// Brightness ranges from -1.0 (darkest) to 1.0, 0.0 is neutral.
	Brightness = &ControlID{ID: 1, Name: "Brightness", Type: ControlTypeFloat}
	// Contrast is a gain, 1.0 is neutral.
	Contrast = &ControlID{ID: 2, Name: "Contrast", Type: ControlTypeFloat}
	// Saturation is a gain, 0.0 is greyscale and 1.0 neutral.
	Saturation = &ControlID{ID: 3, Name: "Saturation", Type: ControlTypeFloat}
	// SensorTimestamp is the start of exposure in nanoseconds, reported in
	// request metadata.
	SensorTimestamp = &ControlID{ID: 4, Name: "SensorTimestamp", Type: ControlTypeInteger64}
	// SensorSequence is the frame sequence number, reported in request metadata.
	SensorSequence = &ControlID{ID: 5, Name: "SensorSequence", Type: ControlTypeInteger32}

	// PropertyModel is the camera model name.
	PropertyModel = &ControlID{ID: 0x100, Name: "Model", Type: ControlTypeString}
	// PropertyPixelArraySize is the full sensor resolution.
	PropertyPixelArraySize = &ControlID{ID: 0x101, Name: "PixelArraySize", Type: ControlTypeSize}
)

var knownControls = []*ControlID{
	Brightness, Contrast, Saturation, SensorTimestamp, SensorSequence,
	PropertyModel, PropertyPixelArraySize,
}

// LookupControl finds a known control by name, ignoring case.
func LookupControl(name string) (*ControlID, bool) {
	i := slices.IndexFunc(knownControls, func(id *ControlID) bool {
		return strings.EqualFold(id.Name, name)
	})
	if i < 0 {
		return nil, false
	}
	return knownControls[i], true
}

// ControlValue holds a value of one of the control types. The zero value
// is of type None.
type ControlValue struct {
	typ ControlType
	v   any
}

// NewBoolValue and the functions below create a value of each control type.
func NewBoolValue(v bool) ControlValue           { return ControlValue{ControlTypeBool, v} }
func NewByteValue(v byte) ControlValue           { return ControlValue{ControlTypeByte, v} }
func NewInt32Value(v int32) ControlValue         { return ControlValue{ControlTypeInteger32, v} }
func NewInt64Value(v int64) ControlValue         { return ControlValue{ControlTypeInteger64, v} }
func NewFloatValue(v float32) ControlValue       { return ControlValue{ControlTypeFloat, v} }
func NewStringValue(v string) ControlValue       { return ControlValue{ControlTypeString, v} }
func NewRectangleValue(v Rectangle) ControlValue { return ControlValue{ControlTypeRectangle, v} }
func NewSizeValue(v Size) ControlValue           { return ControlValue{ControlTypeSize, v} }

// Type returns the value type.
func (v ControlValue) Type() ControlType { return v.typ }

// IsNone reports whether the value is empty.
func (v ControlValue) IsNone() bool { return v.typ == ControlTypeNone }

// Bool returns the value of a bool control. Like the other typed
// accessors it returns the zero value when the type does not match.
func (v ControlValue) Bool() bool {
	x, _ := v.v.(bool)
	return x
}

func (v ControlValue) Byte() byte {
	x, _ := v.v.(byte)
	return x
}

func (v ControlValue) Int32() int32 {
	x, _ := v.v.(int32)
	return x
}

func (v ControlValue) Int64() int64 {
	x, _ := v.v.(int64)
	return x
}

func (v ControlValue) Float() float32 {
	x, _ := v.v.(float32)
	return x
}

func (v ControlValue) Text() string {
	x, _ := v.v.(string)
	return x
}

func (v ControlValue) Rectangle() Rectangle {
	x, _ := v.v.(Rectangle)
	return x
}

func (v ControlValue) Size() Size {
	x, _ := v.v.(Size)
	return x
}

func (v ControlValue) String() string {
	if v.IsNone() {
		return "<none>"
	}
	return fmt.Sprint(v.v)
}

// ControlInfo is the range of a control.
type ControlInfo struct {
	Min ControlValue
	Max ControlValue
	Def ControlValue
}

func (i ControlInfo) String() string {
	return fmt.Sprintf("[%s..%s] default %s", i.Min, i.Max, i.Def)
}

// ControlInfoMap lists the controls a camera accepts.
type ControlInfoMap map[*ControlID]ControlInfo

// Find looks a control up by name, ignoring case.
func (m ControlInfoMap) Find(name string) (*ControlID, ControlInfo, bool) {
	for id, info := range m {
		if strings.EqualFold(id.Name, name) {
			return id, info, true
		}
	}
	return nil, ControlInfo{}, false
}

// IDs returns the controls ordered by numeric ID.
func (m ControlInfoMap) IDs() []*ControlID {
	ids := make([]*ControlID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b *ControlID) int { return cmp.Compare(a.ID, b.ID) })
	return ids
}

type controlEntry struct {
	id    *ControlID
	value ControlValue
}

// ControlList is an ordered set of control values.
type ControlList struct {
	entries []controlEntry
}

// NewControlList creates an empty list.
func NewControlList() *ControlList {
	return &ControlList{}
}

// Set stores v for id, replacing a previous value. The value type must
// match the control type.
func (l *ControlList) Set(id *ControlID, v ControlValue) error {
	if v.Type() != id.Type {
		return fmt.Errorf("control %s takes %s, got %s: %w", id.Name, id.Type, v.Type(), ErrInvalidArgument)
	}
	for i := range l.entries {
		if l.entries[i].id == id {
			l.entries[i].value = v
			return nil
		}
	}
	l.entries = append(l.entries, controlEntry{id, v})
	return nil
}

// Get returns the value stored for id.
func (l *ControlList) Get(id *ControlID) (ControlValue, bool) {
	for _, e := range l.entries {
		if e.id == id {
			return e.value, true
		}
	}
	return ControlValue{}, false
}

// Contains reports whether id has a value.
func (l *ControlList) Contains(id *ControlID) bool {
	_, ok := l.Get(id)
	return ok
}

// Len returns the number of values.
func (l *ControlList) Len() int { return len(l.entries) }

// IDs returns the controls in insertion order.
func (l *ControlList) IDs() []*ControlID {
	ids := make([]*ControlID, len(l.entries))
	for i, e := range l.entries {
		ids[i] = e.id
	}
	return ids
}

// Clear removes every value.
func (l *ControlList) Clear() { l.entries = nil }
