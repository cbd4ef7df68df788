package ir

import (
	"fmt"
	"slices"
)

// Host event categories. These are the archetypes every host exposes; a host
// may register more at startup.
const (
	CategoryEntityTarget     = "entity-target"
	CategoryBlockTarget      = "block-target"
	CategoryTileEntityTarget = "tile-entity-target"
	CategoryUserTarget       = "user-target"
)

// DefaultCategories lists the built-in categories in registration order.
func DefaultCategories() []string {
	return []string{
		CategoryEntityTarget,
		CategoryBlockTarget,
		CategoryTileEntityTarget,
		CategoryUserTarget,
	}
}

// Location pins an event to a point in a host world.
type Location struct {
	World string  `json:"world" yaml:"world"`
	X     float64 `json:"x" yaml:"x"`
	Y     float64 `json:"y" yaml:"y"`
	Z     float64 `json:"z" yaml:"z"`
}

// String renders the location as "world@x,y,z".
func (l Location) String() string {
	return fmt.Sprintf("%s@%g,%g,%g", l.World, l.X, l.Y, l.Z)
}

// Value converts the location into a plain object for scripts.
func (l Location) Value() IRObject {
	return NewIRObjectFromPairs(
		O("world", IRString(l.World)),
		O("x", fromFloat(l.X)),
		O("y", fromFloat(l.Y)),
		O("z", fromFloat(l.Z)),
	)
}

// Event is one host occurrence fired into the dispatch registry.
//
// Category selects the dispatcher. Data is the plain payload scripts see.
// Shapes lists the more specific shapes the event can be converted to with
// convertEvent, each with the extra fields that shape adds. Location is nil
// when the host could not resolve one; such events are still delivered.
type Event struct {
	Category string              `json:"category"`
	Data     IRObject            `json:"data,omitempty"`
	Shapes   map[string]IRObject `json:"shapes,omitempty"`
	Location *Location           `json:"location,omitempty"`
}

// ShapeNames returns the convertible shapes in sorted order.
func (e Event) ShapeNames() []string {
	names := make([]string, 0, len(e.Shapes))
	for name := range e.Shapes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Value renders the event as the object passed to script callbacks:
//
//	{category, shape, shapes, data, location?}
//
// shape starts equal to category; convertEvent replaces it and merges the
// fields of shapes[target] into data.
func (e Event) Value() IRObject {
	shapes := make(IRObject, len(e.Shapes))
	for name, fields := range e.Shapes {
		if fields == nil {
			fields = IRObject{}
		}
		shapes[name] = fields
	}

	data := e.Data
	if data == nil {
		data = IRObject{}
	}

	obj := NewIRObjectFromPairs(
		O("category", IRString(e.Category)),
		O("shape", IRString(e.Category)),
		O("shapes", shapes),
		O("data", data),
	)
	if e.Location != nil {
		obj["location"] = e.Location.Value()
	}
	return obj
}

// ConvertEventValue adapts an event object (as produced by Event.Value) to a
// more specific shape. When the event does not list the shape, the input is
// returned unchanged and ok is false.
func ConvertEventValue(ev IRObject, shape string) (out IRObject, ok bool) {
	shapes, _ := ev["shapes"].(IRObject)
	fields, found := shapes[shape]
	if !found {
		return ev, false
	}

	out = ev.Clone()
	data, _ := ev["data"].(IRObject)
	merged := data.Clone()
	if merged == nil {
		merged = IRObject{}
	}
	if extra, isObj := fields.(IRObject); isObj {
		for k, v := range extra {
			merged[k] = v
		}
	}
	out["data"] = merged
	out["shape"] = IRString(shape)
	return out, true
}
