package ngsi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

const (
	TypeProperty     = "Property"
	TypeRelationship = "Relationship"
	TypeGeoProperty  = "GeoProperty"
	TypePoint        = "Point"
)

// Attribute is one of Property, Relationship, GeoProperty or Raw.
type Attribute interface {
	attribute()
}

// Extra holds envelope members the typed fields do not model, such as
// datasetId or sub-properties. They are written back verbatim.
type Property struct {
	Value      any
	ObservedAt string
	UnitCode   string
	Extra      map[string]json.RawMessage
}

// Relationship points at one target id or, for multi-valued relationships,
// a list of them.
type Relationship struct {
	Object any
	Extra  map[string]json.RawMessage
}

// GeoProperty holds a geometry, normally a Point. Value keeps whatever geometry
// the caller supplied so flat round trips are lossless.
type GeoProperty struct {
	Value any
	Extra map[string]json.RawMessage
}

// Raw is an attribute that matched no envelope shape.
type Raw struct {
	Value any
}

func (Property) attribute()     {}
func (Relationship) attribute() {}
func (GeoProperty) attribute()  {}
func (Raw) attribute()          {}

type Point struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

func NewPoint(longitude, latitude float64) Point {
	return Point{Type: TypePoint, Coordinates: [2]float64{longitude, latitude}}
}

func (p Point) Longitude() float64 { return p.Coordinates[0] }
func (p Point) Latitude() float64  { return p.Coordinates[1] }

// Point decodes the geometry as a Point when it has that shape.
func (g GeoProperty) Point() (Point, bool) {
	return asPoint(g.Value)
}

func asPoint(v any) (Point, bool) {
	switch p := v.(type) {
	case Point:
		return p, p.Type == TypePoint
	case *Point:
		if p == nil {
			return Point{}, false
		}
		return *p, p.Type == TypePoint
	case map[string]any:
		if t, _ := p["type"].(string); t != TypePoint {
			return Point{}, false
		}
		coords, ok := p["coordinates"].([]any)
		if !ok || len(coords) != 2 {
			return Point{}, false
		}
		lon, ok1 := coords[0].(float64)
		lat, ok2 := coords[1].(float64)
		if !ok1 || !ok2 {
			return Point{}, false
		}
		return NewPoint(lon, lat), true
	}
	return Point{}, false
}

func isPointShaped(v any) bool {
	switch p := v.(type) {
	case Point:
		return p.Type == TypePoint
	case *Point:
		return p != nil && p.Type == TypePoint
	case map[string]any:
		t, _ := p["type"].(string)
		return t == TypePoint
	}
	return false
}

func (p Property) MarshalJSON() ([]byte, error) {
	members := map[string]any{"type": TypeProperty, "value": p.Value}
	if p.ObservedAt != "" {
		members["observedAt"] = p.ObservedAt
	}
	if p.UnitCode != "" {
		members["unitCode"] = p.UnitCode
	}
	return marshalEnvelope(p.Extra, members)
}

func (r Relationship) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(r.Extra, map[string]any{"type": TypeRelationship, "object": r.Object})
}

func (g GeoProperty) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(g.Extra, map[string]any{"type": TypeGeoProperty, "value": g.Value})
}

// marshalEnvelope writes the typed members over the preserved extras.
func marshalEnvelope(extra map[string]json.RawMessage, members map[string]any) ([]byte, error) {
	out := make(map[string]any, len(extra)+len(members))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range members {
		out[k] = v
	}
	return json.Marshal(out)
}

// extraMembers returns the fields not named in known, or nil when there are none.
func extraMembers(fields map[string]json.RawMessage, known ...string) map[string]json.RawMessage {
	var extra map[string]json.RawMessage
	for k, v := range fields {
		if slices.Contains(known, k) {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	return extra
}

func (r Raw) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Value)
}

// DecodeAttribute classifies one attribute payload. It never fails on shape:
// anything that is not an envelope comes back as Raw.
func DecodeAttribute(data []byte) (Attribute, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, fmt.Errorf("decode attribute: %w", err)
		}
		return Raw{Value: v}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("decode attribute: %w", err)
	}

	var kind string
	if t, ok := fields["type"]; ok {
		_ = json.Unmarshal(t, &kind)
	}

	if rawValue, ok := fields["value"]; ok {
		var value any
		if err := json.Unmarshal(rawValue, &value); err != nil {
			return nil, fmt.Errorf("decode attribute value: %w", err)
		}
		if kind == TypeGeoProperty {
			return GeoProperty{Value: value, Extra: extraMembers(fields, "type", "value")}, nil
		}
		known := []string{"type", "value"}
		prop := Property{Value: value}
		if v, ok := fields["observedAt"]; ok && json.Unmarshal(v, &prop.ObservedAt) == nil {
			known = append(known, "observedAt")
		}
		if v, ok := fields["unitCode"]; ok && json.Unmarshal(v, &prop.UnitCode) == nil {
			known = append(known, "unitCode")
		}
		prop.Extra = extraMembers(fields, known...)
		return prop, nil
	}

	if rawObject, ok := fields["object"]; ok {
		var object any
		if err := json.Unmarshal(rawObject, &object); err != nil {
			return nil, fmt.Errorf("decode relationship object: %w", err)
		}
		return Relationship{Object: object, Extra: extraMembers(fields, "type", "object")}, nil
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("decode attribute: %w", err)
	}
	return Raw{Value: v}, nil
}
