package ngsi

import (
	"reflect"
	"strings"

	"github.com/google/uuid"
)

// Flat is the UI-facing projection of an entity. It always carries id and type.
type Flat map[string]any

func (f Flat) ID() string {
	id, _ := f["id"].(string)
	return id
}

func (f Flat) Type() string {
	t, _ := f["type"].(string)
	return t
}

type IDGenerator func(entityType string) string

func DefaultIDGenerator(entityType string) string {
	return URNPrefix + entityType + ":" + uuid.NewString()
}

type Adapter struct {
	appContext string
	newID      IDGenerator
}

type AdapterOption func(*Adapter)

func WithIDGenerator(gen IDGenerator) AdapterOption {
	return func(a *Adapter) {
		if gen != nil {
			a.newID = gen
		}
	}
}

func NewAdapter(appContext string, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		appContext: appContext,
		newID:      DefaultIDGenerator,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Context() []string {
	return []string{CoreContext, a.appContext}
}

// Normalize unwraps every attribute envelope. Relationships surface the
// referenced id; they are not dereferenced.
func Normalize(e Entity) Flat {
	flat := make(Flat, len(e.Attributes)+2)
	for name, attr := range e.Attributes {
		if isReservedKey(name) {
			continue
		}
		flat[name] = unwrap(attr)
	}
	flat["id"] = e.ID
	flat["type"] = e.Type
	return flat
}

func NormalizeAll(entities []Entity) []Flat {
	out := make([]Flat, 0, len(entities))
	for _, e := range entities {
		out = append(out, Normalize(e))
	}
	return out
}

func unwrap(attr Attribute) any {
	switch a := attr.(type) {
	case Property:
		return a.Value
	case GeoProperty:
		return a.Value
	case Relationship:
		return a.Object
	case Raw:
		return a.Value
	}
	return attr
}

// NormalizeMap applies the same rule to an already decoded JSON object.
func NormalizeMap(m map[string]any) Flat {
	flat := make(Flat, len(m))
	for key, v := range m {
		if key == "@context" {
			continue
		}
		if key == "id" || key == "type" {
			flat[key] = v
			continue
		}
		flat[key] = unwrapJSON(v)
	}
	return flat
}

func unwrapJSON(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if value, ok := obj["value"]; ok {
		return value
	}
	if object, ok := obj["object"]; ok {
		return object
	}
	return v
}

// Denormalize wraps a flat object for the broker. An empty id gets a generated
// one. Point-shaped values become GeoProperties, everything else a Property.
func (a *Adapter) Denormalize(flat Flat, entityType, id string) Entity {
	if id == "" {
		id = a.newID(entityType)
	}
	return Entity{
		ID:         id,
		Type:       entityType,
		Context:    a.Context(),
		Attributes: a.Attributes(flat),
	}
}

// Attributes wraps flat values without entity metadata, as used by partial updates.
func (a *Adapter) Attributes(flat Flat) map[string]Attribute {
	attrs := make(map[string]Attribute, len(flat))
	for key, v := range flat {
		if isReservedKey(key) {
			continue
		}
		if isPointShaped(v) {
			attrs[key] = GeoProperty{Value: v}
			continue
		}
		attrs[key] = Property{Value: v}
	}
	return attrs
}

// ExtractValue returns the value inside a property envelope, def for falsy input
// and the input itself otherwise.
func ExtractValue(input any, def any) any {
	if isFalsy(input) {
		return def
	}
	switch v := input.(type) {
	case Property:
		return v.Value
	case *Property:
		return v.Value
	case GeoProperty:
		return v.Value
	case *GeoProperty:
		return v.Value
	case Raw:
		return ExtractValue(v.Value, def)
	case map[string]any:
		if value, ok := v["value"]; ok {
			return value
		}
	}
	return input
}

func isFalsy(v any) bool {
	if v == nil {
		return true
	}
	switch x := v.(type) {
	case bool:
		return !x
	case string:
		return x == ""
	case Raw:
		return isFalsy(x.Value)
	case *Property:
		return x == nil
	case *GeoProperty:
		return x == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f == 0 || f != f
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// IsValidEntity checks only the identity shape: a urn:ngsi-ld: id and a string type.
func IsValidEntity(candidate any) bool {
	switch c := candidate.(type) {
	case Entity:
		return strings.HasPrefix(c.ID, URNPrefix)
	case *Entity:
		return c != nil && strings.HasPrefix(c.ID, URNPrefix)
	case Flat:
		return isValidMap(c)
	case map[string]any:
		return isValidMap(c)
	}
	return false
}

func isValidMap(m map[string]any) bool {
	if m == nil {
		return false
	}
	id, ok := m["id"].(string)
	if !ok || !strings.HasPrefix(id, URNPrefix) {
		return false
	}
	_, ok = m["type"].(string)
	return ok
}
