package ngsi

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	URNPrefix = "urn:ngsi-ld:"

	CoreContext            = "https://uri.etsi.org/ngsi-ld/v1/ngsi-ld-core-context.jsonld"
	SmartDataModelsContext = "https://smartdatamodels.org/context.jsonld"
)

const (
	EntityDevice       = "Device"
	EntitySensor       = "Sensor"
	EntityDataAsset    = "DataAsset"
	EntityOrganization = "Organization"
	EntityPolicy       = "Policy"
	EntityContract     = "Contract"
	EntityVehicle      = "Vehicle"
	EntityMachine      = "Machine"
)

var urnPattern = regexp.MustCompile(`^urn:ngsi-ld:([A-Za-z]+):([A-Za-z0-9_-]+)$`)

// Entity is the wire representation used by the context broker.
type Entity struct {
	ID         string
	Type       string
	Context    any
	Attributes map[string]Attribute
}

func isReservedKey(key string) bool {
	return key == "id" || key == "type" || key == "@context"
}

func (e Entity) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Attributes)+3)
	for name, attr := range e.Attributes {
		if isReservedKey(name) || attr == nil {
			continue
		}
		out[name] = attr
	}
	out["id"] = e.ID
	out["type"] = e.Type
	if e.Context != nil {
		out["@context"] = e.Context
	}
	return json.Marshal(out)
}

func (e *Entity) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode entity: %w", err)
	}

	*e = Entity{Attributes: make(map[string]Attribute, len(fields))}
	for key, raw := range fields {
		switch key {
		case "id":
			_ = json.Unmarshal(raw, &e.ID)
		case "type":
			_ = json.Unmarshal(raw, &e.Type)
		case "@context":
			var ctx any
			if err := json.Unmarshal(raw, &ctx); err != nil {
				return fmt.Errorf("decode @context: %w", err)
			}
			e.Context = ctx
		default:
			attr, err := DecodeAttribute(raw)
			if err != nil {
				return fmt.Errorf("attribute %q: %w", key, err)
			}
			e.Attributes[key] = attr
		}
	}
	return nil
}

// FormatEntityID returns the local part of a URN for display.
func FormatEntityID(urn string) string {
	if i := strings.LastIndex(urn, ":"); i >= 0 {
		return urn[i+1:]
	}
	return urn
}

// ParseURN splits a strict NGSI-LD URN into its type and local id.
func ParseURN(urn string) (entityType, localID string, ok bool) {
	m := urnPattern.FindStringSubmatch(urn)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func IsURN(s string) bool {
	return urnPattern.MatchString(s)
}
