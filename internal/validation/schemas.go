package validation

import "github.com/procuredata/console/internal/ngsi"

// GeoPoint is a GeoJSON Point with longitude first.
type GeoPoint struct {
	Type        string    `json:"type" validate:"required,eq=Point"`
	Coordinates []float64 `json:"coordinates" validate:"len=2"`
}

// Device follows the Smart Data Models Device shape.
type Device struct {
	ID                string   `json:"id,omitempty" validate:"omitempty,ngsiurn"`
	SerialNumber      string   `json:"serialNumber" validate:"required,min=5,max=50"`
	Category          []string `json:"category" validate:"min=1,dive,oneof=sensor actuator meter gateway"`
	Temperature       *float64 `json:"temperature,omitempty" validate:"omitempty,min=-50,max=100"`
	BatteryLevel      *float64 `json:"batteryLevel,omitempty" validate:"omitempty,min=0,max=1"`
	RSSI              *float64 `json:"rssi,omitempty" validate:"omitempty,min=-120,max=0"`
	Status            string   `json:"status" validate:"oneof=online offline maintenance error"`
	MaintenanceStatus string   `json:"maintenanceStatus" validate:"oneof=ok warning critical"`
}

type Vehicle struct {
	ID             string    `json:"id,omitempty" validate:"omitempty,ngsiurn"`
	BrandName      string    `json:"brandName" validate:"required,min=2,max=50"`
	FleetVehicleID string    `json:"fleetVehicleId" validate:"required,min=3,max=30"`
	Speed          *float64  `json:"speed,omitempty" validate:"omitempty,min=0,max=200"`
	CargoWeight    *float64  `json:"cargoWeight,omitempty" validate:"omitempty,min=0,max=50000"`
	Location       *GeoPoint `json:"location,omitempty" validate:"omitempty"`
}

type Machine struct {
	ID                string   `json:"id,omitempty" validate:"omitempty,ngsiurn"`
	Name              string   `json:"name" validate:"required,min=3,max=100"`
	SerialNumber      string   `json:"serialNumber" validate:"required,min=5,max=50"`
	OperatingHours    *float64 `json:"operatingHours,omitempty" validate:"omitempty,min=0"`
	Vibration         *float64 `json:"vibration,omitempty" validate:"omitempty,min=0,max=10"`
	MaintenanceStatus string   `json:"maintenanceStatus" validate:"oneof=operational check_required maintenance critical"`
	Temperature       *float64 `json:"temperature,omitempty" validate:"omitempty,min=-20,max=150"`
}

type DataAsset struct {
	ID          string `json:"id,omitempty" validate:"omitempty,ngsiurn"`
	Name        string `json:"name" validate:"required,min=5,max=200"`
	Description string `json:"description" validate:"required,min=10,max=1000"`
	DataType    string `json:"dataType" validate:"required,oneof=iot esg financial array"`
	Provider    string `json:"provider" validate:"required,min=2,max=100"`
	AccessLevel string `json:"accessLevel" validate:"oneof=public restricted confidential"`
}

type Policy struct {
	ID          string   `json:"id,omitempty" validate:"omitempty,ngsiurn"`
	Title       string   `json:"title" validate:"required,min=5,max=100"`
	Description string   `json:"description" validate:"required,min=10,max=500"`
	Action      string   `json:"action" validate:"required,oneof=read write delete execute share"`
	Constraint  string   `json:"constraint,omitempty" validate:"max=200"`
	Duration    *float64 `json:"duration,omitempty" validate:"omitempty,min=1,max=365"`
}

// IDSResourcePublish is the request to expose an entity through the connector.
type IDSResourcePublish struct {
	SourceEntityID string   `json:"sourceEntityId" validate:"required,ngsiurn"`
	Title          string   `json:"title" validate:"required,min=5,max=100"`
	Description    string   `json:"description" validate:"required,min=10,max=500"`
	Policy         string   `json:"policy" validate:"required,oneof=read-only time-restricted payment"`
	Keywords       []string `json:"keywords" validate:"min=1,max=10,dive,min=2,max=30"`
}

// schema describes how one entity type is checked.
type schema struct {
	newTarget func() any
	defaults  map[string]any
}

var schemas = map[string]schema{
	ngsi.EntityDevice: {
		newTarget: func() any { return &Device{} },
		defaults:  map[string]any{"status": "online", "maintenanceStatus": "ok"},
	},
	ngsi.EntityVehicle: {
		newTarget: func() any { return &Vehicle{} },
	},
	ngsi.EntityMachine: {
		newTarget: func() any { return &Machine{} },
		defaults:  map[string]any{"maintenanceStatus": "operational"},
	},
	ngsi.EntityDataAsset: {
		newTarget: func() any { return &DataAsset{} },
		defaults:  map[string]any{"accessLevel": "restricted"},
	},
	ngsi.EntityPolicy: {
		newTarget: func() any { return &Policy{} },
	},
}

// HasSchema reports whether entityType is validated at all.
func HasSchema(entityType string) bool {
	_, ok := schemas[entityType]
	return ok
}
