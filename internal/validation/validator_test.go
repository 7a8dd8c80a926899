package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procuredata/console/internal/ngsi"
	"github.com/procuredata/console/pkg/utils"
)

func details(t *testing.T, err error) map[string]any {
	t.Helper()
	require.Error(t, err)
	var appErr *utils.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, utils.CodeValidation, appErr.Code)
	return appErr.Details
}

func TestValidateKind_DeviceDefaults(t *testing.T) {
	out, err := ValidateKind(ngsi.EntityDevice, ngsi.Flat{
		"serialNumber": "SN-00042",
		"category":     []any{"sensor", "meter"},
		"temperature":  21.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "online", out["status"])
	assert.Equal(t, "ok", out["maintenanceStatus"])
	assert.Equal(t, 21.5, out["temperature"])
}

func TestValidateKind_DeviceErrors(t *testing.T) {
	_, err := ValidateKind(ngsi.EntityDevice, ngsi.Flat{
		"id":           "device-1",
		"serialNumber": "SN1",
		"category":     []any{"toaster"},
		"batteryLevel": 1.5,
		"status":       "sleeping",
	})

	d := details(t, err)
	assert.Equal(t, "must follow urn:ngsi-ld:Type:id", d["id"])
	assert.Equal(t, "must be at least 5 characters", d["serialNumber"])
	assert.Contains(t, d, "category[0]")
	assert.Equal(t, "must be at most 1", d["batteryLevel"])
	assert.Equal(t, "must be one of: online, offline, maintenance, error", d["status"])
}

func TestValidateKind_EmptyCategory(t *testing.T) {
	_, err := ValidateKind(ngsi.EntityDevice, ngsi.Flat{"serialNumber": "SN-00042"})
	d := details(t, err)
	assert.Equal(t, "must have at least 1 items", d["category"])
}

func TestValidateKind_TypeMismatch(t *testing.T) {
	_, err := ValidateKind(ngsi.EntityDevice, ngsi.Flat{
		"serialNumber": "SN-00042",
		"category":     []any{"sensor"},
		"temperature":  "hot",
	})
	d := details(t, err)
	assert.Contains(t, d, "temperature")
}

func TestValidateKind_VehicleLocation(t *testing.T) {
	base := ngsi.Flat{"brandName": "Volvo", "fleetVehicleId": "FL-01"}

	ok := ngsi.Flat{"location": map[string]any{"type": "Point", "coordinates": []any{2.17, 41.38}}}
	for k, v := range base {
		ok[k] = v
	}
	_, err := ValidateKind(ngsi.EntityVehicle, ok)
	require.NoError(t, err)

	bad := ngsi.Flat{"location": map[string]any{"type": "Point", "coordinates": []any{200.0, 41.38}}}
	for k, v := range base {
		bad[k] = v
	}
	_, err = ValidateKind(ngsi.EntityVehicle, bad)
	d := details(t, err)
	assert.Equal(t, "longitude must be between -180 and 180", d["location.coordinates"])
}

func TestValidateKind_UnknownTypePasses(t *testing.T) {
	flat := ngsi.Flat{"anything": 1}
	out, err := ValidateKind("WeatherObserved", flat)
	require.NoError(t, err)
	assert.Equal(t, flat, out)
	assert.False(t, HasSchema("WeatherObserved"))
	assert.True(t, HasSchema(ngsi.EntityMachine))
}

func TestValidateKind_DataAssetAndPolicy(t *testing.T) {
	out, err := ValidateKind(ngsi.EntityDataAsset, ngsi.Flat{
		"name":        "Energy usage",
		"description": "Hourly consumption per plant",
		"dataType":    "iot",
		"provider":    "ACME",
	})
	require.NoError(t, err)
	assert.Equal(t, "restricted", out["accessLevel"])

	_, err = ValidateKind(ngsi.EntityPolicy, ngsi.Flat{
		"title":       "Read only",
		"description": "Read access for seven days",
		"action":      "read",
		"duration":    400.0,
	})
	d := details(t, err)
	assert.Equal(t, "must be at most 365", d["duration"])
}

func TestDecode_IDSResourcePublish(t *testing.T) {
	req, err := Decode[IDSResourcePublish](map[string]any{
		"sourceEntityId": "urn:ngsi-ld:Device:pump-01",
		"title":          "Pump telemetry",
		"description":    "Live pump readings from plant 7",
		"policy":         "time-restricted",
		"keywords":       []any{"energy", "pumps"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"energy", "pumps"}, req.Keywords)

	_, err = Decode[IDSResourcePublish](map[string]any{
		"sourceEntityId": "urn:ngsi-ld:Device:pump 01",
		"title":          "Pump",
		"description":    "short",
		"policy":         "free",
		"keywords":       []any{},
	})
	d := details(t, err)
	assert.Len(t, d, 5)
}

func TestStruct_MessageJoinsFields(t *testing.T) {
	err := Struct(Policy{Title: "Read", Description: "Too short", Action: "read"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title: must be at least 5 characters")
	assert.Contains(t, err.Error(), "description: must be at least 10 characters")
}
