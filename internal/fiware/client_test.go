package fiware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/procuredata/console/internal/ngsi"
	"github.com/procuredata/console/internal/proxy"
	"github.com/procuredata/console/pkg/utils"
)

type mockForwarder struct {
	mock.Mock
	mu sync.Mutex
}

func (m *mockForwarder) Forward(ctx context.Context, req proxy.Request) proxy.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(req.Method, req.Path, req.SkipAuth, string(req.Body))
	return args.Get(0).(proxy.Response)
}

func connected(data any) proxy.Response {
	return proxy.Response{Success: true, Data: data, Status: proxy.StatusConnected, HTTPStatus: http.StatusOK}
}

func jsonData(t *testing.T, payload string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(payload), &v))
	return v
}

func TestGetEntities(t *testing.T) {
	fwd := &mockForwarder{}
	fwd.On("GET", "/ngsi-ld/v1/entities?limit=100&type=Device", false, "").
		Return(connected(jsonData(t, `[{"id":"urn:ngsi-ld:Device:1","type":"Device","temperature":{"type":"Property","value":21.5}}]`)))

	entities, err := NewClient(fwd).GetDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "urn:ngsi-ld:Device:1", entities[0].ID)
	assert.Equal(t, 21.5, ngsi.Normalize(entities[0])["temperature"])
	fwd.AssertExpectations(t)
}

func TestGetEntity_NotFound(t *testing.T) {
	fwd := &mockForwarder{}
	fwd.On("GET", "/ngsi-ld/v1/entities/urn:ngsi-ld:Device:9", false, "").
		Return(proxy.Response{Status: proxy.StatusError, HTTPStatus: http.StatusNotFound, Error: "Entity Not Found"})

	_, err := NewClient(fwd).GetEntity(context.Background(), "urn:ngsi-ld:Device:9")
	require.Error(t, err)
	assert.True(t, utils.IsNotFound(err))
}

func TestStandbyMapsToServiceUnavailable(t *testing.T) {
	fwd := &mockForwarder{}
	fwd.On("GET", mock.Anything, mock.Anything, "").
		Return(proxy.Response{Status: proxy.StatusStandby, Error: "FIWARE backend not configured", HTTPStatus: http.StatusServiceUnavailable})

	_, err := NewClient(fwd).GetUsers(context.Background())
	require.Error(t, err)
	assert.Equal(t, utils.CodeServiceUnavailable, utils.ErrorCode(err))
	assert.ErrorIs(t, err, utils.ErrServiceUnavailable)
}

func TestCreateEntity_DefaultsContext(t *testing.T) {
	fwd := &mockForwarder{}
	var sent string
	fwd.On("POST", "/ngsi-ld/v1/entities", false, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.String(3) }).
		Return(proxy.Response{Success: true, Status: proxy.StatusConnected, HTTPStatus: http.StatusCreated, Data: map[string]any{}})

	err := NewClient(fwd).CreateEntity(context.Background(), ngsi.Entity{
		ID:         "urn:ngsi-ld:Device:2",
		Type:       "Device",
		Attributes: map[string]ngsi.Attribute{"name": ngsi.Property{Value: "Pump"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "urn:ngsi-ld:Device:2",
		"type": "Device",
		"@context": ["https://uri.etsi.org/ngsi-ld/v1/ngsi-ld-core-context.jsonld", "https://smartdatamodels.org/context.jsonld"],
		"name": {"type": "Property", "value": "Pump"}
	}`, sent)
}

func TestUpdateEntity(t *testing.T) {
	fwd := &mockForwarder{}
	fwd.On("PATCH", "/ngsi-ld/v1/entities/urn:ngsi-ld:Device:2/attrs", false, `{"status":{"type":"Property","value":"off"}}`).
		Return(proxy.Response{Success: true, Status: proxy.StatusConnected, HTTPStatus: http.StatusNoContent, Data: map[string]any{}})

	err := NewClient(fwd).UpdateEntity(context.Background(), "urn:ngsi-ld:Device:2", map[string]ngsi.Attribute{
		"status": ngsi.Property{Value: "off"},
	})
	require.NoError(t, err)
	fwd.AssertExpectations(t)
}

func TestCreateUser(t *testing.T) {
	fwd := &mockForwarder{}
	fwd.On("POST", "/v1/users", false, `{"user":{"username":"ana","email":"ana@example.org","password":"s3cretpass"}}`).
		Return(connected(jsonData(t, `{"user":{"id":"u-1","username":"ana","email":"ana@example.org","enabled":true}}`)))

	user, err := NewClient(fwd).CreateUser(context.Background(), NewUser{Username: "ana", Email: "ana@example.org", Password: "s3cretpass"})
	require.NoError(t, err)
	assert.Equal(t, User{ID: "u-1", Username: "ana", Email: "ana@example.org", Enabled: true}, user)
}

func TestConnectorCallsSkipAuth(t *testing.T) {
	fwd := &mockForwarder{}
	fwd.On("GET", "/api/resources", true, "").Return(connected(jsonData(t, `[{"@id":"r1"}]`)))
	fwd.On("GET", "/api/offers", true, "").Return(connected(jsonData(t, `{"offers":[{"@id":"o1"},{"@id":"o2"}]}`)))

	c := NewClient(fwd)
	resources, err := c.GetIDSResources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"@id": "r1"}}, resources)

	offers, err := c.GetContractOffers(context.Background())
	require.NoError(t, err)
	assert.Len(t, offers, 2)
}

func TestHealthStatus(t *testing.T) {
	fwd := &mockForwarder{}
	fwd.On("GET", "/version", true, "").Return(connected(map[string]any{"orionld version": "1.4.0"}))
	fwd.On("GET", "/v1/applications", false, "").Return(proxy.Response{Status: proxy.StatusError, HTTPStatus: http.StatusUnauthorized})
	fwd.On("GET", "/api/resources", true, "").Return(connected([]any{}))

	status := NewClient(fwd).HealthStatus(context.Background())

	assert.Equal(t, HealthStatus{
		Orion:         ComponentStatus{Connected: true, Version: "1.4.0"},
		Keyrock:       ComponentStatus{Connected: false},
		TrueConnector: ComponentStatus{Connected: true},
	}, status)
}

func TestHealthStatus_Standby(t *testing.T) {
	status := NewClient(proxy.NewForwarder(proxy.Config{}, nil)).HealthStatus(context.Background())
	assert.Equal(t, HealthStatus{}, status)
}

func TestClientThroughForwarder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "procuredata", r.Header.Get("NGSILD-Tenant"))
		switch r.URL.Path {
		case "/ngsi-ld/v1/entities":
			_, _ = w.Write([]byte(`[{"id":"urn:ngsi-ld:DataAsset:a","type":"DataAsset"},{"id":"urn:ngsi-ld:DataAsset:b","type":"DataAsset"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(proxy.NewForwarder(proxy.Config{Host: srv.URL}, nil))
	n, err := c.CountEntities(context.Background(), ngsi.EntityDataAsset)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
