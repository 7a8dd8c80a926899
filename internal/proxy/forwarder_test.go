package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procuredata/console/internal/resilience"
)

type staticTokens struct {
	token string
	err   error
	calls atomic.Int32
}

func (s *staticTokens) Token(context.Context) (string, error) {
	s.calls.Add(1)
	return s.token, s.err
}

type captured struct {
	method  string
	path    string
	query   string
	headers http.Header
	body    string
}

func newUpstream(t *testing.T, status int, body string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.headers = r.Header.Clone()
		got.body = string(data)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestForward_Standby(t *testing.T) {
	tokens := &staticTokens{token: "t"}
	f := NewForwarder(Config{}, tokens)

	resp := f.Forward(context.Background(), Request{Path: "/ngsi-ld/v1/entities"})

	assert.False(t, resp.Success)
	assert.Equal(t, StatusStandby, resp.Status)
	assert.Equal(t, "FIWARE backend not configured", resp.Error)
	assert.Equal(t, http.StatusServiceUnavailable, resp.HTTPStatus)
	assert.Zero(t, tokens.calls.Load(), "standby never authenticates")
}

func TestForward_ConnectedWithHeaders(t *testing.T) {
	srv, got := newUpstream(t, http.StatusOK, `[{"id":"urn:ngsi-ld:Device:1","type":"Device"}]`)
	tokens := &staticTokens{token: "abc"}
	f := NewForwarder(Config{Host: srv.URL + "/"}, tokens)

	resp := f.Forward(context.Background(), Request{Path: "/ngsi-ld/v1/entities?type=Device&limit=100"})

	require.True(t, resp.Success)
	assert.Equal(t, StatusConnected, resp.Status)
	assert.Equal(t, http.StatusOK, resp.HTTPStatus)
	assert.Equal(t, []any{map[string]any{"id": "urn:ngsi-ld:Device:1", "type": "Device"}}, resp.Data)

	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/ngsi-ld/v1/entities", got.path)
	assert.Equal(t, "type=Device&limit=100", got.query)
	assert.Equal(t, "application/json", got.headers.Get("Content-Type"))
	assert.Equal(t, "application/ld+json", got.headers.Get("Accept"))
	assert.Equal(t, "procuredata", got.headers.Get("NGSILD-Tenant"))
	assert.Equal(t, "abc", got.headers.Get("X-Auth-Token"))
	assert.Empty(t, got.body)
}

func TestForward_BodyAndTenant(t *testing.T) {
	srv, got := newUpstream(t, http.StatusCreated, "")
	f := NewForwarder(Config{Host: srv.URL, Tenant: "plant-7"}, nil)

	resp := f.Forward(context.Background(), Request{
		Path:   "/ngsi-ld/v1/entities",
		Method: "post",
		Body:   json.RawMessage(`{"id":"urn:ngsi-ld:Device:2","type":"Device"}`),
	})

	require.True(t, resp.Success)
	assert.Equal(t, map[string]any{}, resp.Data, "an empty body becomes an empty object")
	assert.Equal(t, http.StatusCreated, resp.HTTPStatus)
	assert.Equal(t, http.MethodPost, got.method)
	assert.JSONEq(t, `{"id":"urn:ngsi-ld:Device:2","type":"Device"}`, got.body)
	assert.Equal(t, "plant-7", got.headers.Get("NGSILD-Tenant"))
	assert.Empty(t, got.headers.Get("X-Auth-Token"))
}

func TestForward_SkipAuth(t *testing.T) {
	srv, got := newUpstream(t, http.StatusOK, `{"orionld version":"1.4.0"}`)
	tokens := &staticTokens{token: "abc"}
	f := NewForwarder(Config{Host: srv.URL}, tokens)

	resp := f.Forward(context.Background(), Request{Path: "/version", SkipAuth: true})

	require.True(t, resp.Success)
	assert.Empty(t, got.headers.Get("X-Auth-Token"))
	assert.Zero(t, tokens.calls.Load())
}

func TestForward_AuthFailureIsSoft(t *testing.T) {
	srv, got := newUpstream(t, http.StatusOK, `{}`)
	tokens := &staticTokens{err: errors.New("keyrock down")}
	f := NewForwarder(Config{Host: srv.URL}, tokens)

	resp := f.Forward(context.Background(), Request{Path: "/ngsi-ld/v1/entities"})

	assert.True(t, resp.Success)
	assert.EqualValues(t, 1, tokens.calls.Load())
	assert.Empty(t, got.headers.Get("X-Auth-Token"))
}

func TestForward_IncompleteCredentialsSkipLogin(t *testing.T) {
	srv, got := newUpstream(t, http.StatusOK, `{}`)
	cache := NewTokenCache(Credentials{Host: "http://idm.invalid"}, TokenCacheConfig{})
	f := NewForwarder(Config{Host: srv.URL}, cache)

	resp := f.Forward(context.Background(), Request{Path: "/ngsi-ld/v1/entities"})

	assert.True(t, resp.Success)
	assert.Empty(t, got.headers.Get("X-Auth-Token"))
}

func TestForward_NonJSONBody(t *testing.T) {
	srv, _ := newUpstream(t, http.StatusOK, "plain text")
	f := NewForwarder(Config{Host: srv.URL}, nil)

	resp := f.Forward(context.Background(), Request{Path: "/"})

	assert.Equal(t, map[string]any{"rawResponse": "plain text"}, resp.Data)
}

func TestForward_UpstreamErrorStatus(t *testing.T) {
	srv, _ := newUpstream(t, http.StatusNotFound,
		`{"type":"https://uri.etsi.org/ngsi-ld/errors/ResourceNotFound","title":"Entity Not Found","detail":"urn:ngsi-ld:Device:9"}`)
	f := NewForwarder(Config{Host: srv.URL}, nil)

	resp := f.Forward(context.Background(), Request{Path: "/ngsi-ld/v1/entities/urn:ngsi-ld:Device:9"})

	assert.False(t, resp.Success)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, http.StatusNotFound, resp.HTTPStatus)
	assert.Equal(t, "urn:ngsi-ld:Device:9", resp.Error)
	assert.Equal(t, "Entity Not Found", resp.Data.(map[string]any)["title"])
}

func TestForward_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := NewForwarder(Config{Host: url, Timeout: time.Second}, nil)
	resp := f.Forward(context.Background(), Request{Path: "/version"})

	assert.False(t, resp.Success)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, http.StatusBadGateway, resp.HTTPStatus)
	assert.NotEmpty(t, resp.Error)
}

func TestForward_RetriesUnavailableUpstream(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	retry := resilience.NewRetryManager(resilience.RetryConfig{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}, resilience.StrategyFixed)
	f := NewForwarder(Config{Host: srv.URL}, nil, WithUpstream(resilience.NewUpstream("fiware", nil, retry)))

	resp := f.Forward(context.Background(), Request{Path: "/version"})

	require.True(t, resp.Success)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, map[string]any{"ok": true}, resp.Data)
}

func TestForward_CreateIsNotResent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	retry := resilience.NewRetryManager(resilience.RetryConfig{Enabled: true, MaxAttempts: 3, InitialDelay: time.Millisecond}, resilience.StrategyFixed)
	f := NewForwarder(Config{Host: srv.URL}, nil, WithUpstream(resilience.NewUpstream("fiware", nil, retry)))

	resp := f.Forward(context.Background(), Request{
		Path:   "/v1/users",
		Method: http.MethodPost,
		Body:   json.RawMessage(`{"user":{"username":"alice"}}`),
	})

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, http.StatusGatewayTimeout, resp.HTTPStatus)
	assert.False(t, resp.Success)
}

func TestForward_ExhaustedRetriesKeepUpstreamBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"orion unreachable"}`))
	}))
	defer srv.Close()

	retry := resilience.NewRetryManager(resilience.RetryConfig{Enabled: true, MaxAttempts: 2, InitialDelay: time.Millisecond}, resilience.StrategyFixed)
	f := NewForwarder(Config{Host: srv.URL}, nil, WithUpstream(resilience.NewUpstream("fiware", nil, retry)))

	resp := f.Forward(context.Background(), Request{Path: "/"})

	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, http.StatusBadGateway, resp.HTTPStatus)
	assert.Equal(t, "orion unreachable", resp.Error)
}

func TestForward_OpenBreakerShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breakers := resilience.NewCircuitBreakerManager(resilience.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		Timeout:          time.Minute,
	}, zerolog.Nop())
	f := NewForwarder(Config{Host: srv.URL}, nil, WithUpstream(resilience.NewUpstream("fiware", breakers, nil)))

	for i := 0; i < 2; i++ {
		resp := f.Forward(context.Background(), Request{Path: "/"})
		assert.Equal(t, http.StatusInternalServerError, resp.HTTPStatus)
	}

	resp := f.Forward(context.Background(), Request{Path: "/"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.HTTPStatus)
	assert.Equal(t, StatusError, resp.Status)
	assert.EqualValues(t, 2, calls.Load())
}
