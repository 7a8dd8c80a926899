package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/procuredata/console/internal/observability"
	"github.com/procuredata/console/internal/resilience"
)

type Status string

const (
	StatusConnected Status = "connected"
	StatusStandby   Status = "standby"
	StatusError     Status = "error"
)

const (
	DefaultTenant = "procuredata"

	notConfiguredMessage = "FIWARE backend not configured"
	maxResponseBytes     = 10 << 20
)

// Request is the envelope a caller sends to the proxy.
type Request struct {
	Path     string          `json:"path"`
	Method   string          `json:"method,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
	SkipAuth bool            `json:"skipAuth,omitempty"`
}

// Response is the envelope returned for every forwarded call. HTTPStatus is
// the upstream status, or the proxy's own status when nothing came back.
type Response struct {
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	Message    string `json:"message,omitempty"`
	Status     Status `json:"status"`
	HTTPStatus int    `json:"http_status"`
}

type Config struct {
	// Host is the base URL calls are forwarded to. Empty puts the proxy in standby.
	Host    string        `yaml:"host" mapstructure:"host"`
	Tenant  string        `yaml:"tenant" mapstructure:"tenant"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Forwarder relays envelope requests to the FIWARE gateway. Failures are
// reported in the envelope, never as Go errors.
type Forwarder struct {
	host     string
	tenant   string
	client   *http.Client
	tokens   TokenSource
	upstream *resilience.Upstream
	obs      *observability.Manager
	logger   zerolog.Logger
}

type ForwarderOption func(*Forwarder)

func WithHTTPClient(client *http.Client) ForwarderOption {
	return func(f *Forwarder) {
		if client != nil {
			f.client = client
		}
	}
}

func WithUpstream(upstream *resilience.Upstream) ForwarderOption {
	return func(f *Forwarder) { f.upstream = upstream }
}

func WithObservability(obs *observability.Manager) ForwarderOption {
	return func(f *Forwarder) {
		if obs != nil {
			f.obs = obs
		}
	}
}

// NewForwarder builds a forwarder. tokens may be nil, in which case calls go
// out unauthenticated.
func NewForwarder(config Config, tokens TokenSource, opts ...ForwarderOption) *Forwarder {
	if config.Tenant == "" {
		config.Tenant = DefaultTenant
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	f := &Forwarder{
		host:   strings.TrimRight(config.Host, "/"),
		tenant: config.Tenant,
		client: &http.Client{Timeout: config.Timeout},
		tokens: tokens,
		obs:    observability.NewNopManager(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.upstream == nil {
		f.upstream = resilience.NewUpstream("fiware", nil, nil)
	}
	f.logger = f.obs.Logger().GetZerologLogger().With().Str("component", "proxy").Logger()
	return f
}

// Configured reports whether an upstream host is set.
func (f *Forwarder) Configured() bool {
	return f.host != ""
}

// upstreamResult is what came back from one upstream round trip.
type upstreamResult struct {
	status int
	data   any
}

// statusFailure carries a non-2xx result through the breaker and retry layers.
type statusFailure struct {
	*resilience.StatusError
	result *upstreamResult
}

func (e *statusFailure) Unwrap() error { return e.StatusError }

func (f *Forwarder) Forward(ctx context.Context, req Request) Response {
	if !f.Configured() {
		f.logger.Warn().Msg("FIWARE host not configured, proxy in standby")
		f.obs.Metrics().RecordProxyResponse(string(StatusStandby))
		return Response{
			Success:    false,
			Error:      notConfiguredMessage,
			Message:    "Configure FIWARE_HOST to enable data space connectivity",
			Status:     StatusStandby,
			HTTPStatus: http.StatusServiceUnavailable,
		}
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	ctx, span := f.obs.Tracing().StartUpstreamCall(ctx, f.upstream.Name(), method, path)
	defer span.End()

	log := f.obs.Logger().WithUpstream(f.upstream.Name(), method, path)

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/ld+json")
	headers.Set("NGSILD-Tenant", f.tenant)

	if !req.SkipAuth && f.authEnabled() {
		token, err := f.tokens.Token(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Auth failed, continuing without token")
		} else {
			headers.Set("X-Auth-Token", token)
		}
	}

	var body []byte
	if len(req.Body) > 0 && !bytes.Equal(bytes.TrimSpace(req.Body), []byte("null")) {
		body = req.Body
	}

	start := time.Now()
	raw, err := f.upstream.Do(ctx, method, func(ctx context.Context) (any, error) {
		return f.roundTrip(ctx, method, f.host+path, headers, body)
	})

	var resp Response
	var failure *statusFailure
	switch {
	case err == nil:
		result := raw.(*upstreamResult)
		resp = Response{Success: true, Data: result.data, Status: StatusConnected, HTTPStatus: result.status}
	case errors.As(err, &failure):
		resp = Response{
			Success:    false,
			Data:       failure.result.data,
			Error:      errorMessage(failure.result),
			Status:     StatusError,
			HTTPStatus: failure.result.status,
		}
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		f.obs.Tracing().SetSpanError(span, err)
		resp = Response{Success: false, Error: "upstream temporarily unavailable", Status: StatusError, HTTPStatus: http.StatusServiceUnavailable}
	default:
		f.obs.Tracing().SetSpanError(span, err)
		resp = Response{Success: false, Error: err.Error(), Status: StatusError, HTTPStatus: http.StatusBadGateway}
	}

	f.obs.Metrics().RecordUpstreamRequest(f.upstream.Name(), method, resp.HTTPStatus, time.Since(start))
	f.obs.Metrics().RecordProxyResponse(string(resp.Status))
	log.Debug().Int("status", resp.HTTPStatus).Dur("duration", time.Since(start)).Msg("FIWARE response")

	return resp
}

func (f *Forwarder) authEnabled() bool {
	if f.tokens == nil {
		return false
	}
	if c, ok := f.tokens.(*TokenCache); ok {
		return c.Enabled()
	}
	return true
}

func (f *Forwarder) roundTrip(ctx context.Context, method, url string, headers http.Header, body []byte) (*upstreamResult, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	httpReq.Header = headers.Clone()

	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	result := &upstreamResult{status: httpResp.StatusCode, data: decodeBody(text)}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &statusFailure{
			StatusError: &resilience.StatusError{Upstream: "fiware", StatusCode: httpResp.StatusCode},
			result:      result,
		}
	}
	return result, nil
}

// decodeBody parses JSON, maps an empty body to {} and wraps anything else
// as rawResponse.
func decodeBody(text []byte) any {
	if len(bytes.TrimSpace(text)) == 0 {
		return map[string]any{}
	}
	var data any
	if err := json.Unmarshal(text, &data); err != nil {
		return map[string]any{"rawResponse": string(text)}
	}
	return data
}

// errorMessage prefers the upstream's own problem description.
func errorMessage(result *upstreamResult) string {
	if obj, ok := result.data.(map[string]any); ok {
		for _, key := range []string{"detail", "title", "description", "message", "error"} {
			if msg, ok := obj[key].(string); ok && msg != "" {
				return msg
			}
		}
		if nested, ok := obj["error"].(map[string]any); ok {
			if msg, ok := nested["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	if text := http.StatusText(result.status); text != "" {
		return text
	}
	return "upstream request failed"
}
