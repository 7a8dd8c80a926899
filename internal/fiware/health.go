package fiware

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/procuredata/console/internal/proxy"
)

type ComponentStatus struct {
	Connected bool   `json:"connected"`
	Version   string `json:"version,omitempty"`
}

type HealthStatus struct {
	Orion         ComponentStatus `json:"orion"`
	Keyrock       ComponentStatus `json:"keyrock"`
	TrueConnector ComponentStatus `json:"trueConnector"`
}

// HealthStatus probes the three components concurrently. A component that
// fails or is in standby is reported as not connected.
func (c *Client) HealthStatus(ctx context.Context) HealthStatus {
	var status HealthStatus
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		resp := c.proxy.Forward(ctx, proxy.Request{Path: "/version", Method: http.MethodGet, SkipAuth: true})
		status.Orion.Connected = resp.Success
		if resp.Success {
			status.Orion.Version = brokerVersion(resp.Data)
		}
		return nil
	})
	g.Go(func() error {
		resp := c.proxy.Forward(ctx, proxy.Request{Path: "/v1/applications", Method: http.MethodGet})
		status.Keyrock.Connected = resp.Success
		return nil
	})
	g.Go(func() error {
		resp := c.proxy.Forward(ctx, proxy.Request{Path: "/api/resources", Method: http.MethodGet, SkipAuth: true})
		status.TrueConnector.Connected = resp.Success
		return nil
	})

	_ = g.Wait()
	return status
}

// Ping checks that the context broker answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/version", nil, true)
	return err
}

// brokerVersion reads the version out of Orion and Orion-LD /version replies.
func brokerVersion(data any) string {
	obj, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"version", "orionld version"} {
		if v, ok := obj[key].(string); ok {
			return v
		}
	}
	if orion, ok := obj["orion"].(map[string]any); ok {
		if v, ok := orion["version"].(string); ok {
			return v
		}
	}
	return ""
}
