package fiware

import (
	"context"
	"net/http"
)

// Connector endpoints are called without an identity-manager token.

func (c *Client) GetIDSResources(ctx context.Context) ([]map[string]any, error) {
	return c.list(ctx, "/api/resources")
}

func (c *Client) GetContractOffers(ctx context.Context) ([]map[string]any, error) {
	return c.list(ctx, "/api/offers")
}

// PublishResource posts a resource offer and returns the connector's reply.
func (c *Client) PublishResource(ctx context.Context, offer any) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/resources/offer", offer, true)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if obj, ok := resp.Data.(map[string]any); ok {
		out = obj
	}
	return out, nil
}

func (c *Client) list(ctx context.Context, path string) ([]map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	items := []map[string]any{}
	switch data := resp.Data.(type) {
	case []any:
		if err := decode(data, &items); err != nil {
			return nil, err
		}
	case map[string]any:
		// Some connector builds wrap listings in a single object.
		for _, key := range []string{"resources", "offers", "items"} {
			if inner, ok := data[key].([]any); ok {
				if err := decode(inner, &items); err != nil {
					return nil, err
				}
				break
			}
		}
	}
	return items, nil
}
