package fiware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/procuredata/console/internal/ngsi"
	"github.com/procuredata/console/internal/proxy"
	"github.com/procuredata/console/pkg/utils"
)

const (
	entitiesPath = "/ngsi-ld/v1/entities"

	DefaultEntityLimit = 100
	// countLimit bounds the listing CountEntities walks through.
	countLimit = 1000
)

// Forwarder is the proxy the client sends every call through.
type Forwarder interface {
	Forward(ctx context.Context, req proxy.Request) proxy.Response
}

// Client is a typed view of the Orion-LD, Keyrock and TRUE Connector APIs
// behind the proxy.
type Client struct {
	proxy Forwarder
}

func NewClient(fwd Forwarder) *Client {
	return &Client{proxy: fwd}
}

func (c *Client) do(ctx context.Context, method, path string, body any, skipAuth bool) (proxy.Response, error) {
	req := proxy.Request{Path: path, Method: method, SkipAuth: skipAuth}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return proxy.Response{}, utils.NewAppError(utils.CodeInvalidInput, "cannot encode request body", err)
		}
		req.Body = data
	}

	resp := c.proxy.Forward(ctx, req)
	if err := responseError(method, path, resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// responseError turns a failed envelope into an AppError whose code follows
// the upstream status.
func responseError(method, path string, resp proxy.Response) error {
	if resp.Success {
		return nil
	}
	if resp.Status == proxy.StatusStandby {
		return utils.NewAppError(utils.CodeServiceUnavailable, resp.Error, utils.ErrServiceUnavailable).
			WithDetail("status", string(proxy.StatusStandby))
	}

	code := utils.CodeUpstream
	switch resp.HTTPStatus {
	case http.StatusNotFound:
		code = utils.CodeNotFound
	case http.StatusConflict, http.StatusUnprocessableEntity:
		code = utils.CodeAlreadyExists
	case http.StatusBadRequest:
		code = utils.CodeInvalidInput
	}
	return utils.NewAppError(code, resp.Error, utils.ErrUpstream).
		WithDetail("upstream_status", resp.HTTPStatus).
		WithDetail("request", method+" "+path)
}

// decode re-reads an already decoded envelope payload into out.
func decode(data any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return utils.WrapError(err, "re-encode upstream payload")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return utils.NewAppError(utils.CodeUpstream, "unexpected upstream payload", err)
	}
	return nil
}

func entityPath(id string) string {
	return entitiesPath + "/" + url.PathEscape(id)
}

// GetEntities lists broker entities, optionally of one type. limit <= 0 uses the default.
func (c *Client) GetEntities(ctx context.Context, entityType string, limit int) ([]ngsi.Entity, error) {
	if limit <= 0 {
		limit = DefaultEntityLimit
	}
	q := url.Values{}
	if entityType != "" {
		q.Set("type", entityType)
	}
	q.Set("limit", fmt.Sprint(limit))

	resp, err := c.do(ctx, http.MethodGet, entitiesPath+"?"+q.Encode(), nil, false)
	if err != nil {
		return nil, err
	}
	entities := []ngsi.Entity{}
	if err := decode(resp.Data, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

func (c *Client) GetEntity(ctx context.Context, id string) (ngsi.Entity, error) {
	resp, err := c.do(ctx, http.MethodGet, entityPath(id), nil, false)
	if err != nil {
		return ngsi.Entity{}, err
	}
	var entity ngsi.Entity
	if err := decode(resp.Data, &entity); err != nil {
		return ngsi.Entity{}, err
	}
	return entity, nil
}

// CreateEntity posts entity, defaulting @context to the core and smart data
// models contexts.
func (c *Client) CreateEntity(ctx context.Context, entity ngsi.Entity) error {
	if entity.Context == nil {
		entity.Context = []string{ngsi.CoreContext, ngsi.SmartDataModelsContext}
	}
	_, err := c.do(ctx, http.MethodPost, entitiesPath, entity, false)
	return err
}

// UpdateEntity applies a partial attribute update.
func (c *Client) UpdateEntity(ctx context.Context, id string, attrs map[string]ngsi.Attribute) error {
	_, err := c.do(ctx, http.MethodPatch, entityPath(id)+"/attrs", attrs, false)
	return err
}

func (c *Client) DeleteEntity(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, entityPath(id), nil, false)
	return err
}

func (c *Client) GetDevices(ctx context.Context) ([]ngsi.Entity, error) {
	return c.GetEntities(ctx, ngsi.EntityDevice, DefaultEntityLimit)
}

func (c *Client) GetDataAssets(ctx context.Context) ([]ngsi.Entity, error) {
	return c.GetEntities(ctx, ngsi.EntityDataAsset, DefaultEntityLimit)
}

// CountEntities counts entities of a type, up to countLimit.
func (c *Client) CountEntities(ctx context.Context, entityType string) (int, error) {
	entities, err := c.GetEntities(ctx, entityType, countLimit)
	if err != nil {
		return 0, err
	}
	return len(entities), nil
}

// Forward exposes the raw envelope for callers that relay it unchanged.
func (c *Client) Forward(ctx context.Context, req proxy.Request) proxy.Response {
	return c.proxy.Forward(ctx, req)
}
