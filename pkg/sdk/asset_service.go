package sdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

// AssetService handles the data catalog.
type AssetService struct {
	client *Client
}

func (s *AssetService) List(ctx context.Context, opts *AssetListOptions) (*AssetList, error) {
	query := url.Values{}
	if opts != nil {
		if opts.Query != "" {
			query.Set("q", opts.Query)
		}
		if opts.DataType != "" {
			query.Set("data_type", string(opts.DataType))
		}
		if opts.Limit > 0 {
			query.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			query.Set("offset", strconv.Itoa(opts.Offset))
		}
	}

	var list AssetList
	if err := s.client.doJSONRequest(ctx, http.MethodGet, apiV1BasePath+"/assets", query, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (s *AssetService) Get(ctx context.Context, id uuid.UUID) (*Asset, error) {
	var asset Asset
	path := fmt.Sprintf("%s/assets/%s", apiV1BasePath, id)
	if err := s.client.doJSONRequest(ctx, http.MethodGet, path, nil, nil, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

func (s *AssetService) Register(ctx context.Context, req *AssetRequest) (*Asset, error) {
	if req == nil || req.Name == "" {
		return nil, &APIError{Code: CodeValidation, Message: "asset name is required"}
	}

	var asset Asset
	if err := s.client.doJSONRequest(ctx, http.MethodPost, apiV1BasePath+"/assets", nil, req, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// RequestAccess opens a data-access transaction on the asset for the
// caller's organization.
func (s *AssetService) RequestAccess(ctx context.Context, assetID uuid.UUID, purpose string) (*Transaction, error) {
	body := map[string]string{"purpose": purpose}
	path := fmt.Sprintf("%s/assets/%s/requests", apiV1BasePath, assetID)

	var tx Transaction
	if err := s.client.doJSONRequest(ctx, http.MethodPost, path, nil, body, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}
