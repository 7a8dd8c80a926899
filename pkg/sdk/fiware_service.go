package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// FiwareService reaches the data space through the console's proxy.
type FiwareService struct {
	client *Client
}

// Proxy relays req and returns the envelope. A failed upstream call is not a
// Go error: inspect Success and Status. Only requests the console itself
// refuses come back as *APIError.
func (s *FiwareService) Proxy(ctx context.Context, req ProxyRequest) (*ProxyResponse, error) {
	if req.Path == "" {
		return nil, &APIError{Code: CodeValidation, Message: "path is required"}
	}

	resp, err := s.client.doRequest(ctx, http.MethodPost, apiV1BasePath+"/fiware/proxy", nil, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var envelope ProxyResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Status != "" {
		return &envelope, nil
	}
	if resp.StatusCode >= 400 {
		return nil, parseError(resp.StatusCode, body)
	}
	return nil, fmt.Errorf("unexpected proxy reply with status %d", resp.StatusCode)
}

func (s *FiwareService) Health(ctx context.Context) (*FiwareHealth, error) {
	var health FiwareHealth
	if err := s.client.doJSONRequest(ctx, http.MethodGet, apiV1BasePath+"/fiware/health", nil, nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}
