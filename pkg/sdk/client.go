package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout = 30 * time.Second
	apiV1BasePath  = "/api/v1"

	headerUserID         = "X-User-ID"
	headerOrganizationID = "X-Organization-ID"
)

// Client talks to the console HTTP API on behalf of one user and organization.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	userID         string
	organizationID string
	bearerToken    string

	Assets       *AssetService
	Transactions *TransactionService
	Fiware       *FiwareService
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithIdentity sets the caller headers used when the server trusts them.
func WithIdentity(userID, organizationID string) ClientOption {
	return func(c *Client) {
		c.userID = userID
		c.organizationID = organizationID
	}
}

// WithBearerToken sends an OIDC token. The organization header is still required.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) {
		c.bearerToken = token
	}
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid base URL: %q needs a scheme and host", baseURL)
	}

	client := &Client{
		baseURL: parsedURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(client)
	}

	client.Assets = &AssetService{client: client}
	client.Transactions = &TransactionService{client: client}
	client.Fiware = &FiwareService{client: client}

	return client, nil
}

// HealthCheck checks if the console is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.probe(ctx, "/health")
}

// ReadinessCheck checks if the console can reach its primary store
func (c *Client) ReadinessCheck(ctx context.Context) error {
	return c.probe(ctx, "/ready")
}

func (c *Client) probe(ctx context.Context, path string) error {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s failed with status: %d", strings.TrimPrefix(path, "/"), resp.StatusCode)
	}
	return nil
}

// DashboardStats returns the caller organization's dashboard counters.
func (c *Client) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	var stats DashboardStats
	if err := c.doJSONRequest(ctx, http.MethodGet, apiV1BasePath+"/dashboard/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userID != "" {
		req.Header.Set(headerUserID, c.userID)
	}
	if c.organizationID != "" {
		req.Header.Set(headerOrganizationID, c.organizationID)
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) doJSONRequest(ctx context.Context, method, path string, query url.Values, reqBody, respBody any) error {
	resp, err := c.doRequest(ctx, method, path, query, reqBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if respBody != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// decodeError reads the server's error envelope. Bodies that are not an
// envelope become an APIError carrying the raw text.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return parseError(resp.StatusCode, body)
}

func parseError(statusCode int, body []byte) error {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return &APIError{
			Code:       CodeUnknown,
			Message:    strings.TrimSpace(string(body)),
			StatusCode: statusCode,
		}
	}

	apiErr := envelope.Error
	apiErr.StatusCode = statusCode
	if apiErr.Code == "" {
		apiErr.Code = CodeUnknown
	}
	return apiErr
}

// ParseUUID is a helper function to parse UUID strings
func ParseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
