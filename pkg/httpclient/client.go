// Package httpclient is a Go client for the agent's HTTP API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/tracelog"
)

// ErrNotAuthenticated is returned by calls that need a token before one is set
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// Client provides HTTP client for the agent API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new agent HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Authenticate logs in and stores the token. admin requests an admin token.
func (c *Client) Authenticate(ctx context.Context, admin bool) (*AuthResponse, error) {
	var resp AuthResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", AuthRequest{ClientID: c.config.ClientID, Admin: admin}, &resp, false)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	c.token = resp.Token
	return &resp, nil
}

// AuthenticateAdmin logs in for an admin token with the agent's admin
// password and stores the token.
func (c *Client) AuthenticateAdmin(ctx context.Context, password string) (*AuthResponse, error) {
	var resp AuthResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", AuthRequest{ClientID: c.config.ClientID, Admin: true, Password: password}, &resp, false)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	c.token = resp.Token
	return &resp, nil
}

// GetHealth returns the health status of the agent.
// An unhealthy agent answers 503 with the same body, which is returned
// without an error.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	target := c.baseURL.ResolveReference(&url.URL{Path: "/api/v1/health"})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("failed to get health status: %w", &APIError{StatusCode: resp.StatusCode, Status: resp.Status})
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to parse health status: %w", err)
	}
	return &health, nil
}

// AllocateInstanceID asks the agent for the next instance ID
func (c *Client) AllocateInstanceID(ctx context.Context) (uint8, error) {
	if c.token == "" {
		return 0, ErrNotAuthenticated
	}

	var resp InstanceIDResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/instance-ids", nil, &resp, true); err != nil {
		return 0, fmt.Errorf("failed to allocate instance id: %w", err)
	}
	return resp.InstanceID, nil
}

// SendRequest sends one PLDM request through the agent and returns the reply
func (c *Client) SendRequest(ctx context.Context, req SendRequest) (*SendResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp SendResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/requests", req, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return &resp, nil
}

// Admin Methods (require admin token)

// AdminPeers returns every known peer (admin only)
func (c *Client) AdminPeers(ctx context.Context) (*AdminPeersResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp AdminPeersResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/peers", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}
	return &resp, nil
}

// AdminStats returns agent statistics (admin only)
func (c *Client) AdminStats(ctx context.Context) (*AdminStatsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp AdminStatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// ReadTraffic reads traced frames (admin only). A negative offset reads
// the most recent limit records; a non-positive limit uses the server default.
func (c *Client) ReadTraffic(ctx context.Context, offset int64, limit int) (*TrafficResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	query := url.Values{}
	if offset >= 0 {
		query.Set("offset", strconv.FormatInt(offset, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp TrafficResponse
	if err := c.doRequestWithQuery(ctx, http.MethodGet, "/api/v1/admin/traffic", query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to read traffic: %w", err)
	}
	return &resp, nil
}

// ExportTraffic reads traced frames (admin only) as a CBOR capture with the
// raw frame bytes. offset and limit behave as in ReadTraffic.
func (c *Client) ExportTraffic(ctx context.Context, offset int64, limit int) ([]byte, *tracelog.Capture, error) {
	if c.token == "" {
		return nil, nil, ErrNotAuthenticated
	}

	query := url.Values{}
	if offset >= 0 {
		query.Set("offset", strconv.FormatInt(offset, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	body := &rawBody{accept: tracelog.CaptureContentType}
	if err := c.doRequestWithQuery(ctx, http.MethodGet, "/api/v1/admin/traffic", query, nil, body, true); err != nil {
		return nil, nil, fmt.Errorf("failed to export traffic: %w", err)
	}
	capture, err := tracelog.DecodeCapture(body.data)
	if err != nil {
		return nil, nil, err
	}
	return body.data, capture, nil
}

// rawBody asks roundTrip for an undecoded response of the given media type
type rawBody struct {
	accept string
	data   []byte
}

// doRequestWithQuery performs an HTTP request with query parameters and optional authentication.
// GET requests are retried on network errors and 502/503 answers.
func (c *Client) doRequestWithQuery(ctx context.Context, method, path string, queryParams url.Values, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	u := &url.URL{Path: path}
	if len(queryParams) > 0 {
		u.RawQuery = queryParams.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var jsonBody []byte
	if reqBody != nil {
		var err error
		jsonBody, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += c.config.MaxRetries
	}
	delay := c.config.RetryDelay

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retry, err := c.roundTrip(ctx, method, fullURL.String(), jsonBody, respBody, requireAuth)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

// roundTrip performs one request and reports whether a failure may be retried.
func (c *Client) roundTrip(ctx context.Context, method, target string, jsonBody []byte, respBody interface{}, requireAuth bool) (bool, error) {
	var bodyReader io.Reader
	if jsonBody != nil {
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	if jsonBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	raw, isRaw := respBody.(*rawBody)
	if isRaw {
		req.Header.Set("Accept", raw.accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil && errResp.Message != "" {
			apiErr.Message = errResp.Message
		} else {
			apiErr.Message = string(bytes.TrimSpace(bodyBytes))
		}
		retry := resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable
		return retry, apiErr
	}

	if isRaw {
		raw.data = bodyBytes
		return false, nil
	}
	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return false, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return false, nil
}

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	return c.doRequestWithQuery(ctx, method, path, nil, reqBody, respBody, requireAuth)
}

// IsAuthenticated returns whether the client has a valid token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}
