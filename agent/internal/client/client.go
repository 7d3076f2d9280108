// Package client provides the control plane API client for heartbeat emitters.
//
// # Operations
//
// - SendHeartbeat: submit one health signal through the ingestion gateway
// - Ping: check that the control plane is reachable
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

// SecretHeader carries the shared ingestion secret.
const SecretHeader = "X-Pulse-Secret"

// Client communicates with the control plane.
type Client struct {
	baseURL    string
	httpClient *http.Client
	secret     string
	userAgent  string
}

// Config for the client.
type Config struct {
	BaseURL            string
	Secret             string
	UserAgent          string
	HTTPClient         *http.Client
	InsecureSkipVerify bool
}

// NewClient creates a new control plane client.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		transport := &http.Transport{}
		if cfg.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		cfg.HTTPClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "pulse-agent/1.0"
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		secret:     cfg.Secret,
		userAgent:  cfg.UserAgent,
	}
}

// HeartbeatRequest is the ingestion payload.
type HeartbeatRequest struct {
	AgentID  string         `json:"agent_id"`
	Status   string         `json:"status,omitempty"`
	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// APIError is a non-2xx response from the control plane.
type APIError struct {
	StatusCode int
	Message    string
	Reason     string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("request failed with status %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether resending the same request could succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsTemporary reports whether err is worth retrying. Transport errors are;
// rejections such as a bad secret or an unknown agent are not.
func IsTemporary(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return err != nil && !errors.Is(err, context.Canceled)
}

// SendHeartbeat submits a heartbeat and returns the stored event.
func (c *Client) SendHeartbeat(ctx context.Context, req HeartbeatRequest) (*types.HeartbeatEvent, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/heartbeats", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.readError(resp)
	}

	var event types.HeartbeatEvent
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &event, nil
}

// Ping checks control plane connectivity.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.readError(resp)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.secret != "" {
		req.Header.Set(SecretHeader, c.secret)
	}

	return c.httpClient.Do(req)
}

// readError extracts an error message from a failed response.
func (c *Client) readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}

	var payload struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Reason = payload.Reason
	}
	return apiErr
}
