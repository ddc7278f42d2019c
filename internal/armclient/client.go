// Package armclient is a small HTTP client for the arm control API.
// It mirrors the routes registered by internal/arm and decodes responses
// into the same types the service serializes.
package armclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/armctl/internal/arm"
)

const defaultTimeout = 5 * time.Second

// APIError carries the HTTP status and error message returned by the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("armclient: api status %d: %s", e.Status, e.Message)
}

// Client talks to one running arm control service.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New builds a client for the service at baseURL. The API key may be empty
// for read-only use; mutating calls will then be refused by the service.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

// Health reports the service liveness endpoint.
type Health struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Node    string `json:"node"`
	Version string `json:"version"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Status fetches the full safety snapshot.
func (c *Client) Status(ctx context.Context) (arm.Snapshot, error) {
	var out arm.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// Servos lists per-channel status keyed by channel id.
func (c *Client) Servos(ctx context.Context) (map[string]arm.ChannelStatus, error) {
	var out struct {
		Servos map[string]arm.ChannelStatus `json:"servos"`
	}
	err := c.do(ctx, http.MethodGet, "/api/servos", nil, &out)
	return out.Servos, err
}

// Servo fetches one channel's status.
func (c *Client) Servo(ctx context.Context, id string) (arm.ChannelStatus, error) {
	var out arm.ChannelStatus
	err := c.do(ctx, http.MethodGet, "/api/servos/"+id, nil, &out)
	return out, err
}

// Start begins continuous motion on a channel.
func (c *Client) Start(ctx context.Context, id, direction string, speed float64) (arm.CommandResult, error) {
	body := map[string]any{"direction": direction}
	if speed > 0 {
		body["speed"] = speed
	}
	var out arm.CommandResult
	err := c.do(ctx, http.MethodPost, "/api/servos/"+id+"/start", body, &out)
	return out, err
}

// Stop halts a channel.
func (c *Client) Stop(ctx context.Context, id string) (arm.CommandResult, error) {
	var out arm.CommandResult
	err := c.do(ctx, http.MethodPost, "/api/servos/"+id+"/stop", nil, &out)
	return out, err
}

// SetPosition moves a channel toward an absolute angle.
func (c *Client) SetPosition(ctx context.Context, id string, angle, speed float64) (arm.CommandResult, error) {
	body := map[string]any{"angle": angle}
	if speed > 0 {
		body["speed"] = speed
	}
	var out arm.CommandResult
	err := c.do(ctx, http.MethodPost, "/api/servos/"+id+"/position", body, &out)
	return out, err
}

// SetSpeed adjusts the speed of a running channel.
func (c *Client) SetSpeed(ctx context.Context, id string, speed float64) (arm.CommandResult, error) {
	var out arm.CommandResult
	err := c.do(ctx, http.MethodPost, "/api/servos/"+id+"/speed", map[string]any{"speed": speed}, &out)
	return out, err
}

// Reset recovers a faulted channel.
func (c *Client) Reset(ctx context.Context, id string) (arm.CommandResult, error) {
	var out arm.CommandResult
	err := c.do(ctx, http.MethodPost, "/api/servos/"+id+"/reset", nil, &out)
	return out, err
}

// Initialize centers every channel and reports per-channel results.
func (c *Client) Initialize(ctx context.Context) ([]arm.InitResult, error) {
	var out struct {
		Results []arm.InitResult `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "/api/initialize", nil, &out)
	return out.Results, err
}

// EmergencyStop engages the latch. Never auth-gated server side.
func (c *Client) EmergencyStop(ctx context.Context) (arm.EStopStatus, error) {
	var out struct {
		EmergencyStop arm.EStopStatus `json:"emergency_stop"`
	}
	err := c.do(ctx, http.MethodPost, "/api/emergency-stop", nil, &out)
	return out.EmergencyStop, err
}

// ClearEmergencyStop releases the latch.
func (c *Client) ClearEmergencyStop(ctx context.Context) (arm.EStopStatus, error) {
	var out struct {
		EmergencyStop arm.EStopStatus `json:"emergency_stop"`
	}
	err := c.do(ctx, http.MethodPost, "/api/emergency-stop/clear", nil, &out)
	return out.EmergencyStop, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("armclient: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("armclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("armclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("armclient: read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Status: resp.StatusCode, Message: apiMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("armclient: decode response: %w", err)
	}
	return nil
}

func apiMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
