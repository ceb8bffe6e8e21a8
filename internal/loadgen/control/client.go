package control

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

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/loadpair/internal/loadgen/engine"
)

// Client talks to a running control API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, options ...ClientOption) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control API returned %d: %s", e.StatusCode, e.Message)
}

// List returns every scenario of the run.
func (c *Client) List(ctx context.Context) ([]engine.ScenarioStatus, error) {
	var out struct {
		Scenarios []engine.ScenarioStatus `json:"scenarios"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/scenarios", nil, &out); err != nil {
		return nil, err
	}
	return out.Scenarios, nil
}

// Get returns one scenario.
func (c *Client) Get(ctx context.Context, name string) (engine.ScenarioStatus, error) {
	var st engine.ScenarioStatus
	err := c.do(ctx, http.MethodGet, "/v1/scenarios/"+url.PathEscape(name), nil, &st)
	return st, err
}

// Scale sets the VU target of an externally-controlled scenario.
func (c *Client) Scale(ctx context.Context, name string, vus int) (engine.ScenarioStatus, error) {
	var st engine.ScenarioStatus
	body, err := json.Marshal(map[string]int{"vus": vus})
	if err != nil {
		return st, err
	}
	err = c.do(ctx, http.MethodPatch, "/v1/scenarios/"+url.PathEscape(name), body, &st)
	return st, err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(data, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
