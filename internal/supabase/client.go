// Package supabase is a small REST client for the Supabase services the
// platform talks to directly. Row data goes through Postgres; this client is
// used for Storage objects.
package supabase

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
)

// Config configures the Supabase client.
type Config struct {
	ProjectURL     string
	ServiceRoleKey string
	Timeout        time.Duration
	// HTTPClient replaces the retrying default, mostly for tests.
	HTTPClient *http.Client
	Retry      Retry
	Breaker    Breaker
}

// Client performs Supabase REST calls with the service role key.
type Client struct {
	storageURL string
	serviceKey string
	httpClient *http.Client
	breaker    *breaker

	storage *StorageClient
}

// New creates a Supabase client.
func New(cfg Config) (*Client, error) {
	if cfg.ProjectURL == "" {
		return nil, fmt.Errorf("project URL is required")
	}
	if cfg.ServiceRoleKey == "" {
		return nil, fmt.Errorf("service role key is required")
	}
	baseURL := strings.TrimRight(cfg.ProjectURL, "/")
	if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid project URL %q", cfg.ProjectURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		storageURL: baseURL + "/storage/v1",
		serviceKey: cfg.ServiceRoleKey,
		httpClient: cfg.HTTPClient,
	}
	if c.httpClient == nil {
		if cfg.Retry.Attempts == 0 {
			cfg.Retry = DefaultRetry()
		}
		if cfg.Breaker.Failures == 0 {
			cfg.Breaker = DefaultBreaker()
		}
		c.breaker = newBreaker(cfg.Breaker)
		c.httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &transport{
				next:    http.DefaultTransport,
				retry:   cfg.Retry,
				breaker: c.breaker,
			},
		}
	}
	c.storage = &StorageClient{client: c}
	return c, nil
}

// Storage returns the storage client.
func (c *Client) Storage() *StorageClient {
	return c.storage
}

// Unavailable reports whether calls are currently short-circuited.
func (c *Client) Unavailable() bool {
	return c.breaker != nil && c.breaker.open()
}

// request performs an HTTP request authenticated with the service role key.
func (c *Client) request(ctx context.Context, method, rawURL string, body []byte, headers map[string]string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// Error is an error response returned by a Supabase service.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase %d: %s", e.StatusCode, e.Message)
}

// NotFound reports whether the error is a missing object.
func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func parseError(body []byte, statusCode int) error {
	var errResp struct {
		Code             string `json:"code"`
		StatusCode       string `json:"statusCode"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return &Error{Code: "unknown", Message: string(body), StatusCode: statusCode}
	}

	msg := errResp.Message
	if msg == "" {
		msg = errResp.Error
	}
	if msg == "" {
		msg = errResp.ErrorDescription
	}
	code := errResp.Code
	if code == "" {
		code = errResp.Error
	}
	return &Error{Code: code, Message: msg, StatusCode: statusCode}
}
