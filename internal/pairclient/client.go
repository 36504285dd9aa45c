// Package pairclient talks to the device-code endpoint from either side of a
// pairing: the TV that creates and polls a code, and the companion that links it.
package pairclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultPath = "/api/device-code"

	StatusPending = "pending"
	StatusLinked  = "linked"
)

type User struct {
	Sub     string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

type CreatedCode struct {
	Code      string `json:"code"`
	ExpiresIn int64  `json:"expiresIn"`
	Interval  int64  `json:"interval"`
}

type Status struct {
	Status    string `json:"status"`
	Token     string `json:"token,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	User      *User  `json:"user,omitempty"`
}

func (s *Status) Linked() bool {
	return s.Status == StatusLinked
}

// TokenExpiry converts the millisecond epoch on the wire.
func (s *Status) TokenExpiry() time.Time {
	return time.UnixMilli(s.ExpiresAt)
}

type LinkResult struct {
	Success bool `json:"success"`
	User    User `json:"user"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Code       string `json:"code"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request can succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL    string
	path       string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPath overrides the resource path, e.g. the legacy
// /.netlify/functions/device-code mount.
func WithPath(path string) Option {
	return func(c *Client) { c.path = path }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    DefaultPath,
		httpClient: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint() string {
	return c.baseURL + c.path
}

// Create asks the server for a new pairing code.
func (c *Client) Create(ctx context.Context) (*CreatedCode, error) {
	var out CreatedCode
	if err := c.do(ctx, http.MethodPost, c.endpoint(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status polls a code once.
func (c *Client) Status(ctx context.Context, code string) (*Status, error) {
	target := c.endpoint() + "?" + url.Values{"code": {code}}.Encode()

	var out Status
	if err := c.do(ctx, http.MethodGet, target, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Link hands token to the TV waiting on code.
func (c *Client) Link(ctx context.Context, code, token string) (*LinkResult, error) {
	body := map[string]string{"code": code, "token": token}

	var out LinkResult
	if err := c.do(ctx, http.MethodPut, c.endpoint(), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, c.endpoint(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
