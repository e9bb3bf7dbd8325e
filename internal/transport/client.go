// Package transport is the HTTP client of the rddm API used by the client
// commands. It applies caller identity and unwraps the {data, error}
// response envelope.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentstation/rddm/pkg/errors"
)

// DefaultHTTPTimeout is the default timeout for HTTP requests.
var DefaultHTTPTimeout = 10 * time.Second

// UserHeader carries the id of the acting user.
const UserHeader = "X-User-ID"

// Client talks to one rddm server.
type Client struct {
	http    *http.Client
	baseURL string
	auth    Authenticator
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAuth sets the authenticator applied to every request.
func WithAuth(auth Authenticator) Option {
	return func(c *Client) { c.auth = auth }
}

// New creates a client for the API rooted at baseURL, including any path
// prefix such as http://localhost:3000/api/v1.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: DefaultHTTPTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    &NoAuth{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Is maps API errors onto the sentinel errors of pkg/errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case errors.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case errors.ErrConflict:
		return e.StatusCode == http.StatusConflict
	case errors.ErrInvalidInput:
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Get fetches path and decodes the response data into target.
func (c *Client) Get(ctx context.Context, path string, target any) error {
	return c.Do(ctx, http.MethodGet, path, nil, target)
}

// Do sends body as JSON to path and decodes the response data into target.
// A nil body sends no payload and a nil target discards the data.
func (c *Client) Do(ctx context.Context, method, path string, body, target any) error {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.WrapParse("json", "request body", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errors.WrapResource("create", "request", method+" "+url, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.auth.Apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapResource("request", "api", method+" "+url, err)
	}
	return decodeResponse(resp, target)
}

// decodeResponse unwraps the response envelope into target.
func decodeResponse(resp *http.Response, target any) error {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapResource("read", "response", resp.Request.URL.String(), err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return errors.WrapParse("json", "response", err)
		}
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if target == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return errors.WrapParse("json", "response data", err)
	}
	return nil
}
