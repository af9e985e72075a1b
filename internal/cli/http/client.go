package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	userAgent       = "codejudge-cli"
	traceIDHeader   = "X-Trace-Id"
	maxResponseBody = 4 << 20
)

// Envelope is the body every API endpoint replies with.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
	TraceID string          `json:"trace_id,omitempty"`
}

// Response is a completed API call. Envelope is nil when the body is not an API envelope.
type Response struct {
	StatusCode int
	Duration   time.Duration
	TraceID    string
	Body       []byte
	Envelope   *Envelope
}

// OK reports a 2xx reply whose envelope, if any, carries the success code.
func (r *Response) OK() bool {
	if r.StatusCode < 200 || r.StatusCode > 299 {
		return false
	}
	return r.Envelope == nil || r.Envelope.Code == 0
}

// Client sends API requests on behalf of the CLI user.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
}

// New creates a client; token is consulted before every request.
func New(baseURL string, timeout time.Duration, token func() string) *Client {
	return &Client{
		baseURL: normalizeBase(baseURL),
		http:    &http.Client{Timeout: timeout},
		token:   token,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = normalizeBase(baseURL)
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.http.Timeout = timeout
	}
}

// Do sends body as JSON to path and decodes the reply envelope.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body failed: %w", err)
	}
	out := &Response{
		StatusCode: resp.StatusCode,
		Duration:   time.Since(start),
		TraceID:    resp.Header.Get(traceIDHeader),
		Body:       raw,
	}
	var env Envelope
	if json.Unmarshal(raw, &env) == nil && (env.Message != "" || env.Code != 0) {
		out.Envelope = &env
		if out.TraceID == "" {
			out.TraceID = env.TraceID
		}
	}
	return out, nil
}

func normalizeBase(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL != "" && !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return strings.TrimRight(baseURL, "/")
}
