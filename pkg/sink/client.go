package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/study-analytics-api/pkg/middleware/requestid"
)

const opaqueIDHeader = "X-Opaque-Id"

// Result is the outcome of a single outbound request.
type Result struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Body    string `json:"body,omitempty"`
}

// StatusError is returned when the transport fails or the remote answers with status >= 400.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Status)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Observer receives timing information for every request.
type Observer interface {
	ObserveSinkRequest(method, host string, status int, duration time.Duration)
}

// Config tunes the client.
type Config struct {
	Timeout time.Duration
}

// Client issues HTTP requests against the analytics services.
type Client struct {
	http     *http.Client
	observer Observer
	logger   *zap.Logger
}

// NewClient constructs a sink client. httpClient may be nil.
func NewClient(httpClient *http.Client, observer Observer, logger *zap.Logger, cfg Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{http: httpClient, observer: observer, logger: logger}
}

// Post sends body with POST.
func (c *Client) Post(ctx context.Context, target string, body []byte, headers map[string]string) (Result, error) {
	return c.Do(ctx, http.MethodPost, target, body, headers)
}

// Put sends body with PUT.
func (c *Client) Put(ctx context.Context, target string, body []byte, headers map[string]string) (Result, error) {
	return c.Do(ctx, http.MethodPut, target, body, headers)
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, target string, headers map[string]string) (Result, error) {
	return c.Do(ctx, http.MethodGet, target, nil, headers)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, target string, headers map[string]string) (Result, error) {
	return c.Do(ctx, http.MethodDelete, target, nil, headers)
}

// Do performs the request and always returns a populated Result.
func (c *Client) Do(ctx context.Context, method, target string, body []byte, headers map[string]string) (Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return Result{}, &StatusError{Method: method, URL: target, Err: err}
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if id := requestid.FromContext(ctx); id != "" && req.Header.Get(opaqueIDHeader) == "" {
		req.Header.Set(opaqueIDHeader, id)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(method, target, 0, time.Since(start))
		c.logger.Warn("sink request failed", zap.String("method", method), zap.String("url", target), zap.Error(err))
		return Result{}, &StatusError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(resp.Body)
	duration := time.Since(start)
	c.observe(method, target, resp.StatusCode, duration)

	result := Result{
		Success: resp.StatusCode < http.StatusBadRequest && readErr == nil,
		Status:  resp.StatusCode,
		Body:    string(payload),
	}

	if readErr != nil {
		return result, &StatusError{Method: method, URL: target, Status: resp.StatusCode, Err: readErr}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("sink request rejected",
			zap.String("method", method),
			zap.String("url", target),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", duration),
		)
		return result, &StatusError{Method: method, URL: target, Status: resp.StatusCode, Body: result.Body}
	}

	c.logger.Debug("sink request completed",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
	)
	return result, nil
}

func (c *Client) observe(method, target string, status int, duration time.Duration) {
	if c.observer == nil {
		return
	}
	host := target
	if parsed, err := url.Parse(target); err == nil && parsed.Host != "" {
		host = parsed.Host
	}
	c.observer.ObserveSinkRequest(method, host, status, duration)
}
