// Package httptransport provides the HTTP server constructor for plannerd and the
// JSON client the calendar engine uses to reach it.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"example.com/plannersync/internal/transport"
)

const maxResponseBytes = 4 << 20

// StatusError represents a non-successful HTTP response.
type StatusError struct {
	Status int
	Method string
	Path   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// Client implements transport.Fetcher and transport.Poster over net/http.
type Client struct {
	client  *http.Client
	baseURL string
	token   string
}

var (
	_ transport.Fetcher = (*Client)(nil)
	_ transport.Poster  = (*Client)(nil)
)

// NewClient constructs a Client. An empty token sends no Authorization header.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// FetchJSON issues a GET, forwarding IfNoneMatch. A 304 yields NotModified with the
// request's etag echoed back when the server omits one.
func (c *Client) FetchJSON(ctx context.Context, in transport.FetchRequest) (transport.FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+in.URL(), nil)
	if err != nil {
		return transport.FetchResponse{}, err
	}
	req.Header.Set("Accept", "application/json")
	if in.IfNoneMatch != "" {
		req.Header.Set("If-None-Match", in.IfNoneMatch)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return transport.FetchResponse{}, err
	}
	defer resp.Body.Close()

	out := transport.FetchResponse{Status: resp.StatusCode, ETag: resp.Header.Get("ETag")}
	if resp.StatusCode == http.StatusNotModified {
		out.NotModified = true
		if out.ETag == "" {
			out.ETag = in.IfNoneMatch
		}
		return out, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &StatusError{Status: resp.StatusCode, Method: http.MethodGet, Path: in.Path}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return out, fmt.Errorf("read response body: %w", err)
	}
	out.Body = body
	return out, nil
}

// PostJSON encodes body and POSTs it. Any non-2xx status is returned together with a *StatusError.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &StatusError{Status: resp.StatusCode, Method: http.MethodPost, Path: path}
	}
	return resp.StatusCode, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
