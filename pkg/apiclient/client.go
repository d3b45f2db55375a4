// Package apiclient sends requests authenticated with the held access token,
// refreshing it first when it is about to expire.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-training/sevenpass-client/pkg/core"
	"github.com/go-training/sevenpass-client/pkg/discovery"

	"go.opentelemetry.io/otel/attribute"
)

const defaultTimeout = 30 * time.Second

// HTTPDoer is the HTTP transport requests go through. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource hands out a valid access token. *token.Manager satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Response is a completed HTTP exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the transport.
func WithHTTPClient(c HTTPDoer) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithBaseURL resolves relative paths against base instead of the issuer.
func WithBaseURL(base string) Option {
	return func(cl *Client) { cl.rawBase = base }
}

// Client sends authenticated requests.
type Client struct {
	tokens     TokenSource
	httpClient HTTPDoer
	rawBase    string
	baseURL    *url.URL
}

// New creates a Client resolving paths against the issuer of cfg unless
// WithBaseURL is given.
func New(tokens TokenSource, cfg discovery.ProviderConfiguration, opts ...Option) (*Client, error) {
	c := &Client{
		tokens:  tokens,
		rawBase: cfg.Issuer,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}

	base, err := url.Parse(c.rawBase)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", c.rawBase)
	}
	// Keep relative paths under the base path.
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	c.baseURL = base
	return c, nil
}

// BaseURL returns the URL relative paths are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Get sends a GET with params in the query.
func (c *Client) Get(ctx context.Context, path string, params url.Values, headers http.Header) (*Response, error) {
	return c.Call(ctx, http.MethodGet, path, params, headers)
}

// Post sends a POST with params form encoded in the body.
func (c *Client) Post(ctx context.Context, path string, params url.Values, headers http.Header) (*Response, error) {
	return c.Call(ctx, http.MethodPost, path, params, headers)
}

// Put sends a PUT with params form encoded in the body.
func (c *Client) Put(ctx context.Context, path string, params url.Values, headers http.Header) (*Response, error) {
	return c.Call(ctx, http.MethodPut, path, params, headers)
}

// Patch sends a PATCH with params form encoded in the body.
func (c *Client) Patch(ctx context.Context, path string, params url.Values, headers http.Header) (*Response, error) {
	return c.Call(ctx, http.MethodPatch, path, params, headers)
}

// Delete sends a DELETE with params in the query.
func (c *Client) Delete(ctx context.Context, path string, params url.Values, headers http.Header) (*Response, error) {
	return c.Call(ctx, http.MethodDelete, path, params, headers)
}

// Call obtains a valid access token, then sends method to path. path may be
// absolute or relative to the base URL. A 401 is returned as Unauthorized
// without a retry.
func (c *Client) Call(ctx context.Context, method, path string, params url.Values, headers http.Header) (resp *Response, err error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, &Error{Kind: TransportFailed, Method: method, URL: path, Err: err}
	}

	ctx, span := core.StartSpan(ctx, "apiclient.call",
		attribute.String("http.request.method", method),
		attribute.String("url.full", target.String()),
	)
	defer func() { core.EndSpan(span, err) }()
	logger := core.LoggerFromCtx(ctx)

	accessToken, err := c.tokens.AccessToken(ctx)
	if err != nil {
		logger.Warn("No valid access token for request", "method", method, "url", target.String(), "error", err)
		return nil, &Error{Kind: AuthFailed, Method: method, URL: target.String(), Err: err}
	}

	var body io.Reader
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body = strings.NewReader(params.Encode())
	default:
		if len(params) > 0 {
			q := target.Query()
			for k, vs := range params {
				for _, v := range vs {
					q.Add(k, v)
				}
			}
			target.RawQuery = q.Encode()
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, &Error{Kind: TransportFailed, Method: method, URL: target.String(), Err: err}
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("Request failed", "method", method, "url", req.URL.String(), "error", err)
		return nil, &Error{Kind: TransportFailed, Method: method, URL: req.URL.String(), Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Kind: TransportFailed, Method: method, URL: req.URL.String(), Err: err}
	}
	resp = &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}
	core.AddSpanAttributes(ctx, attribute.Int("http.response.status_code", resp.StatusCode))
	logger.Debug("Request completed",
		"method", method,
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return resp, &Error{Kind: Unauthorized, Method: method, URL: req.URL.String(), Response: resp}
	case resp.StatusCode == http.StatusForbidden:
		return resp, &Error{Kind: Forbidden, Method: method, URL: req.URL.String(), Response: resp}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return resp, &Error{Kind: ServerError, Method: method, URL: req.URL.String(), Response: resp}
	}
	return resp, nil
}

func (c *Client) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	return c.baseURL.ResolveReference(ref), nil
}
