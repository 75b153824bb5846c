// Package llmclient provides a base HTTP client for provider adapters with:
// - Request marshaling/unmarshaling
// - Standardized upstream error parsing (status and body kept verbatim)
// - Request lifecycle hooks for metrics
//
// It never retries: retry policy belongs to the caller.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"toolgate/internal/core"
	"toolgate/internal/httpclient"
)

// RequestInfo describes an outbound upstream request.
type RequestInfo struct {
	Provider string
	Endpoint string
	Stream   bool
}

// ResponseInfo describes how an upstream request finished. StatusCode is
// zero when no response was received.
type ResponseInfo struct {
	Provider   string
	Endpoint   string
	Stream     bool
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Hooks observe upstream requests. Both fields are optional.
type Hooks struct {
	OnRequestStart func(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd   func(ctx context.Context, info ResponseInfo)
}

// Config holds configuration for the LLM client
type Config struct {
	// ProviderName identifies the provider for error messages
	ProviderName string

	// BaseURL is the API base URL
	BaseURL string

	// HTTP tunes the underlying clients. Nil means httpclient defaults.
	HTTP *httpclient.ClientConfig

	Hooks Hooks
}

// DefaultConfig returns default client configuration
func DefaultConfig(providerName, baseURL string) Config {
	return Config{
		ProviderName: providerName,
		BaseURL:      baseURL,
	}
}

// HeaderSetter is a function that sets headers on an HTTP request
type HeaderSetter func(req *http.Request)

// Client is a base HTTP client for LLM providers
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	config       Config
	headerSetter HeaderSetter
}

// New creates a new LLM client with the given configuration
func New(config Config, headerSetter HeaderSetter) *Client {
	return &Client{
		httpClient:   httpclient.NewHTTPClient(config.HTTP),
		streamClient: httpclient.NewStreamingHTTPClient(config.HTTP),
		config:       config,
		headerSetter: headerSetter,
	}
}

// NewWithHTTPClient creates a new LLM client with a custom HTTP client used
// for both regular and streaming requests.
func NewWithHTTPClient(httpClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient:   httpClient,
		streamClient: httpClient,
		config:       config,
		headerSetter: headerSetter,
	}
}

// SetBaseURL updates the base URL
func (c *Client) SetBaseURL(url string) {
	c.config.BaseURL = url
}

// BaseURL returns the current base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	Body     interface{} // Will be JSON marshaled if not nil
	Headers  map[string]string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
}

// Do executes a request and unmarshals a successful response into result
func (c *Client) Do(ctx context.Context, req Request, result interface{}) error {
	resp, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}

	if result != nil {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return core.NewUpstreamError(c.config.ProviderName, http.StatusBadGateway, resp.Body, err)
		}
	}

	return nil
}

// DoRaw executes a single request, returning the raw response. Any status
// other than 200 becomes an upstream error carrying the body verbatim.
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	ctx, finish := c.observe(ctx, req, false)
	resp, err := c.doRequest(ctx, req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if err == nil && status != http.StatusOK {
		err = core.NewUpstreamError(c.config.ProviderName, status, resp.Body, nil)
	}
	finish(status, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// doRequest executes a single HTTP request and reads the whole body
func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewUpstreamError(c.config.ProviderName, 0, nil, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewUpstreamError(c.config.ProviderName, 0, nil, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// DoStream executes a streaming request, returning the response body. The
// body is tied to ctx: cancelling ctx aborts the upstream read.
func (c *Client) DoStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	ctx, finish := c.observe(ctx, req, true)

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		finish(0, err)
		return nil, err
	}

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		gwErr := core.NewUpstreamError(c.config.ProviderName, 0, nil, err)
		finish(0, gwErr)
		return nil, gwErr
	}

	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respBody = []byte("failed to read error response")
		}
		_ = resp.Body.Close()

		gwErr := core.NewUpstreamError(c.config.ProviderName, resp.StatusCode, respBody, nil)
		finish(resp.StatusCode, gwErr)
		return nil, gwErr
	}

	finish(resp.StatusCode, nil)
	return resp.Body, nil
}

// observe runs the start hook and returns a function that runs the end hook.
func (c *Client) observe(ctx context.Context, req Request, stream bool) (context.Context, func(int, error)) {
	hooks := c.config.Hooks
	if hooks.OnRequestStart != nil {
		ctx = hooks.OnRequestStart(ctx, RequestInfo{
			Provider: c.config.ProviderName,
			Endpoint: req.Endpoint,
			Stream:   stream,
		})
	}
	start := time.Now()
	return ctx, func(status int, err error) {
		if hooks.OnRequestEnd == nil {
			return
		}
		hooks.OnRequestEnd(ctx, ResponseInfo{
			Provider:   c.config.ProviderName,
			Endpoint:   req.Endpoint,
			Stream:     stream,
			StatusCode: status,
			Duration:   time.Since(start),
			Err:        err,
		})
	}
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := c.config.BaseURL + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewInvalidRequestError("failed to marshal request", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}

	// Set default content type for requests with body
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	// Apply provider-specific headers
	if c.headerSetter != nil {
		c.headerSetter(httpReq)
	}

	// Apply request-specific headers
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}
