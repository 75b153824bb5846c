// Package anthropic provides Anthropic API integration for the gateway.
package anthropic

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"toolgate/config"
	"toolgate/internal/convert"
	"toolgate/internal/core"
	"toolgate/internal/llmclient"
	"toolgate/internal/providers"
)

// Registration provides factory registration for the Anthropic provider.
var Registration = providers.Registration{
	Type: "anthropic",
	New:  New,
}

const (
	providerName        = "anthropic"
	defaultBaseURL      = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 4096
)

var errEmptyContent = errors.New("response contained no content blocks")

// Provider implements core.ChatProvider for Anthropic
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new Anthropic provider. An empty API key is a configuration
// error.
func New(cfg config.ProviderConfig, opts providers.ProviderOptions) (core.ChatProvider, error) {
	if cfg.APIKey == "" {
		return nil, core.NewConfigurationError(providerName, "ANTHROPIC_API_KEY is not set")
	}
	p := &Provider{apiKey: cfg.APIKey}
	clientCfg := llmclient.DefaultConfig(providerName, defaultBaseURL)
	clientCfg.HTTP = opts.HTTP
	clientCfg.Hooks = opts.Hooks
	p.client = llmclient.New(clientCfg, p.setHeaders)
	if cfg.BaseURL != "" {
		p.SetBaseURL(cfg.BaseURL)
	}
	return p, nil
}

// NewWithHTTPClient creates a new Anthropic provider with a custom HTTP client
func NewWithHTTPClient(apiKey string, httpClient *http.Client, hooks llmclient.Hooks) *Provider {
	p := &Provider{apiKey: apiKey}
	cfg := llmclient.DefaultConfig(providerName, defaultBaseURL)
	cfg.Hooks = hooks
	p.client = llmclient.NewWithHTTPClient(httpClient, cfg, p.setHeaders)
	return p
}

// Name implements core.ChatProvider.
func (p *Provider) Name() string { return providerName }

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(strings.TrimRight(url, "/"))
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

// messagesRequest is the Anthropic messages API request body
type messagesRequest struct {
	Model       string                     `json:"model"`
	Messages    []convert.AnthropicMessage `json:"messages"`
	System      string                     `json:"system,omitempty"`
	Tools       []convert.AnthropicTool    `json:"tools,omitempty"`
	MaxTokens   int                        `json:"max_tokens"`
	Temperature *float64                   `json:"temperature,omitempty"`
	Stream      bool                       `json:"stream,omitempty"`
}

// messagesResponse is the Anthropic messages API response body
type messagesResponse struct {
	ID         string                   `json:"id"`
	Model      string                   `json:"model"`
	Content    []convert.AnthropicBlock `json:"content"`
	StopReason string                   `json:"stop_reason"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func buildRequest(req *core.CompletionRequest, stream bool) *messagesRequest {
	system, messages := convert.ToAnthropicMessages(req.Messages)
	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}
	return &messagesRequest{
		Model:       req.Model,
		Messages:    messages,
		System:      system,
		Tools:       convert.ToAnthropicTools(req.Tools),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

// Call implements core.ChatProvider.
func (p *Provider) Call(ctx context.Context, req *core.CompletionRequest) (*core.Completion, error) {
	var resp messagesResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     buildRequest(req, false),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Content == nil {
		return nil, core.NewUpstreamError(providerName, http.StatusBadGateway, nil, errEmptyContent)
	}

	out := &core.Completion{
		ID:           resp.ID,
		Message:      convert.FromAnthropicContent(resp.Content),
		FinishReason: resp.StopReason,
		Usage:        core.ZeroUsage(),
	}
	if u := resp.Usage; u != nil {
		out.Usage = core.TokenUsage{
			InputTokens:  core.IntPtr(u.InputTokens),
			OutputTokens: core.IntPtr(u.OutputTokens),
			TotalTokens:  core.IntPtr(u.InputTokens + u.OutputTokens),
		}
	}
	return out, nil
}

// Stream implements core.ChatProvider. The caller must close the body.
func (p *Provider) Stream(ctx context.Context, req *core.CompletionRequest) (io.ReadCloser, error) {
	return p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     buildRequest(req, true),
	})
}
