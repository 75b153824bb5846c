// Package openai provides OpenAI API integration for the gateway.
package openai

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

// Registration provides factory registration for the OpenAI provider.
var Registration = providers.Registration{
	Type: "openai",
	New:  New,
}

const (
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
)

// Provider implements core.ChatProvider for OpenAI
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new OpenAI provider. An empty API key is a configuration
// error.
func New(cfg config.ProviderConfig, opts providers.ProviderOptions) (core.ChatProvider, error) {
	if cfg.APIKey == "" {
		return nil, core.NewConfigurationError(providerName, "OPENAI_API_KEY is not set")
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

// NewWithHTTPClient creates a new OpenAI provider with a custom HTTP client.
// If httpClient is nil, http.DefaultClient is used.
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

// setHeaders sets the required headers for OpenAI API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	// OpenAI rejects X-Client-Request-Id values that are not ASCII or exceed 512 bytes.
	if requestID := core.GetRequestID(req.Context()); requestID != "" && isValidClientRequestID(requestID) {
		req.Header.Set("X-Client-Request-Id", requestID)
	}
}

func isValidClientRequestID(id string) bool {
	if len(id) > 512 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 127 {
			return false
		}
	}
	return true
}

// isOSeriesModel reports whether the model is an o-series reasoning model
// (o1, o3, o4) that takes max_completion_tokens instead of max_tokens and
// rejects temperature.
func isOSeriesModel(model string) bool {
	m := strings.ToLower(model)
	return len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

var errNoChoices = errors.New("response contained no choices")

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model               string                  `json:"model"`
	Messages            []convert.OpenAIMessage `json:"messages"`
	Tools               []convert.OpenAITool    `json:"tools,omitempty"`
	MaxTokens           *int                    `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int                    `json:"max_completion_tokens,omitempty"`
	Temperature         *float64                `json:"temperature,omitempty"`
	Stream              bool                    `json:"stream,omitempty"`
	StreamOptions       *streamOptions          `json:"stream_options,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      convert.OpenAIMessage `json:"message"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func buildRequest(req *core.CompletionRequest, stream bool) *chatRequest {
	body := &chatRequest{
		Model:    req.Model,
		Messages: convert.ToOpenAIMessages(req.Messages),
		Tools:    convert.ToOpenAITools(req.Tools),
	}
	if isOSeriesModel(req.Model) {
		body.MaxCompletionTokens = req.MaxTokens
	} else {
		body.MaxTokens = req.MaxTokens
		body.Temperature = req.Temperature
	}
	if stream {
		body.Stream = true
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return body
}

// Call implements core.ChatProvider.
func (p *Provider) Call(ctx context.Context, req *core.CompletionRequest) (*core.Completion, error) {
	var resp chatResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     buildRequest(req, false),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, core.NewUpstreamError(providerName, http.StatusBadGateway, nil, errNoChoices)
	}

	choice := resp.Choices[0]
	out := &core.Completion{
		ID:           resp.ID,
		Message:      convert.FromOpenAIMessage(choice.Message),
		FinishReason: choice.FinishReason,
		Usage:        core.ZeroUsage(),
	}
	if u := resp.Usage; u != nil {
		out.Usage = core.TokenUsage{
			PromptTokens:     core.IntPtr(u.PromptTokens),
			CompletionTokens: core.IntPtr(u.CompletionTokens),
			TotalTokens:      core.IntPtr(u.TotalTokens),
		}
	}
	return out, nil
}

// Stream implements core.ChatProvider. The caller must close the body.
func (p *Provider) Stream(ctx context.Context, req *core.CompletionRequest) (io.ReadCloser, error) {
	return p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     buildRequest(req, true),
	})
}
