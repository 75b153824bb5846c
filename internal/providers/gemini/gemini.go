// Package gemini provides native Google Gemini API integration for the
// gateway.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"toolgate/config"
	"toolgate/internal/convert"
	"toolgate/internal/core"
	"toolgate/internal/llmclient"
	"toolgate/internal/providers"
)

// Registration provides factory registration for the Gemini provider.
var Registration = providers.Registration{
	Type: "gemini",
	New:  New,
}

const (
	providerName   = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Provider implements core.ChatProvider for Gemini
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new Gemini provider. An empty API key is a configuration
// error.
func New(cfg config.ProviderConfig, opts providers.ProviderOptions) (core.ChatProvider, error) {
	if cfg.APIKey == "" {
		return nil, core.NewConfigurationError(providerName, "GEMINI_API_KEY is not set")
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

// NewWithHTTPClient creates a new Gemini provider with a custom HTTP client
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

// setHeaders authenticates with a header so the key never appears in URLs
// or access logs.
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", p.apiKey)
}

type generationConfig struct {
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type generateRequest struct {
	Contents         []convert.GeminiContent `json:"contents"`
	Tools            []convert.GeminiTool    `json:"tools,omitempty"`
	GenerationConfig *generationConfig       `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	ResponseID string `json:"responseId"`
	Candidates []struct {
		Content      convert.GeminiContent `json:"content"`
		FinishReason string                `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func buildRequest(req *core.CompletionRequest) *generateRequest {
	body := &generateRequest{
		Contents: convert.ToGeminiContents(req.Messages),
		Tools:    convert.ToGeminiTools(req.Tools),
	}
	if req.MaxTokens != nil || req.Temperature != nil {
		body.GenerationConfig = &generationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}
	return body
}

// modelPath returns the escaped model segment, accepting ids with or
// without the "models/" prefix.
func modelPath(model string) string {
	return url.PathEscape(strings.TrimPrefix(model, "models/"))
}

// Call implements core.ChatProvider.
func (p *Provider) Call(ctx context.Context, req *core.CompletionRequest) (*core.Completion, error) {
	resp, err := p.client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/models/" + modelPath(req.Model) + ":generateContent",
		Body:     buildRequest(req),
	})
	if err != nil {
		return nil, err
	}

	var parsed generateResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, core.NewUpstreamError(providerName, http.StatusBadGateway, resp.Body, err)
	}
	if len(parsed.Candidates) == 0 {
		reason := gjson.GetBytes(resp.Body, "promptFeedback.blockReason").String()
		if reason == "" {
			reason = "no candidates"
		}
		return nil, core.NewUpstreamError(providerName, http.StatusBadGateway, resp.Body,
			fmt.Errorf("response contained no candidates: %s", reason))
	}

	cand := parsed.Candidates[0]
	out := &core.Completion{
		ID:           parsed.ResponseID,
		Message:      convert.FromGeminiParts(cand.Content.Parts),
		FinishReason: cand.FinishReason,
		Usage:        core.ZeroUsage(),
	}
	if u := parsed.UsageMetadata; u != nil {
		out.Usage = core.TokenUsage{
			PromptTokens:     core.IntPtr(u.PromptTokenCount),
			CompletionTokens: core.IntPtr(u.CandidatesTokenCount),
			TotalTokens:      core.IntPtr(u.TotalTokenCount),
		}
	}
	return out, nil
}

// Stream implements core.ChatProvider. The caller must close the body.
func (p *Provider) Stream(ctx context.Context, req *core.CompletionRequest) (io.ReadCloser, error) {
	return p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/models/" + modelPath(req.Model) + ":streamGenerateContent?alt=sse",
		Body:     buildRequest(req),
	})
}
