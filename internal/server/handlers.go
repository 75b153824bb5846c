// Package server provides HTTP handlers and server setup for the gateway.
package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mark3labs/mcp-go/mcp"

	"toolgate/internal/cache"
	"toolgate/internal/core"
	"toolgate/internal/orchestrator"
	"toolgate/internal/tools"
	"toolgate/internal/usage"
)

const chatEndpoint = "/v1/chat"

// ToolRegistry is the view of the tool manager the handlers need.
type ToolRegistry interface {
	Tools() []core.Tool
	Entries() []tools.Entry
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Status() []tools.ServerStatus
}

// Handler holds the HTTP handlers
type Handler struct {
	providers     core.ProviderLookup
	tools         ToolRegistry
	orchestrator  *orchestrator.Orchestrator
	cost          orchestrator.CostFunc
	cache         *cache.Responses
	usage         usage.Recorder
	onStreamEvent func(provider, eventType string)
	now           func() time.Time
}

// NewHandler creates a handler from the server configuration. Missing
// optional components are replaced by no-op versions.
func NewHandler(cfg *Config) *Handler {
	h := &Handler{
		providers:     cfg.Providers,
		tools:         cfg.Tools,
		orchestrator:  cfg.Orchestrator,
		cost:          cfg.Cost,
		cache:         cfg.Cache,
		usage:         cfg.UsageLogger,
		onStreamEvent: cfg.OnStreamEvent,
		now:           time.Now,
	}
	if h.orchestrator == nil {
		var executor orchestrator.ToolExecutor
		if h.tools != nil {
			executor = h.tools
		}
		h.orchestrator = orchestrator.New(executor, orchestrator.Options{Cost: h.cost})
	}
	if h.cost == nil {
		h.cost = func(string, string, core.TokenUsage) float64 { return 0 }
	}
	if h.usage == nil {
		h.usage = usage.NoopLogger{}
	}
	return h
}

// Chat handles POST /v1/chat
func (h *Handler) Chat(c echo.Context) error {
	var req core.ChatRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if err := validateChatRequest(&req); err != nil {
		return handleError(c, err)
	}
	if h.providers == nil {
		return handleError(c, core.NewConfigurationError(req.Provider, "no providers configured"))
	}
	provider, err := h.providers.Provider(req.Provider)
	if err != nil {
		return handleError(c, err)
	}
	if req.UseToolProtocol && h.tools != nil {
		req.Tools = mergeTools(req.Tools, h.tools.Tools())
	}

	if req.Stream {
		return h.chatStream(c, provider, &req)
	}

	ctx := c.Request().Context()
	cacheable := !req.AutoExecuteTools
	if cacheable {
		if resp, ok := h.cache.Get(ctx, &req); ok {
			c.Response().Header().Set("X-Cache", "HIT")
			return c.JSON(http.StatusOK, resp)
		}
	}

	result, err := h.orchestrator.Run(ctx, orchestrator.Request{
		Provider:    provider,
		Model:       req.Model,
		Messages:    req.Conversation(),
		Tools:       req.Tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		AutoExecute: req.AutoExecuteTools,
	})
	if err != nil {
		return handleError(c, err)
	}

	resp := &core.ChatResponse{
		Provider:   provider.Name(),
		Model:      req.Model,
		Message:    result.Message,
		Usage:      result.Usage,
		Cost:       result.Cost,
		LatencyMs:  result.Latency.Milliseconds(),
		ToolCalls:  result.ToolCalls,
		Iterations: result.Iterations,
	}

	h.usage.Write(usage.NewEntry(usage.Record{
		RequestID:  core.GetRequestID(ctx),
		Provider:   resp.Provider,
		Model:      req.Model,
		Endpoint:   chatEndpoint,
		Usage:      result.Usage,
		Cost:       result.Cost,
		Iterations: result.Iterations,
		ToolCalls:  len(result.ToolCalls),
		Latency:    result.Latency,
	}))
	if cacheable {
		h.cache.Set(ctx, &req, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func validateChatRequest(req *core.ChatRequest) error {
	if req.Model == "" {
		return core.NewInvalidRequestError("model is required", nil)
	}
	if len(req.Messages) == 0 {
		return core.NewInvalidRequestError("messages must not be empty", nil)
	}
	if req.Stream && req.AutoExecuteTools {
		return core.NewInvalidRequestError("autoExecuteTools is not supported with stream", nil)
	}
	if err := core.ValidateConversation(req.Conversation()); err != nil {
		return core.NewInvalidRequestError(err.Error(), err)
	}
	return nil
}

// mergeTools appends registry tools to the request's own. A request tool
// shadows a registry tool of the same name.
func mergeTools(own, registry []core.Tool) []core.Tool {
	if len(registry) == 0 {
		return own
	}
	seen := make(map[string]struct{}, len(own))
	out := make([]core.Tool, 0, len(own)+len(registry))
	for _, t := range own {
		seen[t.Name] = struct{}{}
		out = append(out, t)
	}
	for _, t := range registry {
		if _, ok := seen[t.Name]; !ok {
			out = append(out, t)
		}
	}
	return out
}

// toolInfo is one entry of GET /v1/tools.
type toolInfo struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Server      string              `json:"server"`
	Parameters  core.ToolParameters `json:"parameters"`
}

// ListTools handles GET /v1/tools
func (h *Handler) ListTools(c echo.Context) error {
	out := []toolInfo{}
	if h.tools != nil {
		for _, e := range h.tools.Entries() {
			t := tools.CanonicalTool(e.Tool)
			out = append(out, toolInfo{
				Name:        t.Name,
				Description: t.Description,
				Server:      e.Server,
				Parameters:  t.Parameters,
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"tools": out})
}

// toolCallResponse is the body returned by POST /v1/tools/:name/call.
type toolCallResponse struct {
	Tool    string              `json:"tool"`
	Content string              `json:"content"`
	IsError bool                `json:"is_error"`
	Result  *mcp.CallToolResult `json:"result"`
}

// CallTool handles POST /v1/tools/:name/call. The body is the argument
// object; an empty body means no arguments.
func (h *Handler) CallTool(c echo.Context) error {
	name := c.Param("name")
	if h.tools == nil {
		return handleError(c, core.NewNotFoundError("tool not found: "+name))
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError("failed to read request body", err))
	}
	args, err := orchestrator.ParseArguments(string(body))
	if err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid tool arguments: "+err.Error(), err))
	}

	result, err := h.tools.CallTool(c.Request().Context(), name, args)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, toolCallResponse{
		Tool:    name,
		Content: tools.ResultText(result),
		IsError: result.IsError,
		Result:  result,
	})
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	servers := []tools.ServerStatus{}
	if h.tools != nil {
		servers = h.tools.Status()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"tool_servers": servers,
	})
}
