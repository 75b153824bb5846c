package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/internal/core"
	"toolgate/internal/tools"
)

// scriptedProvider replays completions; the last one repeats forever.
type scriptedProvider struct {
	mu       sync.Mutex
	replies  []*core.Completion
	err      error
	requests []*core.CompletionRequest
}

func (p *scriptedProvider) Name() string { return "fake" }

func (p *scriptedProvider) Call(_ context.Context, req *core.CompletionRequest) (*core.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := *req
	snapshot.Messages = append([]core.Message(nil), req.Messages...)
	p.requests = append(p.requests, &snapshot)
	if p.err != nil {
		return nil, p.err
	}
	i := len(p.requests) - 1
	if i >= len(p.replies) {
		i = len(p.replies) - 1
	}
	return p.replies[i], nil
}

func (p *scriptedProvider) Stream(context.Context, *core.CompletionRequest) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

type fakeExecutor struct {
	mu         sync.Mutex
	calls      []string
	args       []map[string]any
	iterations []int
	requestIDs []string
}

func (e *fakeExecutor) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, name)
	e.args = append(e.args, args)
	e.iterations = append(e.iterations, core.Iteration(ctx))
	e.requestIDs = append(e.requestIDs, core.GetRequestID(ctx))
	e.mu.Unlock()

	switch name {
	case "lookup":
		return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("result for %v", args["q"]))}}, nil
	case "flaky":
		return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("disk full")}, IsError: true}, nil
	case "offline":
		return nil, errors.New("tool server unavailable")
	}
	return nil, fmt.Errorf("%w: %s", tools.ErrToolNotFound, name)
}

func usage(prompt, completion int) core.TokenUsage {
	return core.TokenUsage{PromptTokens: core.IntPtr(prompt), CompletionTokens: core.IntPtr(completion)}
}

func assistant(text string, calls ...core.ToolCall) *core.Completion {
	msg := core.Message{Role: core.RoleAssistant, ToolCalls: calls}
	if text != "" {
		msg.Content = core.TextContent(text)
	}
	return &core.Completion{Message: msg, Usage: usage(10, 5)}
}

func userAsks(text string) []core.Message {
	return []core.Message{{Role: core.RoleUser, Content: core.TextContent(text)}}
}

func TestRun_NoToolCalls(t *testing.T) {
	provider := &scriptedProvider{replies: []*core.Completion{{
		Message: core.Message{Role: core.RoleAssistant, Content: core.TextContent("4")},
		Usage:   core.TokenUsage{PromptTokens: core.IntPtr(10), CompletionTokens: core.IntPtr(1), TotalTokens: core.IntPtr(11)},
	}}}
	o := New(nil, Options{})

	res, err := o.Run(context.Background(), Request{Provider: provider, Model: "gpt-4o", Messages: userAsks("2+2?"), AutoExecute: true})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, "4", res.Message.Content.Text())
	assert.Equal(t, core.RoleAssistant, res.Message.Role)
	assert.Equal(t, 10, *res.Usage.PromptTokens)
	assert.Equal(t, 1, *res.Usage.CompletionTokens)
	assert.Equal(t, 11, *res.Usage.TotalTokens)
	assert.Len(t, res.Messages, 2)
	assert.Len(t, provider.requests, 1)
}

func TestRun_ExecutesToolsAndFeedsResultsBack(t *testing.T) {
	provider := &scriptedProvider{replies: []*core.Completion{
		{
			Message: core.Message{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{
				core.NewToolCall("call_1", "lookup", `{"q":"go"}`),
				core.NewToolCall("call_2", "lookup", `{not json`),
				core.NewToolCall("call_3", "missing", `{}`),
				core.NewToolCall("call_4", "flaky", ``),
				core.NewToolCall("call_5", "offline", `{}`),
			}},
			Usage: usage(10, 5),
		},
		{
			Message: core.Message{Role: core.RoleAssistant, Content: core.TextContent("done")},
			Usage:   usage(20, 3),
		},
	}}
	exec := &fakeExecutor{}
	var iterations []int
	o := New(exec, Options{
		Cost: func(_, _ string, u core.TokenUsage) float64 { return float64(u.Total()) / 100 },
		OnIteration: func(provider, model string, n int) {
			assert.Equal(t, "fake", provider)
			iterations = append(iterations, n)
		},
	})

	res, err := o.Run(context.Background(), Request{Provider: provider, Model: "m", Messages: userAsks("search"), AutoExecute: true})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []int{1, 2}, iterations)
	assert.Equal(t, "done", res.Message.Content.Text())
	assert.Equal(t, []string{"lookup", "missing", "flaky", "offline"}, exec.calls, "unparseable arguments never reach the executor")
	assert.Equal(t, map[string]any{}, exec.args[2], "empty arguments become an empty object")
	assert.Len(t, res.ToolCalls, 5)

	// Usage is summed, cost is the latest snapshot.
	assert.Equal(t, 30, *res.Usage.PromptTokens)
	assert.Equal(t, 8, *res.Usage.CompletionTokens)
	assert.Equal(t, 38, res.Usage.Total())
	assert.InDelta(t, 0.23, res.Cost, 1e-9)

	// The second provider call sees user, assistant and five tool results.
	require.Len(t, provider.requests, 2)
	second := provider.requests[1].Messages
	require.Len(t, second, 7)
	results := second[2:]
	want := []struct {
		id       string
		contains string
	}{
		{"call_1", "result for go"},
		{"call_2", "Error: invalid arguments for tool lookup"},
		{"call_3", "Error: tool missing not found"},
		{"call_4", "Error: disk full"},
		{"call_5", "Error: tool offline failed"},
	}
	for i, w := range want {
		assert.Equal(t, core.RoleTool, results[i].Role)
		assert.Equal(t, w.id, results[i].ToolCallID)
		assert.Contains(t, results[i].Content.Text(), w.contains)
	}
	require.NoError(t, core.ValidateConversation(res.Messages))
}

func TestRun_ToolCallsCarryRequestMetadata(t *testing.T) {
	provider := &scriptedProvider{replies: []*core.Completion{
		assistant("", core.NewToolCall("call_1", "lookup", `{"q":"a"}`)),
		assistant("", core.NewToolCall("call_2", "lookup", `{"q":"b"}`), core.NewToolCall("call_3", "lookup", `{"q":"c"}`)),
		assistant("done"),
	}}
	exec := &fakeExecutor{}
	o := New(exec, Options{})

	ctx := core.WithRequestID(context.Background(), "req-42")
	res, err := o.Run(ctx, Request{Provider: provider, Model: "m", Messages: userAsks("go"), AutoExecute: true})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, []int{1, 2, 2}, exec.iterations)
	assert.Equal(t, []string{"req-42", "req-42", "req-42"}, exec.requestIDs)
}

func TestRun_IterationLimit(t *testing.T) {
	provider := &scriptedProvider{replies: []*core.Completion{
		assistant("", core.NewToolCall("call_1", "lookup", `{"q":"again"}`)),
	}}
	exec := &fakeExecutor{}
	o := New(exec, Options{Cost: func(string, string, core.TokenUsage) float64 { return 0.5 }})

	_, err := o.Run(context.Background(), Request{Provider: provider, Model: "m", Messages: userAsks("loop"), AutoExecute: true})

	var gwErr *core.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, core.ErrorTypeIterationLimit, gwErr.Type)
	assert.Equal(t, http.StatusUnprocessableEntity, gwErr.HTTPStatusCode())
	require.NotNil(t, gwErr.Partial)
	assert.Equal(t, MaxIterations, gwErr.Partial.Iterations)
	assert.Equal(t, 150, gwErr.Partial.Usage.Total())
	assert.Equal(t, 0.5, gwErr.Partial.Cost)

	assert.Len(t, provider.requests, MaxIterations)
	assert.Len(t, exec.calls, MaxIterations-1)
}

func TestRun_WithoutAutoExecuteReturnsToolCalls(t *testing.T) {
	provider := &scriptedProvider{replies: []*core.Completion{
		assistant("", core.NewToolCall("call_1", "lookup", `{"q":"go"}`)),
	}}
	exec := &fakeExecutor{}
	o := New(exec, Options{})

	res, err := o.Run(context.Background(), Request{Provider: provider, Model: "m", Messages: userAsks("x")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "call_1", res.ToolCalls[0].ID)
	assert.Empty(t, exec.calls)
}

func TestRun_ProviderErrorIsReturned(t *testing.T) {
	upstream := core.NewUpstreamError("fake", http.StatusTooManyRequests, []byte(`{"error":{"message":"slow down"}}`), nil)
	o := New(nil, Options{})

	_, err := o.Run(context.Background(), Request{Provider: &scriptedProvider{err: upstream}, Messages: userAsks("x"), AutoExecute: true})
	assert.Same(t, upstream, err)
}

func TestRun_NoExecutor(t *testing.T) {
	provider := &scriptedProvider{replies: []*core.Completion{
		assistant("", core.NewToolCall("call_1", "lookup", `{}`)),
		assistant("gave up"),
	}}
	o := New(nil, Options{})

	res, err := o.Run(context.Background(), Request{Provider: provider, Messages: userAsks("x"), AutoExecute: true})
	require.NoError(t, err)
	assert.Contains(t, res.Messages[2].Content.Text(), "no tool servers configured")
}

func TestRun_Latency(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(250 * time.Millisecond)
		return now
	}
	o := New(nil, Options{Now: clock})

	res, err := o.Run(context.Background(), Request{Provider: &scriptedProvider{replies: []*core.Completion{assistant("hi")}}, Messages: userAsks("x")})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, res.Latency)
}

func TestRun_RequiresProvider(t *testing.T) {
	_, err := New(nil, Options{}).Run(context.Background(), Request{})
	var gwErr *core.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, core.ErrorTypeInvalidRequest, gwErr.Type)
}

func TestParseArguments(t *testing.T) {
	tests := []struct {
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{"", map[string]any{}, false},
		{"  ", map[string]any{}, false},
		{"null", map[string]any{}, false},
		{`{"a":1}`, map[string]any{"a": float64(1)}, false},
		{`[1,2]`, nil, true},
		{`"text"`, nil, true},
		{`{"a":`, nil, true},
	}
	for _, tt := range tests {
		got, err := ParseArguments(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseArguments(%q) expected error", tt.raw)
			}
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
