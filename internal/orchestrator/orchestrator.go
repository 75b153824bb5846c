// Package orchestrator runs the tool loop: it calls a provider, executes the
// tool calls in its reply and feeds the results back until the model
// answers without tools or the iteration bound is reached.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"toolgate/internal/core"
	"toolgate/internal/tools"
)

// MaxIterations bounds the provider calls made for one request.
const MaxIterations = 10

// ToolExecutor runs a named tool. tools.Manager satisfies it.
type ToolExecutor interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// CostFunc prices one provider call.
type CostFunc func(provider, model string, usage core.TokenUsage) float64

// Options configures an Orchestrator.
type Options struct {
	MaxIterations int
	Cost          CostFunc
	// OnIteration is called after every provider call.
	OnIteration func(provider, model string, iteration int)
	Now         func() time.Time
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	executor ToolExecutor
	opts     Options
}

// New returns an orchestrator that executes tools through executor. A nil
// executor turns every tool call into an error result.
func New(executor ToolExecutor, opts Options) *Orchestrator {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = MaxIterations
	}
	if opts.Cost == nil {
		opts.Cost = func(string, string, core.TokenUsage) float64 { return 0 }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{executor: executor, opts: opts}
}

// Request is one orchestrated completion.
type Request struct {
	Provider    core.ChatProvider
	Model       string
	Messages    []core.Message
	Tools       []core.Tool
	MaxTokens   *int
	Temperature *float64
	// AutoExecute runs the loop; otherwise the first reply is returned
	// with its tool calls unexecuted.
	AutoExecute bool
}

// Result is the outcome of a completed loop.
type Result struct {
	Message core.Message
	// Messages is the full conversation including every assistant turn
	// and tool result appended by the loop.
	Messages []core.Message
	Usage    core.TokenUsage
	// Cost is the cost of the latest provider call, not a running sum.
	Cost       float64
	Latency    time.Duration
	Iterations int
	// ToolCalls are the calls the loop executed, in order. Without
	// AutoExecute they are the calls the model requested.
	ToolCalls []core.ToolCall
}

// Run drives req to a final answer.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Provider == nil {
		return nil, core.NewInvalidRequestError("provider is required", nil)
	}
	start := o.opts.Now()
	providerName := req.Provider.Name()

	res := &Result{
		Messages: append([]core.Message(nil), req.Messages...),
	}

	for res.Iterations < o.opts.MaxIterations {
		iterCtx := core.WithIteration(ctx, res.Iterations+1)
		completion, err := req.Provider.Call(iterCtx, &core.CompletionRequest{
			Model:       req.Model,
			Messages:    res.Messages,
			Tools:       req.Tools,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
		if err != nil {
			return nil, err
		}
		res.Iterations++
		res.Usage = res.Usage.Add(completion.Usage)
		res.Cost = o.opts.Cost(providerName, req.Model, completion.Usage)
		if o.opts.OnIteration != nil {
			o.opts.OnIteration(providerName, req.Model, res.Iterations)
		}

		reply := completion.Message
		reply.Role = core.RoleAssistant
		res.Messages = append(res.Messages, reply)
		res.Message = reply

		if len(reply.ToolCalls) == 0 || !req.AutoExecute {
			if !req.AutoExecute {
				res.ToolCalls = append(res.ToolCalls, reply.ToolCalls...)
			}
			res.Usage = res.Usage.Normalized()
			res.Latency = o.opts.Now().Sub(start)
			return res, nil
		}
		if res.Iterations == o.opts.MaxIterations {
			break
		}

		for _, call := range reply.ToolCalls {
			result := o.execute(iterCtx, call)
			res.ToolCalls = append(res.ToolCalls, call)
			res.Messages = append(res.Messages, result.Message())
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	slog.Warn("tool loop hit iteration limit", append(core.LogAttrs(ctx),
		"provider", providerName,
		"model", req.Model,
		"iterations", res.Iterations,
	)...)
	return nil, core.NewIterationLimitError(o.opts.MaxIterations, core.PartialResult{
		Usage:      res.Usage.Normalized(),
		Cost:       res.Cost,
		Iterations: res.Iterations,
	})
}

// execute runs one tool call. Every failure becomes an error result for the
// model to read; none aborts the loop.
func (o *Orchestrator) execute(ctx context.Context, call core.ToolCall) core.ToolResult {
	name := call.Function.Name
	result := core.ToolResult{ToolCallID: call.ID, Name: name}

	args, err := ParseArguments(call.Function.Arguments)
	if err != nil {
		result.Content = errorContent(core.NewToolExecutionError(
			fmt.Sprintf("invalid arguments for tool %s", name), err))
		return result
	}
	if o.executor == nil {
		result.Content = errorContent(core.NewToolExecutionError(
			fmt.Sprintf("tool %s is not available: no tool servers configured", name), nil))
		return result
	}

	out, err := o.executor.CallTool(ctx, name, args)
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		result.Content = errorContent(core.NewToolExecutionError(
			fmt.Sprintf("tool %s not found", name), err))
	case err != nil:
		slog.Warn("tool call failed", append(core.LogAttrs(ctx), "tool", name, "error", err)...)
		result.Content = errorContent(core.NewToolExecutionError(
			fmt.Sprintf("tool %s failed", name), err))
	case out.IsError:
		result.Content = "Error: " + tools.ResultText(out)
	default:
		result.Content = tools.ResultText(out)
	}
	return result
}

func errorContent(err *core.GatewayError) string {
	if err.Err != nil {
		return fmt.Sprintf("Error: %s: %v", err.Message, err.Err)
	}
	return "Error: " + err.Message
}

// ParseArguments decodes a tool-call argument string. An empty string is an
// empty object; anything but a JSON object is an error.
func ParseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
