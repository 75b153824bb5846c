package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ContentBlock is one element of a multi-part message body.
type ContentBlock struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image by URL or data URI.
type ImageURL struct {
	URL string `json:"url"`
}

type contentKind uint8

const (
	contentAbsent contentKind = iota
	contentText
	contentBlocks
)

// MessageContent is either plain text, an ordered list of content blocks,
// or absent. It encodes as a JSON string, array or null respectively.
type MessageContent struct {
	kind   contentKind
	text   string
	blocks []ContentBlock
}

// TextContent returns content holding plain text.
func TextContent(text string) MessageContent {
	return MessageContent{kind: contentText, text: text}
}

// BlockContent returns content holding the given blocks in order.
func BlockContent(blocks ...ContentBlock) MessageContent {
	return MessageContent{kind: contentBlocks, blocks: blocks}
}

// IsAbsent reports whether no content was supplied.
func (c MessageContent) IsAbsent() bool { return c.kind == contentAbsent }

// IsText reports whether the content is a plain string.
func (c MessageContent) IsText() bool { return c.kind == contentText }

// Blocks returns the content blocks, or nil for text and absent content.
func (c MessageContent) Blocks() []ContentBlock { return c.blocks }

// Text flattens the content to a string. Text blocks are concatenated in
// order; non-text blocks are skipped.
func (c MessageContent) Text() string {
	switch c.kind {
	case contentText:
		return c.text
	case contentBlocks:
		var sb strings.Builder
		for _, b := range c.blocks {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		return sb.String()
	default:
		return ""
	}
}

// MarshalJSON implements json.Marshaler.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case contentText:
		return json.Marshal(c.text)
	case contentBlocks:
		if c.blocks == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.blocks)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*c = MessageContent{}
		return nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	case trimmed[0] == '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(trimmed, &blocks); err != nil {
			return err
		}
		*c = BlockContent(blocks...)
		return nil
	default:
		return fmt.Errorf("message content must be a string, an array of blocks or null")
	}
}

// Message is a single conversation turn in canonical form.
type Message struct {
	Role       string         `json:"role"`
	Content    MessageContent `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

// Validate checks the per-message invariants that do not depend on the
// rest of the conversation.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser:
	case RoleAssistant:
		if m.Content.IsAbsent() && len(m.ToolCalls) == 0 {
			return fmt.Errorf("assistant message without tool_calls must have content")
		}
		return nil
	case RoleTool:
		if m.ToolCallID == "" {
			return fmt.Errorf("tool message requires tool_call_id")
		}
		return nil
	default:
		return fmt.Errorf("unknown message role %q", m.Role)
	}
	if len(m.ToolCalls) > 0 {
		return fmt.Errorf("%s message cannot carry tool_calls", m.Role)
	}
	if m.Content.IsAbsent() {
		return fmt.Errorf("%s message requires content", m.Role)
	}
	return nil
}

// ValidateConversation checks every message and that each tool message
// answers a tool call emitted earlier in the same conversation.
func ValidateConversation(messages []Message) error {
	issued := make(map[string]struct{})
	for i, m := range messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
		for _, tc := range m.ToolCalls {
			issued[tc.ID] = struct{}{}
		}
		if m.Role == RoleTool {
			if _, ok := issued[m.ToolCallID]; !ok {
				return fmt.Errorf("messages[%d]: tool_call_id %q does not match any preceding tool call", i, m.ToolCallID)
			}
		}
	}
	return nil
}

// ToolParameters is the JSON-schema object describing a tool's arguments.
type ToolParameters struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// Tool describes a callable capability offered to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  ToolParameters `json:"parameters"`
}

// FunctionCall names the function a model wants to invoke. Arguments is
// the raw JSON string exactly as produced by the model.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a request, embedded in an assistant reply, to run a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// NewToolCall returns a function tool call.
func NewToolCall(id, name, arguments string) ToolCall {
	return ToolCall{ID: id, Type: "function", Function: FunctionCall{Name: name, Arguments: arguments}}
}

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
}

// Message returns the result as a tool-role message.
func (r ToolResult) Message() Message {
	return Message{
		Role:       RoleTool,
		Content:    TextContent(r.Content),
		ToolCallID: r.ToolCallID,
		Name:       r.Name,
	}
}

// ChatRequest is the canonical request accepted from the HTTP layer.
type ChatRequest struct {
	Provider         string       `json:"provider"`
	Model            string       `json:"model"`
	Messages         []Message    `json:"messages"`
	Tools            []Tool       `json:"tools,omitempty"`
	Stream           bool         `json:"stream,omitempty"`
	UseToolProtocol  bool         `json:"useToolProtocol,omitempty"`
	AutoExecuteTools bool         `json:"autoExecuteTools,omitempty"`
	ToolResults      []ToolResult `json:"toolResults,omitempty"`
	MaxTokens        *int         `json:"max_tokens,omitempty"`
	Temperature      *float64     `json:"temperature,omitempty"`
}

// Conversation returns the request messages followed by any supplied tool
// results rendered as tool messages.
func (r *ChatRequest) Conversation() []Message {
	out := make([]Message, 0, len(r.Messages)+len(r.ToolResults))
	out = append(out, r.Messages...)
	for _, res := range r.ToolResults {
		out = append(out, res.Message())
	}
	return out
}

// ChatResponse is the canonical non-streaming response.
type ChatResponse struct {
	Provider   string     `json:"provider"`
	Model      string     `json:"model,omitempty"`
	Message    Message    `json:"message"`
	Usage      TokenUsage `json:"usage"`
	Cost       float64    `json:"cost"`
	LatencyMs  int64      `json:"latency_ms"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Iterations int        `json:"iterations,omitempty"`
}

// CompletionRequest is what a provider adapter needs for one upstream call.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	MaxTokens   *int
	Temperature *float64
}

// Completion is a single upstream reply in canonical form.
type Completion struct {
	ID           string
	Message      Message
	Usage        TokenUsage
	FinishReason string
}
