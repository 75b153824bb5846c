package convert

import "toolgate/internal/core"

// OpenAIMessage is a chat message in the delta-list provider's format.
type OpenAIMessage struct {
	Role       string              `json:"role"`
	Content    core.MessageContent `json:"content"`
	ToolCalls  []OpenAIToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	Name       string              `json:"name,omitempty"`
}

// OpenAIToolCall is an inline function call on an assistant message.
type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`
}

// OpenAIFunctionCall carries the function name and raw argument string.
type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// OpenAITool declares a function the model may call.
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction is the function declaration inside OpenAITool.
type OpenAIFunction struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Parameters  core.ToolParameters `json:"parameters"`
}

// ToOpenAIMessages converts canonical messages.
func ToOpenAIMessages(messages []core.Message) []OpenAIMessage {
	out := make([]OpenAIMessage, 0, len(messages))
	for _, m := range messages {
		msg := OpenAIMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == core.RoleTool {
			if msg.Content.IsAbsent() {
				msg.Content = core.TextContent("")
			}
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, OpenAIToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: OpenAIFunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
			})
		}
		out = append(out, msg)
	}
	return out
}

// FromOpenAIMessages converts provider messages back to canonical form.
func FromOpenAIMessages(messages []OpenAIMessage) []core.Message {
	names := toolNames{}
	out := make([]core.Message, 0, len(messages))
	for _, m := range messages {
		msg := FromOpenAIMessage(m)
		names.record(msg.ToolCalls)
		if msg.Role == core.RoleTool {
			msg.Name = names.resolve(msg.ToolCallID, msg.Name)
		}
		out = append(out, msg)
	}
	return out
}

// FromOpenAIMessage converts a single provider message, such as the
// assistant message of a completion choice.
func FromOpenAIMessage(m OpenAIMessage) core.Message {
	msg := core.Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, core.NewToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	if msg.Role == core.RoleAssistant && len(msg.ToolCalls) > 0 && msg.Content.IsText() && msg.Content.Text() == "" {
		msg.Content = core.MessageContent{}
	}
	return msg
}

// ToOpenAITools converts canonical tool declarations.
func ToOpenAITools(tools []core.Tool) []OpenAITool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]OpenAITool, 0, len(tools))
	for _, t := range tools {
		out = append(out, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  objectSchema(t.Parameters),
			},
		})
	}
	return out
}

// FromOpenAITools converts provider tool declarations.
func FromOpenAITools(tools []OpenAITool) []core.Tool {
	out := make([]core.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, core.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return out
}

func objectSchema(p core.ToolParameters) core.ToolParameters {
	if p.Type == "" {
		p.Type = "object"
	}
	return p
}
