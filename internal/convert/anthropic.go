package convert

import (
	"encoding/json"
	"strings"

	"toolgate/internal/core"
)

// AnthropicMessage is a turn in the typed-block provider's format. Tool
// results travel as blocks inside a user turn.
type AnthropicMessage struct {
	Role    string           `json:"role"`
	Content []AnthropicBlock `json:"content"`
}

// AnthropicBlock is one typed content block.
type AnthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// image
	Source *AnthropicImageSource `json:"source,omitempty"`
}

// MarshalJSON always writes "text" on text blocks, so an empty block
// stays a valid text block.
func (b AnthropicBlock) MarshalJSON() ([]byte, error) {
	type plain AnthropicBlock
	if b.Type != "text" {
		return json.Marshal(plain(b))
	}
	return json.Marshal(struct {
		plain
		Text string `json:"text"`
	}{plain(b), b.Text})
}

// AnthropicImageSource points at inline base64 data or a remote URL.
type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// AnthropicTool declares a tool with its input schema.
type AnthropicTool struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	InputSchema core.ToolParameters `json:"input_schema"`
}

// ToAnthropicMessages converts canonical messages. System messages are
// lifted into the returned system prompt; consecutive tool messages merge
// into a single user turn of tool_result blocks.
func ToAnthropicMessages(messages []core.Message) (string, []AnthropicMessage) {
	var system []string
	out := make([]AnthropicMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			system = append(system, m.Content.Text())
		case core.RoleTool:
			block := AnthropicBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content.Text(),
			}
			if n := len(out); n > 0 && out[n-1].Role == core.RoleUser && isToolResultTurn(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, AnthropicMessage{Role: core.RoleUser, Content: []AnthropicBlock{block}})
		case core.RoleAssistant:
			var blocks []AnthropicBlock
			if text := m.Content.Text(); text != "" {
				blocks = append(blocks, AnthropicBlock{Type: "text", Text: text})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, AnthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: argumentsObject(tc.Function.Arguments),
				})
			}
			if len(blocks) == 0 {
				blocks = []AnthropicBlock{{Type: "text"}}
			}
			out = append(out, AnthropicMessage{Role: core.RoleAssistant, Content: blocks})
		default:
			blocks := toAnthropicBlocks(m.Content)
			if len(blocks) == 0 {
				blocks = []AnthropicBlock{{Type: "text"}}
			}
			out = append(out, AnthropicMessage{Role: core.RoleUser, Content: blocks})
		}
	}
	return strings.Join(system, "\n\n"), out
}

func isToolResultTurn(m AnthropicMessage) bool {
	for _, b := range m.Content {
		if b.Type != "tool_result" {
			return false
		}
	}
	return len(m.Content) > 0
}

func toAnthropicBlocks(c core.MessageContent) []AnthropicBlock {
	var out []AnthropicBlock
	for _, b := range contentBlocks(c) {
		switch b.Type {
		case "image_url":
			if b.ImageURL == nil {
				continue
			}
			src := &AnthropicImageSource{Type: "url", URL: b.ImageURL.URL}
			if media, data, ok := parseDataURI(b.ImageURL.URL); ok {
				src = &AnthropicImageSource{Type: "base64", MediaType: media, Data: data}
			}
			out = append(out, AnthropicBlock{Type: "image", Source: src})
		default:
			out = append(out, AnthropicBlock{Type: "text", Text: b.Text})
		}
	}
	return out
}

// FromAnthropicMessages converts provider messages back to canonical form.
func FromAnthropicMessages(system string, messages []AnthropicMessage) []core.Message {
	names := toolNames{}
	out := make([]core.Message, 0, len(messages)+1)
	if system != "" {
		out = append(out, core.Message{Role: core.RoleSystem, Content: core.TextContent(system)})
	}
	for _, m := range messages {
		if m.Role == core.RoleAssistant {
			msg := FromAnthropicContent(m.Content)
			names.record(msg.ToolCalls)
			out = append(out, msg)
			continue
		}
		var blocks []core.ContentBlock
		for _, b := range m.Content {
			switch b.Type {
			case "tool_result":
				out = append(out, core.Message{
					Role:       core.RoleTool,
					Content:    core.TextContent(b.Content),
					ToolCallID: b.ToolUseID,
					Name:       names.resolve(b.ToolUseID, ""),
				})
			case "image":
				if b.Source == nil {
					continue
				}
				url := b.Source.URL
				if b.Source.Type == "base64" {
					url = dataURI(b.Source.MediaType, b.Source.Data)
				}
				blocks = append(blocks, core.ContentBlock{Type: "image_url", ImageURL: &core.ImageURL{URL: url}})
			default:
				blocks = append(blocks, core.ContentBlock{Type: "text", Text: b.Text})
			}
		}
		if len(blocks) > 0 {
			out = append(out, core.Message{Role: core.RoleUser, Content: userContent(blocks)})
		}
	}
	return out
}

// FromAnthropicContent converts an assistant block list, as found in a
// messages API response, to a canonical assistant message.
func FromAnthropicContent(blocks []AnthropicBlock) core.Message {
	msg := core.Message{Role: core.RoleAssistant}
	var text strings.Builder
	hasText := false
	for _, b := range blocks {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
			hasText = true
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, core.NewToolCall(b.ID, b.Name, argumentsString(b.Input)))
		}
	}
	if hasText {
		msg.Content = core.TextContent(text.String())
	}
	return msg
}

// ToAnthropicTools converts canonical tool declarations.
func ToAnthropicTools(tools []core.Tool) []AnthropicTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]AnthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, AnthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: objectSchema(t.Parameters),
		})
	}
	return out
}

// FromAnthropicTools converts provider tool declarations.
func FromAnthropicTools(tools []AnthropicTool) []core.Tool {
	out := make([]core.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, core.Tool{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}
	return out
}
