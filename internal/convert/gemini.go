package convert

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"toolgate/internal/core"
)

// Gemini roles.
const (
	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

// GeminiContent is one turn of a generateContent conversation.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart holds exactly one kind of payload.
type GeminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *GeminiBlob             `json:"inlineData,omitempty"`
	FileData         *GeminiFileData         `json:"fileData,omitempty"`
	FunctionCall     *GeminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResponse `json:"functionResponse,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
}

// MarshalJSON writes "text" whenever no other payload is set, so an empty
// part is still a text part.
func (p GeminiPart) MarshalJSON() ([]byte, error) {
	type plain GeminiPart
	if p.InlineData != nil || p.FileData != nil || p.FunctionCall != nil || p.FunctionResponse != nil {
		return json.Marshal(plain(p))
	}
	return json.Marshal(struct {
		plain
		Text string `json:"text"`
	}{plain(p), p.Text})
}

// GeminiBlob is inline base64 media.
type GeminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GeminiFileData references remote media.
type GeminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

// GeminiFunctionCall is a model's request to invoke a function.
type GeminiFunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// GeminiFunctionResponse returns a function's output to the model.
type GeminiFunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// GeminiTool groups function declarations.
type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations"`
}

// GeminiFunctionDeclaration describes one callable function.
type GeminiFunctionDeclaration struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Parameters  *core.ToolParameters `json:"parameters,omitempty"`
}

// ToGeminiContents converts canonical messages. Gemini has no system role,
// so system messages become user turns. Tool results become
// functionResponse parts, and consecutive results share one user turn.
func ToGeminiContents(messages []core.Message) []GeminiContent {
	names := toolNames{}
	out := make([]GeminiContent, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			out = append(out, GeminiContent{Role: geminiRoleUser, Parts: []GeminiPart{{Text: m.Content.Text()}}})
		case core.RoleAssistant:
			var parts []GeminiPart
			if text := m.Content.Text(); text != "" {
				parts = append(parts, GeminiPart{Text: text})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, GeminiPart{FunctionCall: &GeminiFunctionCall{
					ID:   tc.ID,
					Name: tc.Function.Name,
					Args: argumentsObject(tc.Function.Arguments),
				}})
			}
			if len(parts) == 0 {
				parts = []GeminiPart{{}}
			}
			names.record(m.ToolCalls)
			out = append(out, GeminiContent{Role: geminiRoleModel, Parts: parts})
		case core.RoleTool:
			part := GeminiPart{FunctionResponse: &GeminiFunctionResponse{
				ID:       m.ToolCallID,
				Name:     names.resolve(m.ToolCallID, m.Name),
				Response: map[string]any{"content": m.Content.Text()},
			}}
			if n := len(out); n > 0 && isFunctionResponseTurn(out[n-1]) {
				out[n-1].Parts = append(out[n-1].Parts, part)
				continue
			}
			out = append(out, GeminiContent{Role: geminiRoleUser, Parts: []GeminiPart{part}})
		default:
			parts := toGeminiParts(m.Content)
			if len(parts) == 0 {
				parts = []GeminiPart{{}}
			}
			out = append(out, GeminiContent{Role: geminiRoleUser, Parts: parts})
		}
	}
	return out
}

func isFunctionResponseTurn(c GeminiContent) bool {
	if c.Role != geminiRoleUser || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func toGeminiParts(c core.MessageContent) []GeminiPart {
	var parts []GeminiPart
	for _, b := range contentBlocks(c) {
		switch b.Type {
		case "image_url":
			if b.ImageURL == nil {
				continue
			}
			if media, data, ok := parseDataURI(b.ImageURL.URL); ok {
				parts = append(parts, GeminiPart{InlineData: &GeminiBlob{MimeType: media, Data: data}})
			} else {
				parts = append(parts, GeminiPart{FileData: &GeminiFileData{FileURI: b.ImageURL.URL}})
			}
		default:
			parts = append(parts, GeminiPart{Text: b.Text})
		}
	}
	return parts
}

// FromGeminiContents converts provider turns back to canonical form. Turns
// folded from system messages come back as user messages. Function calls
// without an id get a generated one; function responses without an id are
// matched to the oldest unanswered call of the same name.
func FromGeminiContents(contents []GeminiContent) []core.Message {
	var unanswered []core.ToolCall
	out := make([]core.Message, 0, len(contents))
	for _, c := range contents {
		if c.Role == geminiRoleModel {
			msg := FromGeminiParts(c.Parts)
			unanswered = append(unanswered, msg.ToolCalls...)
			out = append(out, msg)
			continue
		}
		var blocks []core.ContentBlock
		for _, p := range c.Parts {
			switch {
			case p.FunctionResponse != nil:
				id := p.FunctionResponse.ID
				unanswered, id = answer(unanswered, id, p.FunctionResponse.Name)
				out = append(out, core.Message{
					Role:       core.RoleTool,
					Content:    core.TextContent(functionResponseText(p.FunctionResponse.Response)),
					ToolCallID: id,
					Name:       p.FunctionResponse.Name,
				})
			case p.InlineData != nil:
				blocks = append(blocks, core.ContentBlock{Type: "image_url", ImageURL: &core.ImageURL{URL: dataURI(p.InlineData.MimeType, p.InlineData.Data)}})
			case p.FileData != nil:
				blocks = append(blocks, core.ContentBlock{Type: "image_url", ImageURL: &core.ImageURL{URL: p.FileData.FileURI}})
			default:
				blocks = append(blocks, core.ContentBlock{Type: "text", Text: p.Text})
			}
		}
		if len(blocks) > 0 {
			out = append(out, core.Message{Role: core.RoleUser, Content: userContent(blocks)})
		}
	}
	return out
}

// answer retires the matching call from the unanswered list and returns the
// id to use for the response.
func answer(unanswered []core.ToolCall, id, name string) ([]core.ToolCall, string) {
	for i, tc := range unanswered {
		if (id != "" && tc.ID == id) || (id == "" && tc.Function.Name == name) {
			return append(unanswered[:i:i], unanswered[i+1:]...), tc.ID
		}
	}
	return unanswered, id
}

func functionResponseText(resp map[string]any) string {
	if s, ok := resp["content"].(string); ok && len(resp) == 1 {
		return s
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return ""
	}
	return string(b)
}

// FromGeminiParts converts the parts of a model turn, as found in a
// candidate of a generateContent response. Thought parts are skipped.
func FromGeminiParts(parts []GeminiPart) core.Message {
	msg := core.Message{Role: core.RoleAssistant}
	var text strings.Builder
	hasText := false
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			id := p.FunctionCall.ID
			if id == "" {
				id = NewGeminiCallID()
			}
			msg.ToolCalls = append(msg.ToolCalls, core.NewToolCall(id, p.FunctionCall.Name, argumentsString(p.FunctionCall.Args)))
		case p.Thought:
		case p.InlineData == nil && p.FileData == nil && p.FunctionResponse == nil:
			text.WriteString(p.Text)
			hasText = true
		}
	}
	if hasText {
		msg.Content = core.TextContent(text.String())
	}
	return msg
}

// NewGeminiCallID returns an id for a function call that arrived without one.
func NewGeminiCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ToGeminiTools converts canonical tool declarations. Gemini rejects an
// object schema without properties, so such tools omit parameters.
func ToGeminiTools(tools []core.Tool) []GeminiTool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]GeminiFunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := GeminiFunctionDeclaration{Name: t.Name, Description: t.Description}
		if len(t.Parameters.Properties) > 0 {
			params := objectSchema(t.Parameters)
			params.Properties = sanitizeGeminiSchema(params.Properties)
			decl.Parameters = &params
		}
		decls = append(decls, decl)
	}
	return []GeminiTool{{FunctionDeclarations: decls}}
}

// FromGeminiTools converts provider tool declarations.
func FromGeminiTools(tools []GeminiTool) []core.Tool {
	var out []core.Tool
	for _, group := range tools {
		for _, d := range group.FunctionDeclarations {
			params := core.ToolParameters{Type: "object"}
			if d.Parameters != nil {
				params = *d.Parameters
			}
			out = append(out, core.Tool{Name: d.Name, Description: d.Description, Parameters: params})
		}
	}
	return out
}

// geminiUnsupportedKeys are JSON-schema keywords the Gemini schema subset
// rejects.
var geminiUnsupportedKeys = []string{"$schema", "$id", "additionalProperties"}

func sanitizeGeminiSchema(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = sanitizeGeminiValue(v)
	}
	return out
}

func sanitizeGeminiValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			skip := false
			for _, bad := range geminiUnsupportedKeys {
				if k == bad {
					skip = true
					break
				}
			}
			if !skip {
				out[k] = sanitizeGeminiValue(inner)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = sanitizeGeminiValue(inner)
		}
		return out
	default:
		return v
	}
}
