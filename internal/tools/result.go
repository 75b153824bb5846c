package tools

import (
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"toolgate/internal/core"
)

// ResultText flattens a tool result into the text fed back to the model.
// Text blocks are joined with newlines; other blocks are rendered as JSON.
func ResultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if text, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, text.Text)
			continue
		}
		raw, err := json.Marshal(c)
		if err != nil {
			continue
		}
		parts = append(parts, string(raw))
	}
	return strings.Join(parts, "\n")
}

// CanonicalTool converts a discovered tool into the form offered to models.
func CanonicalTool(t mcp.Tool) core.Tool {
	params := core.ToolParameters{
		Type:       t.InputSchema.Type,
		Properties: t.InputSchema.Properties,
		Required:   t.InputSchema.Required,
	}
	if params.Type == "" {
		params.Type = "object"
	}
	return core.Tool{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}
}
