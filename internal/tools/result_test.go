package tools

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
)

func TestResultText(t *testing.T) {
	tests := []struct {
		name string
		res  *mcp.CallToolResult
		want string
	}{
		{"nil", nil, ""},
		{"single text", &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("hello")}}, "hello"},
		{
			"several texts",
			&mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("a"), mcp.NewTextContent("b")}},
			"a\nb",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResultText(tt.res); got != tt.want {
				t.Errorf("ResultText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResultText_NonTextBlock(t *testing.T) {
	res := &mcp.CallToolResult{Content: []mcp.Content{mcp.NewImageContent("aGk=", "image/png")}}
	got := ResultText(res)
	assert.Contains(t, got, `"type":"image"`)
	assert.Contains(t, got, `"mimeType":"image/png"`)
}

func TestCanonicalTool(t *testing.T) {
	tool := mcp.Tool{
		Name:        "lookup",
		Description: "Looks things up",
		InputSchema: mcp.ToolInputSchema{
			Properties: map[string]any{"q": map[string]any{"type": "string"}},
			Required:   []string{"q"},
		},
	}
	got := CanonicalTool(tool)
	assert.Equal(t, "lookup", got.Name)
	assert.Equal(t, "Looks things up", got.Description)
	assert.Equal(t, "object", got.Parameters.Type)
	assert.Equal(t, []string{"q"}, got.Parameters.Required)
	assert.Contains(t, got.Parameters.Properties, "q")
}
