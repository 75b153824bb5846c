// Package convert maps canonical messages and tools to and from the wire
// shapes of each supported provider. Every function is pure: tool calls and
// tool results always survive conversion.
package convert

import (
	"bytes"
	"encoding/json"
	"strings"

	"toolgate/internal/core"
)

// rawArgumentsKey wraps argument strings that are not a JSON object, for
// providers that require an object.
const rawArgumentsKey = "_raw_arguments"

// argumentsObject turns a tool call's argument string into a JSON object.
func argumentsObject(args string) json.RawMessage {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(trimmed)) && trimmed[0] == '{' {
		return compact(json.RawMessage(trimmed))
	}
	wrapped, _ := json.Marshal(map[string]string{rawArgumentsKey: args})
	return wrapped
}

// argumentsString renders a provider's argument object as the canonical
// opaque string.
func argumentsString(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "{}"
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped) == 1 {
		if inner, ok := wrapped[rawArgumentsKey]; ok {
			var s string
			if json.Unmarshal(inner, &s) == nil {
				return s
			}
		}
	}
	return string(compact(raw))
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// toolNames indexes tool call ids to function names across a conversation,
// so results can be labelled for providers that key them by name.
type toolNames map[string]string

func (n toolNames) record(calls []core.ToolCall) {
	for _, tc := range calls {
		n[tc.ID] = tc.Function.Name
	}
}

func (n toolNames) resolve(id, fallback string) string {
	if fallback != "" {
		return fallback
	}
	return n[id]
}

// parseDataURI splits "data:<media>;base64,<payload>".
func parseDataURI(uri string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(uri, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", "", false
	}
	return mediaType, payload, true
}

func dataURI(mediaType, data string) string {
	return "data:" + mediaType + ";base64," + data
}

// userContent builds canonical content from collected blocks, collapsing a
// lone text block back to plain text.
func userContent(blocks []core.ContentBlock) core.MessageContent {
	if len(blocks) == 1 && blocks[0].Type == "text" {
		return core.TextContent(blocks[0].Text)
	}
	return core.BlockContent(blocks...)
}

func contentBlocks(c core.MessageContent) []core.ContentBlock {
	if c.IsText() {
		return []core.ContentBlock{{Type: "text", Text: c.Text()}}
	}
	return c.Blocks()
}
