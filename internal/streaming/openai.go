package streaming

import (
	"bytes"
	"encoding/json"

	"toolgate/internal/core"
	"toolgate/internal/framing"
)

// openAIChunk is one chat.completion.chunk object.
type openAIChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

var doneSentinel = []byte("[DONE]")

// OpenAI normalizes the delta-list format: "data:" lines carrying JSON
// chunks, terminated by "data: [DONE]". Tool-call fragments are keyed by
// index and accumulated until the sentinel.
type OpenAI struct {
	terminal
	lines        framing.LineBuffer
	tools        toolAccumulator
	usage        *core.TokenUsage
	finishReason string
}

// NewOpenAI returns a delta-list normalizer.
func NewOpenAI() *OpenAI { return &OpenAI{} }

// Feed implements Normalizer.
func (n *OpenAI) Feed(p []byte) []Event {
	if n.finished {
		return nil
	}
	return n.handleLines(n.lines.Push(p))
}

// End implements Normalizer. A stream that stops before the sentinel is an
// error.
func (n *OpenAI) End() []Event {
	if n.finished {
		return nil
	}
	var out []Event
	if rest := n.lines.Flush(); rest != nil {
		out = n.handleLines([][]byte{rest})
	}
	if !n.finished {
		out = append(out, n.finish(errorEvent("upstream stream ended before completion", "missing [DONE] terminator")))
	}
	return out
}

func (n *OpenAI) handleLines(lines [][]byte) []Event {
	var out []Event
	for _, line := range lines {
		if n.finished {
			break
		}
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		out = append(out, n.handleData(bytes.TrimSpace(data))...)
	}
	return out
}

func (n *OpenAI) handleData(data []byte) []Event {
	if len(data) == 0 {
		return nil
	}
	if bytes.Equal(data, doneSentinel) {
		usage := core.ZeroUsage()
		if n.usage != nil {
			usage = *n.usage
		}
		return []Event{n.finish(doneEvent(Done{
			Usage:        usage,
			ToolCalls:    n.tools.list(),
			FinishReason: n.finishReason,
		}))}
	}

	var chunk openAIChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		logMalformed("openai", string(data), err)
		return nil
	}
	if chunk.Error != nil {
		return []Event{n.finish(errorEvent(chunk.Error.Message, chunk.Error.Type))}
	}
	if chunk.Usage != nil {
		n.usage = &core.TokenUsage{
			PromptTokens:     core.IntPtr(chunk.Usage.PromptTokens),
			CompletionTokens: core.IntPtr(chunk.Usage.CompletionTokens),
			TotalTokens:      core.IntPtr(chunk.Usage.TotalTokens),
		}
	}

	var out []Event
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			out = append(out, chunkEvent(choice.Delta.Content))
		}
		for _, tc := range choice.Delta.ToolCalls {
			p := ToolProgress{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}
			n.tools.apply(p)
			out = append(out, toolEvent(p))
		}
		if choice.FinishReason != nil {
			n.finishReason = *choice.FinishReason
		}
	}
	return out
}
