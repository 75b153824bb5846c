package streaming

import (
	"bytes"
	"encoding/json"

	"toolgate/internal/convert"
	"toolgate/internal/core"
	"toolgate/internal/framing"
)

// geminiChunk is one GenerateContentResponse delivered with alt=sse.
type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []convert.GeminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Gemini normalizes streamGenerateContent output. Function calls arrive
// whole, so each one yields a single tool_call event. There is no
// sentinel: upstream EOF ends the stream.
type Gemini struct {
	terminal
	lines        framing.LineBuffer
	tools        toolAccumulator
	usage        *core.TokenUsage
	finishReason string
	newID        func() string
}

// NewGemini returns a normalizer that names id-less function calls with
// newID.
func NewGemini(newID func() string) *Gemini {
	return &Gemini{newID: newID}
}

// Feed implements Normalizer.
func (n *Gemini) Feed(p []byte) []Event {
	if n.finished {
		return nil
	}
	return n.handleLines(n.lines.Push(p))
}

// End implements Normalizer.
func (n *Gemini) End() []Event {
	if n.finished {
		return nil
	}
	var out []Event
	if rest := n.lines.Flush(); rest != nil {
		out = n.handleLines([][]byte{rest})
	}
	if n.finished {
		return out
	}
	usage := core.ZeroUsage()
	if n.usage != nil {
		usage = *n.usage
	}
	return append(out, n.finish(doneEvent(Done{
		Usage:        usage,
		ToolCalls:    n.tools.list(),
		FinishReason: n.finishReason,
	})))
}

func (n *Gemini) handleLines(lines [][]byte) []Event {
	var out []Event
	for _, line := range lines {
		if n.finished {
			break
		}
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		out = append(out, n.handleData(data)...)
	}
	return out
}

func (n *Gemini) handleData(data []byte) []Event {
	var chunk geminiChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		logMalformed("gemini", string(data), err)
		return nil
	}
	if chunk.Error != nil {
		return []Event{n.finish(errorEvent(chunk.Error.Message, chunk.Error.Status))}
	}
	if u := chunk.UsageMetadata; u != nil {
		n.usage = &core.TokenUsage{
			PromptTokens:     core.IntPtr(u.PromptTokenCount),
			CompletionTokens: core.IntPtr(u.CandidatesTokenCount),
			TotalTokens:      core.IntPtr(u.TotalTokenCount),
		}
	}

	var out []Event
	for _, cand := range chunk.Candidates {
		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				id := part.FunctionCall.ID
				if id == "" {
					id = n.newID()
				}
				args := string(part.FunctionCall.Args)
				if args == "" || args == "null" {
					args = "{}"
				}
				p := ToolProgress{Index: n.tools.count(), ID: id, Name: part.FunctionCall.Name, Arguments: args}
				n.tools.apply(p)
				out = append(out, toolEvent(p))
			case part.Thought:
			case part.Text != "":
				out = append(out, chunkEvent(part.Text))
			}
		}
		if cand.FinishReason != "" {
			n.finishReason = cand.FinishReason
		}
	}
	return out
}
