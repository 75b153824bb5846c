package streaming

import (
	"encoding/json"

	"toolgate/internal/core"
	"toolgate/internal/framing"
)

// anthropicEvent is the data payload of one typed stream event.
type anthropicEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
		Text string `json:"text"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Anthropic normalizes the typed-event format. Text and tool_use blocks
// are delimited by content_block_start/stop and message_stop ends the
// stream.
//
// This format does not report usage in streaming mode, so done always
// carries zeroed usage. That is an upstream limitation, not an error.
type Anthropic struct {
	terminal
	sse          framing.SSEParser
	tools        toolAccumulator
	blockTool    map[int]int
	finishReason string
}

// NewAnthropic returns a typed-event normalizer.
func NewAnthropic() *Anthropic {
	return &Anthropic{blockTool: make(map[int]int)}
}

// Feed implements Normalizer.
func (n *Anthropic) Feed(p []byte) []Event {
	if n.finished {
		return nil
	}
	return n.handleEvents(n.sse.Push(p))
}

// End implements Normalizer. A stream that stops before message_stop is an
// error.
func (n *Anthropic) End() []Event {
	if n.finished {
		return nil
	}
	out := n.handleEvents(n.sse.Flush())
	if !n.finished {
		out = append(out, n.finish(errorEvent("upstream stream ended before completion", "missing message_stop event")))
	}
	return out
}

func (n *Anthropic) handleEvents(events []framing.Event) []Event {
	var out []Event
	for _, ev := range events {
		if n.finished {
			break
		}
		if ev.Data == "" {
			continue
		}
		var data anthropicEvent
		if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
			logMalformed("anthropic", ev.Data, err)
			continue
		}
		if data.Type == "" {
			data.Type = ev.Name
		}
		out = append(out, n.handle(&data)...)
	}
	return out
}

func (n *Anthropic) handle(ev *anthropicEvent) []Event {
	switch ev.Type {
	case "content_block_start":
		if ev.ContentBlock == nil {
			return nil
		}
		switch ev.ContentBlock.Type {
		case "tool_use":
			idx := n.tools.count()
			n.blockTool[ev.Index] = idx
			p := ToolProgress{Index: idx, ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
			n.tools.apply(p)
			return []Event{toolEvent(p)}
		case "text":
			if ev.ContentBlock.Text != "" {
				return []Event{chunkEvent(ev.ContentBlock.Text)}
			}
		}
	case "content_block_delta":
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			if ev.Delta.Text != "" {
				return []Event{chunkEvent(ev.Delta.Text)}
			}
		case "input_json_delta":
			idx, ok := n.blockTool[ev.Index]
			if !ok || ev.Delta.PartialJSON == "" {
				return nil
			}
			p := ToolProgress{Index: idx, Arguments: ev.Delta.PartialJSON}
			n.tools.apply(p)
			return []Event{toolEvent(p)}
		}
	case "message_delta":
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			n.finishReason = ev.Delta.StopReason
		}
	case "message_stop":
		return []Event{n.finish(doneEvent(Done{
			Usage:        core.ZeroUsage(),
			ToolCalls:    n.tools.list(),
			FinishReason: n.finishReason,
		}))}
	case "error":
		msg, detail := "upstream stream error", ""
		if ev.Error != nil {
			msg, detail = ev.Error.Message, ev.Error.Type
		}
		return []Event{n.finish(errorEvent(msg, detail))}
	}
	return nil
}
