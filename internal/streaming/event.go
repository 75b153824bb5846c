// Package streaming converts each provider's incremental wire format into
// one unified event sequence: any number of chunk and tool_call events
// followed by exactly one done or error event.
package streaming

import (
	"toolgate/internal/core"
)

// EventType names a unified stream event. The values double as the SSE
// event names sent to clients.
type EventType string

const (
	EventChunk        EventType = "chunk"
	EventToolProgress EventType = "tool_call"
	EventDone         EventType = "done"
	EventError        EventType = "error"
)

// ToolProgress is a fragment of a tool call under construction. Fields are
// fragments: Name and Arguments append to what earlier events carried for
// the same Index.
type ToolProgress struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Done closes a successful stream.
type Done struct {
	Usage        core.TokenUsage `json:"usage"`
	Cost         float64         `json:"cost"`
	LatencyMs    int64           `json:"latency_ms"`
	ToolCalls    []core.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// Failure closes a failed stream.
type Failure struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Event is one unified stream event. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type    EventType
	Content string
	Tool    *ToolProgress
	Done    *Done
	Err     *Failure
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Payload returns the JSON body sent with the event.
func (e Event) Payload() any {
	switch e.Type {
	case EventChunk:
		return map[string]string{"content": e.Content}
	case EventToolProgress:
		return e.Tool
	case EventDone:
		return e.Done
	default:
		return e.Err
	}
}

func chunkEvent(content string) Event {
	return Event{Type: EventChunk, Content: content}
}

func toolEvent(p ToolProgress) Event {
	return Event{Type: EventToolProgress, Tool: &p}
}

func doneEvent(d Done) Event {
	d.Usage = d.Usage.Normalized()
	return Event{Type: EventDone, Done: &d}
}

func errorEvent(message, detail string) Event {
	return Event{Type: EventError, Err: &Failure{Message: message, Detail: detail}}
}
