package streaming

import (
	"fmt"
	"log/slog"
	"sort"

	"toolgate/internal/convert"
	"toolgate/internal/core"
)

// Normalizer is a per-stream state machine. Feed accepts network reads of
// any size; End is called once on upstream EOF. After a terminal event
// both return nil.
type Normalizer interface {
	Feed(p []byte) []Event
	End() []Event
}

// ForProvider returns a fresh normalizer for the named provider's format.
func ForProvider(provider string) (Normalizer, error) {
	switch provider {
	case "openai":
		return NewOpenAI(), nil
	case "anthropic":
		return NewAnthropic(), nil
	case "gemini":
		return NewGemini(convert.NewGeminiCallID), nil
	default:
		return nil, fmt.Errorf("no stream normalizer for provider %q", provider)
	}
}

// terminal guards the one-terminal-event rule.
type terminal struct {
	finished bool
}

func (t *terminal) finish(ev Event) Event {
	t.finished = true
	return ev
}

// toolAccumulator assembles tool calls from fragments keyed by position.
type toolAccumulator struct {
	calls map[int]*core.ToolCall
}

func (a *toolAccumulator) apply(p ToolProgress) {
	if a.calls == nil {
		a.calls = make(map[int]*core.ToolCall)
	}
	tc, ok := a.calls[p.Index]
	if !ok {
		call := core.NewToolCall("", "", "")
		tc = &call
		a.calls[p.Index] = tc
	}
	if p.ID != "" {
		tc.ID = p.ID
	}
	tc.Function.Name += p.Name
	tc.Function.Arguments += p.Arguments
}

// list returns the calls ordered by index. Calls that never received an
// argument fragment get an empty object.
func (a *toolAccumulator) list() []core.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]core.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		tc := *a.calls[i]
		if tc.Function.Arguments == "" {
			tc.Function.Arguments = "{}"
		}
		out = append(out, tc)
	}
	return out
}

func (a *toolAccumulator) count() int { return len(a.calls) }

func logMalformed(provider string, data string, err error) {
	if len(data) > 256 {
		data = data[:256]
	}
	slog.Warn("skipping malformed stream fragment", "provider", provider, "data", data, "error", err)
}
