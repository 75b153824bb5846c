package core

// TokenUsage reports token consumption. Providers disagree on naming, so
// both the prompt/completion and input/output pairs are optional.
type TokenUsage struct {
	PromptTokens     *int `json:"prompt_tokens,omitempty"`
	CompletionTokens *int `json:"completion_tokens,omitempty"`
	InputTokens      *int `json:"input_tokens,omitempty"`
	OutputTokens     *int `json:"output_tokens,omitempty"`
	TotalTokens      *int `json:"total_tokens,omitempty"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// PromptOrInput returns the tokens consumed by the request side.
func (u TokenUsage) PromptOrInput() int {
	if u.PromptTokens != nil {
		return *u.PromptTokens
	}
	return deref(u.InputTokens)
}

// CompletionOrOutput returns the tokens produced by the model.
func (u TokenUsage) CompletionOrOutput() int {
	if u.CompletionTokens != nil {
		return *u.CompletionTokens
	}
	return deref(u.OutputTokens)
}

// Total returns TotalTokens, or the derived sum when it is absent.
func (u TokenUsage) Total() int {
	if u.TotalTokens != nil {
		return *u.TotalTokens
	}
	return u.PromptOrInput() + u.CompletionOrOutput()
}

// Normalized returns a copy with TotalTokens derived when absent.
func (u TokenUsage) Normalized() TokenUsage {
	if u.TotalTokens == nil {
		u.TotalTokens = IntPtr(u.Total())
	}
	return u
}

// Add sums two usages field by field. Each missing field counts as zero,
// and a field stays absent only when it is absent on both sides.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     addOptional(u.PromptTokens, other.PromptTokens),
		CompletionTokens: addOptional(u.CompletionTokens, other.CompletionTokens),
		InputTokens:      addOptional(u.InputTokens, other.InputTokens),
		OutputTokens:     addOptional(u.OutputTokens, other.OutputTokens),
		TotalTokens:      addOptional(u.TotalTokens, other.TotalTokens),
	}
}

func addOptional(a, b *int) *int {
	if a == nil && b == nil {
		return nil
	}
	return IntPtr(deref(a) + deref(b))
}

// ZeroUsage is reported by streams whose upstream never sends counts.
func ZeroUsage() TokenUsage {
	return TokenUsage{PromptTokens: IntPtr(0), CompletionTokens: IntPtr(0), TotalTokens: IntPtr(0)}
}
