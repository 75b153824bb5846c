// Package usage records per-request token usage and cost. Entries are
// queued by an async logger and written in batches to SQLite, PostgreSQL
// or MongoDB.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"toolgate/internal/core"
)

// UsageStore persists usage entries. Implementations must be safe for
// concurrent use.
type UsageStore interface {
	// WriteBatch writes entries; called by Logger on flush.
	WriteBatch(ctx context.Context, entries []*UsageEntry) error
	// Flush forces pending writes to complete.
	Flush(ctx context.Context) error
	// Close stops background work. The database itself is owned by the
	// storage layer.
	Close() error
}

// UsageEntry is one completed gateway request. In MongoDB the entry id is
// the document _id.
type UsageEntry struct {
	ID        string    `json:"id" bson:"_id"`
	RequestID string    `json:"request_id" bson:"request_id"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	Provider string `json:"provider" bson:"provider"`
	Model    string `json:"model" bson:"model"`
	Endpoint string `json:"endpoint" bson:"endpoint"`
	Stream   bool   `json:"stream" bson:"stream"`

	InputTokens  int `json:"input_tokens" bson:"input_tokens"`
	OutputTokens int `json:"output_tokens" bson:"output_tokens"`
	TotalTokens  int `json:"total_tokens" bson:"total_tokens"`

	Cost       float64 `json:"cost" bson:"cost"`
	Iterations int     `json:"iterations" bson:"iterations"`
	ToolCalls  int     `json:"tool_calls" bson:"tool_calls"`
	LatencyMs  int64   `json:"latency_ms" bson:"latency_ms"`
}

// Record is what the request path knows about a finished request.
type Record struct {
	RequestID  string
	Provider   string
	Model      string
	Endpoint   string
	Stream     bool
	Usage      core.TokenUsage
	Cost       float64
	Iterations int
	ToolCalls  int
	Latency    time.Duration
}

// NewEntry builds an entry with a fresh id, normalizing the two token
// naming schemes into input/output.
func NewEntry(r Record) *UsageEntry {
	return &UsageEntry{
		ID:           uuid.NewString(),
		RequestID:    r.RequestID,
		Timestamp:    time.Now().UTC(),
		Provider:     r.Provider,
		Model:        r.Model,
		Endpoint:     r.Endpoint,
		Stream:       r.Stream,
		InputTokens:  r.Usage.PromptOrInput(),
		OutputTokens: r.Usage.CompletionOrOutput(),
		TotalTokens:  r.Usage.Total(),
		Cost:         r.Cost,
		Iterations:   r.Iterations,
		ToolCalls:    r.ToolCalls,
		LatencyMs:    r.Latency.Milliseconds(),
	}
}

// Config holds usage tracking configuration
type Config struct {
	Enabled bool
	// BufferSize is the queue capacity; entries beyond it are dropped.
	BufferSize int
	// FlushInterval is how often buffered entries are written.
	FlushInterval time.Duration
	// RetentionDays is how long entries are kept (0 = forever).
	RetentionDays int
}
