// Package core defines the core interfaces and types for the gateway.
package core

import (
	"context"
	"io"
)

// ChatProvider is a single upstream text-generation API.
type ChatProvider interface {
	// Name returns the provider key ("openai", "anthropic", "gemini").
	Name() string

	// Call issues one request/response exchange. It never retries.
	Call(ctx context.Context, req *CompletionRequest) (*Completion, error)

	// Stream returns the raw upstream event stream (caller must close)
	Stream(ctx context.Context, req *CompletionRequest) (io.ReadCloser, error)
}

// ProviderLookup resolves a provider by name.
type ProviderLookup interface {
	Provider(name string) (ChatProvider, error)
}
