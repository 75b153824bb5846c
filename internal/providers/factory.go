// Package providers builds provider adapters from configuration and routes
// requests to them by name.
package providers

import (
	"fmt"
	"sort"
	"sync"

	"toolgate/config"
	"toolgate/internal/core"
	"toolgate/internal/httpclient"
	"toolgate/internal/llmclient"
)

// ProviderOptions carries shared settings into every adapter constructor.
type ProviderOptions struct {
	// HTTP tunes upstream clients. Nil means httpclient defaults.
	HTTP  *httpclient.ClientConfig
	Hooks llmclient.Hooks
}

// Builder creates a provider instance from configuration
type Builder func(cfg config.ProviderConfig, opts ProviderOptions) (core.ChatProvider, error)

// Registration lets an adapter package describe itself to the factory.
type Registration struct {
	Type string
	New  Builder
}

// ProviderFactory holds adapter builders and the options passed to them.
type ProviderFactory struct {
	mu       sync.RWMutex
	builders map[string]Builder
	opts     ProviderOptions
}

// NewProviderFactory returns an empty factory.
func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{builders: make(map[string]Builder)}
}

// Add registers an adapter by its Registration.
func (f *ProviderFactory) Add(reg Registration) {
	f.Register(reg.Type, reg.New)
}

// Register associates a builder with a provider type
func (f *ProviderFactory) Register(providerType string, builder Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[providerType] = builder
}

// SetHooks sets the observability hooks passed to new providers.
func (f *ProviderFactory) SetHooks(hooks llmclient.Hooks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts.Hooks = hooks
}

// GetHooks returns the configured hooks
func (f *ProviderFactory) GetHooks() llmclient.Hooks {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.opts.Hooks
}

// SetHTTPConfig sets the upstream HTTP client tuning passed to new providers.
func (f *ProviderFactory) SetHTTPConfig(cfg *httpclient.ClientConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts.HTTP = cfg
}

// Create instantiates a provider based on configuration
func (f *ProviderFactory) Create(cfg config.ProviderConfig) (core.ChatProvider, error) {
	f.mu.RLock()
	builder, ok := f.builders[cfg.Type]
	opts := f.opts
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
	return builder(cfg, opts)
}

// ListRegistered returns all registered provider types in sorted order
func (f *ProviderFactory) ListRegistered() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsRegistered reports whether a builder exists for providerType.
func (f *ProviderFactory) IsRegistered(providerType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.builders[providerType]
	return ok
}
