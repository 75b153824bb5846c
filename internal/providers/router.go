package providers

import (
	"fmt"
	"log/slog"
	"sort"

	"toolgate/config"
	"toolgate/internal/core"
)

// Router resolves a request's provider name to a configured adapter.
type Router struct {
	providers map[string]core.ChatProvider
	factory   *ProviderFactory
}

// NewRouter builds every configured provider. Providers that fail to build
// are logged and left out; asking for them later yields a configuration
// error.
func NewRouter(factory *ProviderFactory, configs map[string]config.ProviderConfig) (*Router, error) {
	if factory == nil {
		return nil, fmt.Errorf("factory cannot be nil")
	}

	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	r := &Router{
		providers: make(map[string]core.ChatProvider, len(configs)),
		factory:   factory,
	}
	for _, name := range names {
		pCfg := configs[name]
		if pCfg.Type == "" {
			pCfg.Type = name
		}
		p, err := factory.Create(pCfg)
		if err != nil {
			slog.Error("failed to initialize provider", "name", name, "type", pCfg.Type, "error", err)
			continue
		}
		r.providers[name] = p
		slog.Info("provider initialized", "name", name, "type", pCfg.Type)
	}
	return r, nil
}

// Provider implements core.ProviderLookup.
func (r *Router) Provider(name string) (core.ChatProvider, error) {
	if name == "" {
		return nil, core.NewInvalidRequestError("provider is required", nil)
	}
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	if r.factory.IsRegistered(name) {
		msg := fmt.Sprintf("provider %s is not configured", name)
		if env := config.ProviderAPIKeyEnv(name); env != "" {
			msg += ": set " + env
		}
		return nil, core.NewConfigurationError(name, msg)
	}
	return nil, core.NewInvalidRequestError(fmt.Sprintf("unknown provider: %s", name), nil)
}

// Names returns the configured provider names in sorted order.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
