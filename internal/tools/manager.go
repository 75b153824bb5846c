// Package tools aggregates the tools advertised by every configured tool
// server into one registry and dispatches calls to the owning server.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"toolgate/config"
	"toolgate/internal/core"
	"toolgate/internal/toolproto"
)

// ErrToolNotFound is returned when no server advertises the requested tool.
var ErrToolNotFound = errors.New("tool not found")

// refreshTimeout bounds a tool-list refresh triggered by the server.
const refreshTimeout = 30 * time.Second

// Call outcomes reported to CallObserver.
const (
	OutcomeOK        = "ok"
	OutcomeToolError = "tool_error"
	OutcomeError     = "error"
	OutcomeNotFound  = "not_found"
)

// CallObserver is told about every dispatched call.
type CallObserver func(server, tool, outcome string, elapsed time.Duration)

// Entry is one registered tool and the server that owns it.
type Entry struct {
	Server string
	Tool   mcp.Tool
}

// ServerStatus describes one configured server.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	State     string `json:"state"`
	Tools     int    `json:"tools"`
}

// Options configures a Manager. Zero values select production defaults.
type Options struct {
	NewTransport TransportFactory
	// Client is the base client configuration; the per-server timeout
	// from config overrides Client.Timeout.
	Client        toolproto.ClientOptions
	OnStateChange toolproto.StateObserver
	OnCall        CallObserver
}

type server struct {
	cfg    config.ToolServerConfig
	client *toolproto.Client
}

// Manager owns one client per configured server and the tool registry
// built from their discovered tools.
type Manager struct {
	opts Options

	mu      sync.RWMutex
	servers map[string]*server
	order   []string
	entries map[string]Entry
}

// NewManager returns an empty manager.
func NewManager(opts Options) *Manager {
	if opts.NewTransport == nil {
		opts.NewTransport = NewTransport
	}
	return &Manager{
		opts:    opts,
		servers: make(map[string]*server),
		entries: make(map[string]Entry),
	}
}

// Initialize connects to every configured server concurrently and registers
// their tools in config order. A server that fails is logged and skipped;
// its client stays in the error state and is still reported by Status.
func (m *Manager) Initialize(ctx context.Context, configs []config.ToolServerConfig) error {
	type outcome struct {
		srv *server
		err error
	}
	results := make([]outcome, len(configs))

	var wg sync.WaitGroup
	for i, cfg := range configs {
		transport, err := m.opts.NewTransport(cfg)
		if err != nil {
			results[i] = outcome{err: err}
			continue
		}
		srv := &server{cfg: cfg, client: m.newClient(cfg, transport)}
		results[i].srv = srv

		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i].err = srv.client.Initialize(ctx)
		}()
	}
	wg.Wait()

	var ready int
	for i, r := range results {
		name := configs[i].Name
		if r.srv != nil {
			m.mu.Lock()
			m.servers[name] = r.srv
			m.order = append(m.order, name)
			m.mu.Unlock()
		}
		if r.err != nil {
			slog.Error("tool server initialization failed, skipping", "server", name, "error", r.err)
			continue
		}
		m.register(name, r.srv.client.Tools())
		ready++
	}

	slog.Info("tool servers initialized",
		"configured", len(configs),
		"ready", ready,
		"tools", len(m.Tools()),
	)
	return ctx.Err()
}

func (m *Manager) newClient(cfg config.ToolServerConfig, transport toolproto.Transport) *toolproto.Client {
	opts := m.opts.Client
	opts.Timeout = cfg.Timeout()
	name := cfg.Name
	opts.OnToolsChanged = func() { m.refresh(name) }

	client := toolproto.NewClient(name, transport, opts)
	if m.opts.OnStateChange != nil {
		client.OnStateChange(m.opts.OnStateChange)
	}
	return client
}

// register replaces every entry owned by serverName with tools. A name
// already owned by another server is taken over, last registration wins.
func (m *Manager) register(serverName string, tools []mcp.Tool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, e := range m.entries {
		if e.Server == serverName {
			delete(m.entries, name)
		}
	}
	for _, t := range tools {
		if prev, ok := m.entries[t.Name]; ok && prev.Server != serverName {
			slog.Warn("tool name collision, later server wins",
				"tool", t.Name,
				"previous_server", prev.Server,
				"server", serverName,
			)
		}
		m.entries[t.Name] = Entry{Server: serverName, Tool: t}
	}
}

// refresh re-runs discovery for one server after it announced a change.
func (m *Manager) refresh(serverName string) {
	m.mu.RLock()
	srv, ok := m.servers[serverName]
	m.mu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	tools, err := srv.client.RefreshTools(ctx)
	if err != nil {
		slog.Warn("tool list refresh failed", "server", serverName, "error", err)
		return
	}
	m.register(serverName, tools)
	slog.Info("tool list refreshed", "server", serverName, "tools", len(tools))
}

// Lookup returns the registry entry for a tool name.
func (m *Manager) Lookup(name string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	return e, ok
}

// Tools returns every registered tool in canonical form, sorted by name.
func (m *Manager) Tools() []core.Tool {
	m.mu.RLock()
	out := make([]core.Tool, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, CanonicalTool(e.Tool))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Entries returns the registry sorted by tool name.
func (m *Manager) Entries() []Entry {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Tool.Name < out[j].Tool.Name })
	return out
}

// CallTool dispatches a call to the server owning name.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	m.mu.RLock()
	entry, ok := m.entries[name]
	var srv *server
	if ok {
		srv = m.servers[entry.Server]
	}
	m.mu.RUnlock()

	if !ok || srv == nil {
		m.observe("", name, OutcomeNotFound, 0)
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	start := time.Now()
	res, err := srv.client.CallTool(ctx, name, args)
	elapsed := time.Since(start)
	switch {
	case err != nil:
		m.observe(entry.Server, name, OutcomeError, elapsed)
		return nil, fmt.Errorf("tool %s on %s: %w", name, entry.Server, err)
	case res.IsError:
		m.observe(entry.Server, name, OutcomeToolError, elapsed)
	default:
		m.observe(entry.Server, name, OutcomeOK, elapsed)
	}
	return res, nil
}

func (m *Manager) observe(server, tool, outcome string, elapsed time.Duration) {
	if m.opts.OnCall != nil {
		m.opts.OnCall(server, tool, outcome, elapsed)
	}
}

// Status reports every configured server in config order.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int, len(m.servers))
	for _, e := range m.entries {
		counts[e.Server]++
	}
	out := make([]ServerStatus, 0, len(m.order))
	for _, name := range m.order {
		srv := m.servers[name]
		out = append(out, ServerStatus{
			Name:      name,
			Transport: srv.cfg.TransportKind(),
			State:     srv.client.State().String(),
			Tools:     counts[name],
		})
	}
	return out
}

// Shutdown disconnects every client and clears the registry. Every client
// is closed even when some fail; their errors are joined.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	servers := m.servers
	order := m.order
	m.servers = make(map[string]*server)
	m.order = nil
	m.entries = make(map[string]Entry)
	m.mu.Unlock()

	var errs []error
	for _, name := range order {
		if err := servers[name].client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	if len(order) > 0 {
		slog.Info("tool servers disconnected", "count", len(order))
	}
	return errors.Join(errs...)
}
