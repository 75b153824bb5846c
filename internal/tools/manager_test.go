package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/config"
	"toolgate/internal/toolproto"
)

// fakeServer is an in-process tool server behind the Transport interface.
type fakeServer struct {
	name     string
	fail     bool
	closeErr error

	mu    sync.Mutex
	tools []string
	recv  toolproto.Receiver
}

func (f *fakeServer) Connect(_ context.Context, recv toolproto.Receiver) error {
	if f.fail {
		return errors.New("connection refused")
	}
	f.mu.Lock()
	f.recv = recv
	f.mu.Unlock()
	return nil
}

func (f *fakeServer) Send(_ context.Context, env *toolproto.Envelope) error {
	if !env.IsRequest() {
		return nil
	}
	resp, err := f.answer(env)
	if err != nil {
		return err
	}
	data, _ := json.Marshal(resp)
	f.mu.Lock()
	recv := f.recv
	f.mu.Unlock()
	go recv.HandleMessage(data)
	return nil
}

func (f *fakeServer) answer(env *toolproto.Envelope) (*toolproto.Envelope, error) {
	switch env.Method {
	case toolproto.MethodInitialize:
		return toolproto.NewResult(env.ID, map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"capabilities":    map[string]any{},
			"serverInfo":      map[string]any{"name": f.name, "version": "1"},
		})
	case toolproto.MethodToolsList:
		f.mu.Lock()
		defer f.mu.Unlock()
		list := make([]any, 0, len(f.tools))
		for _, name := range f.tools {
			list = append(list, map[string]any{
				"name":        name,
				"description": f.name + " " + name,
				"inputSchema": map[string]any{"type": "object", "properties": map[string]any{"q": map[string]any{"type": "string"}}, "required": []string{"q"}},
			})
		}
		return toolproto.NewResult(env.ID, map[string]any{"tools": list})
	case toolproto.MethodToolsCall:
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		_ = json.Unmarshal(env.Params, &params)
		if params.Name == "explode" {
			return toolproto.NewResult(env.ID, map[string]any{
				"content": []any{map[string]any{"type": "text", "text": "boom"}},
				"isError": true,
			})
		}
		return toolproto.NewResult(env.ID, map[string]any{
			"content": []any{map[string]any{"type": "text", "text": f.name + ":" + params.Name}},
		})
	}
	return toolproto.NewErrorResponse(env.ID, toolproto.CodeMethodNotFound, "unknown"), nil
}

func (f *fakeServer) Disconnect() error {
	f.mu.Lock()
	f.recv = nil
	f.mu.Unlock()
	return f.closeErr
}

func (f *fakeServer) notifyToolsChanged(tools ...string) {
	f.mu.Lock()
	f.tools = tools
	recv := f.recv
	f.mu.Unlock()
	recv.HandleMessage([]byte(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`))
}

type callRecord struct {
	server, tool, outcome string
}

type harness struct {
	manager *Manager
	servers map[string]*fakeServer

	mu    sync.Mutex
	calls []callRecord
}

func (h *harness) recorded() []callRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]callRecord(nil), h.calls...)
}

func newHarness(t *testing.T, servers ...*fakeServer) (*harness, []config.ToolServerConfig) {
	t.Helper()
	h := &harness{servers: make(map[string]*fakeServer)}
	var configs []config.ToolServerConfig
	for _, s := range servers {
		h.servers[s.name] = s
		configs = append(configs, config.ToolServerConfig{Name: s.name, Transport: config.TransportHTTP, URL: "http://" + s.name})
	}
	h.manager = NewManager(Options{
		NewTransport: func(cfg config.ToolServerConfig) (toolproto.Transport, error) {
			return h.servers[cfg.Name], nil
		},
		Client: toolproto.ClientOptions{
			Sleep: func(context.Context, time.Duration) error { return nil },
		},
		OnCall: func(server, tool, outcome string, _ time.Duration) {
			h.mu.Lock()
			h.calls = append(h.calls, callRecord{server, tool, outcome})
			h.mu.Unlock()
		},
	})
	return h, configs
}

func toolNames(m *Manager) []string {
	var names []string
	for _, tool := range m.Tools() {
		names = append(names, tool.Name)
	}
	return names
}

func TestManager_InitializeSkipsFailedServer(t *testing.T) {
	h, configs := newHarness(t,
		&fakeServer{name: "files", tools: []string{"read_file", "write_file"}},
		&fakeServer{name: "broken", fail: true, tools: []string{"never"}},
		&fakeServer{name: "search", tools: []string{"web_search"}},
	)

	require.NoError(t, h.manager.Initialize(context.Background(), configs))

	assert.Equal(t, []string{"read_file", "web_search", "write_file"}, toolNames(h.manager))
	assert.Equal(t, []ServerStatus{
		{Name: "files", Transport: config.TransportHTTP, State: "ready", Tools: 2},
		{Name: "broken", Transport: config.TransportHTTP, State: "error", Tools: 0},
		{Name: "search", Transport: config.TransportHTTP, State: "ready", Tools: 1},
	}, h.manager.Status())
}

func TestManager_InitializeTransportFactoryError(t *testing.T) {
	m := NewManager(Options{
		NewTransport: func(cfg config.ToolServerConfig) (toolproto.Transport, error) {
			return nil, errors.New("bad transport")
		},
	})
	require.NoError(t, m.Initialize(context.Background(), []config.ToolServerConfig{{Name: "x"}}))
	assert.Empty(t, m.Tools())
	assert.Empty(t, m.Status())
}

func TestManager_CollisionLastWins(t *testing.T) {
	h, configs := newHarness(t,
		&fakeServer{name: "first", tools: []string{"search"}},
		&fakeServer{name: "second", tools: []string{"search"}},
	)
	require.NoError(t, h.manager.Initialize(context.Background(), configs))

	entry, ok := h.manager.Lookup("search")
	require.True(t, ok)
	assert.Equal(t, "second", entry.Server)

	res, err := h.manager.CallTool(context.Background(), "search", map[string]any{"q": "go"})
	require.NoError(t, err)
	assert.Equal(t, "second:search", ResultText(res))
}

func TestManager_CallTool(t *testing.T) {
	h, configs := newHarness(t, &fakeServer{name: "files", tools: []string{"read_file", "explode"}})
	require.NoError(t, h.manager.Initialize(context.Background(), configs))

	res, err := h.manager.CallTool(context.Background(), "read_file", map[string]any{"q": "README"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "files:read_file", ResultText(res))

	res, err = h.manager.CallTool(context.Background(), "explode", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)

	_, err = h.manager.CallTool(context.Background(), "missing", nil)
	require.ErrorIs(t, err, ErrToolNotFound)
	assert.Contains(t, err.Error(), "missing")

	assert.Equal(t, []callRecord{
		{"files", "read_file", OutcomeOK},
		{"files", "explode", OutcomeToolError},
		{"", "missing", OutcomeNotFound},
	}, h.recorded())
}

func TestManager_RefreshOnListChanged(t *testing.T) {
	files := &fakeServer{name: "files", tools: []string{"read_file"}}
	h, configs := newHarness(t, files)
	require.NoError(t, h.manager.Initialize(context.Background(), configs))

	files.notifyToolsChanged("read_file", "list_dir")

	require.Eventually(t, func() bool {
		_, ok := h.manager.Lookup("list_dir")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"list_dir", "read_file"}, toolNames(h.manager))

	files.notifyToolsChanged("list_dir")
	require.Eventually(t, func() bool {
		_, ok := h.manager.Lookup("read_file")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestManager_Shutdown(t *testing.T) {
	closeErr := errors.New("kill failed")
	h, configs := newHarness(t,
		&fakeServer{name: "a", tools: []string{"one"}, closeErr: closeErr},
		&fakeServer{name: "b", tools: []string{"two"}},
	)
	require.NoError(t, h.manager.Initialize(context.Background(), configs))

	err := h.manager.Shutdown()
	require.ErrorIs(t, err, closeErr)
	assert.Contains(t, err.Error(), "close a")

	assert.Empty(t, h.manager.Tools())
	assert.Empty(t, h.manager.Status())
	_, err = h.manager.CallTool(context.Background(), "two", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)

	// b was closed despite a's failure.
	h.servers["b"].mu.Lock()
	defer h.servers["b"].mu.Unlock()
	assert.Nil(t, h.servers["b"].recv)
}

func TestNewTransport(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ToolServerConfig
		want    any
		wantErr bool
	}{
		{"pipe", config.ToolServerConfig{Name: "p", Command: "tool-server"}, &toolproto.PipeTransport{}, false},
		{"stdio alias", config.ToolServerConfig{Name: "p", Transport: "stdio", Command: "x"}, &toolproto.PipeTransport{}, false},
		{"http", config.ToolServerConfig{Name: "h", Transport: "http", URL: "http://localhost"}, &toolproto.HTTPTransport{}, false},
		{"push", config.ToolServerConfig{Name: "s", Transport: "sse", URL: "http://localhost/sse"}, &toolproto.PushTransport{}, false},
		{"unknown", config.ToolServerConfig{Name: "u", Transport: "carrier-pigeon"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewTransport(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, got)
		})
	}
}
