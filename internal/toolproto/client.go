package toolproto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// State is a client lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateInitializing
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// allowedTransitions lists the legal successors of each state. Error is
// reachable from anywhere and Disconnected only through Close.
var allowedTransitions = map[State][]State{
	StateDisconnected: {StateConnecting, StateError},
	StateConnecting:   {StateInitializing, StateError, StateDisconnected},
	StateInitializing: {StateReady, StateError, StateDisconnected},
	StateReady:        {StateError, StateDisconnected},
	StateError:        {StateConnecting, StateDisconnected},
}

func canTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateObserver is notified after every state change.
type StateObserver func(server string, from, to State)

// DefaultRequestTimeout bounds a request when ClientOptions.Timeout is zero.
const DefaultRequestTimeout = 30 * time.Second

// ClientOptions configures a Client.
type ClientOptions struct {
	// Timeout bounds every request, including tools/call.
	Timeout time.Duration
	// InitAttempts is how many times Initialize runs the handshake.
	InitAttempts int
	// InitBackoff spaces handshake attempts.
	InitBackoff Schedule
	Sleep       SleepFunc
	ClientInfo  mcp.Implementation
	// OnToolsChanged runs, on its own goroutine, when the server announces
	// that its tool list changed.
	OnToolsChanged func()
}

// Client speaks the tool protocol with one server over one Transport. It is
// safe for concurrent use once Ready.
type Client struct {
	name      string
	transport Transport
	opts      ClientOptions
	pending   *pendingTable

	mu         sync.RWMutex
	state      State
	observers  []StateObserver
	tools      []mcp.Tool
	serverInfo mcp.InitializeResult
}

// NewClient returns a disconnected client.
func NewClient(name string, transport Transport, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	if opts.InitAttempts <= 0 {
		opts.InitAttempts = DefaultInitAttempts
	}
	if opts.InitBackoff == nil {
		opts.InitBackoff = LinearBackoff{Base: DefaultInitBackoff}
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}
	if opts.ClientInfo.Name == "" {
		opts.ClientInfo = mcp.Implementation{Name: "toolgate", Version: "1.0.0"}
	}
	return &Client{
		name:      name,
		transport: transport,
		opts:      opts,
		pending:   newPendingTable(),
	}
}

// Name returns the server name.
func (c *Client) Name() string { return c.name }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// OnStateChange registers an observer.
func (c *Client) OnStateChange(fn StateObserver) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Tools returns the tools discovered by the last successful listing.
func (c *Client) Tools() []mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]mcp.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// ServerInfo returns the server's initialize result.
func (c *Client) ServerInfo() mcp.InitializeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// setState applies a legal transition and notifies observers. Illegal
// transitions are logged and ignored.
func (c *Client) setState(to State) bool {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return true
	}
	if !canTransition(from, to) {
		c.mu.Unlock()
		slog.Warn("rejected tool client state transition", "server", c.name, "from", from.String(), "to", to.String())
		return false
	}
	c.state = to
	observers := append([]StateObserver(nil), c.observers...)
	c.mu.Unlock()

	slog.Debug("tool client state", "server", c.name, "from", from.String(), "to", to.String())
	for _, fn := range observers {
		fn(c.name, from, to)
	}
	return true
}

// Initialize connects, performs the handshake and discovers tools, retrying
// on the InitBackoff schedule. After the last failed attempt the client is
// left in StateError and the last error is returned.
func (c *Client) Initialize(ctx context.Context) error {
	if c.State() == StateReady {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= c.opts.InitAttempts; attempt++ {
		lastErr = c.initializeOnce(ctx)
		if lastErr == nil {
			return nil
		}
		c.setState(StateError)
		_ = c.transport.Disconnect()
		slog.Warn("tool server initialize failed", "server", c.name, "attempt", attempt, "error", lastErr)

		if attempt == c.opts.InitAttempts {
			break
		}
		if err := c.opts.Sleep(ctx, c.opts.InitBackoff.Delay(attempt)); err != nil {
			return fmt.Errorf("initialize %s: %w", c.name, err)
		}
	}
	return fmt.Errorf("initialize %s failed after %d attempts: %w", c.name, c.opts.InitAttempts, lastErr)
}

func (c *Client) initializeOnce(ctx context.Context) error {
	if !c.setState(StateConnecting) {
		return fmt.Errorf("cannot connect from state %s", c.State())
	}
	if err := c.transport.Connect(ctx, c); err != nil {
		return err
	}
	c.setState(StateInitializing)

	params := mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo:      c.opts.ClientInfo,
	}
	raw, err := c.request(ctx, MethodInitialize, params)
	if err != nil {
		return err
	}
	var info mcp.InitializeResult
	if err := json.Unmarshal(raw, &info); err != nil {
		return &ProtocolError{Code: CodeParseError, Message: "invalid initialize result: " + err.Error()}
	}
	c.mu.Lock()
	c.serverInfo = info
	c.mu.Unlock()

	if err := c.notify(ctx, NotificationInitialized, nil); err != nil {
		return err
	}
	if _, err := c.listTools(ctx); err != nil {
		return err
	}
	if !c.setState(StateReady) {
		return fmt.Errorf("client left initializing before ready")
	}
	slog.Info("tool server ready",
		"server", c.name,
		"protocol_version", info.ProtocolVersion,
		"server_name", info.ServerInfo.Name,
		"tools", len(c.Tools()),
	)
	return nil
}

// RefreshTools re-runs tool discovery. It is only valid when ready.
func (c *Client) RefreshTools(ctx context.Context) ([]mcp.Tool, error) {
	if c.State() != StateReady {
		return nil, ErrNotReady
	}
	return c.listTools(ctx)
}

type listToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

func (c *Client) listTools(ctx context.Context) ([]mcp.Tool, error) {
	var tools []mcp.Tool
	cursor := ""
	for {
		raw, err := c.request(ctx, MethodToolsList, listToolsParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		var page mcp.ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, &ProtocolError{Code: CodeParseError, Message: "invalid tools/list result: " + err.Error()}
		}
		tools = append(tools, page.Tools...)
		next := string(page.NextCursor)
		if next == "" || next == cursor {
			break
		}
		cursor = next
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return tools, nil
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// CallTool invokes a tool. It fails with ErrNotReady unless the client is
// ready and with ErrTimeout when no reply arrives within the timeout.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if c.State() != StateReady {
		return nil, ErrNotReady
	}
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.request(ctx, MethodToolsCall, callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	msg := json.RawMessage(raw)
	result, err := mcp.ParseCallToolResult(&msg)
	if err != nil {
		return nil, &ProtocolError{Code: CodeParseError, Message: "invalid tools/call result: " + err.Error()}
	}
	return result, nil
}

// request sends one request and waits for its reply or the timeout. A reply
// that arrives after the timeout finds no pending entry and is dropped.
func (c *Client) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	id, ch := c.pending.register()
	env, err := NewRequest(id, method, params)
	if err != nil {
		c.pending.cancel(id)
		return nil, err
	}
	if err := c.transport.Send(ctx, env); err != nil {
		c.pending.cancel(id)
		if IsTransportKind(err, KindTimeout) {
			return nil, fmt.Errorf("%s %s: %w", c.name, method, ErrTimeout)
		}
		return nil, err
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.env.Error != nil {
			return nil, r.env.Error
		}
		return r.env.Result, nil
	case <-ctx.Done():
		c.pending.cancel(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s after %s: %w", c.name, method, c.opts.Timeout, ErrTimeout)
		}
		return nil, ctx.Err()
	}
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	env, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return c.transport.Send(ctx, env)
}

// HandleMessage implements Receiver.
func (c *Client) HandleMessage(data []byte) {
	envs, err := DecodeEnvelopes(data)
	if err != nil {
		slog.Warn("dropping malformed tool protocol message", "server", c.name, "error", err)
		return
	}
	for _, env := range envs {
		c.handleEnvelope(env)
	}
}

func (c *Client) handleEnvelope(env *Envelope) {
	switch {
	case env.IsRequest():
		go c.answerServerRequest(env)
	case env.IsNotification():
		c.handleNotification(env)
	default:
		id, ok := env.NumericID()
		if !ok {
			slog.Warn("dropping tool protocol response without usable id", "server", c.name, "id", string(env.ID))
			return
		}
		if !c.pending.resolve(id, reply{env: env}) {
			slog.Warn("dropping unmatched tool protocol response", "server", c.name, "id", id)
		}
	}
}

func (c *Client) handleNotification(env *Envelope) {
	switch env.Method {
	case NotificationToolsListChanged:
		slog.Info("tool list changed", "server", c.name)
		if c.opts.OnToolsChanged != nil {
			go c.opts.OnToolsChanged()
		}
	default:
		slog.Debug("tool server notification", "server", c.name, "method", env.Method)
	}
}

// answerServerRequest replies to ping and rejects everything else.
func (c *Client) answerServerRequest(env *Envelope) {
	var resp *Envelope
	if env.Method == MethodPing {
		var err error
		resp, err = NewResult(env.ID, struct{}{})
		if err != nil {
			return
		}
	} else {
		resp = NewErrorResponse(env.ID, CodeMethodNotFound, "method not found: "+env.Method)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()
	if err := c.transport.Send(ctx, resp); err != nil {
		slog.Warn("failed to answer tool server request", "server", c.name, "method", env.Method, "error", err)
	}
}

// HandleTransportError implements Receiver. The client moves to
// StateError and every waiting caller fails with err.
func (c *Client) HandleTransportError(err error) {
	slog.Error("tool server transport failed", "server", c.name, "error", err)
	c.setState(StateError)
	c.pending.failAll(err)
}

// Close disconnects the transport and fails outstanding requests.
func (c *Client) Close() error {
	c.setState(StateDisconnected)
	c.pending.failAll(ErrClientClosed)
	return c.transport.Disconnect()
}
