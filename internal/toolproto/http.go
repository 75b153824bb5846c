package toolproto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"toolgate/internal/framing"
)

const (
	headerSessionID  = "Mcp-Session-Id"
	maxErrorBodySize = 64 * 1024
)

// HTTPOptions configures a synchronous HTTP transport.
type HTTPOptions struct {
	URL     string
	Headers map[string]string
	// Client defaults to a client without an overall timeout; per-request
	// deadlines come from the caller's context.
	Client *http.Client
}

// HTTPTransport sends every envelope as one POST and feeds the reply body,
// JSON or SSE-framed, straight back to the receiver before Send returns.
type HTTPTransport struct {
	server string
	opts   HTTPOptions
	client *http.Client

	mu        sync.Mutex
	recv      Receiver
	sessionID string
}

// NewHTTPTransport returns a transport for the named server.
func NewHTTPTransport(server string, opts HTTPOptions) *HTTPTransport {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{server: server, opts: opts, client: client}
}

// Connect implements Transport. No connection is held between requests.
func (t *HTTPTransport) Connect(_ context.Context, recv Receiver) error {
	t.mu.Lock()
	t.recv = recv
	t.sessionID = ""
	t.mu.Unlock()
	return nil
}

// SessionID returns the session id issued by the server, if any.
func (t *HTTPTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, env *Envelope) error {
	t.mu.Lock()
	recv, session := t.recv, t.sessionID
	t.mu.Unlock()
	if recv == nil {
		return &TransportError{Kind: KindClosed, Server: t.server, Err: ErrClientClosed}
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.URL, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Kind: KindNetwork, Server: t.server, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.opts.Headers {
		req.Header.Set(k, v)
	}
	if session != "" {
		req.Header.Set(headerSessionID, session)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return classifyRequestError(ctx, t.server, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if id := resp.Header.Get(headerSessionID); id != "" {
		t.mu.Lock()
		t.sessionID = id
		t.mu.Unlock()
	}

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return statusError(t.server, resp.StatusCode, data)
	}
	if err := deliverBody(resp, recv); err != nil {
		return classifyRequestError(ctx, t.server, err)
	}
	return nil
}

// Disconnect implements Transport. A server-issued session is ended with a
// best-effort DELETE.
func (t *HTTPTransport) Disconnect() error {
	t.mu.Lock()
	session := t.sessionID
	t.recv = nil
	t.sessionID = ""
	t.mu.Unlock()

	if session == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.opts.URL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set(headerSessionID, session)
	for k, v := range t.opts.Headers {
		req.Header.Set(k, v)
	}
	if resp, err := t.client.Do(req); err == nil {
		_ = resp.Body.Close()
	} else {
		slog.Debug("session delete failed", "server", t.server, "error", err)
	}
	return nil
}

// deliverBody hands a successful reply to recv. Event-stream replies may
// carry several messages.
func deliverBody(resp *http.Response, recv Receiver) error {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		var parser framing.SSEParser
		buf := make([]byte, 32*1024)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				deliverEvents(parser.Push(buf[:n]), recv)
			}
			if errors.Is(err, io.EOF) {
				deliverEvents(parser.Flush(), recv)
				return nil
			}
			if err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) > 0 {
		recv.HandleMessage(data)
	}
	return nil
}

func deliverEvents(events []framing.Event, recv Receiver) {
	for _, ev := range events {
		if ev.Name != "" && ev.Name != "message" {
			continue
		}
		if strings.TrimSpace(ev.Data) == "" {
			continue
		}
		recv.HandleMessage([]byte(ev.Data))
	}
}

// statusError prefers a protocol error object found in the body and falls
// back to a transport error carrying the status.
func statusError(server string, status int, body []byte) error {
	if gjson.ValidBytes(body) {
		if e := gjson.GetBytes(body, "error"); e.IsObject() && e.Get("code").Exists() {
			pe := &ProtocolError{
				Code:    int(e.Get("code").Int()),
				Message: e.Get("message").String(),
			}
			if data := e.Get("data"); data.Exists() {
				pe.Data = json.RawMessage(data.Raw)
			}
			return pe
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &TransportError{Kind: KindHTTP, Server: server, StatusCode: status, Err: errors.New(msg)}
}

// classifyRequestError separates timeouts from other network failures.
func classifyRequestError(ctx context.Context, server string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: KindTimeout, Server: server, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: KindTimeout, Server: server, Err: err}
	}
	return &TransportError{Kind: KindNetwork, Server: server, Err: err}
}
