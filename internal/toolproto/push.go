package toolproto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"toolgate/internal/framing"
)

// PushOptions configures an HTTP transport with a server-sent push channel.
type PushOptions struct {
	// URL of the event stream. The server announces the POST endpoint in an
	// "endpoint" event.
	URL     string
	Headers map[string]string
	// Backoff spaces reconnect attempts after the stream drops.
	Backoff Schedule
	// MaxReconnectAttempts bounds consecutive failed reconnects.
	MaxReconnectAttempts int
	// Client is used for both the stream and posts. It must not set an
	// overall timeout.
	Client *http.Client
	Sleep  SleepFunc
}

// PushTransport posts outbound envelopes and receives replies and server
// messages over a long-lived event stream. A dropped stream is reopened
// with backoff; exhausting MaxReconnectAttempts is terminal.
type PushTransport struct {
	server string
	opts   PushOptions
	client *http.Client
	sleep  SleepFunc

	mu       sync.Mutex
	recv     Receiver
	endpoint string
	ready    chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPushTransport returns a transport for the named server.
func NewPushTransport(server string, opts PushOptions) *PushTransport {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff{Base: defaultReconnectDelay}
	}
	return &PushTransport{server: server, opts: opts, client: client, sleep: sleep}
}

// Connect opens the event stream and waits for the endpoint announcement.
// The stream outlives ctx; only Disconnect closes it.
func (t *PushTransport) Connect(ctx context.Context, recv Receiver) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return nil
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan struct{})
	t.recv = recv
	t.endpoint = ""
	t.ready = ready
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	stop := context.AfterFunc(ctx, cancel)
	body, err := t.open(streamCtx)
	stop()
	if err != nil {
		t.reset()
		close(done)
		if ctx.Err() != nil {
			return classifyRequestError(ctx, t.server, err)
		}
		return err
	}

	go t.run(streamCtx, body, done)

	select {
	case <-ready:
		return nil
	case <-done:
		select {
		case <-ready:
			// Announced, then lost; run already reported it to recv.
			return nil
		default:
		}
		t.reset()
		return &TransportError{Kind: KindNetwork, Server: t.server, Err: errors.New("stream closed before endpoint announcement")}
	case <-ctx.Done():
		cancel()
		<-done
		t.reset()
		return &TransportError{Kind: KindTimeout, Server: t.server, Err: ctx.Err()}
	}
}

func (t *PushTransport) reset() {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel = nil
	t.recv = nil
	t.endpoint = ""
	t.mu.Unlock()
}

// open issues the stream GET and returns the body of a 200 response.
func (t *PushTransport) open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.opts.URL, nil)
	if err != nil {
		return nil, &TransportError{Kind: KindNetwork, Server: t.server, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.opts.Headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Kind: KindNetwork, Server: t.server, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		_ = resp.Body.Close()
		return nil, statusError(t.server, resp.StatusCode, data)
	}
	return resp.Body, nil
}

// run consumes the stream and reconnects when it drops.
func (t *PushTransport) run(ctx context.Context, body io.ReadCloser, done chan struct{}) {
	defer close(done)
	for {
		err := t.consume(ctx, body)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("push channel dropped", "server", t.server, "error", err)

		body = t.reconnect(ctx)
		if body == nil {
			return
		}
	}
}

// reconnect retries the stream GET on the backoff schedule. It returns nil
// when ctx ends or attempts run out; the latter is reported to the receiver.
func (t *PushTransport) reconnect(ctx context.Context) io.ReadCloser {
	var lastErr error
	for attempt := 1; attempt <= t.opts.MaxReconnectAttempts; attempt++ {
		delay := t.opts.Backoff.Delay(attempt)
		slog.Info("reconnecting push channel", "server", t.server, "attempt", attempt, "delay", delay)
		if err := t.sleep(ctx, delay); err != nil {
			return nil
		}
		body, err := t.open(ctx)
		if err == nil {
			slog.Info("push channel reconnected", "server", t.server, "attempt", attempt)
			return body
		}
		if ctx.Err() != nil {
			return nil
		}
		lastErr = err
	}

	t.mu.Lock()
	recv := t.recv
	t.endpoint = ""
	t.mu.Unlock()
	if recv != nil {
		recv.HandleTransportError(&TransportError{
			Kind:   KindReconnect,
			Server: t.server,
			Err:    fmt.Errorf("gave up after %d attempts: %w", t.opts.MaxReconnectAttempts, lastErr),
		})
	}
	return nil
}

// consume dispatches events until the stream ends.
func (t *PushTransport) consume(ctx context.Context, body io.ReadCloser) error {
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()
	defer func() { _ = body.Close() }()

	var parser framing.SSEParser
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, ev := range parser.Push(buf[:n]) {
				t.dispatch(ev)
			}
		}
		if err != nil {
			for _, ev := range parser.Flush() {
				t.dispatch(ev)
			}
			if errors.Is(err, io.EOF) {
				return errors.New("stream ended")
			}
			return err
		}
	}
}

func (t *PushTransport) dispatch(ev framing.Event) {
	switch ev.Name {
	case "endpoint":
		endpoint, err := t.resolveEndpoint(strings.TrimSpace(ev.Data))
		if err != nil {
			slog.Warn("invalid endpoint announcement", "server", t.server, "data", ev.Data, "error", err)
			return
		}
		t.mu.Lock()
		t.endpoint = endpoint
		ready := t.ready
		t.mu.Unlock()
		select {
		case <-ready:
		default:
			close(ready)
		}
	case "", "message":
		if strings.TrimSpace(ev.Data) == "" {
			return
		}
		t.mu.Lock()
		recv := t.recv
		t.mu.Unlock()
		if recv != nil {
			recv.HandleMessage([]byte(ev.Data))
		}
	default:
		slog.Debug("ignoring push event", "server", t.server, "event", ev.Name)
	}
}

func (t *PushTransport) resolveEndpoint(ref string) (string, error) {
	base, err := url.Parse(t.opts.URL)
	if err != nil {
		return "", err
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(rel).String(), nil
}

// Send implements Transport. A POST reply that itself carries a message is
// delivered to the receiver; otherwise the answer arrives on the stream.
func (t *PushTransport) Send(ctx context.Context, env *Envelope) error {
	t.mu.Lock()
	endpoint, recv := t.endpoint, t.recv
	t.mu.Unlock()
	if recv == nil {
		return &TransportError{Kind: KindClosed, Server: t.server, Err: ErrClientClosed}
	}
	if endpoint == "" {
		return &TransportError{Kind: KindNetwork, Server: t.server, Err: errors.New("push channel has no endpoint")}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return &TransportError{Kind: KindNetwork, Server: t.server, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return classifyRequestError(ctx, t.server, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return statusError(t.server, resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyRequestError(ctx, t.server, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && (body[0] == '{' || body[0] == '[') {
		recv.HandleMessage(body)
	}
	return nil
}

// Disconnect closes the stream and stops reconnecting.
func (t *PushTransport) Disconnect() error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.recv = nil
	t.endpoint = ""
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
