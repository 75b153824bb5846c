package toolproto

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pushServer is a minimal push-channel server: GET /sse streams events,
// POST /messages answers through the stream of the current connection.
type pushServer struct {
	t      *testing.T
	handle func(env *Envelope) *Envelope

	// dropFirst ends the first stream right after the endpoint event.
	dropFirst bool
	// failAfter makes every GET after the first answer 503.
	failAfter bool

	gets atomic.Int32
	mu   sync.Mutex
	out  chan []byte
}

func (s *pushServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/sse":
		n := s.gets.Add(1)
		if s.failAfter && n > 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		out := make(chan []byte, 16)
		s.mu.Lock()
		s.out = out
		s.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprintf(w, "event: endpoint\ndata: /messages?session=%d\n\n", n)
		w.(http.Flusher).Flush()
		if (s.dropFirst || s.failAfter) && n == 1 {
			return
		}
		for {
			select {
			case data := <-out:
				_, _ = fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	case r.Method == http.MethodPost && r.URL.Path == "/messages":
		body, _ := io.ReadAll(r.Body)
		envs, err := DecodeEnvelopes(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		if !envs[0].IsRequest() {
			return
		}
		data, _ := json.Marshal(s.handle(envs[0]))
		s.mu.Lock()
		out := s.out
		s.mu.Unlock()
		out <- data
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestPushTransport_ClientRoundTrip(t *testing.T) {
	ps := &pushServer{t: t, handle: standardServer(t)}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	tr := NewPushTransport("push", PushOptions{URL: srv.URL + "/sse", MaxReconnectAttempts: 3})
	c := NewClient("push", tr, ClientOptions{})
	require.NoError(t, c.Initialize(context.Background()))
	assert.Len(t, c.Tools(), 2)

	res, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "pushed"})
	require.NoError(t, err)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	assert.Equal(t, "pushed", text.Text)

	require.NoError(t, c.Close())
}

func TestPushTransport_ReconnectsAfterDrop(t *testing.T) {
	ps := &pushServer{t: t, handle: standardServer(t), dropFirst: true}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	sleep, sleeps := recordSleeps()
	recv := newRecordingReceiver()
	tr := NewPushTransport("push", PushOptions{
		URL:                  srv.URL + "/sse",
		Backoff:              ExponentialBackoff{Base: 50 * time.Millisecond},
		MaxReconnectAttempts: 3,
		Sleep:                sleep,
	})
	require.NoError(t, tr.Connect(context.Background(), recv))
	defer func() { _ = tr.Disconnect() }()

	require.Eventually(t, func() bool { return ps.gets.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{50 * time.Millisecond}, sleeps())

	// The second stream announced a new endpoint and carries replies.
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.endpoint == srv.URL+"/messages?session=2"
	}, time.Second, 5*time.Millisecond)

	env, _ := NewRequest(7, MethodToolsList, nil)
	require.NoError(t, tr.Send(context.Background(), env))
	require.Eventually(t, func() bool { return len(recv.received()) == 1 }, time.Second, 5*time.Millisecond)
	select {
	case err := <-recv.errs:
		t.Fatalf("unexpected transport error: %v", err)
	default:
	}
}

func TestPushTransport_GivesUpAfterMaxAttempts(t *testing.T) {
	ps := &pushServer{t: t, handle: standardServer(t), failAfter: true}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	sleep, sleeps := recordSleeps()
	recv := newRecordingReceiver()
	tr := NewPushTransport("push", PushOptions{
		URL:                  srv.URL + "/sse",
		Backoff:              ExponentialBackoff{Base: 100 * time.Millisecond},
		MaxReconnectAttempts: 3,
		Sleep:                sleep,
	})
	require.NoError(t, tr.Connect(context.Background(), recv))
	defer func() { _ = tr.Disconnect() }()

	select {
	case err := <-recv.errs:
		assert.True(t, IsTransportKind(err, KindReconnect), "got %v", err)
		assert.Contains(t, err.Error(), "gave up after 3 attempts")
	case <-time.After(2 * time.Second):
		t.Fatal("no transport error reported")
	}
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, sleeps())
	assert.Equal(t, int32(4), ps.gets.Load())
}

func TestPushTransport_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	tr := NewPushTransport("push", PushOptions{URL: srv.URL})
	err := tr.Connect(context.Background(), newRecordingReceiver())

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindHTTP, te.Kind)
	assert.Equal(t, http.StatusForbidden, te.StatusCode)

	// A failed Connect leaves the transport reusable.
	env, _ := NewRequest(1, MethodPing, nil)
	assert.True(t, IsTransportKind(tr.Send(context.Background(), env), KindClosed))
}

func TestPushTransport_ConnectTimeoutWithoutEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr := NewPushTransport("push", PushOptions{URL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tr.Connect(ctx, newRecordingReceiver())
	assert.True(t, IsTransportKind(err, KindTimeout), "got %v", err)
}

func TestPushTransport_ResolveEndpoint(t *testing.T) {
	tr := NewPushTransport("push", PushOptions{URL: "http://tools.local:9000/mcp/sse"})
	tests := map[string]string{
		"/messages?s=1":                  "http://tools.local:9000/messages?s=1",
		"messages":                       "http://tools.local:9000/mcp/messages",
		"https://other.example/messages": "https://other.example/messages",
	}
	for ref, want := range tests {
		got, err := tr.resolveEndpoint(ref)
		require.NoError(t, err)
		if got != want {
			t.Errorf("resolveEndpoint(%q) = %q, want %q", ref, got, want)
		}
	}
}
