package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"toolgate/internal/llmclient"
	"toolgate/internal/toolproto"
)

func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func TestHooks(t *testing.T) {
	m := newTestMetrics()
	hooks := m.Hooks()
	ctx := context.Background()

	tests := []struct {
		name   string
		info   llmclient.ResponseInfo
		status string
	}{
		{"ok", llmclient.ResponseInfo{Provider: "openai", Endpoint: "/chat/completions", StatusCode: 200, Duration: time.Second}, "200"},
		{"upstream error", llmclient.ResponseInfo{Provider: "openai", Endpoint: "/chat/completions", StatusCode: 429}, "429"},
		{"network", llmclient.ResponseInfo{Provider: "anthropic", Endpoint: "/messages", Err: errors.New("dial")}, "network_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hooks.OnRequestEnd(ctx, tt.info)
			got := testutil.ToFloat64(m.providerRequests.WithLabelValues(tt.info.Provider, tt.info.Endpoint, tt.status))
			assert.Equal(t, 1.0, got)
		})
	}
	assert.Equal(t, 2, testutil.CollectAndCount(m.providerDuration))
}

func TestObserveToolCall(t *testing.T) {
	m := newTestMetrics()

	m.ObserveToolCall("files", "read", "ok", 10*time.Millisecond)
	m.ObserveToolCall("files", "read", "ok", 20*time.Millisecond)
	m.ObserveToolCall("files", "read", "tool_error", time.Millisecond)
	m.ObserveToolCall("", "missing", "not_found", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("files", "read", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("files", "read", "tool_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("", "missing", "not_found")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.toolDuration))
}

func TestObserveToolServerState(t *testing.T) {
	m := newTestMetrics()

	m.ObserveToolServerState("files", toolproto.StateDisconnected, toolproto.StateConnecting)
	m.ObserveToolServerState("files", toolproto.StateConnecting, toolproto.StateReady)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolServerState.WithLabelValues("files", "ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.toolServerState.WithLabelValues("files", "connecting")))
	assert.Equal(t, 5, testutil.CollectAndCount(m.toolServerState))
}

func TestObserveIterationAndStreamEvents(t *testing.T) {
	m := newTestMetrics()

	for i := 1; i <= 3; i++ {
		m.ObserveIteration("gemini", "gemini-2.5-flash", i)
	}
	m.ObserveStreamEvent("openai", "chunk")
	m.ObserveStreamEvent("openai", "chunk")
	m.ObserveStreamEvent("openai", "done")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.iterations.WithLabelValues("gemini")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.streamEvents.WithLabelValues("openai", "chunk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamEvents.WithLabelValues("openai", "done")))
}

func TestNewMetricsRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
