// Package observability exposes gateway activity as prometheus metrics.
package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"toolgate/internal/llmclient"
	"toolgate/internal/toolproto"
)

const namespace = "toolgate"

var toolServerStates = []toolproto.State{
	toolproto.StateDisconnected,
	toolproto.StateConnecting,
	toolproto.StateInitializing,
	toolproto.StateReady,
	toolproto.StateError,
}

// Metrics holds every collector. Methods are safe for concurrent use.
type Metrics struct {
	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	toolServerState  *prometheus.GaugeVec
	iterations       *prometheus.CounterVec
	streamEvents     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Upstream provider requests by provider, endpoint and status.",
		}, []string{"provider", "endpoint", "status"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Upstream provider request latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider", "stream"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by server, tool and outcome.",
		}, []string{"server", "tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation latency by server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server"}),
		toolServerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tool_server_state",
			Help:      "1 for the current lifecycle state of each tool server, 0 otherwise.",
		}, []string{"server", "state"}),
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrator_iterations_total",
			Help:      "Provider calls made by the tool-execution loop.",
		}, []string{"provider"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Unified stream events sent to clients by provider and type.",
		}, []string{"provider", "type"}),
	}
	reg.MustRegister(
		m.providerRequests,
		m.providerDuration,
		m.toolCalls,
		m.toolDuration,
		m.toolServerState,
		m.iterations,
		m.streamEvents,
	)
	return m
}

// Hooks returns llmclient hooks recording upstream requests.
func (m *Metrics) Hooks() llmclient.Hooks {
	return llmclient.Hooks{
		OnRequestEnd: func(_ context.Context, info llmclient.ResponseInfo) {
			m.providerRequests.WithLabelValues(info.Provider, info.Endpoint, statusLabel(info)).Inc()
			m.providerDuration.WithLabelValues(info.Provider, strconv.FormatBool(info.Stream)).Observe(info.Duration.Seconds())
		},
	}
}

func statusLabel(info llmclient.ResponseInfo) string {
	if info.StatusCode == 0 {
		if info.Err != nil {
			return "network_error"
		}
		return "unknown"
	}
	return strconv.Itoa(info.StatusCode)
}

// ObserveToolCall matches tools.CallObserver. Unresolved calls have no
// server and are not timed.
func (m *Metrics) ObserveToolCall(server, tool, outcome string, elapsed time.Duration) {
	m.toolCalls.WithLabelValues(server, tool, outcome).Inc()
	if server != "" {
		m.toolDuration.WithLabelValues(server).Observe(elapsed.Seconds())
	}
}

// ObserveToolServerState matches toolproto.StateObserver.
func (m *Metrics) ObserveToolServerState(server string, _, to toolproto.State) {
	for _, s := range toolServerStates {
		v := 0.0
		if s == to {
			v = 1
		}
		m.toolServerState.WithLabelValues(server, s.String()).Set(v)
	}
}

// ObserveIteration counts one provider call of the tool-execution loop.
func (m *Metrics) ObserveIteration(provider, _ string, _ int) {
	m.iterations.WithLabelValues(provider).Inc()
}

// ObserveStreamEvent counts one event sent to a streaming client.
func (m *Metrics) ObserveStreamEvent(provider, eventType string) {
	m.streamEvents.WithLabelValues(provider, eventType).Inc()
}
