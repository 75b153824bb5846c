package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/config"
	"toolgate/internal/providers"
	"toolgate/internal/providers/openai"
	"toolgate/internal/toolproto"
	"toolgate/internal/tools"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "0"},
		Providers: map[string]config.ProviderConfig{
			"openai": {APIKey: "sk-test", BaseURL: "http://127.0.0.1:1"},
		},
		Cache:   config.CacheConfig{Type: "local", TTL: 60},
		Metrics: config.MetricsConfig{Enabled: true, Endpoint: "/metrics"},
		ToolServers: []config.ToolServerConfig{
			{Name: "broken", Transport: config.TransportHTTP, URL: "http://127.0.0.1:1"},
		},
	}
}

func testFactory() *providers.ProviderFactory {
	f := providers.NewProviderFactory()
	f.Add(openai.Registration)
	return f
}

func failingTransport(cfg config.ToolServerConfig) (toolproto.Transport, error) {
	return nil, errors.New("no transport for " + cfg.Name)
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), Config{
		AppConfig:  &config.LoadResult{Config: cfg},
		Factory:    testFactory(),
		Registerer: prometheus.NewRegistry(),
		Tools:      tools.Options{NewTransport: failingTransport},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_RequiresInputs(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"nil app config", Config{Factory: testFactory()}, "app config is required"},
		{"nil config", Config{AppConfig: &config.LoadResult{}, Factory: testFactory()}, "nil Config"},
		{"nil factory", Config{AppConfig: &config.LoadResult{Config: testConfig()}}, "factory is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNew_WiresComponents(t *testing.T) {
	a := newTestApp(t, testConfig())

	assert.Equal(t, []string{"openai"}, a.Router().Names())
	assert.NotNil(t, a.metrics)
	assert.NotNil(t, a.cache)
	assert.Empty(t, a.Tools().Tools(), "a server without a transport registers no tools")
}

func TestHandler_Health(t *testing.T) {
	a := newTestApp(t, testConfig())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandler_MasterKey(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MasterKey = "secret"
	a := newTestApp(t, cfg)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tools", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	cfg.Cache.Type = "none"
	a := newTestApp(t, cfg)

	assert.Nil(t, a.metrics)
	assert.Nil(t, a.cache)
}

func TestShutdown_Idempotent(t *testing.T) {
	a, err := New(context.Background(), Config{
		AppConfig:  &config.LoadResult{Config: testConfig()},
		Factory:    testFactory(),
		Registerer: prometheus.NewRegistry(),
		Tools:      tools.Options{NewTransport: failingTransport},
	})
	require.NoError(t, err)

	require.NoError(t, a.Shutdown(context.Background()))
	require.NoError(t, a.Shutdown(context.Background()))
}

func TestStart_NilServer(t *testing.T) {
	a := &App{}
	assert.Error(t, a.Start(":0"))
}
