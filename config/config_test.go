package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points Load at a config file under a temp dir and clears provider
// variables that may leak in from the host environment.
func isolate(t *testing.T, yamlBody string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if yamlBody != "" {
		require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))
	}
	t.Setenv("TOOLGATE_CONFIG", path)
	for _, key := range []string{
		"PORT", "TOOLGATE_MASTER_KEY",
		"OPENAI_API_KEY", "OPENAI_BASE_URL",
		"ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL",
		"GEMINI_API_KEY", "GEMINI_BASE_URL",
		"CACHE_TYPE", "STORAGE_TYPE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t, "")

	result, err := Load()
	require.NoError(t, err)
	cfg := result.Config

	assert.Empty(t, result.Path)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Empty(t, cfg.Server.MasterKey)
	assert.Equal(t, "10M", cfg.Server.BodySizeLimit)
	assert.Equal(t, 600, cfg.HTTP.Timeout)
	assert.Equal(t, "none", cfg.Cache.Type)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "/metrics", cfg.Metrics.Endpoint)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Empty(t, cfg.Providers)
	assert.Empty(t, cfg.ToolServers)
}

func TestLoad_ProviderFromEnv(t *testing.T) {
	isolate(t, "")
	t.Setenv("OPENAI_API_KEY", "sk-test-key-12345")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("ANTHROPIC_BASE_URL", "http://localhost:9999")

	result, err := Load()
	require.NoError(t, err)

	openai, ok := result.Config.Providers["openai"]
	require.True(t, ok, "expected 'openai' provider to exist")
	assert.Equal(t, "openai", openai.Type)
	assert.Equal(t, "sk-test-key-12345", openai.APIKey)

	anthropic := result.Config.Providers["anthropic"]
	assert.Equal(t, "http://localhost:9999", anthropic.BaseURL)

	_, ok = result.Config.Providers["gemini"]
	assert.False(t, ok)
}

func TestLoad_YAMLWithPlaceholders(t *testing.T) {
	isolate(t, `
server:
  port: "${TEST_TG_PORT:-7070}"
  master_key: "${TEST_TG_KEY}"
providers:
  openai:
    api_key: "${TEST_TG_OPENAI_KEY}"
  gemini:
    api_key: "${TEST_TG_GEMINI_KEY}"
pricing:
  gpt-4o-mini:
    input_per_mtok: 0.15
    output_per_mtok: 0.6
tool_servers:
  - name: files
    transport: stdio
    command: ./files-server
    args: ["--root", "/tmp"]
    env:
      TOKEN: "${TEST_TG_TOOL_TOKEN:-none}"
  - name: search
    transport: streamable-http
    url: http://localhost:3001/mcp
    headers:
      Authorization: Bearer abc
    timeout_ms: 5000
  - name: events
    transport: sse
    url: http://localhost:3002/sse
    reconnect_delay_ms: 250
    max_reconnect_attempts: 2
`)
	t.Setenv("TEST_TG_KEY", "secret")
	t.Setenv("TEST_TG_OPENAI_KEY", "sk-yaml")

	result, err := Load()
	require.NoError(t, err)
	cfg := result.Config

	assert.NotEmpty(t, result.Path)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.MasterKey)
	assert.Equal(t, "sk-yaml", cfg.Providers["openai"].APIKey)
	assert.Equal(t, "openai", cfg.Providers["openai"].Type)
	_, ok := cfg.Providers["gemini"]
	assert.False(t, ok, "unresolved placeholder keys are dropped")
	assert.Equal(t, ModelPrice{InputPerMTok: 0.15, OutputPerMTok: 0.6}, cfg.Pricing["gpt-4o-mini"])

	require.Len(t, cfg.ToolServers, 3)
	files, search, events := cfg.ToolServers[0], cfg.ToolServers[1], cfg.ToolServers[2]

	assert.Equal(t, TransportPipe, files.TransportKind())
	assert.Equal(t, []string{"--root", "/tmp"}, files.Args)
	assert.Equal(t, "none", files.Env["TOKEN"])
	assert.Equal(t, 30*time.Second, files.Timeout())

	assert.Equal(t, TransportHTTP, search.TransportKind())
	assert.Equal(t, "Bearer abc", search.Headers["Authorization"])
	assert.Equal(t, 5*time.Second, search.Timeout())

	assert.Equal(t, TransportHTTPPush, events.TransportKind())
	assert.Equal(t, 250*time.Millisecond, events.ReconnectDelay())
	assert.Equal(t, 2, events.ReconnectAttempts())
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	isolate(t, `
server:
  port: "7070"
providers:
  openai:
    api_key: sk-from-yaml
`)
	t.Setenv("PORT", "9999")
	t.Setenv("OPENAI_API_KEY", "sk-from-real-env")

	result, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", result.Config.Server.Port)
	assert.Equal(t, "sk-from-real-env", result.Config.Providers["openai"].APIKey)
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolate(t, "server: [unclosed")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		servers []ToolServerConfig
		cache   string
		wantErr string
	}{
		{
			name:    "valid pipe and http",
			servers: []ToolServerConfig{{Name: "a", Command: "x"}, {Name: "b", Transport: "http", URL: "http://h"}},
		},
		{
			name:    "missing name",
			servers: []ToolServerConfig{{Transport: "pipe", Command: "x"}},
			wantErr: "name is required",
		},
		{
			name:    "duplicate name",
			servers: []ToolServerConfig{{Name: "a", Command: "x"}, {Name: "a", Command: "y"}},
			wantErr: "duplicate name",
		},
		{
			name:    "pipe without command",
			servers: []ToolServerConfig{{Name: "a", Transport: "pipe"}},
			wantErr: "requires command",
		},
		{
			name:    "push without url",
			servers: []ToolServerConfig{{Name: "a", Transport: "http-push"}},
			wantErr: "requires url",
		},
		{
			name:    "unknown transport",
			servers: []ToolServerConfig{{Name: "a", Transport: "carrier-pigeon"}},
			wantErr: "unknown transport",
		},
		{
			name:    "unknown cache",
			cache:   "memcached",
			wantErr: "unknown cache type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := buildDefaultConfig()
			cfg.ToolServers = tt.servers
			if tt.cache != "" {
				cfg.Cache.Type = tt.cache
			}

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProviderAPIKeyEnv(t *testing.T) {
	assert.Equal(t, "GEMINI_API_KEY", ProviderAPIKeyEnv("gemini"))
	assert.Empty(t, ProviderAPIKeyEnv("cohere"))
}
