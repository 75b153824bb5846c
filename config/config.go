// Package config provides configuration management for the application.
//
// Configuration is layered: built-in defaults, then config.yaml (with
// ${VAR} and ${VAR:-default} placeholders expanded from the environment),
// then well-known environment variables. A .env file is loaded first when
// present.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transport kinds for tool servers.
const (
	TransportPipe     = "pipe"
	TransportHTTP     = "http"
	TransportHTTPPush = "http-push"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig              `yaml:"server"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
	HTTP        HTTPConfig                `yaml:"http"`
	Cache       CacheConfig               `yaml:"cache"`
	Storage     StorageConfig             `yaml:"storage"`
	Usage       UsageConfig               `yaml:"usage"`
	Metrics     MetricsConfig             `yaml:"metrics"`
	Log         LogConfig                 `yaml:"log"`
	ToolServers []ToolServerConfig        `yaml:"tool_servers"`
	Pricing     map[string]ModelPrice     `yaml:"pricing"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey enables bearer authentication when non-empty
	MasterKey string `yaml:"master_key"`
	// BodySizeLimit uses echo's size syntax, e.g. "10M"
	BodySizeLimit string `yaml:"body_size_limit"`
}

// ProviderConfig holds one upstream provider's credentials. Type defaults
// to the map key.
type ProviderConfig struct {
	Type    string `yaml:"type"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// HTTPConfig holds upstream HTTP client timeouts in seconds
type HTTPConfig struct {
	Timeout               int `yaml:"timeout"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// CacheConfig configures the response cache
type CacheConfig struct {
	// Type is "none", "local" or "redis"
	Type string `yaml:"type"`
	// TTL in seconds
	TTL   int         `yaml:"ttl"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// StorageConfig selects the database backing usage records
type StorageConfig struct {
	// Type is "sqlite", "postgresql" or "mongodb"
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL settings
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB settings
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// UsageConfig controls usage record persistence
type UsageConfig struct {
	Enabled bool `yaml:"enabled"`
	// BufferSize is the number of entries queued before writes block
	BufferSize int `yaml:"buffer_size"`
	// FlushInterval in seconds
	FlushInterval int `yaml:"flush_interval"`
	// RetentionDays deletes older records; 0 keeps everything
	RetentionDays int `yaml:"retention_days"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig controls log output
type LogConfig struct {
	// Format is "json", "text" or empty for auto-detection
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// ModelPrice is a per-model rate in USD per million tokens
type ModelPrice struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// ToolServerConfig describes one tool server and how to reach it.
type ToolServerConfig struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"`

	// pipe
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`

	// http and http-push
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`

	TimeoutMs            int `yaml:"timeout_ms"`
	ReconnectDelayMs     int `yaml:"reconnect_delay_ms"`
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// Tool server defaults.
const (
	DefaultToolTimeoutMs          = 30000
	DefaultReconnectDelayMs       = 1000
	DefaultMaxReconnectAttempts   = 5
	defaultCacheTTLSeconds        = 300
	defaultHTTPTimeoutSeconds     = 600
	defaultUsageBufferSize        = 1000
	defaultUsageFlushIntervalSecs = 5
)

// Timeout returns the per-request timeout.
func (c ToolServerConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return DefaultToolTimeoutMs * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ReconnectDelay returns the base delay between push-channel reconnects.
func (c ToolServerConfig) ReconnectDelay() time.Duration {
	if c.ReconnectDelayMs <= 0 {
		return DefaultReconnectDelayMs * time.Millisecond
	}
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

// ReconnectAttempts returns the push-channel reconnect cap.
func (c ToolServerConfig) ReconnectAttempts() int {
	if c.MaxReconnectAttempts <= 0 {
		return DefaultMaxReconnectAttempts
	}
	return c.MaxReconnectAttempts
}

// TransportKind returns the canonical transport name, resolving aliases.
func (c ToolServerConfig) TransportKind() string {
	switch strings.ToLower(strings.TrimSpace(c.Transport)) {
	case "pipe", "stdio":
		return TransportPipe
	case "http", "streamable-http", "streamable_http":
		return TransportHTTP
	case "http-push", "sse", "http+sse":
		return TransportHTTPPush
	case "":
		if c.Command != "" {
			return TransportPipe
		}
		return ""
	default:
		return c.Transport
	}
}

// LoadResult is what Load returns
type LoadResult struct {
	Config *Config
	// Path of the YAML file that was read, empty when none was found
	Path string
}

// Load reads configuration from .env, config.yaml and the environment
func Load() (*LoadResult, error) {
	_ = godotenv.Load() // .env is optional

	cfg := buildDefaultConfig()

	path, err := loadYAML(cfg)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyProviderEnv(cfg)
	dropUnconfiguredProviders(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LoadResult{Config: cfg, Path: path}, nil
}

func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "10M",
		},
		Providers: map[string]ProviderConfig{},
		HTTP: HTTPConfig{
			Timeout:               defaultHTTPTimeoutSeconds,
			ResponseHeaderTimeout: defaultHTTPTimeoutSeconds,
		},
		Cache: CacheConfig{
			Type: "none",
			TTL:  defaultCacheTTLSeconds,
			Redis: RedisConfig{
				KeyPrefix: "toolgate:",
			},
		},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLite:     SQLiteConfig{Path: "data/toolgate.db"},
			PostgreSQL: PostgreSQLConfig{MaxConns: 10},
			MongoDB:    MongoDBConfig{Database: "toolgate"},
		},
		Usage: UsageConfig{
			BufferSize:    defaultUsageBufferSize,
			FlushInterval: defaultUsageFlushIntervalSecs,
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// loadYAML overlays the config file onto cfg. A missing file is not an error.
func loadYAML(cfg *Config) (string, error) {
	candidates := []string{"config.yaml", "config/config.yaml"}
	if p := os.Getenv("TOOLGATE_CONFIG"); p != "" {
		candidates = []string{p}
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
			return "", fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return path, nil
	}
	return "", nil
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. A variable that is unset
// or empty falls back to its default; without a default the placeholder is
// kept verbatim so unresolved values are visible.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		if parts[2] != "" {
			return parts[3]
		}
		return match
	})
}

// applyEnvOverrides applies well-known environment variables on top of the
// file configuration.
func applyEnvOverrides(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
				return
			}
			*dst = b
		}
	}

	setString("PORT", &cfg.Server.Port)
	setString("TOOLGATE_MASTER_KEY", &cfg.Server.MasterKey)
	setString("BODY_SIZE_LIMIT", &cfg.Server.BodySizeLimit)

	setInt("HTTP_TIMEOUT", &cfg.HTTP.Timeout)
	setInt("HTTP_RESPONSE_HEADER_TIMEOUT", &cfg.HTTP.ResponseHeaderTimeout)

	setString("CACHE_TYPE", &cfg.Cache.Type)
	setInt("CACHE_TTL", &cfg.Cache.TTL)
	setString("REDIS_URL", &cfg.Cache.Redis.URL)
	setString("REDIS_KEY_PREFIX", &cfg.Cache.Redis.KeyPrefix)

	setString("STORAGE_TYPE", &cfg.Storage.Type)
	setString("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	setString("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	setInt("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns)
	setString("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	setString("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)

	setBool("USAGE_ENABLED", &cfg.Usage.Enabled)
	setInt("USAGE_BUFFER_SIZE", &cfg.Usage.BufferSize)
	setInt("USAGE_FLUSH_INTERVAL", &cfg.Usage.FlushInterval)
	setInt("USAGE_RETENTION_DAYS", &cfg.Usage.RetentionDays)

	setBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	setString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	setString("LOG_FORMAT", &cfg.Log.Format)
	setString("LOG_LEVEL", &cfg.Log.Level)

	return errors.Join(errs...)
}

// knownProviderEnvs maps the supported providers to their environment
// variables.
var knownProviderEnvs = []struct {
	name       string
	apiKeyEnv  string
	baseURLEnv string
}{
	{"openai", "OPENAI_API_KEY", "OPENAI_BASE_URL"},
	{"anthropic", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL"},
	{"gemini", "GEMINI_API_KEY", "GEMINI_BASE_URL"},
}

// ProviderAPIKeyEnv returns the environment variable holding a provider's
// key, or "" for unknown providers.
func ProviderAPIKeyEnv(provider string) string {
	for _, kp := range knownProviderEnvs {
		if kp.name == provider {
			return kp.apiKeyEnv
		}
	}
	return ""
}

// applyProviderEnv overlays provider credentials from the environment. Env
// values win over YAML values.
func applyProviderEnv(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	for _, kp := range knownProviderEnvs {
		apiKey := os.Getenv(kp.apiKeyEnv)
		baseURL := os.Getenv(kp.baseURLEnv)
		if apiKey == "" && baseURL == "" {
			continue
		}
		p := cfg.Providers[kp.name]
		if apiKey != "" {
			p.APIKey = apiKey
		}
		if baseURL != "" {
			p.BaseURL = baseURL
		}
		cfg.Providers[kp.name] = p
	}
	for name, p := range cfg.Providers {
		if p.Type == "" {
			p.Type = name
			cfg.Providers[name] = p
		}
	}
}

// dropUnconfiguredProviders removes entries without a usable API key,
// including keys left as unresolved placeholders.
func dropUnconfiguredProviders(cfg *Config) {
	for name, p := range cfg.Providers {
		if p.APIKey == "" || strings.HasPrefix(p.APIKey, "${") {
			delete(cfg.Providers, name)
		}
	}
}

// Validate checks the tool server list and enumerated settings.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(c.ToolServers))
	for i, ts := range c.ToolServers {
		if ts.Name == "" {
			errs = append(errs, fmt.Errorf("tool_servers[%d]: name is required", i))
			continue
		}
		if _, dup := seen[ts.Name]; dup {
			errs = append(errs, fmt.Errorf("tool_servers[%d]: duplicate name %q", i, ts.Name))
		}
		seen[ts.Name] = struct{}{}

		switch ts.TransportKind() {
		case TransportPipe:
			if ts.Command == "" {
				errs = append(errs, fmt.Errorf("tool server %q: pipe transport requires command", ts.Name))
			}
		case TransportHTTP, TransportHTTPPush:
			if ts.URL == "" {
				errs = append(errs, fmt.Errorf("tool server %q: %s transport requires url", ts.Name, ts.TransportKind()))
			}
		default:
			errs = append(errs, fmt.Errorf("tool server %q: unknown transport %q", ts.Name, ts.Transport))
		}
	}

	switch c.Cache.Type {
	case "", "none", "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown cache type %q", c.Cache.Type))
	}
	switch c.Storage.Type {
	case "sqlite", "postgresql", "mongodb":
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q", c.Storage.Type))
	}
	return errors.Join(errs...)
}
