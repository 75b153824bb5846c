// Package cache provides the response-cache lookaside. Local (in-memory)
// and Redis backends are supported; Redis suits multi-instance deployments.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"toolgate/config"
	"toolgate/internal/core"
)

// Backend types.
const (
	TypeNone  = "none"
	TypeLocal = "local"
	TypeRedis = "redis"
)

// DefaultTTL applies when the configured TTL is not positive.
const DefaultTTL = 5 * time.Minute

// Cache is a byte-valued key/value store with a fixed TTL.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// New builds the backend selected by cfg. TypeNone and "" return nil.
func New(cfg config.CacheConfig) (Cache, error) {
	ttl := time.Duration(cfg.TTL) * time.Second
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch cfg.Type {
	case "", TypeNone:
		return nil, nil
	case TypeLocal:
		return NewLocalCache(LocalConfig{TTL: ttl}), nil
	case TypeRedis:
		return NewRedisCache(RedisConfig{URL: cfg.Redis.URL, KeyPrefix: cfg.Redis.KeyPrefix, TTL: ttl})
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}

// fingerprint is the hashed part of a request. Fields that do not change
// the upstream reply are left out.
type fingerprint struct {
	Provider    string         `json:"p"`
	Model       string         `json:"m"`
	Messages    []core.Message `json:"msgs"`
	Tools       []core.Tool    `json:"tools,omitempty"`
	MaxTokens   *int           `json:"max,omitempty"`
	Temperature *float64       `json:"temp,omitempty"`
}

// Key fingerprints a chat request with xxhash.
func Key(req *core.ChatRequest) (string, error) {
	data, err := json.Marshal(fingerprint{
		Provider:    req.Provider,
		Model:       req.Model,
		Messages:    req.Conversation(),
		Tools:       req.Tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint request: %w", err)
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16), nil
}

// Responses stores canonical chat responses in a Cache. A nil *Responses
// is a disabled cache.
type Responses struct {
	cache Cache
}

// NewResponses wraps c; a nil c yields a nil *Responses.
func NewResponses(c Cache) *Responses {
	if c == nil {
		return nil
	}
	return &Responses{cache: c}
}

// Get looks up the response for req. Backend and decode errors count as
// misses.
func (r *Responses) Get(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, bool) {
	if r == nil {
		return nil, false
	}
	key, err := Key(req)
	if err != nil {
		return nil, false
	}
	data, err := r.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("response cache get failed", "error", err)
		return nil, false
	}
	if data == nil {
		return nil, false
	}
	var resp core.ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.Warn("response cache entry unreadable", "key", key, "error", err)
		return nil, false
	}
	return &resp, true
}

// Set stores resp for req. Failures are logged.
func (r *Responses) Set(ctx context.Context, req *core.ChatRequest, resp *core.ChatResponse) {
	if r == nil || resp == nil {
		return
	}
	key, err := Key(req)
	if err != nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Warn("response cache marshal failed", "error", err)
		return
	}
	if err := r.cache.Set(ctx, key, data); err != nil {
		slog.Warn("response cache set failed", "error", err)
	}
}

// Close releases the backend.
func (r *Responses) Close() error {
	if r == nil {
		return nil
	}
	return r.cache.Close()
}
