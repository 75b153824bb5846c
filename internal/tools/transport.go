package tools

import (
	"fmt"

	"toolgate/config"
	"toolgate/internal/httpclient"
	"toolgate/internal/toolproto"
)

// TransportFactory builds the transport for one configured server.
type TransportFactory func(cfg config.ToolServerConfig) (toolproto.Transport, error)

// NewTransport selects the transport variant named by cfg.
func NewTransport(cfg config.ToolServerConfig) (toolproto.Transport, error) {
	switch cfg.TransportKind() {
	case config.TransportPipe:
		return toolproto.NewPipeTransport(cfg.Name, toolproto.PipeOptions{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
		}), nil
	case config.TransportHTTP:
		return toolproto.NewHTTPTransport(cfg.Name, toolproto.HTTPOptions{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Client:  httpclient.NewStreamingHTTPClient(nil),
		}), nil
	case config.TransportHTTPPush:
		return toolproto.NewPushTransport(cfg.Name, toolproto.PushOptions{
			URL:                  cfg.URL,
			Headers:              cfg.Headers,
			Backoff:              toolproto.ExponentialBackoff{Base: cfg.ReconnectDelay()},
			MaxReconnectAttempts: cfg.ReconnectAttempts(),
			Client:               httpclient.NewStreamingHTTPClient(nil),
		}), nil
	default:
		return nil, fmt.Errorf("tool server %s: unknown transport %q", cfg.Name, cfg.Transport)
	}
}
