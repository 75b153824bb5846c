package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"toolgate/internal/core"
	"toolgate/internal/streaming"
	"toolgate/internal/usage"
)

// chatStream relays the upstream stream as unified server-sent events.
// Errors before the first byte are answered as JSON; after that they are
// delivered as an error event.
func (h *Handler) chatStream(c echo.Context, provider core.ChatProvider, req *core.ChatRequest) error {
	ctx := c.Request().Context()
	start := h.now()

	normalizer, err := streaming.ForProvider(provider.Name())
	if err != nil {
		return handleError(c, core.NewInvalidRequestError(err.Error(), err))
	}
	body, err := provider.Stream(ctx, &core.CompletionRequest{
		Model:       req.Model,
		Messages:    req.Conversation(),
		Tools:       req.Tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return handleError(c, err)
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(ev streaming.Event) error {
		if ev.Type == streaming.EventDone {
			ev.Done.LatencyMs = h.now().Sub(start).Milliseconds()
			ev.Done.Cost = h.cost(provider.Name(), req.Model, ev.Done.Usage)
			h.recordStream(ctx, provider.Name(), req.Model, ev.Done)
		}
		if h.onStreamEvent != nil {
			h.onStreamEvent(provider.Name(), string(ev.Type))
		}
		return writeEvent(w, ev)
	}

	if err := streaming.Pump(ctx, body, normalizer, emit); err != nil && ctx.Err() == nil {
		// Headers are sent, so the failure can only be logged.
		slog.Warn("stream relay ended early", "provider", provider.Name(), "error", err)
	}
	return nil
}

func (h *Handler) recordStream(ctx context.Context, provider, model string, done *streaming.Done) {
	h.usage.Write(usage.NewEntry(usage.Record{
		RequestID:  core.GetRequestID(ctx),
		Provider:   provider,
		Model:      model,
		Endpoint:   chatEndpoint,
		Stream:     true,
		Usage:      done.Usage,
		Cost:       done.Cost,
		Iterations: 1,
		ToolCalls:  len(done.ToolCalls),
		Latency:    time.Duration(done.LatencyMs) * time.Millisecond,
	}))
}

// writeEvent writes one named SSE event and flushes it.
func writeEvent(w *echo.Response, ev streaming.Event) error {
	data, err := json.Marshal(ev.Payload())
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
