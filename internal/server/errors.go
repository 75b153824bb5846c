package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"toolgate/internal/core"
	"toolgate/internal/toolproto"
	"toolgate/internal/tools"
)

// toGatewayError maps errors from the tool layer and the request context
// onto the gateway taxonomy. Unknown errors yield nil.
func toGatewayError(err error) *core.GatewayError {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr
	}

	var protoErr *toolproto.ProtocolError
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		return core.NewNotFoundError(err.Error())
	case errors.Is(err, toolproto.ErrTimeout), toolproto.IsTransportKind(err, toolproto.KindTimeout):
		e := core.NewTransportError(err.Error(), err)
		e.StatusCode = http.StatusGatewayTimeout
		return e
	case errors.Is(err, toolproto.ErrNotReady), errors.Is(err, toolproto.ErrClientClosed):
		e := core.NewTransportError(err.Error(), err)
		e.StatusCode = http.StatusServiceUnavailable
		return e
	case errors.As(err, &protoErr):
		return core.NewProtocolError(protoErr.Message, err)
	case errors.As(err, new(*toolproto.TransportError)):
		return core.NewTransportError(err.Error(), err)
	case errors.Is(err, context.DeadlineExceeded):
		e := core.NewTransportError("request deadline exceeded", err)
		e.StatusCode = http.StatusGatewayTimeout
		return e
	}
	return nil
}

// handleError converts gateway errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	if gatewayErr := toGatewayError(err); gatewayErr != nil {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	slog.Error("unhandled request error", "path", c.Request().URL.Path, "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
