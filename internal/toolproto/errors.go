package toolproto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Sentinel errors returned by Client.
var (
	ErrNotReady     = errors.New("tool client is not ready")
	ErrTimeout      = errors.New("tool request timed out")
	ErrClientClosed = errors.New("tool client closed")
)

// ProtocolError is an error object carried in a response envelope.
type ProtocolError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = mcp.PARSE_ERROR
	CodeInvalidRequest = mcp.INVALID_REQUEST
	CodeMethodNotFound = mcp.METHOD_NOT_FOUND
	CodeInvalidParams  = mcp.INVALID_PARAMS
	CodeInternalError  = mcp.INTERNAL_ERROR
)

// TransportErrorKind classifies a transport failure.
type TransportErrorKind string

const (
	// KindNetwork means no response was received.
	KindNetwork TransportErrorKind = "network"
	// KindTimeout means the exchange exceeded its deadline.
	KindTimeout TransportErrorKind = "timeout"
	// KindHTTP means the server answered with an error status.
	KindHTTP TransportErrorKind = "http"
	// KindProcess means the child process failed to start or exited.
	KindProcess TransportErrorKind = "process"
	// KindClosed means the transport was used after Disconnect.
	KindClosed TransportErrorKind = "closed"
	// KindReconnect means the push channel exhausted its reconnect attempts.
	KindReconnect TransportErrorKind = "reconnect"
)

// TransportError reports a failure moving envelopes to or from a server.
type TransportError struct {
	Kind   TransportErrorKind
	Server string
	// StatusCode is set for KindHTTP.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tool server %s: %s error (status %d): %v", e.Server, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("tool server %s: %s error: %v", e.Server, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportKind reports whether err is a TransportError of the given kind.
func IsTransportKind(err error, kind TransportErrorKind) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == kind
}
