// Package core provides the canonical types and interfaces for the gateway.
package core

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeConfiguration indicates a missing credential or setting
	ErrorTypeConfiguration ErrorType = "configuration_error"
	// ErrorTypeUpstream indicates a provider HTTP or network failure
	ErrorTypeUpstream ErrorType = "upstream_error"
	// ErrorTypeProtocol indicates a malformed tool-protocol exchange
	ErrorTypeProtocol ErrorType = "protocol_error"
	// ErrorTypeTransport indicates a tool server connection failure
	ErrorTypeTransport ErrorType = "transport_error"
	// ErrorTypeToolExecution indicates a tool ran but failed
	ErrorTypeToolExecution ErrorType = "tool_execution_error"
	// ErrorTypeIterationLimit indicates the tool loop hit its bound
	ErrorTypeIterationLimit ErrorType = "iteration_limit_exceeded"
	// ErrorTypeInvalidRequest indicates a client error (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates an authentication error (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNotFound indicates a not found error (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
)

// PartialResult is what had accumulated when a request was cut short.
type PartialResult struct {
	Usage      TokenUsage `json:"usage"`
	Cost       float64    `json:"cost"`
	Iterations int        `json:"iterations"`
}

// GatewayError is the base error type for all gateway errors
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Provider   string    `json:"provider,omitempty"`
	// Body is the upstream error body, kept verbatim.
	Body    string         `json:"body,omitempty"`
	Partial *PartialResult `json:"partial,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUpstream, ErrorTypeProtocol, ErrorTypeTransport:
		return http.StatusBadGateway
	case ErrorTypeIterationLimit:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *GatewayError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.Type,
		"message": e.Message,
	}
	if e.Provider != "" {
		body["provider"] = e.Provider
	}
	if e.Type == ErrorTypeUpstream {
		body["status"] = e.StatusCode
		if e.Body != "" {
			body["body"] = e.Body
		}
	}
	if e.Partial != nil {
		body["usage"] = e.Partial.Usage.Normalized()
		body["cost"] = e.Partial.Cost
		body["iterations"] = e.Partial.Iterations
	}
	return map[string]interface{}{"error": body}
}

// NewConfigurationError creates an error for a missing credential or setting.
func NewConfigurationError(provider string, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeConfiguration,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Provider:   provider,
	}
}

// NewUpstreamError creates an error for a failed provider exchange. A zero
// statusCode means no response was received.
func NewUpstreamError(provider string, statusCode int, body []byte, err error) *GatewayError {
	message := extractErrorMessage(body)
	if message == "" && err != nil {
		message = err.Error()
	}
	if message == "" {
		message = fmt.Sprintf("upstream returned status %d", statusCode)
	}
	status := statusCode
	if status == 0 {
		status = http.StatusBadGateway
	}
	return &GatewayError{
		Type:       ErrorTypeUpstream,
		Message:    message,
		StatusCode: status,
		Provider:   provider,
		Body:       string(body),
		Err:        err,
	}
}

// NewProtocolError creates an error for a malformed tool-protocol exchange.
func NewProtocolError(message string, err error) *GatewayError {
	return &GatewayError{Type: ErrorTypeProtocol, Message: message, Err: err}
}

// NewTransportError creates an error for a tool server connection failure.
func NewTransportError(message string, err error) *GatewayError {
	return &GatewayError{Type: ErrorTypeTransport, Message: message, Err: err}
}

// NewToolExecutionError creates an error for a tool that ran and failed.
func NewToolExecutionError(message string, err error) *GatewayError {
	return &GatewayError{Type: ErrorTypeToolExecution, Message: message, Err: err}
}

// NewIterationLimitError reports that the tool loop gave up.
func NewIterationLimitError(limit int, partial PartialResult) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeIterationLimit,
		Message: fmt.Sprintf("model did not produce a final answer within %d iterations", limit),
		Partial: &partial,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// extractErrorMessage pulls a readable message out of the error shapes used
// by the supported providers.
func extractErrorMessage(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	for _, path := range []string{"error.message", "message", "error"} {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	return ""
}
