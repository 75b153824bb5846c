// Package toolproto implements the client side of the tool protocol: a
// JSON-RPC 2.0 dialect spoken with tool servers over a child-process pipe,
// synchronous HTTP, or HTTP with a server-sent push channel.
package toolproto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
)

// JSONRPCVersion is the envelope version tag.
const JSONRPCVersion = mcp.JSONRPC_VERSION

// Methods sent or handled by the client.
const (
	MethodInitialize             = string(mcp.MethodInitialize)
	MethodPing                   = string(mcp.MethodPing)
	MethodToolsList              = string(mcp.MethodToolsList)
	MethodToolsCall              = string(mcp.MethodToolsCall)
	NotificationInitialized      = "notifications/initialized"
	NotificationToolsListChanged = "notifications/tools/list_changed"
)

// Envelope is the wire unit of the protocol. A request carries Method and
// an ID, a notification carries Method without an ID, and a response
// carries Result or Error with the ID of the request it answers.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ProtocolError  `json:"error,omitempty"`
}

// hasID reports whether the envelope carries a non-null id.
func (e *Envelope) hasID() bool {
	return len(e.ID) > 0 && !bytes.Equal(e.ID, []byte("null"))
}

// IsNotification reports whether e is a notification and must never be
// answered or awaited.
func (e *Envelope) IsNotification() bool {
	return e.Method != "" && !e.hasID()
}

// IsRequest reports whether e is a server-initiated request.
func (e *Envelope) IsRequest() bool {
	return e.Method != "" && e.hasID()
}

// IsResponse reports whether e answers an earlier request.
func (e *Envelope) IsResponse() bool {
	return e.Method == "" && (e.Result != nil || e.Error != nil)
}

// NumericID returns the id as an integer. The client only ever issues
// integer ids, so any other id cannot match a pending request.
func (e *Envelope) NumericID() (int64, bool) {
	if !e.hasID() {
		return 0, false
	}
	id, err := strconv.ParseInt(string(e.ID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

// NewRequest builds a request envelope.
func NewRequest(id int64, method string, params any) (*Envelope, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
		Params:  raw,
	}, nil
}

// NewNotification builds an id-less envelope.
func NewNotification(method string, params any) (*Envelope, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{JSONRPC: JSONRPCVersion, Method: method, Params: raw}, nil
}

// NewResult builds a successful response to a server request.
func NewResult(id json.RawMessage, result any) (*Envelope, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Envelope{JSONRPC: JSONRPCVersion, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response to a server request.
func NewErrorResponse(id json.RawMessage, code int, message string) *Envelope {
	return &Envelope{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &ProtocolError{Code: code, Message: message},
	}
}

// DecodeEnvelopes parses one envelope or a batch array.
func DecodeEnvelopes(data []byte) ([]*Envelope, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	if data[0] == '[' {
		var batch []*Envelope
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		return batch, nil
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return []*Envelope{&env}, nil
}
