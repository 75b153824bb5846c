package toolproto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeClassification(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		request      bool
		notification bool
		response     bool
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, true, false, false},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`, false, true, false},
		{"null id is a notification", `{"jsonrpc":"2.0","id":null,"method":"x"}`, false, true, false},
		{"result", `{"jsonrpc":"2.0","id":3,"result":{}}`, false, false, true},
		{"error", `{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"nope"}}`, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs, err := DecodeEnvelopes([]byte(tt.raw))
			require.NoError(t, err)
			require.Len(t, envs, 1)
			env := envs[0]
			if env.IsRequest() != tt.request {
				t.Errorf("IsRequest() = %v, want %v", env.IsRequest(), tt.request)
			}
			if env.IsNotification() != tt.notification {
				t.Errorf("IsNotification() = %v, want %v", env.IsNotification(), tt.notification)
			}
			if env.IsResponse() != tt.response {
				t.Errorf("IsResponse() = %v, want %v", env.IsResponse(), tt.response)
			}
		})
	}
}

func TestNumericID(t *testing.T) {
	tests := []struct {
		id   string
		want int64
		ok   bool
	}{
		{`7`, 7, true},
		{`"7"`, 0, false},
		{`null`, 0, false},
		{``, 0, false},
		{`1.5`, 0, false},
	}
	for _, tt := range tests {
		env := &Envelope{ID: json.RawMessage(tt.id)}
		got, ok := env.NumericID()
		if got != tt.want || ok != tt.ok {
			t.Errorf("NumericID(%q) = %d, %v; want %d, %v", tt.id, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNewRequestAndNotification(t *testing.T) {
	req, err := NewRequest(42, MethodToolsCall, map[string]any{"name": "echo"})
	require.NoError(t, err)
	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":42,"method":"tools/call","params":{"name":"echo"}}`, string(data))

	note, err := NewNotification(NotificationInitialized, nil)
	require.NoError(t, err)
	data, err = json.Marshal(note)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, string(data))
}

func TestNewErrorResponse(t *testing.T) {
	env := NewErrorResponse(json.RawMessage(`"abc"`), CodeMethodNotFound, "method not found: sampling/createMessage")
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"abc","error":{"code":-32601,"message":"method not found: sampling/createMessage"}}`, string(data))
}

func TestDecodeEnvelopes(t *testing.T) {
	envs, err := DecodeEnvelopes([]byte(` [{"jsonrpc":"2.0","id":1,"result":{}},{"jsonrpc":"2.0","method":"x"}] `))
	require.NoError(t, err)
	assert.Len(t, envs, 2)

	_, err = DecodeEnvelopes([]byte("   "))
	assert.Error(t, err)

	_, err = DecodeEnvelopes([]byte(`{"jsonrpc":`))
	assert.Error(t, err)
}
