package llmclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"toolgate/internal/core"
)

func TestClient_Do_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"hello"}`))
	}))
	defer server.Close()

	client := New(
		DefaultConfig("test", server.URL),
		func(req *http.Request) {
			req.Header.Set("X-Test", "value")
		},
	)

	var result struct {
		Message string `json:"message"`
	}
	err := client.Do(context.Background(), Request{
		Method:   http.MethodGet,
		Endpoint: "/test",
	}, &result)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Message != "hello" {
		t.Errorf("expected message 'hello', got '%s'", result.Message)
	}
}

func TestClient_Do_WithRequestBody(t *testing.T) {
	var receivedBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type 'application/json', got '%s'", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &receivedBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := New(DefaultConfig("test", server.URL), nil)

	requestBody := map[string]string{"input": "test"}
	var result map[string]string
	err := client.Do(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/test",
		Body:     requestBody,
	}, &result)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedBody["input"] != "test" {
		t.Errorf("expected input 'test', got '%v'", receivedBody["input"])
	}
}

func TestClient_Do_Headers(t *testing.T) {
	var receivedHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(DefaultConfig("test", server.URL), func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer secret")
	})

	err := client.Do(context.Background(), Request{
		Method:   http.MethodGet,
		Endpoint: "/test",
		Headers:  map[string]string{"X-Custom": "custom"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedHeaders.Get("Authorization") != "Bearer secret" {
		t.Errorf("Authorization = %q", receivedHeaders.Get("Authorization"))
	}
	if receivedHeaders.Get("X-Custom") != "custom" {
		t.Errorf("X-Custom = %q", receivedHeaders.Get("X-Custom"))
	}
}

func TestClient_Do_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantMsg    string
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"Rate limited"}}`, "Rate limited"},
		{"authentication", http.StatusUnauthorized, `{"error":{"message":"Invalid API key"}}`, "Invalid API key"},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"Invalid model"}}`, "Invalid model"},
		{"server error", http.StatusInternalServerError, `upstream exploded`, "upstream exploded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := New(DefaultConfig("test", server.URL), nil)

			err := client.Do(context.Background(), Request{
				Method:   http.MethodGet,
				Endpoint: "/test",
			}, nil)

			if err == nil {
				t.Fatal("expected error, got nil")
			}
			gatewayErr, ok := err.(*core.GatewayError)
			if !ok {
				t.Fatalf("expected GatewayError, got %T", err)
			}
			if gatewayErr.Type != core.ErrorTypeUpstream {
				t.Errorf("expected error type %s, got %s", core.ErrorTypeUpstream, gatewayErr.Type)
			}
			if gatewayErr.StatusCode != tt.statusCode {
				t.Errorf("expected status %d, got %d", tt.statusCode, gatewayErr.StatusCode)
			}
			if gatewayErr.Body != tt.body {
				t.Errorf("expected verbatim body %q, got %q", tt.body, gatewayErr.Body)
			}
			if gatewayErr.Message != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, gatewayErr.Message)
			}
		})
	}
}

func TestClient_Do_NeverRetries(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(DefaultConfig("test", server.URL), nil)

	err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"}, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", got)
	}
}

func TestClient_Do_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := New(DefaultConfig("test", url), nil)

	err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"}, nil)
	gatewayErr, ok := err.(*core.GatewayError)
	if !ok {
		t.Fatalf("expected GatewayError, got %T", err)
	}
	if gatewayErr.HTTPStatusCode() != http.StatusBadGateway {
		t.Errorf("expected 502 for no response, got %d", gatewayErr.HTTPStatusCode())
	}
}

func TestClient_DoStream_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"chunk\":1}\n\n"))
		_, _ = w.Write([]byte("data: {\"chunk\":2}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client := New(DefaultConfig("test", server.URL), nil)

	stream, err := client.DoStream(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/stream",
		Body:     map[string]bool{"stream": true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	body, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}

	if !strings.Contains(string(body), "chunk") {
		t.Errorf("expected body to contain 'chunk', got: %s", string(body))
	}
}

func TestClient_DoStream_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API key"}}`))
	}))
	defer server.Close()

	client := New(DefaultConfig("test", server.URL), nil)

	_, err := client.DoStream(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/stream",
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	gatewayErr, ok := err.(*core.GatewayError)
	if !ok {
		t.Fatalf("expected GatewayError, got %T", err)
	}
	if gatewayErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", gatewayErr.StatusCode)
	}
}

func TestClient_Hooks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	var started, ended int32
	var endInfo ResponseInfo
	cfg := DefaultConfig("hooked", server.URL)
	cfg.Hooks = Hooks{
		OnRequestStart: func(ctx context.Context, info RequestInfo) context.Context {
			atomic.AddInt32(&started, 1)
			return ctx
		},
		OnRequestEnd: func(ctx context.Context, info ResponseInfo) {
			atomic.AddInt32(&ended, 1)
			endInfo = info
		},
	}
	client := New(cfg, nil)

	_ = client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/x"}, nil)

	if started != 1 || ended != 1 {
		t.Fatalf("expected one start and one end, got %d/%d", started, ended)
	}
	if endInfo.StatusCode != http.StatusTeapot {
		t.Errorf("expected status 418 in hook, got %d", endInfo.StatusCode)
	}
	if endInfo.Provider != "hooked" || endInfo.Endpoint != "/x" {
		t.Errorf("unexpected hook info %+v", endInfo)
	}
	if endInfo.Err == nil {
		t.Error("expected hook to see the upstream error")
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(DefaultConfig("test", server.URL), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Do(ctx, Request{
		Method:   http.MethodGet,
		Endpoint: "/test",
	}, nil)

	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestClient_SetBaseURL(t *testing.T) {
	client := New(DefaultConfig("test", "https://original.com"), nil)

	if client.BaseURL() != "https://original.com" {
		t.Errorf("expected base URL 'https://original.com', got '%s'", client.BaseURL())
	}

	client.SetBaseURL("https://new.com")

	if client.BaseURL() != "https://new.com" {
		t.Errorf("expected base URL 'https://new.com', got '%s'", client.BaseURL())
	}
}
