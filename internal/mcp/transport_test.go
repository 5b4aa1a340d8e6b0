package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime/pprof"
	"strings"
	"testing"
	"time"
)

func TestNewTransportStdio(t *testing.T) {
	cfg := &ServerConfig{ID: "test", Transport: TransportStdio, Command: "echo"}

	transport := NewTransport(cfg)
	if _, ok := transport.(*StdioTransport); !ok {
		t.Errorf("expected *StdioTransport, got %T", transport)
	}
}

func TestNewTransportSSE(t *testing.T) {
	cfg := &ServerConfig{ID: "test", Transport: TransportSSE, URL: "http://localhost:8080"}

	transport := NewTransport(cfg)
	if _, ok := transport.(*SSETransport); !ok {
		t.Errorf("expected *SSETransport, got %T", transport)
	}
}

func TestNewTransportInferred(t *testing.T) {
	cfg := &ServerConfig{ID: "test", URL: "http://localhost:8080"}
	if _, ok := NewTransport(cfg).(*SSETransport); !ok {
		t.Error("expected url-only descriptor to get an SSE transport")
	}

	cfg = &ServerConfig{ID: "test", Command: "echo"}
	if _, ok := NewTransport(cfg).(*StdioTransport); !ok {
		t.Error("expected command-only descriptor to get a stdio transport")
	}
}

func TestStdioTransportNotConnected(t *testing.T) {
	transport := NewStdioTransport(&ServerConfig{ID: "test", Command: "echo"})

	if transport.Connected() {
		t.Error("expected Connected() false before Connect()")
	}
	if _, err := transport.Call(context.Background(), "tools/list", nil); err == nil {
		t.Error("expected Call to fail when not connected")
	}
	if err := transport.Notify(context.Background(), "notifications/initialized", nil); err == nil {
		t.Error("expected Notify to fail when not connected")
	}
}

func TestStdioTransportConnectNoCommand(t *testing.T) {
	transport := NewStdioTransport(&ServerConfig{ID: "test"})

	if err := transport.Connect(context.Background()); err == nil {
		t.Error("expected error for missing command")
	}
}

func TestDispatchFrameResponse(t *testing.T) {
	transport := NewStdioTransport(&ServerConfig{ID: "test", Command: "echo"})

	respChan := make(chan *Response, 1)
	transport.pendingMu.Lock()
	transport.pending[7] = respChan
	transport.pendingMu.Unlock()

	transport.dispatchFrame(`{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`)

	select {
	case resp := <-respChan:
		var result map[string]bool
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			t.Fatalf("unmarshal result: %v", err)
		}
		if !result["ok"] {
			t.Error("expected result.ok true")
		}
	default:
		t.Fatal("response was not delivered to the pending call")
	}

	transport.pendingMu.Lock()
	_, stillPending := transport.pending[7]
	transport.pendingMu.Unlock()
	if stillPending {
		t.Error("pending entry should be removed after dispatch")
	}
}

func TestDispatchFrameError(t *testing.T) {
	transport := NewStdioTransport(&ServerConfig{ID: "test", Command: "echo"})

	respChan := make(chan *Response, 1)
	transport.pendingMu.Lock()
	transport.pending[3] = respChan
	transport.pendingMu.Unlock()

	transport.dispatchFrame(`{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"method not found"}}`)

	select {
	case resp := <-respChan:
		if resp.Error == nil {
			t.Fatal("expected error in response")
		}
		if resp.Error.Code != -32601 {
			t.Errorf("error code = %d, want -32601", resp.Error.Code)
		}
	default:
		t.Fatal("error response was not delivered")
	}
}

func TestDispatchFrameNotification(t *testing.T) {
	transport := NewStdioTransport(&ServerConfig{ID: "test", Command: "echo"})

	transport.dispatchFrame(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`)

	select {
	case notif := <-transport.Events():
		if notif.Method != "notifications/tools/list_changed" {
			t.Errorf("method = %q", notif.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("notification was not routed to the event channel")
	}
}

func TestDispatchFrameUnknownID(t *testing.T) {
	transport := NewStdioTransport(&ServerConfig{ID: "test", Command: "echo"})

	// A response for an ID nobody is waiting on must not panic or block.
	transport.dispatchFrame(`{"jsonrpc":"2.0","id":99,"result":{}}`)
}

func TestSSETransportNotConnected(t *testing.T) {
	transport := NewSSETransport(&ServerConfig{ID: "test", URL: "http://localhost:8080"})

	if transport.Connected() {
		t.Error("expected Connected() false before Connect()")
	}
	if _, err := transport.Call(context.Background(), "tools/list", nil); err == nil {
		t.Error("expected Call to fail when not connected")
	}
	if err := transport.Notify(context.Background(), "notifications/initialized", nil); err == nil {
		t.Error("expected Notify to fail when not connected")
	}
}

func TestSSETransportConnectNoURL(t *testing.T) {
	transport := NewSSETransport(&ServerConfig{ID: "test", Transport: TransportSSE})

	if err := transport.Connect(context.Background()); err == nil {
		t.Error("expected error for missing url")
	}
}

// streamWatcherCount counts goroutines parked in the per-attempt stream
// watcher via the goroutine profile.
func streamWatcherCount(t *testing.T) int {
	t.Helper()

	var buf bytes.Buffer
	if err := pprof.Lookup("goroutine").WriteTo(&buf, 2); err != nil {
		t.Fatalf("goroutine profile: %v", err)
	}
	return strings.Count(buf.String(), "streamEvents.func1")
}

func TestSSEReconnectReleasesWatchers(t *testing.T) {
	// The event stream endpoint never succeeds, so the event loop keeps
	// retrying. Each failed attempt must release its cancel watcher
	// instead of parking it until Close.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	transport := NewSSETransport(&ServerConfig{ID: "events", Transport: TransportSSE, URL: srv.URL})
	transport.retryInterval = 10 * time.Millisecond

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	defer transport.Close()

	time.Sleep(300 * time.Millisecond) // dozens of reconnect cycles

	if n := streamWatcherCount(t); n > 2 {
		t.Errorf("%d stream watcher goroutines alive after reconnect cycles, want at most the current attempt's", n)
	}
}

func TestSSETransportClientTimeout(t *testing.T) {
	transport := NewSSETransport(&ServerConfig{
		ID:      "test",
		URL:     "http://localhost:8080",
		Timeout: 42 * time.Second,
	})

	if transport.client.Timeout != 42*time.Second {
		t.Errorf("client timeout = %v, want 42s", transport.client.Timeout)
	}
}
