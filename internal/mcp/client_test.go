package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
)

// fakeTransport scripts responses per method and records what was sent.
type fakeTransport struct {
	responses map[string]json.RawMessage
	errors    map[string]error
	calls     []string
	notifies  []string
	connected bool
	events    chan *Notification
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(map[string]json.RawMessage),
		errors:    make(map[string]error),
		events:    make(chan *Notification, 1),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.connected = true
	return nil
}

func (f *fakeTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	f.calls = append(f.calls, method)
	if err, ok := f.errors[method]; ok {
		return nil, err
	}
	if resp, ok := f.responses[method]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("unexpected method %q", method)
}

func (f *fakeTransport) Notify(ctx context.Context, method string, params any) error {
	f.notifies = append(f.notifies, method)
	return nil
}

func (f *fakeTransport) Events() <-chan *Notification { return f.events }
func (f *fakeTransport) Connected() bool              { return f.connected }
func (f *fakeTransport) Close() error {
	f.connected = false
	return nil
}

func newTestSession(ft *fakeTransport) *Session {
	return &Session{
		config:    &ServerConfig{ID: "fake", Command: "echo"},
		transport: ft,
		logger:    slog.Default(),
	}
}

func TestSessionConnectHandshake(t *testing.T) {
	ft := newFakeTransport()
	ft.responses["initialize"] = json.RawMessage(
		`{"protocolVersion":"2024-11-05","serverInfo":{"name":"farm-tools","version":"0.3.0"}}`)

	session := newTestSession(ft)

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	if len(ft.calls) != 1 || ft.calls[0] != "initialize" {
		t.Errorf("calls = %v, want [initialize]", ft.calls)
	}
	if len(ft.notifies) != 1 || ft.notifies[0] != "notifications/initialized" {
		t.Errorf("notifies = %v, want [notifications/initialized]", ft.notifies)
	}
	if session.ServerInfo().Name != "farm-tools" {
		t.Errorf("server name = %q", session.ServerInfo().Name)
	}
}

func TestSessionConnectInitializeFails(t *testing.T) {
	ft := newFakeTransport()
	ft.errors["initialize"] = fmt.Errorf("boom")

	session := newTestSession(ft)

	if err := session.Connect(context.Background()); err == nil {
		t.Fatal("expected Connect to fail")
	}
	if ft.connected {
		t.Error("transport should be closed after a failed handshake")
	}
}

func TestSessionListTools(t *testing.T) {
	ft := newFakeTransport()
	ft.responses["tools/list"] = json.RawMessage(
		`{"tools":[{"name":"get_irrigation_status","description":"read zone state"},{"name":"start_irrigation"}]}`)

	session := newTestSession(ft)

	tools, err := session.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	if tools[0].Name != "get_irrigation_status" {
		t.Errorf("first tool = %q", tools[0].Name)
	}

	// The inventory is cached for later reads.
	if cached := session.Tools(); len(cached) != 2 {
		t.Errorf("cached tools = %d, want 2", len(cached))
	}
}

func TestSessionCallTool(t *testing.T) {
	ft := newFakeTransport()
	ft.responses["tools/call"] = json.RawMessage(
		`{"content":[{"type":"text","text":"zone 3: idle"}],"isError":false}`)

	session := newTestSession(ft)

	result, err := session.CallTool(context.Background(), "get_irrigation_status", map[string]any{"zone": 3})
	if err != nil {
		t.Fatalf("CallTool() error: %v", err)
	}
	if result.IsError {
		t.Error("unexpected isError")
	}
	if result.Text() != "zone 3: idle" {
		t.Errorf("Text() = %q", result.Text())
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	ft := newFakeTransport()
	ft.connected = true

	session := newTestSession(ft)

	if err := session.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if ft.connected {
		t.Error("transport still connected after Close")
	}
}
