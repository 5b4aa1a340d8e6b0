package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SSETransport reaches a provider over HTTP: requests go out as POSTed
// JSON-RPC, provider-initiated notifications arrive on a server-sent
// event stream at <url>/sse.
type SSETransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client

	events    chan *Notification
	connected atomic.Bool
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// retryInterval spaces reconnect attempts after a stream drops.
	retryInterval time.Duration
}

// NewSSETransport creates an SSE transport for the descriptor.
func NewSSETransport(cfg *ServerConfig) *SSETransport {
	return &SSETransport{
		config: cfg,
		logger: slog.Default().With("server", cfg.ID, "transport", "sse"),
		client: &http.Client{
			Timeout: cfg.EffectiveTimeout(),
		},
		events:        make(chan *Notification, 64),
		stopChan:      make(chan struct{}),
		retryInterval: 5 * time.Second,
	}
}

// Connect verifies the descriptor and starts the event stream listener.
// The network endpoint itself is probed by the manager before this runs.
func (t *SSETransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("server %s: %w", t.config.ID, ErrNoLaunchTarget)
	}

	t.connected.Store(true)
	t.logger.Info("transport ready", "url", t.config.URL)

	t.wg.Add(1)
	go t.eventLoop()

	return nil
}

// Close stops the event listener.
func (t *SSETransport) Close() error {
	t.connected.Store(false)
	t.stopOnce.Do(func() { close(t.stopChan) })
	t.wg.Wait()
	return nil
}

// Call POSTs a request and decodes the JSON-RPC response.
func (t *SSETransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("server %s: not connected", t.config.ID)
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  method,
	}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	t.setHeaders(httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server %s: HTTP %d: %s", t.config.ID, resp.StatusCode, string(msg))
	}

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// Notify POSTs a notification and discards the response body.
func (t *SSETransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("server %s: not connected", t.config.ID)
	}

	notif := Notification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}

	body, _ := json.Marshal(notif)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	t.setHeaders(httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Events delivers provider-initiated notifications.
func (t *SSETransport) Events() <-chan *Notification {
	return t.events
}

// Connected reports whether the transport is open.
func (t *SSETransport) Connected() bool {
	return t.connected.Load()
}

func (t *SSETransport) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
}

// eventLoop keeps an SSE stream open, reconnecting after drops.
func (t *SSETransport) eventLoop() {
	defer t.wg.Done()

	sseURL := strings.TrimSuffix(t.config.URL, "/") + "/sse"
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		t.streamEvents(sseURL)

		select {
		case <-t.stopChan:
			return
		case <-time.After(t.retryInterval):
		}
	}
}

// streamEvents reads one SSE connection until it drops.
func (t *SSETransport) streamEvents(sseURL string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The watcher must not outlive this attempt: eventLoop retries
	// indefinitely, so a watcher parked on stopChan alone would pile up
	// one goroutine per reconnect cycle.
	go func() {
		select {
		case <-t.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURL, nil)
	if err != nil {
		t.logger.Debug("create event stream request failed", "error", err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	// The stream stays open indefinitely, so bypass the client timeout.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		t.logger.Debug("event stream connect failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.Debug("event stream returned non-200", "status", resp.StatusCode)
		return
	}
	t.logger.Debug("event stream connected", "url", sseURL)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var notif Notification
		if err := json.Unmarshal([]byte(data), &notif); err != nil || notif.Method == "" {
			continue
		}
		select {
		case t.events <- &notif:
		default:
			t.logger.Warn("event channel full, dropping notification", "method", notif.Method)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		t.logger.Debug("event stream read failed", "error", err)
	}
}
