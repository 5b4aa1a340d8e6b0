package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// StdioTransport talks newline-delimited JSON-RPC over the pipes of a child
// process it spawns and owns. The process handle is released together with
// the pipes on every Close path.
type StdioTransport struct {
	config *ServerConfig
	logger *slog.Logger

	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	stderr  io.ReadCloser
	writeMu sync.Mutex

	pending   map[int64]chan *Response
	pendingMu sync.Mutex
	events    chan *Notification
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewStdioTransport creates a stdio transport for the descriptor.
func NewStdioTransport(cfg *ServerConfig) *StdioTransport {
	return &StdioTransport{
		config:   cfg,
		logger:   slog.Default().With("server", cfg.ID, "transport", "stdio"),
		pending:  make(map[int64]chan *Response),
		events:   make(chan *Notification, 64),
		stopChan: make(chan struct{}),
	}
}

// Connect spawns the provider process and wires its pipes. The process is
// deliberately not bound to ctx: connection attempts carry short timeouts
// while the process must outlive them.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t.config.Command == "" {
		return fmt.Errorf("server %s: %w", t.config.ID, ErrNoLaunchTarget)
	}

	t.process = exec.Command(t.config.Command, t.config.Args...)
	t.process.Env = os.Environ()
	for k, v := range t.config.Env {
		t.process.Env = append(t.process.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if t.config.WorkDir != "" {
		t.process.Dir = t.config.WorkDir
	}

	var err error
	t.stdin, err = t.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := t.process.StdoutPipe()
	if err != nil {
		t.stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 1024*1024), 1024*1024)
	t.stderr, _ = t.process.StderrPipe()

	if err := t.process.Start(); err != nil {
		t.stdin.Close()
		return fmt.Errorf("start process: %w", err)
	}

	t.connected.Store(true)
	t.logger.Info("started provider process",
		"command", t.config.Command,
		"pid", t.process.Process.Pid)

	t.wg.Add(1)
	go t.readLoop()

	if t.stderr != nil {
		t.wg.Add(1)
		go t.forwardStderr()
	}

	return nil
}

// Close terminates the child process gracefully, escalating to a kill
// after the grace window.
func (t *StdioTransport) Close() error {
	t.connected.Store(false)
	t.stopOnce.Do(func() { close(t.stopChan) })

	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.process != nil && t.process.Process != nil {
		terminateProcess(t.process, t.logger)
	}
	t.wg.Wait()
	return nil
}

// terminateProcess sends SIGTERM and kills after the grace window.
func terminateProcess(cmd *exec.Cmd, logger *slog.Logger) {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		cmd.Process.Kill()
		return
	}

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(TerminateGrace):
		logger.Warn("process did not exit after SIGTERM, killing", "pid", cmd.Process.Pid)
		cmd.Process.Kill()
		<-done
	}
}

// Call sends a request and waits for the matching response.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("server %s: not connected", t.config.ID)
	}

	id := t.nextID.Add(1)
	req := Request{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	respChan := make(chan *Response, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.writeFrame(req); err != nil {
		return nil, err
	}

	timeout := t.config.EffectiveTimeout()
	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("server %s: %s timed out after %v", t.config.ID, method, timeout)
	case <-t.stopChan:
		return nil, fmt.Errorf("server %s: transport closed", t.config.ID)
	}
}

// Notify sends a notification without waiting for anything.
func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
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
	return t.writeFrame(notif)
}

func (t *StdioTransport) writeFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Events delivers provider-initiated notifications.
func (t *StdioTransport) Events() <-chan *Notification {
	return t.events
}

// Connected reports whether the transport is open.
func (t *StdioTransport) Connected() bool {
	return t.connected.Load()
}

// readLoop reads frames from the process stdout until EOF or stop.
func (t *StdioTransport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)

	for t.stdout.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		if line := t.stdout.Text(); line != "" {
			t.dispatchFrame(line)
		}
	}
	if err := t.stdout.Err(); err != nil {
		t.logger.Error("stdout read failed", "error", err)
	}
}

// dispatchFrame routes one frame to its pending call or the event channel.
func (t *StdioTransport) dispatchFrame(line string) {
	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err == nil && resp.ID != nil {
		var id int64
		switch v := resp.ID.(type) {
		case float64:
			id = int64(v)
		case int64:
			id = v
		case int:
			id = int64(v)
		default:
			t.logger.Warn("response with unexpected id type", "id", resp.ID)
			return
		}

		t.pendingMu.Lock()
		if ch, ok := t.pending[id]; ok {
			select {
			case ch <- &resp:
			default:
			}
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
		return
	}

	var notif Notification
	if err := json.Unmarshal([]byte(line), &notif); err == nil && notif.Method != "" {
		select {
		case t.events <- &notif:
		default:
			t.logger.Warn("event channel full, dropping notification", "method", notif.Method)
		}
	}
}

// forwardStderr surfaces the provider's stderr through our logs.
func (t *StdioTransport) forwardStderr() {
	defer t.wg.Done()

	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		if line := scanner.Text(); line != "" {
			t.logger.Debug("provider stderr", "line", line)
		}
	}
}
