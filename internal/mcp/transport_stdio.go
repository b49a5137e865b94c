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
	"time"
)

const (
	// maxLineSize bounds a single JSON-RPC message on the pipe.
	maxLineSize = 1 << 20

	defaultCallTimeout = 30 * time.Second
)

// StdioTransport speaks newline-delimited JSON-RPC to a subprocess.
type StdioTransport struct {
	cfg    *ServerConfig
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	stderr io.ReadCloser

	nextID  atomic.Int64
	pending map[int64]chan *JSONRPCResponse

	mu        sync.Mutex
	connected bool
	done      chan struct{}
}

// NewStdioTransport creates a transport that will spawn the configured command.
func NewStdioTransport(cfg *ServerConfig) *StdioTransport {
	return &StdioTransport{
		cfg:     cfg,
		logger:  slog.Default().With("mcp_server", cfg.Name, "transport", "stdio"),
		pending: make(map[int64]chan *JSONRPCResponse),
		done:    make(chan struct{}),
	}
}

// Connect spawns the server process and starts the read loop.
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return fmt.Errorf("already connected")
	}

	cmd := exec.CommandContext(ctx, t.cfg.Command, t.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.cfg.Command, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = scanner
	t.stderr = stderr
	t.connected = true

	go t.readLoop()
	go t.logStderr()

	return nil
}

// Close shuts down the subprocess.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}
	t.connected = false
	close(t.done)

	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
		t.cmd.Wait()
	}

	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	return nil
}

// Connected reports whether the subprocess is running.
func (t *StdioTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Call sends a request and waits for the matching response.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (*JSONRPCResponse, error) {
	id := t.nextID.Add(1)

	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	ch := make(chan *JSONRPCResponse, 1)
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, fmt.Errorf("not connected")
	}
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.send(req); err != nil {
		return nil, err
	}

	timeout := t.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed")
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("call %s timed out after %s", method, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends a notification without waiting for a response.
func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
	note := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		note.Params = raw
	}
	return t.send(note)
}

func (t *StdioTransport) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return fmt.Errorf("not connected")
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (t *StdioTransport) readLoop() {
	for t.stdout.Scan() {
		select {
		case <-t.done:
			return
		default:
		}
		line := t.stdout.Bytes()
		if len(line) == 0 {
			continue
		}
		t.processLine(line)
	}
	if err := t.stdout.Err(); err != nil {
		t.logger.Warn("read loop ended", "error", err)
	}
}

func (t *StdioTransport) processLine(line []byte) {
	var resp JSONRPCResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		t.logger.Warn("unparseable message from server", "error", err)
		return
	}
	if resp.ID == nil {
		// Server-initiated notification; this client ignores them.
		return
	}

	id, ok := numericID(resp.ID)
	if !ok {
		t.logger.Warn("response with non-numeric id", "id", resp.ID)
		return
	}

	t.mu.Lock()
	ch, found := t.pending[id]
	t.mu.Unlock()
	if found {
		ch <- &resp
	}
}

func (t *StdioTransport) logStderr() {
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		t.logger.Debug("server stderr", "line", scanner.Text())
	}
}

// numericID normalizes a decoded JSON-RPC id to int64.
func numericID(v any) (int64, bool) {
	switch id := v.(type) {
	case float64:
		return int64(id), true
	case int64:
		return id, true
	case json.Number:
		n, err := id.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
