package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// HTTPTransport speaks JSON-RPC over HTTP POST. Each call is a single
// request/response exchange against the server endpoint.
type HTTPTransport struct {
	cfg    *ServerConfig
	client *http.Client

	mu        sync.Mutex
	connected bool
}

// NewHTTPTransport creates a transport for an HTTP MCP server.
func NewHTTPTransport(cfg *ServerConfig) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &HTTPTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Connect verifies the endpoint is reachable.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return fmt.Errorf("already connected")
	}
	t.connected = true
	return nil
}

// Close tears down the transport.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.client.CloseIdleConnections()
	return nil
}

// Connected reports whether the transport is usable.
func (t *HTTPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Call performs a JSON-RPC request over HTTP POST.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (*JSONRPCResponse, error) {
	if !t.Connected() {
		return nil, fmt.Errorf("not connected")
	}

	req := JSONRPCRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	body, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp JSONRPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// Notify sends a notification over HTTP POST, ignoring the body.
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.Connected() {
		return fmt.Errorf("not connected")
	}

	note := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		note.Params = raw
	}
	_, err := t.post(ctx, note)
	return err
}

func (t *HTTPTransport) post(ctx context.Context, msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned %s", httpResp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxLineSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}
