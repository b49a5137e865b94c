package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/lakshit-hivel/pr-copilot/internal/agent"
)

// loopbackTransport dispatches calls directly into a Server, letting the
// client stack be exercised without a subprocess.
type loopbackTransport struct {
	srv       *Server
	nextID    atomic.Int64
	connected bool
}

func (l *loopbackTransport) Connect(context.Context) error { l.connected = true; return nil }
func (l *loopbackTransport) Close() error                  { l.connected = false; return nil }
func (l *loopbackTransport) Connected() bool               { return l.connected }

func (l *loopbackTransport) Call(ctx context.Context, method string, params any) (*JSONRPCResponse, error) {
	req := JSONRPCRequest{JSONRPC: "2.0", ID: l.nextID.Add(1), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp := l.srv.handleLine(ctx, line)
	if resp == nil {
		return nil, fmt.Errorf("no response")
	}
	return resp, nil
}

func (l *loopbackTransport) Notify(context.Context, string, any) error { return nil }

func newLoopbackClient(t *testing.T, srv *Server) *Client {
	t.Helper()
	client := &Client{
		cfg:       &ServerConfig{Name: "insight"},
		transport: &loopbackTransport{srv: srv},
		logger:    discardLogger(),
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return client
}

func TestClientHandshakeAndDiscovery(t *testing.T) {
	srv := NewServer("insight-tools", "1.0.0")
	srv.Register(&echoTool{name: "echo"})

	client := newLoopbackClient(t, srv)
	defer client.Close()

	tools := client.Tools()
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("Tools() = %+v, want the registered echo tool", tools)
	}
}

func TestToolBridgeExecute(t *testing.T) {
	srv := NewServer("insight-tools", "1.0.0")
	srv.Register(&echoTool{name: "echo"})

	client := newLoopbackClient(t, srv)
	defer client.Close()

	bridge := NewToolBridge(client, client.Tools()[0])

	if got := bridge.Name(); got != "insight_echo" {
		t.Errorf("Name() = %q, want insight_echo", got)
	}

	result, err := bridge.Execute(context.Background(), json.RawMessage(`{"text":"ping"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.IsError {
		t.Errorf("IsError = true, want false")
	}
	if result.Content != "ping" {
		t.Errorf("Content = %q, want ping", result.Content)
	}
}

func TestToolBridgeSchemaFallback(t *testing.T) {
	bridge := &ToolBridge{tool: &MCPTool{Name: "bare"}}
	if got := string(bridge.Schema()); got != `{"type":"object"}` {
		t.Errorf("Schema() = %s, want empty object schema", got)
	}
}

func TestAttachTools(t *testing.T) {
	srv := NewServer("insight-tools", "1.0.0")
	srv.Register(&echoTool{name: "echo"})
	srv.Register(&echoTool{name: "shout"})

	client := newLoopbackClient(t, srv)
	defer client.Close()

	registry := agent.NewToolRegistry()
	if n := AttachTools(registry, client); n != 2 {
		t.Fatalf("AttachTools() = %d, want 2", n)
	}

	result, err := registry.Execute(context.Background(), "insight_echo", json.RawMessage(`{"text":"via registry"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Content != "via registry" {
		t.Errorf("Content = %q, want via registry", result.Content)
	}
}

func TestSafeToolName(t *testing.T) {
	tests := []struct {
		server, tool, want string
	}{
		{"insight", "run_query", "insight_run_query"},
		{"my-server", "get.data", "my_server_get_data"},
		{"s", "t@ol!", "s_t_ol_"},
	}
	for _, tt := range tests {
		if got := safeToolName(tt.server, tt.tool); got != tt.want {
			t.Errorf("safeToolName(%q, %q) = %q, want %q", tt.server, tt.tool, got, tt.want)
		}
	}

	long := safeToolName("server", string(make([]byte, 100)))
	if len(long) > 64 {
		t.Errorf("len = %d, want <= 64", len(long))
	}
}
