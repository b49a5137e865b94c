package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/lakshit-hivel/pr-copilot/internal/agent"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoTool is a minimal agent.Tool used across the package tests.
type echoTool struct {
	name string
	fail bool
}

func (e *echoTool) Name() string        { return e.name }
func (e *echoTool) Description() string { return "echoes its input" }
func (e *echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
}

func (e *echoTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if e.fail {
		return nil, fmt.Errorf("echo broke")
	}
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return &agent.ToolResult{Content: "bad args", IsError: true}, nil
	}
	return &agent.ToolResult{Content: args.Text}, nil
}

func serveLines(t *testing.T, srv *Server, lines ...string) []JSONRPCResponse {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	if err := srv.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	var responses []JSONRPCResponse
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("unmarshal response %q: %v", line, err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func TestServerInitialize(t *testing.T) {
	srv := NewServer("insight-tools", "1.0.0")

	responses := serveLines(t, srv,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0"}}}`,
	)
	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}

	var result InitializeResult
	if err := json.Unmarshal(responses[0].Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("ProtocolVersion = %q, want %q", result.ProtocolVersion, ProtocolVersion)
	}
	if result.ServerInfo.Name != "insight-tools" {
		t.Errorf("ServerInfo.Name = %q, want insight-tools", result.ServerInfo.Name)
	}
	if result.Capabilities.Tools == nil {
		t.Error("Capabilities.Tools is nil, want advertised")
	}
}

func TestServerListTools(t *testing.T) {
	srv := NewServer("insight-tools", "1.0.0")
	srv.Register(&echoTool{name: "echo"})
	srv.Register(&echoTool{name: "shout"})

	responses := serveLines(t, srv, `{"jsonrpc":"2.0","id":5,"method":"tools/list"}`)

	var result ListToolsResult
	if err := json.Unmarshal(responses[0].Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(result.Tools))
	}
	if result.Tools[0].Name != "echo" || result.Tools[1].Name != "shout" {
		t.Errorf("tool order = [%s, %s], want [echo, shout]", result.Tools[0].Name, result.Tools[1].Name)
	}
	if len(result.Tools[0].InputSchema) == 0 {
		t.Error("InputSchema is empty")
	}
}

func TestServerCallTool(t *testing.T) {
	srv := NewServer("insight-tools", "1.0.0")
	srv.Register(&echoTool{name: "echo"})

	responses := serveLines(t, srv,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hello"}}}`,
	)

	var result ToolCallResult
	if err := json.Unmarshal(responses[0].Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.IsError {
		t.Errorf("IsError = true, want false")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Errorf("Content = %+v, want single text block %q", result.Content, "hello")
	}
}

func TestServerCallToolErrors(t *testing.T) {
	srv := NewServer("insight-tools", "1.0.0")
	srv.Register(&echoTool{name: "broken", fail: true})

	t.Run("unknown tool", func(t *testing.T) {
		responses := serveLines(t, srv,
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope","arguments":{}}}`,
		)
		if responses[0].Error == nil {
			t.Fatal("expected an error response")
		}
		if responses[0].Error.Code != ErrCodeToolNotFound {
			t.Errorf("error code = %d, want %d", responses[0].Error.Code, ErrCodeToolNotFound)
		}
	})

	t.Run("execution failure becomes IsError result", func(t *testing.T) {
		responses := serveLines(t, srv,
			`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"broken","arguments":{}}}`,
		)
		if responses[0].Error != nil {
			t.Fatalf("unexpected protocol error: %v", responses[0].Error)
		}
		var result ToolCallResult
		if err := json.Unmarshal(responses[0].Result, &result); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		if !result.IsError {
			t.Error("IsError = false, want true")
		}
		if !strings.Contains(result.Content[0].Text, "echo broke") {
			t.Errorf("Content = %q, want the execution error", result.Content[0].Text)
		}
	})
}

func TestServerProtocolErrors(t *testing.T) {
	srv := NewServer("insight-tools", "1.0.0")

	t.Run("unknown method", func(t *testing.T) {
		responses := serveLines(t, srv, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
		if responses[0].Error == nil || responses[0].Error.Code != ErrCodeMethodNotFound {
			t.Errorf("got %+v, want method-not-found error", responses[0].Error)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		responses := serveLines(t, srv, `{not json`)
		if responses[0].Error == nil || responses[0].Error.Code != ErrCodeParseError {
			t.Errorf("got %+v, want parse error", responses[0].Error)
		}
	})

	t.Run("notification gets no response", func(t *testing.T) {
		responses := serveLines(t, srv, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
		if len(responses) != 0 {
			t.Errorf("got %d responses to a notification, want 0", len(responses))
		}
	})
}
