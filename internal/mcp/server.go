package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/lakshit-hivel/pr-copilot/internal/agent"
)

// Server exposes a set of agent tools over newline-delimited JSON-RPC.
// It is the serving counterpart of StdioTransport: one message per line,
// requests answered in order, notifications consumed silently.
type Server struct {
	info   ServerInfo
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]agent.Tool
	order []string
}

// NewServer creates a tool server with the given identity.
func NewServer(name, version string) *Server {
	return &Server{
		info:   ServerInfo{Name: name, Version: version},
		logger: slog.Default().With("component", "mcp_server"),
		tools:  make(map[string]agent.Tool),
	}
}

// Register adds a tool to the server. Later registrations with the same name
// replace earlier ones.
func (s *Server) Register(tool agent.Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := tool.Name()
	if _, exists := s.tools[name]; !exists {
		s.order = append(s.order, name)
	}
	s.tools[name] = tool
}

// Serve reads JSON-RPC messages from in and writes responses to out until
// the reader is exhausted or the context is cancelled.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	writer := bufio.NewWriter(out)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.handleLine(ctx, line)
		if resp == nil {
			continue
		}
		if err := writeMessage(writer, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) handleLine(ctx context.Context, line []byte) *JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(nil, ErrCodeParseError, "parse error")
	}

	// Notifications carry no ID and get no response.
	if req.ID == nil {
		s.logger.Debug("notification", "method", req.Method)
		return nil
	}

	s.logger.Debug("request", "method", req.Method, "id", req.ID)

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "ping":
		return resultResponse(req.ID, struct{}{})
	case "tools/list":
		return s.handleListTools(req)
	case "tools/call":
		return s.handleCallTool(ctx, req)
	default:
		return errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req JSONRPCRequest) *JSONRPCResponse {
	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo: s.info,
	}
	return resultResponse(req.ID, result)
}

func (s *Server) handleListTools(req JSONRPCRequest) *JSONRPCResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]*MCPTool, 0, len(s.order))
	for _, name := range s.order {
		tool := s.tools[name]
		tools = append(tools, &MCPTool{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}
	return resultResponse(req.ID, ListToolsResult{Tools: tools})
}

func (s *Server) handleCallTool(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, ErrCodeInvalidParams, "invalid tools/call params")
	}

	s.mu.RLock()
	tool, ok := s.tools[params.Name]
	s.mu.RUnlock()
	if !ok {
		return errorResponse(req.ID, ErrCodeToolNotFound, fmt.Sprintf("tool not found: %s", params.Name))
	}

	result, err := tool.Execute(ctx, params.Arguments)
	if err != nil {
		return resultResponse(req.ID, TextResult(fmt.Sprintf("Error: %v", err), true))
	}
	return resultResponse(req.ID, TextResult(result.Content, result.IsError))
}

func resultResponse(id any, result any) *JSONRPCResponse {
	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, ErrCodeInternalError, "marshal result")
	}
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: raw}
}

func errorResponse(id any, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}

func writeMessage(w *bufio.Writer, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return err
	}
	return w.Flush()
}
