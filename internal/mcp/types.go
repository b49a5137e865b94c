// Package mcp implements the Model Context Protocol subset used by
// pr-copilot: a client that attaches remote tool servers to the agent, and a
// stdio server that exposes the analytics tools to any MCP client.
package mcp

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lakshit-hivel/pr-copilot/internal/config"
)

// ProtocolVersion is the MCP revision spoken on both sides.
const ProtocolVersion = "2024-11-05"

// TransportType specifies the MCP transport protocol.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportHTTP  TransportType = "http"
)

// ServerConfig holds connection settings for one tool server.
type ServerConfig struct {
	Name      string
	Transport TransportType

	// Stdio transport options
	Command string
	Args    []string
	Env     map[string]string

	// HTTP transport options
	URL     string
	Headers map[string]string

	Timeout time.Duration
}

// FromConfig converts the application config entry into a transport config.
func FromConfig(cfg config.MCPServerConfig) *ServerConfig {
	out := &ServerConfig{
		Name:    cfg.Name,
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     cfg.Env,
		URL:     cfg.URL,
		Timeout: cfg.Timeout,
	}
	if cfg.URL != "" {
		out.Transport = TransportHTTP
	} else {
		out.Transport = TransportStdio
	}
	return out
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("server name is required")
	}

	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("stdio config for %s: command is required", c.Name)
		}
		if strings.Contains(filepath.Clean(c.Command), "..") {
			return fmt.Errorf("stdio config for %s: command contains path traversal", c.Name)
		}
		for i, arg := range c.Args {
			if containsShellMetachars(arg) {
				return fmt.Errorf("stdio config for %s: arg[%d] contains shell metacharacters: %q", c.Name, i, arg)
			}
		}
	case TransportHTTP:
		if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
			return fmt.Errorf("http config for %s: URL must start with http:// or https://", c.Name)
		}
	default:
		return fmt.Errorf("server %s: unknown transport %q", c.Name, c.Transport)
	}
	return nil
}

func containsShellMetachars(s string) bool {
	dangerous := []string{"$(", "${", "`", "&&", "||", ";", "|", ">", "<", "\n", "\r"}
	for _, pattern := range dangerous {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}

// MCPTool describes a tool exposed by a server.
type MCPTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolCallResult holds the result of calling a tool.
type ToolCallResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// ToolResultContent holds a piece of content from a tool result.
type ToolResultContent struct {
	Type string `json:"type"` // text
	Text string `json:"text,omitempty"`
}

// TextResult builds a single-text-block tool result.
func TextResult(text string, isError bool) *ToolCallResult {
	return &ToolCallResult{
		Content: []ToolResultContent{{Type: "text", Text: text}},
		IsError: isError,
	}
}

// JSON-RPC types

// JSONRPCRequest is a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCNotification is a JSON-RPC 2.0 notification (no ID).
type JSONRPCNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCError is a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCP-specific error codes
const (
	ErrCodeToolNotFound = -32002
)

// ServerInfo identifies an MCP server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientInfo identifies an MCP client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities advertises what a peer supports.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability describes tool-related capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams holds parameters for initialize.
type InitializeParams struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ClientInfo      ClientInfo   `json:"clientInfo"`
}

// InitializeResult holds the result of initialize.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// ListToolsResult holds the result of tools/list.
type ListToolsResult struct {
	Tools []*MCPTool `json:"tools"`
}

// CallToolParams holds parameters for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}
