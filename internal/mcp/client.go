package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Client manages a connection to one MCP tool server.
type Client struct {
	cfg       *ServerConfig
	transport Transport
	logger    *slog.Logger

	mu         sync.RWMutex
	serverInfo *ServerInfo
	tools      []*MCPTool
}

// NewClient creates a client for the given server configuration.
func NewClient(cfg *ServerConfig) (*Client, error) {
	transport, err := NewTransport(cfg)
	if err != nil {
		return nil, fmt.Errorf("create transport for %s: %w", cfg.Name, err)
	}
	return &Client{
		cfg:       cfg,
		transport: transport,
		logger:    slog.Default().With("mcp_server", cfg.Name),
	}, nil
}

// Connect establishes the connection and performs the MCP handshake.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", c.cfg.Name, err)
	}

	if err := c.initialize(ctx); err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize %s: %w", c.cfg.Name, err)
	}

	if err := c.refreshTools(ctx); err != nil {
		c.logger.Warn("tool discovery failed", "error", err)
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Connected reports whether the client has a live transport.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Tools returns the discovered tool list.
func (c *Client) Tools() []*MCPTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*MCPTool, len(c.tools))
	copy(out, c.tools)
	return out
}

func (c *Client) initialize(ctx context.Context) error {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    Capabilities{},
		ClientInfo:      ClientInfo{Name: "pr-copilot", Version: "1.0.0"},
	}

	resp, err := c.transport.Call(ctx, "initialize", params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("server error: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = &result.ServerInfo
	c.mu.Unlock()

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("send initialized: %w", err)
	}

	c.logger.Info("connected",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion)
	return nil
}

func (c *Client) refreshTools(ctx context.Context) error {
	resp, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("tools/list: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}

	var result ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("decode tools/list result: %w", err)
	}

	c.mu.Lock()
	c.tools = result.Tools
	c.mu.Unlock()

	c.logger.Debug("discovered tools", "count", len(result.Tools))
	return nil
}

// CallTool invokes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	params := CallToolParams{Name: name, Arguments: arguments}

	resp, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tool %s failed: %s (code %d)", name, resp.Error.Message, resp.Error.Code)
	}

	var result ToolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode tool result: %w", err)
	}
	return &result, nil
}
