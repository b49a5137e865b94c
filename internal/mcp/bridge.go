package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/lakshit-hivel/pr-copilot/internal/agent"
)

// ToolBridge exposes a remote MCP tool as an agent.Tool so the orchestrator
// can route to it like any local tool.
type ToolBridge struct {
	client *Client
	tool   *MCPTool
	name   string
}

// NewToolBridge wraps one remote tool for the given client.
func NewToolBridge(client *Client, tool *MCPTool) *ToolBridge {
	return &ToolBridge{
		client: client,
		tool:   tool,
		name:   safeToolName(client.Name(), tool.Name),
	}
}

// Name returns the bridged tool name, namespaced by server.
func (b *ToolBridge) Name() string {
	return b.name
}

// Description returns the remote tool's description.
func (b *ToolBridge) Description() string {
	if b.tool.Description != "" {
		return fmt.Sprintf("MCP tool %s.%s: %s", b.client.Name(), b.tool.Name, b.tool.Description)
	}
	return fmt.Sprintf("MCP tool %s.%s", b.client.Name(), b.tool.Name)
}

// Schema returns the remote tool's input schema.
func (b *ToolBridge) Schema() json.RawMessage {
	if len(b.tool.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b.tool.InputSchema
}

// Execute forwards the call to the remote server.
func (b *ToolBridge) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	result, err := b.client.CallTool(ctx, b.tool.Name, params)
	if err != nil {
		return &agent.ToolResult{
			Content: fmt.Sprintf("Error: %v", err),
			IsError: true,
		}, nil
	}

	var parts []string
	for _, c := range result.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return &agent.ToolResult{
		Content: strings.Join(parts, "\n"),
		IsError: result.IsError,
	}, nil
}

// AttachTools registers every tool the client discovered into the registry,
// namespaced by server name. Returns the number of tools attached.
func AttachTools(registry *agent.ToolRegistry, client *Client) int {
	count := 0
	for _, tool := range client.Tools() {
		registry.Register(NewToolBridge(client, tool))
		count++
	}
	return count
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// safeToolName builds an LLM-safe function name from server and tool names.
func safeToolName(server, tool string) string {
	name := fmt.Sprintf("%s_%s", server, tool)
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}
