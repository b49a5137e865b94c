package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation thread. Insertion order is
// semantically meaningful: the ordered message list is the literal context
// window sent to the model.
type Message struct {
	ID        string     `json:"id"`
	ThreadID  string     `json:"thread_id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool message back to the assistant tool call it
	// answers. Present only on RoleTool messages.
	ToolCallID string    `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Session is a conversation thread addressed by an opaque thread ID.
type Session struct {
	ThreadID string     `json:"thread_id"`
	Messages []*Message `json:"messages"`
	// LastSummary holds the most recent compaction summary, kept for
	// diagnostics only.
	LastSummary string    `json:"last_summary,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
