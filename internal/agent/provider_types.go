package agent

import (
	"context"
	"encoding/json"

	"github.com/lakshit-hivel/pr-copilot/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of communicating with different LLM
// APIs (OpenAI, Anthropic) while presenting a unified streaming interface to
// the orchestrator.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Complete() simultaneously for different threads.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model specifies which LLM model to use (e.g., "gpt-4o-mini").
	// If empty, the provider's default model is used.
	Model string `json:"model"`

	// System is the system prompt that sets the assistant's behavior.
	// Handled separately from messages in most LLM APIs.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines available tools the LLM can request to execute.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens limits the maximum length of the generated response.
	// If 0 or negative, the provider's default is used.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage represents a single message in a conversation.
//
// Role values: "system", "user", "assistant", "tool".
type CompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool execution requests from the assistant.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool message to the assistant call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// CompletionChunk represents a single chunk in a streaming LLM response.
//
// Chunks are delivered through channels as the LLM generates its response.
// Each chunk may contain partial text, a complete tool call, a done signal,
// or an error (which terminates the stream).
type CompletionChunk struct {
	// Text contains partial response text.
	Text string `json:"text,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the stream has completed successfully.
	Done bool `json:"done,omitempty"`

	// Error contains any error that occurred.
	Error error `json:"-"`

	// InputTokens and OutputTokens report usage. Only populated in the
	// final chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// Tool defines the interface for executable agent tools.
//
// Tools extend the agent's capabilities: listing database tables,
// describing schemas, running gated SQL. Remote tools attached over the
// wire protocol also implement this interface through the bridge.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of the tool.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution.
//
// Errors are communicated via ToolResult with IsError=true, allowing the
// LLM to handle failures and self-correct.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
