package providers

import (
	"context"
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lakshit-hivel/pr-copilot/internal/agent"
	"github.com/lakshit-hivel/pr-copilot/pkg/models"
)

func TestOpenAIProviderMetadata(t *testing.T) {
	p := NewOpenAIProvider("test-key")
	if got := p.Name(); got != "openai" {
		t.Errorf("Name() = %q, want openai", got)
	}
	if !p.SupportsTools() {
		t.Error("SupportsTools() = false, want true")
	}
	if len(p.Models()) == 0 {
		t.Error("Models() is empty")
	}
}

func TestOpenAICompleteWithoutKey(t *testing.T) {
	p := NewOpenAIProvider("")
	_, err := p.Complete(context.Background(), &agent.CompletionRequest{Model: "gpt-4o-mini"})
	if err == nil {
		t.Fatal("Complete() with no API key should fail")
	}
}

func TestConvertToOpenAIMessages(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: "user", Content: "list open PRs"},
		{
			Role: "assistant",
			ToolCalls: []models.ToolCall{
				{ID: "call-1", Name: "safe_sql", Input: json.RawMessage(`{"query":"SELECT 1"}`)},
			},
		},
		{Role: "tool", Content: "[]", ToolCallID: "call-1"},
	}

	result := convertToOpenAIMessages(messages, "be helpful")
	if len(result) != 4 {
		t.Fatalf("got %d messages, want 4", len(result))
	}
	if result[0].Role != openai.ChatMessageRoleSystem || result[0].Content != "be helpful" {
		t.Errorf("first message = %+v, want injected system prompt", result[0])
	}
	if len(result[2].ToolCalls) != 1 || result[2].ToolCalls[0].Function.Name != "safe_sql" {
		t.Errorf("assistant message tool calls = %+v", result[2].ToolCalls)
	}
	if result[3].ToolCallID != "call-1" {
		t.Errorf("tool message ToolCallID = %q, want call-1", result[3].ToolCallID)
	}
}

type fixedSchemaTool struct {
	schema string
}

func (f *fixedSchemaTool) Name() string             { return "fixed" }
func (f *fixedSchemaTool) Description() string      { return "test tool" }
func (f *fixedSchemaTool) Schema() json.RawMessage  { return json.RawMessage(f.schema) }
func (f *fixedSchemaTool) Execute(context.Context, json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{}, nil
}

func TestConvertToOpenAIToolsBadSchema(t *testing.T) {
	tools := convertToOpenAITools([]agent.Tool{&fixedSchemaTool{schema: `{not json`}})
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}
	params, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("Parameters type = %T, want map", tools[0].Function.Parameters)
	}
	if params["type"] != "object" {
		t.Errorf("fallback schema type = %v, want object", params["type"])
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", errString("rate limit exceeded"), true},
		{"server error", errString("status 503 from upstream"), true},
		{"timeout", errString("context deadline exceeded"), true},
		{"auth failure", errString("invalid api key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }
