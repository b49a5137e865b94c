// Package providers contains LLM backend implementations of the
// agent.LLMProvider interface.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lakshit-hivel/pr-copilot/internal/agent"
	"github.com/lakshit-hivel/pr-copilot/pkg/models"
)

// OpenAIProvider implements agent.LLMProvider for OpenAI chat models.
//
// Streaming specifics: tool calls arrive incrementally (ID, name, and
// argument fragments in separate deltas, tracked by index), so they are
// accumulated and emitted once FinishReason reports "tool_calls" or the
// stream ends.
//
// Safe for concurrent use; each Complete call owns its own stream and
// goroutine.
type OpenAIProvider struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIProvider creates a provider with the given API key. An empty key
// defers the failure to the first Complete call.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	p := &OpenAIProvider{
		maxRetries: 3,
		retryDelay: time.Second,
	}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Models returns the supported chat models.
func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385},
	}
}

// SupportsTools reports function calling support.
func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

// Complete sends a streaming chat completion request. Unlike the Anthropic
// provider, retries happen before streaming starts because the SDK surfaces
// connection errors from CreateChatCompletionStream directly.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.client == nil {
		return nil, errors.New("OpenAI API key not configured")
	}

	stream, err := p.openStream(ctx, p.buildRequest(req))
	if err != nil {
		return nil, err
	}

	out := make(chan *agent.CompletionChunk)
	go p.pump(ctx, stream, out)
	return out, nil
}

func (p *OpenAIProvider) buildRequest(req *agent.CompletionRequest) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertToOpenAIMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToOpenAITools(req.Tools)
	}
	return chatReq
}

func (p *OpenAIProvider) openStream(ctx context.Context, chatReq openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err == nil {
			return stream, nil
		}
		if !isRetryableError(err) {
			return nil, fmt.Errorf("non-retryable error: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (p *OpenAIProvider) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- *agent.CompletionChunk) {
	defer close(out)
	defer stream.Close()

	var acc toolCallAccumulator

	for {
		select {
		case <-ctx.Done():
			out <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				acc.flush(out)
				out <- &agent.CompletionChunk{Done: true}
			} else {
				out <- &agent.CompletionChunk{Error: err, Done: true}
			}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			out <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc.add(tc)
		}
		if choice.FinishReason == "tool_calls" {
			acc.flush(out)
		}
	}
}

// toolCallAccumulator assembles tool calls from streaming deltas, keyed by
// the delta's index field.
type toolCallAccumulator struct {
	calls map[int]*models.ToolCall
}

func (a *toolCallAccumulator) add(tc openai.ToolCall) {
	if a.calls == nil {
		a.calls = make(map[int]*models.ToolCall)
	}
	index := 0
	if tc.Index != nil {
		index = *tc.Index
	}
	call := a.calls[index]
	if call == nil {
		call = &models.ToolCall{}
		a.calls[index] = call
	}
	if tc.ID != "" {
		call.ID = tc.ID
	}
	if tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}
	if tc.Function.Arguments != "" {
		call.Input = json.RawMessage(string(call.Input) + tc.Function.Arguments)
	}
}

// flush emits every assembled call that has both an ID and a name, then
// resets. Partial entries are dropped.
func (a *toolCallAccumulator) flush(out chan<- *agent.CompletionChunk) {
	for _, call := range a.calls {
		if call.ID != "" && call.Name != "" {
			out <- &agent.CompletionChunk{ToolCall: call}
		}
	}
	a.calls = nil
}

func convertToOpenAIMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		converted := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}

		switch msg.Role {
		case "assistant":
			for _, tc := range msg.ToolCalls {
				converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
		case "tool":
			converted.ToolCallID = msg.ToolCallID
		}

		result = append(result, converted)
	}
	return result
}

func convertToOpenAITools(tools []agent.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			// One bad schema must not break function calling for the rest.
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schema,
			},
		}
	}
	return result
}
