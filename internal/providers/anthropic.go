package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/lakshit-hivel/pr-copilot/internal/agent"
	"github.com/lakshit-hivel/pr-copilot/pkg/models"
)

// maxEmptyStreamEvents bounds consecutive no-op events before the stream is
// treated as malformed.
const maxEmptyStreamEvents = 300

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicProvider implements agent.LLMProvider for Anthropic's Claude API.
//
// Tool calls arrive as content blocks: a content_block_start carries the ID
// and name, input_json_delta events stream the argument JSON, and
// content_block_stop finalizes the call. Transient failures retry with
// exponential backoff.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig holds settings for creating an AnthropicProvider. Only
// APIKey is required.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropicProvider creates a provider, applying defaults for unset
// optional fields.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	p := &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if p.retryDelay <= 0 {
		p.retryDelay = time.Second
	}
	if p.defaultModel == "" {
		p.defaultModel = defaultAnthropicModel
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Models returns the supported Claude models.
func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextSize: 200000},
	}
}

// SupportsTools reports tool use support.
func (p *AnthropicProvider) SupportsTools() bool {
	return true
}

// Complete sends a streaming message request.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	out := make(chan *agent.CompletionChunk)

	go func() {
		defer close(out)

		stream, err := p.openWithRetry(ctx, req, out)
		if err != nil || stream == nil {
			return
		}
		st := &anthropicStream{out: out}
		st.drain(stream)
	}()

	return out, nil
}

// openWithRetry attempts to open the stream, backing off exponentially on
// retryable failures. On a terminal failure the error chunk has already been
// emitted; the caller only needs to stop.
func (p *AnthropicProvider) openWithRetry(ctx context.Context, req *agent.CompletionRequest, out chan<- *agent.CompletionChunk) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	backoff := p.retryDelay
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				out <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		stream, err := p.newStream(ctx, req)
		if err == nil {
			return stream, nil
		}
		if !isRetryableError(err) {
			out <- &agent.CompletionChunk{Error: err, Done: true}
			return nil, err
		}
		lastErr = err
	}

	err := fmt.Errorf("anthropic: max retries exceeded: %w", lastErr)
	out <- &agent.CompletionChunk{Error: err, Done: true}
	return nil, err
}

func (p *AnthropicProvider) newStream(ctx context.Context, req *agent.CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	msgs, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  msgs,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// anthropicStream holds the per-response decode state: the tool call whose
// argument JSON is still accumulating, and running token counts.
type anthropicStream struct {
	out          chan<- *agent.CompletionChunk
	pendingTool  *models.ToolCall
	pendingInput strings.Builder
	inputTokens  int
	outputTokens int
	idleEvents   int
}

func (s *anthropicStream) drain(stream *ssestream.Stream[anthropic.MessageStreamEventUnion]) {
	for stream.Next() {
		done, progressed := s.handle(stream.Current())
		if done {
			return
		}
		if progressed {
			s.idleEvents = 0
			continue
		}
		s.idleEvents++
		if s.idleEvents >= maxEmptyStreamEvents {
			s.out <- &agent.CompletionChunk{
				Error: fmt.Errorf("stream appears malformed: received %d consecutive empty events", s.idleEvents),
				Done:  true,
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		s.out <- &agent.CompletionChunk{Error: err, Done: true}
	}
}

// handle processes one stream event. It reports whether the stream is
// finished and whether the event carried anything useful.
func (s *anthropicStream) handle(ev anthropic.MessageStreamEventUnion) (done, progressed bool) {
	switch ev.Type {
	case "message_start":
		if usage := ev.AsMessageStart().Message.Usage; usage.InputTokens > 0 {
			s.inputTokens = int(usage.InputTokens)
		}
		return false, true

	case "content_block_start":
		block := ev.AsContentBlockStart().ContentBlock
		if block.Type != "tool_use" {
			return false, false
		}
		use := block.AsToolUse()
		s.pendingTool = &models.ToolCall{ID: use.ID, Name: use.Name}
		s.pendingInput.Reset()
		return false, true

	case "content_block_delta":
		delta := ev.AsContentBlockDelta().Delta
		if delta.Type == "text_delta" && delta.Text != "" {
			s.out <- &agent.CompletionChunk{Text: delta.Text}
			return false, true
		}
		if delta.Type == "input_json_delta" && delta.PartialJSON != "" {
			s.pendingInput.WriteString(delta.PartialJSON)
			return false, true
		}
		return false, false

	case "content_block_stop":
		if s.pendingTool == nil {
			return false, false
		}
		s.pendingTool.Input = json.RawMessage(s.pendingInput.String())
		s.out <- &agent.CompletionChunk{ToolCall: s.pendingTool}
		s.pendingTool = nil
		return false, true

	case "message_delta":
		if usage := ev.AsMessageDelta().Usage; usage.OutputTokens > 0 {
			s.outputTokens = int(usage.OutputTokens)
		}
		return false, true

	case "message_stop":
		s.out <- &agent.CompletionChunk{
			Done:         true,
			InputTokens:  s.inputTokens,
			OutputTokens: s.outputTokens,
		}
		return true, true

	case "error":
		s.out <- &agent.CompletionChunk{Error: errors.New("anthropic stream error"), Done: true}
		return true, true
	}
	return false, false
}

// convertAnthropicMessages maps the internal transcript to Anthropic's
// content-block format. System messages are dropped here; they travel in
// params.System. Tool messages become user messages carrying a tool_result
// block.
func convertAnthropicMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion

		switch msg.Role {
		case "system":
			continue
		case "tool":
			failed := strings.HasPrefix(msg.Content, "Error:")
			blocks = append(blocks, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, failed))
		default:
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(blocks) == 0 {
			continue
		}
		if msg.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}

	return out, nil
}

func convertAnthropicTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name(), err)
		}

		param := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name())
		}
		param.OfTool.Description = anthropic.String(tool.Description())
		out = append(out, param)
	}

	return out, nil
}
