package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lakshit-hivel/pr-copilot/internal/observability"
	"github.com/lakshit-hivel/pr-copilot/internal/sessions"
	"github.com/lakshit-hivel/pr-copilot/pkg/models"
)

const (
	// processBufferSize is the response channel buffer.
	processBufferSize = 64

	// MaxResponseTextSize limits accumulated response text per generation (10MB).
	MaxResponseTextSize = 10 << 20

	// MaxToolCallsPerRound limits tool calls in a single assistant message.
	MaxToolCallsPerRound = 32
)

// TurnConfig configures the turn state machine.
type TurnConfig struct {
	// MaxRounds limits generate/execute iterations per turn.
	// Default: 10
	MaxRounds int

	// MaxTokens is the default max tokens for LLM responses.
	// Default: 4096
	MaxTokens int

	// Model overrides the provider's default model when set.
	Model string

	// TurnTimeout bounds the whole turn from user message to final answer.
	// Zero means no deadline beyond the caller's context.
	TurnTimeout time.Duration

	// ToolTimeout bounds each individual tool call. Zero means no bound.
	ToolTimeout time.Duration

	// SystemDirective is installed as the head of every fresh thread.
	SystemDirective string
}

// DefaultTurnConfig returns the default turn configuration.
func DefaultTurnConfig() *TurnConfig {
	return &TurnConfig{
		MaxRounds: 10,
		MaxTokens: 4096,
	}
}

func sanitizeTurnConfig(config *TurnConfig) *TurnConfig {
	if config == nil {
		return DefaultTurnConfig()
	}
	cfg := *config
	defaults := DefaultTurnConfig()
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaults.MaxRounds
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	return &cfg
}

// ResponseChunk is one unit of streamed turn output.
type ResponseChunk struct {
	// Text contains partial assistant text as it streams.
	Text string

	// ToolCall announces a tool the assistant decided to invoke.
	ToolCall *models.ToolCall

	// ToolResult carries the outcome of an executed tool call.
	ToolResult *models.ToolResult

	// Done is true on the final chunk of a successful turn.
	Done bool

	// Final is the complete text of the turn's last assistant message.
	// Only populated when Done is true.
	Final string

	// Error terminates the stream when non-nil.
	Error error
}

// Orchestrator drives a turn through its states: compact the history,
// generate an assistant message, route on tool calls, execute tools, and
// loop until the assistant answers in plain text.
//
// Turns on the same thread are serialized; turns on different threads run
// independently. History mutations become visible to other turns only when
// the turn commits.
type Orchestrator struct {
	provider  LLMProvider
	registry  *ToolRegistry
	store     sessions.Store
	compactor *Compactor
	config    *TurnConfig
	logger    *slog.Logger
	metrics   *observability.Metrics

	threadLocksMu sync.Mutex
	threadLocks   map[string]*threadLock
}

// NewOrchestrator creates a turn orchestrator. If config is nil,
// DefaultTurnConfig is used. Metrics may be nil.
func NewOrchestrator(provider LLMProvider, registry *ToolRegistry, store sessions.Store, compactor *Compactor, config *TurnConfig, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	if registry == nil {
		registry = NewToolRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		provider:    provider,
		registry:    registry,
		store:       store,
		compactor:   compactor,
		config:      sanitizeTurnConfig(config),
		logger:      logger,
		metrics:     metrics,
		threadLocks: make(map[string]*threadLock),
	}
}

// Registry returns the orchestrator's tool registry.
func (o *Orchestrator) Registry() *ToolRegistry {
	return o.registry
}

// Run executes one turn and streams results through a channel. The channel
// is closed when the turn completes or fails.
func (o *Orchestrator) Run(ctx context.Context, threadID, userText string) (<-chan *ResponseChunk, error) {
	if o.provider == nil {
		return nil, ErrNoProvider
	}
	if o.store == nil {
		return nil, fmt.Errorf("no session store configured")
	}
	if strings.TrimSpace(threadID) == "" {
		return nil, fmt.Errorf("thread id is required")
	}
	if strings.TrimSpace(userText) == "" {
		return nil, fmt.Errorf("user text is required")
	}

	chunks := make(chan *ResponseChunk, processBufferSize)
	go func() {
		defer close(chunks)
		o.runTurn(ctx, threadID, userText, chunks)
	}()
	return chunks, nil
}

// RunTurn executes one turn and blocks until it completes, returning the
// final assistant text.
func (o *Orchestrator) RunTurn(ctx context.Context, threadID, userText string) (string, error) {
	chunks, err := o.Run(ctx, threadID, userText)
	if err != nil {
		return "", err
	}
	var final string
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		if chunk.Done {
			final = chunk.Final
		}
	}
	return final, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, threadID, userText string, chunks chan<- *ResponseChunk) {
	unlock := o.lockThread(threadID)
	defer unlock()

	if o.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.TurnTimeout)
		defer cancel()
	}

	if o.metrics != nil {
		o.metrics.ActiveTurns.Inc()
		defer o.metrics.ActiveTurns.Dec()
	}

	session, err := o.store.GetOrCreate(ctx, threadID)
	if err != nil {
		chunks <- &ResponseChunk{Error: &TurnError{Phase: PhaseGenerate, ThreadID: threadID, Cause: err}}
		return
	}

	o.ensureDirective(session)
	session.Messages = append(session.Messages, &models.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      models.RoleUser,
		Content:   userText,
		CreatedAt: time.Now(),
	})

	for round := 0; round < o.config.MaxRounds; round++ {
		select {
		case <-ctx.Done():
			chunks <- &ResponseChunk{Error: &TurnError{Phase: PhaseGenerate, Round: round, ThreadID: threadID, Cause: ctx.Err()}}
			return
		default:
		}

		// Compact before every generation. A failed summarization keeps
		// the full history for this turn; it is not a turn failure.
		if o.compactor != nil {
			compacted, err := o.compactor.Compact(ctx, session)
			if err != nil {
				o.logger.Warn("compaction failed, keeping full history",
					"thread_id", threadID,
					"error", err,
				)
				o.observeCompaction("error")
			} else if compacted {
				o.observeCompaction("ok")
			}
		}

		text, toolCalls, err := o.generate(ctx, session, chunks)
		if err != nil {
			chunks <- &ResponseChunk{Error: &TurnError{Phase: PhaseGenerate, Round: round, ThreadID: threadID, Cause: err}}
			return
		}

		session.Messages = append(session.Messages, &models.Message{
			ID:        uuid.NewString(),
			ThreadID:  threadID,
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
			CreatedAt: time.Now(),
		})

		// Route: no tool calls means the assistant answered.
		if len(toolCalls) == 0 {
			if err := o.store.Commit(ctx, session); err != nil {
				chunks <- &ResponseChunk{Error: &TurnError{Phase: PhaseDone, Round: round, ThreadID: threadID, Cause: err}}
				return
			}
			if o.metrics != nil {
				o.metrics.TurnIterations.Observe(float64(round + 1))
			}
			chunks <- &ResponseChunk{Done: true, Final: text}
			return
		}

		// Execute every tool call in the order received, each producing
		// exactly one tool message so call/result pairing stays intact.
		for i := range toolCalls {
			tc := toolCalls[i]
			result := o.executeTool(ctx, tc)
			chunks <- &ResponseChunk{ToolResult: &result}
			session.Messages = append(session.Messages, &models.Message{
				ID:         uuid.NewString(),
				ThreadID:   threadID,
				Role:       models.RoleTool,
				Content:    result.Content,
				ToolCallID: tc.ID,
				CreatedAt:  time.Now(),
			})
		}
	}

	// Round limit exceeded: surface a distinct terminal condition and
	// leave the stored history untouched.
	chunks <- &ResponseChunk{Error: &TurnAbortedError{ThreadID: threadID, Rounds: o.config.MaxRounds}}
}

// ensureDirective installs the system directive at index 0 if absent.
func (o *Orchestrator) ensureDirective(session *models.Session) {
	if len(session.Messages) > 0 && session.Messages[0].Role == models.RoleSystem {
		return
	}
	if o.config.SystemDirective == "" {
		return
	}
	head := &models.Message{
		ID:        uuid.NewString(),
		ThreadID:  session.ThreadID,
		Role:      models.RoleSystem,
		Content:   o.config.SystemDirective,
		CreatedAt: time.Now(),
	}
	session.Messages = append([]*models.Message{head}, session.Messages...)
}

// generate invokes the provider with the full compacted history and collects
// the streamed response.
func (o *Orchestrator) generate(ctx context.Context, session *models.Session, chunks chan<- *ResponseChunk) (string, []models.ToolCall, error) {
	req := &CompletionRequest{
		Model:     o.config.Model,
		Messages:  make([]CompletionMessage, 0, len(session.Messages)),
		Tools:     o.registry.AsLLMTools(),
		MaxTokens: o.config.MaxTokens,
	}
	for _, m := range session.Messages {
		if m.Role == models.RoleSystem && req.System == "" {
			req.System = m.Content
			continue
		}
		req.Messages = append(req.Messages, CompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}

	start := time.Now()
	completion, err := o.provider.Complete(ctx, req)
	if err != nil {
		o.observeLLMRequest(req.Model, "error", start)
		return "", nil, err
	}

	var toolCalls []models.ToolCall
	var textBuilder strings.Builder
	for chunk := range completion {
		if chunk.Error != nil {
			o.observeLLMRequest(req.Model, "error", start)
			return "", nil, chunk.Error
		}
		if chunk.Text != "" {
			if textBuilder.Len()+len(chunk.Text) > MaxResponseTextSize {
				return "", nil, fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize)
			}
			textBuilder.WriteString(chunk.Text)
			chunks <- &ResponseChunk{Text: chunk.Text}
		}
		if chunk.ToolCall != nil {
			if len(toolCalls) >= MaxToolCallsPerRound {
				return "", nil, fmt.Errorf("tool calls exceed maximum of %d per round", MaxToolCallsPerRound)
			}
			toolCalls = append(toolCalls, *chunk.ToolCall)
			chunks <- &ResponseChunk{ToolCall: chunk.ToolCall}
		}
	}

	o.observeLLMRequest(req.Model, "ok", start)
	return textBuilder.String(), toolCalls, nil
}

// executeTool runs one tool call and converts every failure into an error
// result the model can react to. An unregistered tool name yields the
// conventional not-found payload instead of aborting the turn.
func (o *Orchestrator) executeTool(ctx context.Context, tc models.ToolCall) models.ToolResult {
	start := time.Now()

	if o.config.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.ToolTimeout)
		defer cancel()
	}

	if _, ok := o.registry.Get(tc.Name); !ok {
		o.observeToolExecution(tc.Name, "not_found", start)
		return models.ToolResult{
			ToolCallID: tc.ID,
			Content:    fmt.Sprintf("Error: Tool '%s' not found", tc.Name),
			IsError:    true,
		}
	}

	result, err := o.registry.Execute(ctx, tc.Name, tc.Input)
	if err != nil {
		o.observeToolExecution(tc.Name, "error", start)
		return models.ToolResult{
			ToolCallID: tc.ID,
			Content:    "Error: " + err.Error(),
			IsError:    true,
		}
	}

	status := "ok"
	if result.IsError {
		status = "tool_error"
	}
	o.observeToolExecution(tc.Name, status, start)
	return models.ToolResult{
		ToolCallID: tc.ID,
		Content:    result.Content,
		IsError:    result.IsError,
	}
}

func (o *Orchestrator) observeLLMRequest(model, status string, start time.Time) {
	if o.metrics == nil {
		return
	}
	if model == "" {
		model = "default"
	}
	o.metrics.LLMRequests.WithLabelValues(o.provider.Name(), model, status).Inc()
	if status == "ok" {
		o.metrics.LLMRequestDuration.WithLabelValues(o.provider.Name(), model).Observe(time.Since(start).Seconds())
	}
}

func (o *Orchestrator) observeToolExecution(tool, status string, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.ToolExecutions.WithLabelValues(tool, status).Inc()
	o.metrics.ToolDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) observeCompaction(status string) {
	if o.metrics == nil {
		return
	}
	o.metrics.Compactions.WithLabelValues(status).Inc()
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

// lockThread serializes turns on the same thread. Locks are refcounted and
// removed from the map when the last holder releases.
func (o *Orchestrator) lockThread(threadID string) func() {
	if strings.TrimSpace(threadID) == "" {
		return func() {}
	}

	o.threadLocksMu.Lock()
	lock := o.threadLocks[threadID]
	if lock == nil {
		lock = &threadLock{}
		o.threadLocks[threadID] = lock
	}
	lock.refs++
	o.threadLocksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		o.threadLocksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(o.threadLocks, threadID)
		}
		o.threadLocksMu.Unlock()
	}
}
