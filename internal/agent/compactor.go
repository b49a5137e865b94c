package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lakshit-hivel/pr-copilot/pkg/models"
)

const (
	// DefaultMessageBudget is the history size beyond which compaction kicks in.
	DefaultMessageBudget = 10

	// summaryExcerptLimit caps how much of each stale message feeds the
	// summarization prompt.
	summaryExcerptLimit = 200

	summaryInstruction = "Summarize this conversation in 2-3 sentences: "
	summaryPrefix      = "Previous conversation: "
)

// Compactor keeps a thread's history within a fixed message budget by
// folding older messages into an LLM-written summary.
//
// The head of the history (the system directive at index 0) is always
// preserved verbatim. The most recent (budget-3) messages are retained as-is
// and everything in between is replaced by a single summary message.
type Compactor struct {
	provider LLMProvider
	model    string
	budget   int
	logger   *slog.Logger
}

// NewCompactor creates a compactor using the given provider for
// summarization. A budget <= 0 selects DefaultMessageBudget.
func NewCompactor(provider LLMProvider, model string, budget int, logger *slog.Logger) *Compactor {
	if budget <= 0 {
		budget = DefaultMessageBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		provider: provider,
		model:    model,
		budget:   budget,
		logger:   logger,
	}
}

// Budget returns the configured message budget.
func (c *Compactor) Budget() int {
	return c.budget
}

// NeedsCompaction reports whether the history has outgrown the budget.
// The count includes the directive at index 0: with the default budget of
// 10, an 11-message history triggers and a 10-message history does not.
func (c *Compactor) NeedsCompaction(history []*models.Message) bool {
	return len(history) > c.budget
}

// Compact folds older history into a summary if the budget is exceeded.
// It mutates session.Messages in place and records the summary text on the
// session. Returns true if compaction ran.
//
// Summarization failures leave the history untouched: the caller proceeds
// with the uncompacted thread and retries on the next turn.
func (c *Compactor) Compact(ctx context.Context, session *models.Session) (bool, error) {
	history := session.Messages
	if !c.NeedsCompaction(history) {
		return false, nil
	}
	if history[0].Role != models.RoleSystem {
		// Without a directive head there is nothing to anchor the
		// partition on; the orchestrator always installs one first.
		return false, nil
	}

	keep := c.budget - 3
	if keep < 0 {
		keep = 0
	}
	head := history[0]
	recent := history[len(history)-keep:]
	stale := history[1 : len(history)-keep]

	summary, err := c.summarize(ctx, stale)
	if err != nil {
		return false, fmt.Errorf("summarize stale history: %w", err)
	}

	compacted := make([]*models.Message, 0, 2+len(recent))
	compacted = append(compacted, head)
	compacted = append(compacted, &models.Message{
		ID:        uuid.NewString(),
		ThreadID:  session.ThreadID,
		Role:      models.RoleAssistant,
		Content:   summaryPrefix + summary,
		CreatedAt: time.Now(),
	})
	compacted = append(compacted, recent...)

	session.Messages = compacted
	session.LastSummary = summary

	c.logger.Debug("compacted thread history",
		"thread_id", session.ThreadID,
		"stale", len(stale),
		"retained", len(recent),
	)
	return true, nil
}

// summarize asks the provider for a short synthesis of the stale messages.
func (c *Compactor) summarize(ctx context.Context, stale []*models.Message) (string, error) {
	if c.provider == nil {
		return "", ErrNoProvider
	}

	var excerpt strings.Builder
	for _, msg := range stale {
		if msg.Role == models.RoleSystem {
			continue
		}
		content := msg.Content
		if len(content) > summaryExcerptLimit {
			content = content[:summaryExcerptLimit]
		}
		excerpt.WriteString(string(msg.Role))
		excerpt.WriteString(": ")
		excerpt.WriteString(content)
		excerpt.WriteString("\n")
	}

	req := &CompletionRequest{
		Model: c.model,
		Messages: []CompletionMessage{
			{Role: string(models.RoleUser), Content: summaryInstruction + excerpt.String()},
		},
	}
	chunks, err := c.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		text.WriteString(chunk.Text)
	}

	summary := strings.TrimSpace(text.String())
	if summary == "" {
		return "", ErrEmptySummary
	}
	return summary, nil
}
