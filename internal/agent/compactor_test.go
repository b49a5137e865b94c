package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/lakshit-hivel/pr-copilot/pkg/models"
)

// scriptedProvider returns canned responses in order and records requests.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []scriptedResponse
	requests  []*CompletionRequest
	calls     int
}

type scriptedResponse struct {
	text      string
	toolCalls []models.ToolCall
	err       error
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	idx := p.calls
	p.calls++
	p.mu.Unlock()

	if idx >= len(p.responses) {
		return nil, fmt.Errorf("no scripted response for call %d", idx)
	}
	resp := p.responses[idx]
	if resp.err != nil {
		return nil, resp.err
	}

	ch := make(chan *CompletionChunk, len(resp.toolCalls)+2)
	if resp.text != "" {
		ch <- &CompletionChunk{Text: resp.text}
	}
	for i := range resp.toolCalls {
		tc := resp.toolCalls[i]
		ch <- &CompletionChunk{ToolCall: &tc}
	}
	ch <- &CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return nil }
func (p *scriptedProvider) SupportsTools() bool { return true }

func (p *scriptedProvider) lastRequest() *CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

func buildHistory(n int) []*models.Message {
	msgs := make([]*models.Message, 0, n)
	msgs = append(msgs, &models.Message{Role: models.RoleSystem, Content: "directive"})
	for i := 1; i < n; i++ {
		role := models.RoleUser
		if i%2 == 0 {
			role = models.RoleAssistant
		}
		msgs = append(msgs, &models.Message{Role: role, Content: fmt.Sprintf("message %d", i)})
	}
	return msgs
}

func TestCompactorTriggerBoundary(t *testing.T) {
	tests := []struct {
		name    string
		history int
		want    bool
	}{
		{name: "at budget", history: 10, want: false},
		{name: "one over budget", history: 11, want: true},
		{name: "well over budget", history: 15, want: true},
		{name: "short history", history: 3, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCompactor(&scriptedProvider{}, "", 10, nil)
			if got := c.NeedsCompaction(buildHistory(tt.history)); got != tt.want {
				t.Errorf("NeedsCompaction(%d messages) = %v, want %v", tt.history, got, tt.want)
			}
		})
	}
}

func TestCompactReplacesStaleHistory(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{text: "They discussed open pull requests."},
	}}
	c := NewCompactor(provider, "", 10, nil)
	session := &models.Session{ThreadID: "t1", Messages: buildHistory(11)}

	compacted, err := c.Compact(context.Background(), session)
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if !compacted {
		t.Fatalf("Compact() = false, want true")
	}

	// 1 head + 1 summary + (budget - 3) recent
	if got, want := len(session.Messages), 9; got != want {
		t.Fatalf("history length = %d, want %d", got, want)
	}
	if session.Messages[0].Content != "directive" {
		t.Errorf("head not preserved: %q", session.Messages[0].Content)
	}
	summary := session.Messages[1]
	if summary.Role != models.RoleAssistant {
		t.Errorf("summary role = %q", summary.Role)
	}
	if summary.Content != "Previous conversation: They discussed open pull requests." {
		t.Errorf("summary content = %q", summary.Content)
	}
	if session.LastSummary != "They discussed open pull requests." {
		t.Errorf("LastSummary = %q", session.LastSummary)
	}
	// The last 7 originals survive in order.
	if session.Messages[2].Content != "message 4" || session.Messages[8].Content != "message 10" {
		t.Errorf("recent window wrong: first %q, last %q",
			session.Messages[2].Content, session.Messages[8].Content)
	}
}

func TestCompactNotTriggeredPassesThrough(t *testing.T) {
	provider := &scriptedProvider{}
	c := NewCompactor(provider, "", 10, nil)
	session := &models.Session{ThreadID: "t1", Messages: buildHistory(10)}

	compacted, err := c.Compact(context.Background(), session)
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if compacted {
		t.Fatalf("Compact() = true, want false")
	}
	if len(session.Messages) != 10 {
		t.Errorf("history modified without trigger: %d messages", len(session.Messages))
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times without trigger", provider.calls)
	}
}

func TestCompactTinyBudgetKeepsNoRecent(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{text: "Short chat."},
	}}
	c := NewCompactor(provider, "", 2, nil)
	session := &models.Session{ThreadID: "t1", Messages: buildHistory(5)}

	compacted, err := c.Compact(context.Background(), session)
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if !compacted {
		t.Fatalf("Compact() = false, want true")
	}
	if got, want := len(session.Messages), 2; got != want {
		t.Fatalf("history length = %d, want %d (head + summary only)", got, want)
	}
}

func TestCompactSummarizationFailureKeepsHistory(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{err: errors.New("upstream unavailable")},
	}}
	c := NewCompactor(provider, "", 10, nil)
	session := &models.Session{ThreadID: "t1", Messages: buildHistory(12)}

	compacted, err := c.Compact(context.Background(), session)
	if err == nil {
		t.Fatalf("expected error from failed summarization")
	}
	if compacted {
		t.Fatalf("Compact() = true on failure")
	}
	if len(session.Messages) != 12 {
		t.Errorf("history modified on failure: %d messages", len(session.Messages))
	}
	if session.LastSummary != "" {
		t.Errorf("LastSummary set on failure: %q", session.LastSummary)
	}
}

func TestCompactEmptySummaryIsFailure(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{text: "   "},
	}}
	c := NewCompactor(provider, "", 10, nil)
	session := &models.Session{ThreadID: "t1", Messages: buildHistory(12)}

	_, err := c.Compact(context.Background(), session)
	if !errors.Is(err, ErrEmptySummary) {
		t.Fatalf("Compact() error = %v, want ErrEmptySummary", err)
	}
}

func TestCompactPromptExcerptsStaleMessages(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{text: "Summary."},
	}}
	c := NewCompactor(provider, "", 10, nil)

	long := strings.Repeat("x", 500)
	session := &models.Session{ThreadID: "t1", Messages: buildHistory(11)}
	session.Messages[1].Content = long

	if _, err := c.Compact(context.Background(), session); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}

	req := provider.lastRequest()
	if req == nil || len(req.Messages) != 1 {
		t.Fatalf("unexpected summarization request: %+v", req)
	}
	prompt := req.Messages[0].Content
	if !strings.HasPrefix(prompt, "Summarize this conversation in 2-3 sentences: ") {
		t.Errorf("prompt missing instruction prefix: %q", prompt[:60])
	}
	if strings.Contains(prompt, "directive") {
		t.Errorf("prompt includes system directive content")
	}
	if strings.Contains(prompt, long) {
		t.Errorf("long message not truncated in prompt")
	}
	if !strings.Contains(prompt, "user: "+long[:summaryExcerptLimit]) {
		t.Errorf("prompt missing truncated excerpt")
	}
}
