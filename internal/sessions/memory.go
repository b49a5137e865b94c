package sessions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lakshit-hivel/pr-copilot/pkg/models"
)

// maxMessagesPerSession limits messages stored per session to prevent unbounded memory growth.
// When exceeded, old messages are trimmed to maintain the limit.
const maxMessagesPerSession = 1000

// MemoryStore provides an in-memory Store implementation. With compaction
// bounding history size this is sufficient for interactive use; nothing
// survives a process restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*models.Session{},
	}
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, threadID string) (*models.Session, error) {
	if threadID == "" {
		return nil, errors.New("thread id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[threadID]; ok {
		return cloneSession(session), nil
	}

	now := time.Now()
	session := &models.Session{
		ThreadID:  threadID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[threadID] = session
	return cloneSession(session), nil
}

func (m *MemoryStore) Get(ctx context.Context, threadID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) Commit(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	if session.ThreadID == "" {
		return errors.New("thread id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneSession(session)
	if existing, ok := m.sessions[clone.ThreadID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = time.Now()

	if len(clone.Messages) > maxMessagesPerSession {
		excess := len(clone.Messages) - maxMessagesPerSession
		clone.Messages = clone.Messages[excess:]
	}

	m.sessions[clone.ThreadID] = clone
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[threadID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, threadID)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func cloneSession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Messages != nil {
		clone.Messages = make([]*models.Message, len(s.Messages))
		for i, msg := range s.Messages {
			clone.Messages[i] = cloneMessage(msg)
		}
	}
	return &clone
}

func cloneMessage(m *models.Message) *models.Message {
	if m == nil {
		return nil
	}
	clone := *m
	if m.ToolCalls != nil {
		clone.ToolCalls = make([]models.ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			copied := tc
			if tc.Input != nil {
				copied.Input = append([]byte(nil), tc.Input...)
			}
			clone.ToolCalls[i] = copied
		}
	}
	return &clone
}
