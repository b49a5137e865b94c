// Package sessions persists conversation threads addressed by opaque
// thread IDs.
package sessions

import (
	"context"
	"errors"

	"github.com/lakshit-hivel/pr-copilot/pkg/models"
)

// ErrNotFound is returned when no session exists for a thread ID.
var ErrNotFound = errors.New("session not found")

// Store is the interface for session persistence.
//
// Sessions returned from the store are private copies: callers may mutate
// them freely, and the mutations become visible to other callers only when
// Commit is called. This gives the orchestrator its borrowed-session
// semantics (an in-flight turn's history is invisible until the turn
// completes).
type Store interface {
	// GetOrCreate returns the session for threadID, creating an empty one
	// if it does not exist.
	GetOrCreate(ctx context.Context, threadID string) (*models.Session, error)

	// Get returns the session for threadID or ErrNotFound.
	Get(ctx context.Context, threadID string) (*models.Session, error)

	// Commit atomically replaces the stored session with the given state.
	Commit(ctx context.Context, session *models.Session) error

	// Delete removes a session. Deleting a nonexistent session returns
	// ErrNotFound.
	Delete(ctx context.Context, threadID string) error

	// List returns the thread IDs of all stored sessions.
	List(ctx context.Context) ([]string, error)
}
