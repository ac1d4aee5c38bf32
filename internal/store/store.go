// Package store provides session persistence backed by SQLite, with an
// in-memory implementation for tests and ephemeral deployments.
package store

import (
	"errors"
	"fmt"

	"github.com/ojage/lokkito-backend/internal/domain"
)

// Sentinel errors. Callers match these with errors.Is.
var (
	// ErrNotFound means no session exists under the given id.
	ErrNotFound = errors.New("session not found")

	// ErrConflict means a session already exists under the given id.
	ErrConflict = errors.New("session already exists")
)

// StoreError wraps an underlying storage failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// TurnCommit is one completed conversation turn. All of it is persisted as a
// single logical update: the session is created if absent, document refs are
// merged, and the messages are appended in order.
type TurnCommit struct {
	SessionID    string
	OwnerID      string
	DocumentRefs []string
	Messages     []domain.Message
}

// SessionStore is the persistence contract for conversation sessions.
// Session ids are caller-supplied and globally unique.
type SessionStore interface {
	// Get returns the session with its full ordered history.
	// Returns ErrNotFound if no session exists under id.
	Get(id string) (*domain.Session, error)

	// Create creates an empty session. Returns ErrConflict if id is taken.
	Create(id, ownerID string) (*domain.Session, error)

	// Append adds messages to an existing session in order.
	// Returns ErrNotFound if no session exists under id.
	Append(id string, msgs ...domain.Message) error

	// MergeDocumentRefs adds refs not already attached to the session,
	// preserving insertion order. Returns the number actually added.
	MergeDocumentRefs(id string, refs []string) (int, error)

	// Clear removes all messages from a session, keeping the session and
	// its document refs. Returns false if no session exists under id.
	Clear(id string) (bool, error)

	// Delete removes a session and its messages.
	// Returns false if no session exists under id.
	Delete(id string) (bool, error)

	// List returns summaries of sessions, most recently active first.
	// A non-empty ownerID restricts the listing to that owner.
	List(ownerID string) ([]domain.SessionSummary, error)

	// Stats returns counters for one session. Returns ErrNotFound if absent.
	Stats(id string) (*domain.SessionStats, error)

	// CommitTurn persists a completed turn atomically and returns the
	// resulting session state. Either everything in the commit lands or
	// nothing does.
	CommitTurn(commit TurnCommit) (*domain.Session, error)
}
