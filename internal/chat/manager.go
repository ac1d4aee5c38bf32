package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ojage/lokkito-backend/internal/domain"
	"github.com/ojage/lokkito-backend/internal/llm"
	"github.com/ojage/lokkito-backend/internal/logging"
	"github.com/ojage/lokkito-backend/internal/store"
)

// Errors surfaced by the manager. ErrNotFound and ErrConflict are the
// store's sentinels re-exported so transports depend on one package.
var (
	ErrNotFound        = store.ErrNotFound
	ErrConflict        = store.ErrConflict
	ErrInvalidInput    = errors.New("invalid input")
	ErrProviderTimeout = errors.New("provider timed out")
)

// defaultProviderTimeout bounds a single provider call.
const defaultProviderTimeout = 2 * time.Minute

// SendRequest is one incoming user turn.
type SendRequest struct {
	SessionID    string   `json:"chatId"`
	Text         string   `json:"message"`
	DocumentRefs []string `json:"documentNames,omitempty"`
	OwnerID      string   `json:"userId,omitempty"`
}

// SendResult is the outcome of a completed turn.
type SendResult struct {
	SessionID    string `json:"chatId"`
	ReplyText    string `json:"response"`
	MessageCount int    `json:"messageCount"`
}

// StreamCallback receives streaming events during a turn.
// Types: "delta" (incremental text), "done" (turn committed), "error".
type StreamCallback func(event llm.StreamEvent)

// Manager runs the turn protocol over a session store and a completion
// provider. Turns on the same session id are serialized with a per-id lock
// held for the whole turn; turns on different ids run in parallel.
type Manager struct {
	store    store.SessionStore
	provider llm.Client
	timeout  time.Duration
	log      *logging.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock serializes turns for one session id. refs counts current
// holders and waiters so the map entry can be dropped on last release.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a session manager. timeout bounds each provider call;
// zero means the default of two minutes.
func NewManager(st store.SessionStore, provider llm.Client, timeout time.Duration, log *logging.Logger) *Manager {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &Manager{
		store:    st,
		provider: provider,
		timeout:  timeout,
		log:      log.Sub("chat"),
		locks:    make(map[string]*sessionLock),
	}
}

// lockSession acquires the lock serializing turns for one session id and
// returns its release func. Waiters that arrived before the last release
// keep serializing on the same entry.
func (m *Manager) lockSession(id string) func() {
	m.mu.Lock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sessionLock{}
		m.locks[id] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		m.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// SendMessage runs one full turn: load (or create) the session, merge
// document refs, append the user message to a working copy, assemble the
// provider window, invoke the provider, and commit the finished turn in one
// store update. Provider failure persists nothing.
func (m *Manager) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	turn, err := m.beginTurn(req)
	if err != nil {
		return nil, err
	}
	defer turn.release()

	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := m.provider.Complete(pctx, llm.CompletionRequest{Messages: turn.window})
	if err != nil {
		return nil, m.mapProviderErr(pctx, err)
	}

	return m.commitTurn(turn, resp.Content)
}

// SendMessageStream runs one turn with streamed output. Deltas are forwarded
// to cb as they arrive; the turn is committed exactly like SendMessage once
// the stream finishes. Cancelling ctx stops delivery without persisting.
func (m *Manager) SendMessageStream(ctx context.Context, req SendRequest, cb StreamCallback) (*SendResult, error) {
	turn, err := m.beginTurn(req)
	if err != nil {
		return nil, err
	}
	defer turn.release()

	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	events, err := m.provider.Stream(pctx, llm.CompletionRequest{Messages: turn.window})
	if err != nil {
		return nil, m.mapProviderErr(pctx, err)
	}

	var full strings.Builder
	for ev := range events {
		switch ev.Type {
		case "delta":
			full.WriteString(ev.Content)
			cb(ev)
		case "error":
			err := ev.Err
			if err == nil {
				err = fmt.Errorf("provider stream: %s", ev.Error)
			}
			return nil, m.mapProviderErr(pctx, err)
		case "done":
			if ev.Response != nil && ev.Response.Content != "" {
				full.Reset()
				full.WriteString(ev.Response.Content)
			}
		}
	}
	if pctx.Err() != nil {
		return nil, m.mapProviderErr(pctx, pctx.Err())
	}

	result, err := m.commitTurn(turn, full.String())
	if err != nil {
		return nil, err
	}
	cb(llm.StreamEvent{Type: "done", Response: &llm.CompletionResponse{Content: result.ReplyText}})
	return result, nil
}

// turnState is the in-memory working copy of one turn, held under the
// session lock until commit or failure.
type turnState struct {
	req     SendRequest
	userMsg domain.Message
	window  []llm.Message
	release func()
}

// beginTurn validates the request, acquires the per-session lock, loads the
// session, and assembles the provider window from the working copy.
func (m *Manager) beginTurn(req SendRequest) (*turnState, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, fmt.Errorf("%w: chatId is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}

	release := m.lockSession(req.SessionID)

	var history []domain.Message
	refs := append([]string{}, req.DocumentRefs...)

	sess, err := m.store.Get(req.SessionID)
	switch {
	case err == nil:
		history = sess.Messages
		working := &domain.Session{DocumentRefs: append([]string{}, sess.DocumentRefs...)}
		working.MergeDocumentRefs(req.DocumentRefs)
		refs = working.DocumentRefs
	case errors.Is(err, store.ErrNotFound):
		// session is created at commit time
	default:
		release()
		return nil, err
	}

	system := BuildContext(history, refs)
	userMsg := domain.NewMessage(domain.RoleUser, req.Text)
	working := append(append([]domain.Message{}, history...), userMsg)

	m.log.Debug().
		Str("sessionId", req.SessionID).
		Int("historyLen", len(history)).
		Int("documentRefs", len(refs)).
		Msg("turn started")

	return &turnState{
		req:     req,
		userMsg: userMsg,
		window:  AssembleWindow(system, working),
		release: release,
	}, nil
}

// commitTurn persists the user message and the assistant reply atomically.
func (m *Manager) commitTurn(turn *turnState, reply string) (*SendResult, error) {
	sess, err := m.store.CommitTurn(store.TurnCommit{
		SessionID:    turn.req.SessionID,
		OwnerID:      turn.req.OwnerID,
		DocumentRefs: turn.req.DocumentRefs,
		Messages: []domain.Message{
			turn.userMsg,
			domain.NewMessage(domain.RoleAssistant, reply),
		},
	})
	if err != nil {
		return nil, err
	}

	m.log.Info().
		Str("sessionId", sess.ID).
		Int("messageCount", len(sess.Messages)).
		Msg("turn committed")

	return &SendResult{
		SessionID:    sess.ID,
		ReplyText:    reply,
		MessageCount: len(sess.Messages),
	}, nil
}

// mapProviderErr translates a provider failure into the manager's taxonomy.
func (m *Manager) mapProviderErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrProviderTimeout, m.timeout)
	}
	if errors.Is(err, llm.ErrEmptyMessages) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return err
}

// GetHistory returns the full session. Absence is a normal outcome signaled
// with ErrNotFound.
func (m *Manager) GetHistory(sessionID string) (*domain.Session, error) {
	return m.store.Get(sessionID)
}

// ListSessions returns summaries ordered by most recent activity. A
// non-empty ownerID restricts the listing.
func (m *Manager) ListSessions(ownerID string) ([]domain.SessionSummary, error) {
	return m.store.List(ownerID)
}

// GetStats returns counters for one session. Zero created/updated times fall
// back to the last activity time.
func (m *Manager) GetStats(sessionID string) (*domain.SessionStats, error) {
	stats, err := m.store.Stats(sessionID)
	if err != nil {
		return nil, err
	}
	if stats.CreatedAt.IsZero() {
		stats.CreatedAt = stats.LastActivity
	}
	if stats.UpdatedAt.IsZero() {
		stats.UpdatedAt = stats.LastActivity
	}
	return stats, nil
}

// DeleteSession removes a session. Returns false if it did not exist.
func (m *Manager) DeleteSession(sessionID string) (bool, error) {
	return m.store.Delete(sessionID)
}

// ClearHistory removes a session's messages. Returns false if it did not exist.
func (m *Manager) ClearHistory(sessionID string) (bool, error) {
	return m.store.Clear(sessionID)
}

// CreateSession creates an empty session with the supplied document refs.
// Fails with ErrConflict if the id is taken.
func (m *Manager) CreateSession(sessionID string, documentRefs []string, ownerID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: chatId is required", ErrInvalidInput)
	}

	release := m.lockSession(sessionID)
	defer release()

	sess, err := m.store.Create(sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	if len(documentRefs) > 0 {
		if _, err := m.store.MergeDocumentRefs(sessionID, documentRefs); err != nil {
			return nil, err
		}
		return m.store.Get(sessionID)
	}
	return sess, nil
}
