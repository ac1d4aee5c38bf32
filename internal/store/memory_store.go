package store

import (
	"sort"
	"sync"
	"time"

	"github.com/ojage/lokkito-backend/internal/domain"
)

// MemorySessionStore implements SessionStore with an in-process map.
// Used for tests and for running without a data directory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*domain.Session)}
}

// Get returns a deep copy of the session.
func (s *MemorySessionStore) Get(id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(sess), nil
}

// Create creates an empty session.
func (s *MemorySessionStore) Create(id, ownerID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		return nil, ErrConflict
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:           id,
		OwnerID:      ownerID,
		Messages:     []domain.Message{},
		DocumentRefs: []string{},
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.sessions[id] = sess
	return copySession(sess), nil
}

// Append adds messages to an existing session in order.
func (s *MemorySessionStore) Append(id string, msgs ...domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	for _, msg := range msgs {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		sess.Messages = append(sess.Messages, msg)
	}
	sess.LastActivity = now
	sess.UpdatedAt = now
	return nil
}

// MergeDocumentRefs adds refs not already attached to the session.
func (s *MemorySessionStore) MergeDocumentRefs(id string, refs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return 0, ErrNotFound
	}

	added := sess.MergeDocumentRefs(refs)
	if added > 0 {
		now := time.Now().UTC()
		sess.LastActivity = now
		sess.UpdatedAt = now
	}
	return added, nil
}

// Clear removes all messages, keeping the session and its document refs.
func (s *MemorySessionStore) Clear(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false, nil
	}

	now := time.Now().UTC()
	sess.Messages = []domain.Message{}
	sess.LastActivity = now
	sess.UpdatedAt = now
	return true, nil
}

// Delete removes a session entirely.
func (s *MemorySessionStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

// List returns summaries of sessions, most recently active first.
func (s *MemorySessionStore) List(ownerID string) ([]domain.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]domain.SessionSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if ownerID != "" && sess.OwnerID != ownerID {
			continue
		}
		summaries = append(summaries, domain.SessionSummary{
			ID:           sess.ID,
			OwnerID:      sess.OwnerID,
			MessageCount: len(sess.Messages),
			DocumentRefs: append([]string{}, sess.DocumentRefs...),
			LastActivity: sess.LastActivity,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].LastActivity.Equal(summaries[j].LastActivity) {
			return summaries[i].LastActivity.After(summaries[j].LastActivity)
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}

// Stats returns counters for one session.
func (s *MemorySessionStore) Stats(id string) (*domain.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &domain.SessionStats{
		SessionID:     sess.ID,
		MessageCount:  len(sess.Messages),
		DocumentCount: len(sess.DocumentRefs),
		LastActivity:  sess.LastActivity,
		CreatedAt:     sess.CreatedAt,
		UpdatedAt:     sess.UpdatedAt,
	}, nil
}

// CommitTurn persists a completed turn as one update.
func (s *MemorySessionStore) CommitTurn(commit TurnCommit) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sess, ok := s.sessions[commit.SessionID]
	if !ok {
		sess = &domain.Session{
			ID:           commit.SessionID,
			OwnerID:      commit.OwnerID,
			Messages:     []domain.Message{},
			DocumentRefs: []string{},
			CreatedAt:    now,
		}
		s.sessions[commit.SessionID] = sess
	}

	sess.MergeDocumentRefs(commit.DocumentRefs)
	for _, msg := range commit.Messages {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		sess.Messages = append(sess.Messages, msg)
	}
	sess.LastActivity = now
	sess.UpdatedAt = now
	return copySession(sess), nil
}

func copySession(sess *domain.Session) *domain.Session {
	out := *sess
	out.Messages = append([]domain.Message{}, sess.Messages...)
	out.DocumentRefs = append([]string{}, sess.DocumentRefs...)
	return &out
}
