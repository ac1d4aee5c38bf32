// Package domain defines the core conversation types shared across the
// store, the session manager, and the transport layer.
package domain

import "time"

// Session is a persistent conversation thread. The ID is caller-supplied
// and globally unique; one ID maps to at most one session.
type Session struct {
	ID           string    `json:"chatId"`
	Messages     []Message `json:"messages"`
	DocumentRefs []string  `json:"documentNames"`
	OwnerID      string    `json:"userId,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MergeDocumentRefs adds refs that are not already present, preserving
// insertion order. Returns the number of refs actually added.
func (s *Session) MergeDocumentRefs(refs []string) int {
	added := 0
	for _, ref := range refs {
		if ref == "" || containsRef(s.DocumentRefs, ref) {
			continue
		}
		s.DocumentRefs = append(s.DocumentRefs, ref)
		added++
	}
	return added
}

func containsRef(refs []string, ref string) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

// SessionSummary is the listing view of a session, sorted by LastActivity.
type SessionSummary struct {
	ID           string    `json:"chatId"`
	OwnerID      string    `json:"userId,omitempty"`
	MessageCount int       `json:"messageCount"`
	DocumentRefs []string  `json:"documentNames"`
	LastActivity time.Time `json:"lastActivity"`
}

// SessionStats summarizes a single session.
type SessionStats struct {
	SessionID     string    `json:"chatId"`
	MessageCount  int       `json:"messageCount"`
	DocumentCount int       `json:"documentCount"`
	LastActivity  time.Time `json:"lastActivity"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
