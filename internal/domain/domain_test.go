package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeDocumentRefs(t *testing.T) {
	s := &Session{DocumentRefs: []string{"report.pdf"}}

	added := s.MergeDocumentRefs([]string{"notes.txt", "report.pdf", "notes.txt"})
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"report.pdf", "notes.txt"}, s.DocumentRefs)
}

func TestMergeDocumentRefs_Idempotent(t *testing.T) {
	s := &Session{}

	s.MergeDocumentRefs([]string{"a", "b"})
	added := s.MergeDocumentRefs([]string{"a", "b"})

	assert.Equal(t, 0, added)
	assert.Equal(t, []string{"a", "b"}, s.DocumentRefs)
}

func TestMergeDocumentRefs_SkipsEmpty(t *testing.T) {
	s := &Session{}

	added := s.MergeDocumentRefs([]string{"", "a"})
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"a"}, s.DocumentRefs)
}

func TestNewMessage(t *testing.T) {
	m := NewMessage(RoleUser, "hello")
	assert.Equal(t, RoleUser, m.Role)
	assert.Equal(t, "hello", m.Content)
	assert.False(t, m.Timestamp.IsZero())
}
