package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ojage/lokkito-backend/internal/domain"
	"github.com/ojage/lokkito-backend/internal/llm"
)

func TestBuildContext_NoDocumentsNewConversation(t *testing.T) {
	got := BuildContext(nil, nil)
	assert.Equal(t,
		"No documents uploaded.\n"+
			"This is the start of a new conversation.\n"+
			"Respond in Pidgin with useful insight. Be helpful and conversational.",
		got)
}

func TestBuildContext_DocumentsListed(t *testing.T) {
	got := BuildContext(nil, []string{"report.pdf", "notes.txt"})
	assert.Contains(t, got, "Based on your uploaded documents: report.pdf, notes.txt.\n")
	assert.Contains(t, got, "This is the start of a new conversation.\n")
}

func TestBuildContext_ContinuingConversation(t *testing.T) {
	history := []domain.Message{domain.NewMessage(domain.RoleUser, "hi")}
	got := BuildContext(history, nil)
	assert.Contains(t, got, "Continue this conversation naturally. Previous context is available in the message history.\n")
	assert.NotContains(t, got, "start of a new conversation")
}

func TestBuildContext_Deterministic(t *testing.T) {
	history := []domain.Message{domain.NewMessage(domain.RoleUser, "hi")}
	refs := []string{"a.pdf"}
	assert.Equal(t, BuildContext(history, refs), BuildContext(history, refs))
}

func TestAssembleWindow_SystemFirst(t *testing.T) {
	working := []domain.Message{
		domain.NewMessage(domain.RoleUser, "question"),
	}
	window := AssembleWindow("ctx", working)
	require.Len(t, window, 2)
	assert.Equal(t, llm.RoleSystem, window[0].Role)
	assert.Equal(t, "ctx", window[0].Content)
	assert.Equal(t, llm.RoleUser, window[1].Role)
}

func TestAssembleWindow_TrimsToRecent(t *testing.T) {
	var working []domain.Message
	for i := 0; i < 50; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		working = append(working, domain.NewMessage(role, fmt.Sprintf("msg-%d", i)))
	}

	window := AssembleWindow("ctx", working)
	require.Len(t, window, historyWindow+1)
	assert.Equal(t, llm.RoleSystem, window[0].Role)

	// the 10 most recent survive, in original order
	assert.Equal(t, "msg-40", window[1].Content)
	assert.Equal(t, "msg-49", window[historyWindow].Content)
}

func TestAssembleWindow_ShortHistoryKeptWhole(t *testing.T) {
	working := []domain.Message{
		domain.NewMessage(domain.RoleUser, "a"),
		domain.NewMessage(domain.RoleAssistant, "b"),
		domain.NewMessage(domain.RoleUser, "c"),
	}
	window := AssembleWindow("ctx", working)
	require.Len(t, window, 4)
	assert.Equal(t, "a", window[1].Content)
	assert.Equal(t, "c", window[3].Content)
}
