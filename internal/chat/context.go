// Package chat orchestrates conversation turns: it assembles provider
// context from session state, invokes the completion provider, and commits
// finished turns to the session store.
package chat

import (
	"fmt"
	"strings"

	"github.com/ojage/lokkito-backend/internal/domain"
	"github.com/ojage/lokkito-backend/internal/llm"
)

// historyWindow is the number of recent messages forwarded to the provider.
// Older messages stay in the durable session but are not resent.
const historyWindow = 10

// BuildContext returns the system context for a turn. history is the
// session's message history before the incoming user message, so a first
// turn reads as the start of a conversation.
func BuildContext(history []domain.Message, documentRefs []string) string {
	documentContext := "No documents uploaded.\n"
	if len(documentRefs) > 0 {
		documentContext = fmt.Sprintf("Based on your uploaded documents: %s.\n", strings.Join(documentRefs, ", "))
	}

	conversationContext := "This is the start of a new conversation.\n"
	if len(history) > 0 {
		conversationContext = "Continue this conversation naturally. Previous context is available in the message history.\n"
	}

	return documentContext + conversationContext + "Respond in Pidgin with useful insight. Be helpful and conversational."
}

// AssembleWindow builds the message window forwarded to the provider: the
// system context first, then the most recent historyWindow messages in
// original order.
func AssembleWindow(system string, working []domain.Message) []llm.Message {
	recent := working
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}

	window := make([]llm.Message, 0, len(recent)+1)
	window = append(window, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, msg := range recent {
		window = append(window, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return window
}
