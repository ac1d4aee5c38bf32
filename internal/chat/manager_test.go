package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ojage/lokkito-backend/internal/domain"
	"github.com/ojage/lokkito-backend/internal/llm"
	"github.com/ojage/lokkito-backend/internal/logging"
	"github.com/ojage/lokkito-backend/internal/store"
)

func testManager(t *testing.T, client llm.Client) (*Manager, store.SessionStore) {
	t.Helper()
	st := store.NewMemorySessionStore()
	m := NewManager(st, client, 0, logging.New(nil, "silent"))
	return m, st
}

func echoClient() *llm.MockClient {
	return &llm.MockClient{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: "reply"}, nil
		},
	}
}

func TestSendMessage_FreshSession(t *testing.T) {
	m, st := testManager(t, echoClient())

	res, err := m.SendMessage(context.Background(), SendRequest{
		SessionID: "s1",
		Text:      "hello",
		OwnerID:   "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, "reply", res.ReplyText)
	assert.Equal(t, 2, res.MessageCount)

	sess, err := st.Get("s1")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, domain.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, "hello", sess.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, sess.Messages[1].Role)
	assert.Equal(t, "user-1", sess.OwnerID)
}

func TestSendMessage_InvalidInput(t *testing.T) {
	m, _ := testManager(t, echoClient())

	_, err := m.SendMessage(context.Background(), SendRequest{SessionID: "s1", Text: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = m.SendMessage(context.Background(), SendRequest{SessionID: "", Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSendMessage_WindowAssembly(t *testing.T) {
	var gotWindow []llm.Message
	client := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			gotWindow = req.Messages
			return &llm.CompletionResponse{Content: "reply"}, nil
		},
	}
	m, st := testManager(t, client)

	_, err := st.Create("s1", "")
	require.NoError(t, err)
	var history []domain.Message
	for i := 0; i < 50; i++ {
		history = append(history, domain.NewMessage(domain.RoleUser, fmt.Sprintf("old-%d", i)))
	}
	require.NoError(t, st.Append("s1", history...))

	_, err = m.SendMessage(context.Background(), SendRequest{SessionID: "s1", Text: "new question"})
	require.NoError(t, err)

	// system + 10 most recent, new user message last
	require.Len(t, gotWindow, 11)
	assert.Equal(t, llm.RoleSystem, gotWindow[0].Role)
	assert.Contains(t, gotWindow[0].Content, "Continue this conversation naturally")
	assert.Equal(t, "new question", gotWindow[10].Content)
	assert.Equal(t, "old-41", gotWindow[1].Content)
}

func TestSendMessage_FirstTurnReadsAsNewConversation(t *testing.T) {
	var gotWindow []llm.Message
	client := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			gotWindow = req.Messages
			return &llm.CompletionResponse{Content: "reply"}, nil
		},
	}
	m, _ := testManager(t, client)

	_, err := m.SendMessage(context.Background(), SendRequest{SessionID: "s1", Text: "hi"})
	require.NoError(t, err)
	assert.Contains(t, gotWindow[0].Content, "This is the start of a new conversation.")
}

func TestSendMessage_ProviderFailurePersistsNothing(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, &llm.ProviderError{Provider: "openai", Kind: llm.KindRateLimit, Message: "slow down", Code: 429}
		},
	}
	m, st := testManager(t, client)

	_, err := m.SendMessage(context.Background(), SendRequest{SessionID: "s1", Text: "hi"})
	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, llm.KindRateLimit, perr.Kind)

	// the failed turn created no session
	_, err = st.Get("s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSendMessage_ProviderFailureLeavesExistingUntouched(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, &llm.ProviderError{Provider: "openai", Kind: llm.KindUnavailable, Message: "down"}
		},
	}
	m, st := testManager(t, client)

	_, err := st.Create("s1", "")
	require.NoError(t, err)
	require.NoError(t, st.Append("s1", domain.NewMessage(domain.RoleUser, "before")))

	_, err = m.SendMessage(context.Background(), SendRequest{SessionID: "s1", Text: "hi"})
	require.Error(t, err)

	sess, err := st.Get("s1")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 1)
}

func TestSendMessage_Timeout(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	st := store.NewMemorySessionStore()
	m := NewManager(st, client, 20*time.Millisecond, logging.New(nil, "silent"))

	_, err := m.SendMessage(context.Background(), SendRequest{SessionID: "s1", Text: "hi"})
	assert.ErrorIs(t, err, ErrProviderTimeout)

	_, err = st.Get("s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSendMessage_ConcurrentSameSession(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			time.Sleep(5 * time.Millisecond)
			return &llm.CompletionResponse{Content: "reply"}, nil
		},
	}
	m, st := testManager(t, client)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := m.SendMessage(context.Background(), SendRequest{
				SessionID: "s1",
				Text:      fmt.Sprintf("msg-%d", n),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// both turns land: no lost update
	sess, err := st.Get("s1")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 4)

	// finished turns leave no lock entries behind
	m.mu.Lock()
	assert.Empty(t, m.locks)
	m.mu.Unlock()
}

func TestSessionLocksReleased(t *testing.T) {
	m, _ := testManager(t, echoClient())

	for i := 0; i < 5; i++ {
		_, err := m.SendMessage(context.Background(), SendRequest{
			SessionID: fmt.Sprintf("s%d", i),
			Text:      "hi",
		})
		require.NoError(t, err)
	}
	_, err := m.CreateSession("extra", nil, "")
	require.NoError(t, err)

	m.mu.Lock()
	assert.Empty(t, m.locks)
	m.mu.Unlock()
}

func TestSendMessage_MergesDocumentRefs(t *testing.T) {
	m, st := testManager(t, echoClient())

	_, err := m.SendMessage(context.Background(), SendRequest{
		SessionID:    "s1",
		Text:         "hi",
		DocumentRefs: []string{"a.pdf"},
	})
	require.NoError(t, err)

	_, err = m.SendMessage(context.Background(), SendRequest{
		SessionID:    "s1",
		Text:         "again",
		DocumentRefs: []string{"a.pdf", "b.pdf"},
	})
	require.NoError(t, err)

	sess, err := st.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, sess.DocumentRefs)
}

func TestSendMessageStream(t *testing.T) {
	m, st := testManager(t, &llm.MockClient{
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			ch := make(chan llm.StreamEvent, 3)
			ch <- llm.StreamEvent{Type: "delta", Content: "Hel"}
			ch <- llm.StreamEvent{Type: "delta", Content: "lo"}
			ch <- llm.StreamEvent{Type: "done", Response: &llm.CompletionResponse{Content: "Hello"}}
			close(ch)
			return ch, nil
		},
	})

	var deltas []string
	var sawDone bool
	res, err := m.SendMessageStream(context.Background(), SendRequest{SessionID: "s1", Text: "hi"},
		func(ev llm.StreamEvent) {
			switch ev.Type {
			case "delta":
				deltas = append(deltas, ev.Content)
			case "done":
				sawDone = true
			}
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.True(t, sawDone)
	assert.Equal(t, "Hello", res.ReplyText)
	assert.Equal(t, 2, res.MessageCount)

	sess, err := st.Get("s1")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "Hello", sess.Messages[1].Content)
}

func TestSendMessageStream_ErrorPersistsNothing(t *testing.T) {
	m, st := testManager(t, &llm.MockClient{
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			ch := make(chan llm.StreamEvent, 2)
			ch <- llm.StreamEvent{Type: "delta", Content: "partial"}
			ch <- llm.ErrorEvent(&llm.ProviderError{
				Provider: "openai", Kind: llm.KindRateLimit, Message: "slow down", Code: 429,
			})
			close(ch)
			return ch, nil
		},
	})

	_, err := m.SendMessageStream(context.Background(), SendRequest{SessionID: "s1", Text: "hi"},
		func(llm.StreamEvent) {})
	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, llm.KindRateLimit, perr.Kind)

	_, err = st.Get("s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSession(t *testing.T) {
	m, _ := testManager(t, echoClient())

	sess, err := m.CreateSession("s1", []string{"a.pdf", "a.pdf", "b.pdf"}, "user-1")
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, sess.DocumentRefs)

	_, err = m.CreateSession("s1", nil, "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetHistoryNotFound(t *testing.T) {
	m, _ := testManager(t, echoClient())
	_, err := m.GetHistory("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessions(t *testing.T) {
	m, _ := testManager(t, echoClient())

	_, err := m.CreateSession("s1", nil, "user-1")
	require.NoError(t, err)
	_, err = m.CreateSession("s2", nil, "user-2")
	require.NoError(t, err)

	all, err := m.ListSessions("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := m.ListSessions("user-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "s1", mine[0].ID)
}

func TestGetStats(t *testing.T) {
	m, _ := testManager(t, echoClient())

	_, err := m.SendMessage(context.Background(), SendRequest{
		SessionID:    "s1",
		Text:         "hi",
		DocumentRefs: []string{"a.pdf"},
	})
	require.NoError(t, err)

	stats, err := m.GetStats("s1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MessageCount)
	assert.Equal(t, 1, stats.DocumentCount)
	assert.False(t, stats.CreatedAt.IsZero())
	assert.False(t, stats.UpdatedAt.IsZero())
}

func TestDeleteAndClear(t *testing.T) {
	m, _ := testManager(t, echoClient())

	_, err := m.SendMessage(context.Background(), SendRequest{SessionID: "s1", Text: "hi"})
	require.NoError(t, err)

	cleared, err := m.ClearHistory("s1")
	require.NoError(t, err)
	assert.True(t, cleared)

	sess, err := m.GetHistory("s1")
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)

	deleted, err := m.DeleteSession("s1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = m.DeleteSession("s1")
	require.NoError(t, err)
	assert.False(t, deleted)

	cleared, err = m.ClearHistory("s1")
	require.NoError(t, err)
	assert.False(t, cleared)
}
