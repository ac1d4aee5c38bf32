package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ojage/lokkito-backend/internal/domain"
	"github.com/ojage/lokkito-backend/internal/logging"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// eachStore runs a contract test against both backends.
func eachStore(t *testing.T, fn func(t *testing.T, s SessionStore)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, NewSQLiteSessionStore(testDB(t)))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemorySessionStore())
	})
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)
	assert.NotNil(t, db.SQL())
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	// Running migrate again should be a no-op
	err := db.migrate()
	require.NoError(t, err)

	var count int
	err = db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

// --- SessionStore contract tests ---

func TestCreateAndGet(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		sess, err := s.Create("chat-1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, "chat-1", sess.ID)
		assert.Equal(t, "user-1", sess.OwnerID)
		assert.Empty(t, sess.Messages)
		assert.Empty(t, sess.DocumentRefs)

		got, err := s.Get("chat-1")
		require.NoError(t, err)
		assert.Equal(t, "chat-1", got.ID)
		assert.Equal(t, "user-1", got.OwnerID)
	})
}

func TestCreateConflict(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		_, err := s.Create("chat-1", "")
		require.NoError(t, err)

		_, err = s.Create("chat-1", "someone-else")
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestGetNotFound(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		_, err := s.Get("nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAppendOrder(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		_, err := s.Create("chat-1", "")
		require.NoError(t, err)

		require.NoError(t, s.Append("chat-1",
			domain.NewMessage(domain.RoleUser, "first"),
			domain.NewMessage(domain.RoleAssistant, "second"),
		))
		require.NoError(t, s.Append("chat-1", domain.NewMessage(domain.RoleUser, "third")))

		got, err := s.Get("chat-1")
		require.NoError(t, err)
		require.Len(t, got.Messages, 3)
		assert.Equal(t, "first", got.Messages[0].Content)
		assert.Equal(t, "second", got.Messages[1].Content)
		assert.Equal(t, "third", got.Messages[2].Content)
	})
}

func TestAppendNotFound(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		err := s.Append("nope", domain.NewMessage(domain.RoleUser, "hi"))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMergeDocumentRefs(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		_, err := s.Create("chat-1", "")
		require.NoError(t, err)

		added, err := s.MergeDocumentRefs("chat-1", []string{"a.pdf", "b.pdf"})
		require.NoError(t, err)
		assert.Equal(t, 2, added)

		// duplicates and empties are skipped
		added, err = s.MergeDocumentRefs("chat-1", []string{"b.pdf", "", "c.pdf"})
		require.NoError(t, err)
		assert.Equal(t, 1, added)

		got, err := s.Get("chat-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, got.DocumentRefs)
	})
}

func TestClear(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		_, err := s.Create("chat-1", "")
		require.NoError(t, err)
		require.NoError(t, s.Append("chat-1", domain.NewMessage(domain.RoleUser, "hi")))
		_, err = s.MergeDocumentRefs("chat-1", []string{"a.pdf"})
		require.NoError(t, err)

		cleared, err := s.Clear("chat-1")
		require.NoError(t, err)
		assert.True(t, cleared)

		got, err := s.Get("chat-1")
		require.NoError(t, err)
		assert.Empty(t, got.Messages)
		// document refs survive a clear
		assert.Equal(t, []string{"a.pdf"}, got.DocumentRefs)
	})
}

func TestClearAbsent(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		cleared, err := s.Clear("nope")
		require.NoError(t, err)
		assert.False(t, cleared)
	})
}

func TestDelete(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		_, err := s.Create("chat-1", "")
		require.NoError(t, err)
		require.NoError(t, s.Append("chat-1", domain.NewMessage(domain.RoleUser, "hi")))

		deleted, err := s.Delete("chat-1")
		require.NoError(t, err)
		assert.True(t, deleted)

		_, err = s.Get("chat-1")
		assert.ErrorIs(t, err, ErrNotFound)

		deleted, err = s.Delete("chat-1")
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestList(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		_, err := s.Create("chat-a", "user-1")
		require.NoError(t, err)
		_, err = s.Create("chat-b", "user-2")
		require.NoError(t, err)

		// activity on chat-a makes it most recent
		require.NoError(t, s.Append("chat-a", domain.NewMessage(domain.RoleUser, "hi")))

		summaries, err := s.List("")
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		assert.Equal(t, "chat-a", summaries[0].ID)
		assert.Equal(t, 1, summaries[0].MessageCount)
		assert.Equal(t, "chat-b", summaries[1].ID)
		assert.Equal(t, 0, summaries[1].MessageCount)
	})
}

func TestListByOwner(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		_, err := s.Create("chat-a", "user-1")
		require.NoError(t, err)
		_, err = s.Create("chat-b", "user-2")
		require.NoError(t, err)
		_, err = s.Create("chat-c", "user-1")
		require.NoError(t, err)

		summaries, err := s.List("user-1")
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		for _, sum := range summaries {
			assert.Equal(t, "user-1", sum.OwnerID)
		}
	})
}

func TestListEmpty(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		summaries, err := s.List("")
		require.NoError(t, err)
		assert.Empty(t, summaries)
	})
}

func TestStats(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		_, err := s.Create("chat-1", "")
		require.NoError(t, err)
		require.NoError(t, s.Append("chat-1",
			domain.NewMessage(domain.RoleUser, "hi"),
			domain.NewMessage(domain.RoleAssistant, "hello"),
		))
		_, err = s.MergeDocumentRefs("chat-1", []string{"a.pdf"})
		require.NoError(t, err)

		stats, err := s.Stats("chat-1")
		require.NoError(t, err)
		assert.Equal(t, "chat-1", stats.SessionID)
		assert.Equal(t, 2, stats.MessageCount)
		assert.Equal(t, 1, stats.DocumentCount)
		assert.False(t, stats.LastActivity.IsZero())
	})
}

func TestStatsNotFound(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		_, err := s.Stats("nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCommitTurnCreatesSession(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		sess, err := s.CommitTurn(TurnCommit{
			SessionID:    "chat-1",
			OwnerID:      "user-1",
			DocumentRefs: []string{"a.pdf"},
			Messages: []domain.Message{
				domain.NewMessage(domain.RoleUser, "hi"),
				domain.NewMessage(domain.RoleAssistant, "hello"),
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "chat-1", sess.ID)
		assert.Equal(t, "user-1", sess.OwnerID)
		assert.Equal(t, []string{"a.pdf"}, sess.DocumentRefs)
		require.Len(t, sess.Messages, 2)
		assert.Equal(t, domain.RoleUser, sess.Messages[0].Role)
		assert.Equal(t, domain.RoleAssistant, sess.Messages[1].Role)
	})
}

func TestCommitTurnAppendsToExisting(t *testing.T) {
	eachStore(t, func(t *testing.T, s SessionStore) {
		_, err := s.Create("chat-1", "user-1")
		require.NoError(t, err)
		require.NoError(t, s.Append("chat-1", domain.NewMessage(domain.RoleUser, "old")))

		sess, err := s.CommitTurn(TurnCommit{
			SessionID: "chat-1",
			Messages: []domain.Message{
				domain.NewMessage(domain.RoleUser, "new question"),
				domain.NewMessage(domain.RoleAssistant, "new answer"),
			},
		})
		require.NoError(t, err)
		require.Len(t, sess.Messages, 3)
		assert.Equal(t, "old", sess.Messages[0].Content)
		assert.Equal(t, "new answer", sess.Messages[2].Content)
		// owner set at creation is not overwritten
		assert.Equal(t, "user-1", sess.OwnerID)
	})
}

func TestCorruptTimestampSurfacesError(t *testing.T) {
	db := testDB(t)
	s := NewSQLiteSessionStore(db)

	_, err := s.Create("chat-1", "user-1")
	require.NoError(t, err)

	_, err = db.SQL().Exec(`UPDATE sessions SET last_activity = 'not-a-time' WHERE id = ?`, "chat-1")
	require.NoError(t, err)

	_, err = s.Get("chat-1")
	var serr *StoreError
	require.ErrorAs(t, err, &serr)
	assert.NotErrorIs(t, err, ErrNotFound)
}
