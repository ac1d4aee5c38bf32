package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and messages",
		SQL: `
			CREATE TABLE sessions (
				id            TEXT PRIMARY KEY,
				owner_id      TEXT NOT NULL DEFAULT '',
				document_refs TEXT NOT NULL DEFAULT '[]',
				last_activity TEXT NOT NULL,
				created_at    TEXT NOT NULL,
				updated_at    TEXT NOT NULL
			);

			CREATE INDEX idx_sessions_owner ON sessions (owner_id);
			CREATE INDEX idx_sessions_activity ON sessions (last_activity);

			CREATE TABLE messages (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				role        TEXT NOT NULL,
				content     TEXT NOT NULL,
				timestamp   TEXT NOT NULL
			);

			CREATE INDEX idx_messages_session ON messages (session_id, id);
		`,
	},
}
