package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ojage/lokkito-backend/internal/domain"
)

const timeFormat = time.RFC3339Nano

// parseTime decodes a stored timestamp. A row that fails to parse is a
// persistence fault, not a zero time.
func parseTime(op, value string) (time.Time, error) {
	t, err := time.Parse(timeFormat, value)
	if err != nil {
		return time.Time{}, storeErr(op, fmt.Errorf("parse timestamp %q: %w", value, err))
	}
	return t, nil
}

// SQLiteSessionStore implements SessionStore backed by SQLite.
type SQLiteSessionStore struct {
	db *DB
}

// NewSQLiteSessionStore creates a session store using the given database.
func NewSQLiteSessionStore(db *DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

// Get returns the session with its full ordered history.
func (s *SQLiteSessionStore) Get(id string) (*domain.Session, error) {
	sess, err := s.loadSession(s.db.sql, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.loadMessages(s.db.sql, id)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	return sess, nil
}

// Create creates an empty session.
func (s *SQLiteSessionStore) Create(id, ownerID string) (*domain.Session, error) {
	now := time.Now().UTC()
	res, err := s.db.sql.Exec(
		`INSERT INTO sessions (id, owner_id, document_refs, last_activity, created_at, updated_at)
		 VALUES (?, ?, '[]', ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, ownerID, now.Format(timeFormat), now.Format(timeFormat), now.Format(timeFormat),
	)
	if err != nil {
		return nil, storeErr("create", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, storeErr("create", err)
	}
	if n == 0 {
		return nil, ErrConflict
	}

	return &domain.Session{
		ID:           id,
		OwnerID:      ownerID,
		DocumentRefs: []string{},
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Append adds messages to an existing session in order.
func (s *SQLiteSessionStore) Append(id string, msgs ...domain.Message) error {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return storeErr("append", err)
	}
	defer tx.Rollback()

	if err := s.touchSession(tx, id, time.Now().UTC()); err != nil {
		return err
	}
	if err := s.insertMessages(tx, id, msgs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeErr("append", err)
	}
	return nil
}

// MergeDocumentRefs adds refs not already attached to the session.
func (s *SQLiteSessionStore) MergeDocumentRefs(id string, refs []string) (int, error) {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return 0, storeErr("merge refs", err)
	}
	defer tx.Rollback()

	sess, err := s.loadSession(tx, id)
	if err != nil {
		return 0, err
	}

	added := sess.MergeDocumentRefs(refs)
	if added > 0 {
		if err := s.updateRefs(tx, id, sess.DocumentRefs, time.Now().UTC()); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr("merge refs", err)
	}
	return added, nil
}

// Clear removes all messages from a session, keeping the session row.
func (s *SQLiteSessionStore) Clear(id string) (bool, error) {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return false, storeErr("clear", err)
	}
	defer tx.Rollback()

	if err := s.touchSession(tx, id, time.Now().UTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return false, storeErr("clear", err)
	}

	if err := tx.Commit(); err != nil {
		return false, storeErr("clear", err)
	}
	return true, nil
}

// Delete removes a session and its messages.
func (s *SQLiteSessionStore) Delete(id string) (bool, error) {
	res, err := s.db.sql.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, storeErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("delete", err)
	}
	return n > 0, nil
}

// List returns summaries of sessions, most recently active first.
func (s *SQLiteSessionStore) List(ownerID string) ([]domain.SessionSummary, error) {
	query := `SELECT s.id, s.owner_id, s.document_refs, s.last_activity,
	                 (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
	          FROM sessions s`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE s.owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY s.last_activity DESC, s.id`

	rows, err := s.db.sql.Query(query, args...)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	summaries := []domain.SessionSummary{}
	for rows.Next() {
		var sum domain.SessionSummary
		var refsJSON, lastActivity string
		if err := rows.Scan(&sum.ID, &sum.OwnerID, &refsJSON, &lastActivity, &sum.MessageCount); err != nil {
			return nil, storeErr("list", err)
		}
		sum.DocumentRefs = decodeRefs(refsJSON)
		if sum.LastActivity, err = parseTime("list", lastActivity); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list", err)
	}
	return summaries, nil
}

// Stats returns counters for one session.
func (s *SQLiteSessionStore) Stats(id string) (*domain.SessionStats, error) {
	sess, err := s.loadSession(s.db.sql, id)
	if err != nil {
		return nil, err
	}

	var count int
	if err := s.db.sql.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, id,
	).Scan(&count); err != nil {
		return nil, storeErr("stats", err)
	}

	return &domain.SessionStats{
		SessionID:     sess.ID,
		MessageCount:  count,
		DocumentCount: len(sess.DocumentRefs),
		LastActivity:  sess.LastActivity,
		CreatedAt:     sess.CreatedAt,
		UpdatedAt:     sess.UpdatedAt,
	}, nil
}

// CommitTurn persists a completed turn in a single transaction.
func (s *SQLiteSessionStore) CommitTurn(commit TurnCommit) (*domain.Session, error) {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return nil, storeErr("commit turn", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	sess, err := s.loadSession(tx, commit.SessionID)
	if errors.Is(err, ErrNotFound) {
		sess = &domain.Session{
			ID:           commit.SessionID,
			OwnerID:      commit.OwnerID,
			DocumentRefs: []string{},
			LastActivity: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, err := tx.Exec(
			`INSERT INTO sessions (id, owner_id, document_refs, last_activity, created_at, updated_at)
			 VALUES (?, ?, '[]', ?, ?, ?)`,
			sess.ID, sess.OwnerID, now.Format(timeFormat), now.Format(timeFormat), now.Format(timeFormat),
		); err != nil {
			return nil, storeErr("commit turn", err)
		}
	} else if err != nil {
		return nil, err
	}

	sess.MergeDocumentRefs(commit.DocumentRefs)
	if err := s.updateRefs(tx, sess.ID, sess.DocumentRefs, now); err != nil {
		return nil, err
	}
	if err := s.insertMessages(tx, sess.ID, commit.Messages); err != nil {
		return nil, err
	}

	msgs, err := s.loadMessages(tx, sess.ID)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	sess.LastActivity = now
	sess.UpdatedAt = now

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit turn", err)
	}
	return sess, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func (s *SQLiteSessionStore) loadSession(q querier, id string) (*domain.Session, error) {
	var sess domain.Session
	var refsJSON, lastActivity, createdAt, updatedAt string

	err := q.QueryRow(
		`SELECT id, owner_id, document_refs, last_activity, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.OwnerID, &refsJSON, &lastActivity, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get", err)
	}

	sess.DocumentRefs = decodeRefs(refsJSON)
	if sess.LastActivity, err = parseTime("get", lastActivity); err != nil {
		return nil, err
	}
	if sess.CreatedAt, err = parseTime("get", createdAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime("get", updatedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLiteSessionStore) loadMessages(q querier, sessionID string) ([]domain.Message, error) {
	rows, err := q.Query(
		`SELECT role, content, timestamp FROM messages WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, storeErr("load messages", err)
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var ts string
		if err := rows.Scan(&msg.Role, &msg.Content, &ts); err != nil {
			return nil, storeErr("load messages", err)
		}
		if msg.Timestamp, err = parseTime("load messages", ts); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("load messages", err)
	}
	return msgs, nil
}

func (s *SQLiteSessionStore) insertMessages(q querier, sessionID string, msgs []domain.Message) error {
	for _, msg := range msgs {
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := q.Exec(
			`INSERT INTO messages (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
			sessionID, msg.Role, msg.Content, ts.Format(timeFormat),
		); err != nil {
			return storeErr("insert message", err)
		}
	}
	return nil
}

// touchSession bumps last_activity and updated_at, failing with ErrNotFound
// if the session does not exist.
func (s *SQLiteSessionStore) touchSession(q querier, id string, now time.Time) error {
	res, err := q.Exec(
		`UPDATE sessions SET last_activity = ?, updated_at = ? WHERE id = ?`,
		now.Format(timeFormat), now.Format(timeFormat), id,
	)
	if err != nil {
		return storeErr("touch", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("touch", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteSessionStore) updateRefs(q querier, id string, refs []string, now time.Time) error {
	data, err := json.Marshal(refs)
	if err != nil {
		return storeErr("encode refs", err)
	}
	if _, err := q.Exec(
		`UPDATE sessions SET document_refs = ?, last_activity = ?, updated_at = ? WHERE id = ?`,
		string(data), now.Format(timeFormat), now.Format(timeFormat), id,
	); err != nil {
		return storeErr("update refs", err)
	}
	return nil
}

func decodeRefs(refsJSON string) []string {
	refs := []string{}
	if refsJSON != "" {
		_ = json.Unmarshal([]byte(refsJSON), &refs)
	}
	return refs
}
