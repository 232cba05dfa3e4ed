// Package sqlite implements the local-only backing store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/pixelflare/pixelflare/internal/store"
	"github.com/pixelflare/pixelflare/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    display_name TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    role TEXT NOT NULL,
    kind TEXT NOT NULL,
    body TEXT NOT NULL,
    source_prompt TEXT,
    style_id TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS artifacts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT,
    image_url TEXT NOT NULL,
    source_prompt TEXT,
    style_id TEXT,
    saved_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);
CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
CREATE INDEX IF NOT EXISTS idx_artifacts_user_id ON artifacts(user_id);
`

type Store struct {
	db       *sql.DB
	notifier *notifier
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Store{db: db, notifier: newNotifier()}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func sessionsTopic(userID string) string {
	return "sessions/" + userID
}

func messagesTopic(userID, sessionID string) string {
	return "messages/" + userID + "/" + sessionID
}

func artifactsTopic(userID string) string {
	return "artifacts/" + userID
}

func (s *Store) CreateSession(ctx context.Context, userID string, sess *models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, display_name, created_at) VALUES (?, ?, ?, ?)`,
		sess.ID, userID, sess.DisplayName, sess.CreatedAt)
	if err != nil {
		return err
	}
	s.notifier.notify(sessionsTopic(userID))
	return nil
}

func (s *Store) RenameSession(ctx context.Context, userID, sessionID, displayName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET display_name = ? WHERE id = ? AND user_id = ?`,
		displayName, sessionID, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrSessionNotFound
	}
	s.notifier.notify(sessionsTopic(userID))
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = ? AND user_id = ?`, sessionID, userID)
	if err != nil {
		return err
	}
	s.notifier.notify(sessionsTopic(userID), messagesTopic(userID, sessionID))
	return nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, created_at FROM sessions
		 WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess := &models.Session{}
		var name sql.NullString
		if err := rows.Scan(&sess.ID, &name, &sess.CreatedAt); err != nil {
			return nil, err
		}
		sess.DisplayName = name.String
		if err := sess.Validate(); err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) WatchSessions(ctx context.Context, userID string) (<-chan []*models.Session, error) {
	return watch(ctx, s.notifier, sessionsTopic(userID), func() ([]*models.Session, error) {
		return s.ListSessions(ctx, userID)
	})
}

func (s *Store) AppendMessage(ctx context.Context, userID string, msg *models.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, user_id, role, kind, body, source_prompt, style_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, userID, msg.Role.String(), msg.Kind.String(),
		msg.Body, nullString(msg.SourcePrompt), nullString(msg.StyleID), msg.CreatedAt)
	if err != nil {
		return err
	}
	s.notifier.notify(messagesTopic(userID, msg.SessionID))
	return nil
}

func (s *Store) ListMessages(ctx context.Context, userID, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, kind, body, source_prompt, style_id, created_at
		 FROM messages WHERE session_id = ? AND user_id = ? ORDER BY created_at ASC`,
		sessionID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var role, kind string
		var sourcePrompt, styleID sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &kind, &msg.Body,
			&sourcePrompt, &styleID, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Role = models.Role(role)
		msg.Kind = models.Kind(kind)
		msg.SourcePrompt = sourcePrompt.String
		msg.StyleID = styleID.String
		// Fail closed: malformed rows are dropped, never coerced.
		if err := msg.Validate(); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *Store) CountMessages(ctx context.Context, userID, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ? AND user_id = ?`,
		sessionID, userID).Scan(&count)
	return count, err
}

func (s *Store) DeleteSessionMessages(ctx context.Context, userID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ? AND user_id = ?`, sessionID, userID)
	if err != nil {
		return err
	}
	s.notifier.notify(messagesTopic(userID, sessionID))
	return nil
}

func (s *Store) WatchMessages(ctx context.Context, userID, sessionID string) (<-chan []*models.Message, error) {
	return watch(ctx, s.notifier, messagesTopic(userID, sessionID), func() ([]*models.Message, error) {
		return s.ListMessages(ctx, userID, sessionID)
	})
}

func (s *Store) CreateArtifact(ctx context.Context, userID string, artifact *models.Artifact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, user_id, title, image_url, source_prompt, style_id, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		artifact.ID, userID, artifact.Title, artifact.ImageURL,
		nullString(artifact.SourcePrompt), nullString(artifact.StyleID), artifact.SavedAt)
	if err != nil {
		return err
	}
	s.notifier.notify(artifactsTopic(userID))
	return nil
}

func (s *Store) DeleteArtifact(ctx context.Context, userID, artifactID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE id = ? AND user_id = ?`, artifactID, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrArtifactNotFound
	}
	s.notifier.notify(artifactsTopic(userID))
	return nil
}

func (s *Store) ListArtifacts(ctx context.Context, userID string) ([]*models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, image_url, source_prompt, style_id, saved_at
		 FROM artifacts WHERE user_id = ? ORDER BY saved_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*models.Artifact
	for rows.Next() {
		artifact := &models.Artifact{}
		var title, sourcePrompt, styleID sql.NullString
		if err := rows.Scan(&artifact.ID, &title, &artifact.ImageURL,
			&sourcePrompt, &styleID, &artifact.SavedAt); err != nil {
			return nil, err
		}
		artifact.Title = title.String
		artifact.SourcePrompt = sourcePrompt.String
		artifact.StyleID = styleID.String
		if err := artifact.Validate(); err != nil {
			continue
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

func (s *Store) WatchArtifacts(ctx context.Context, userID string) (<-chan []*models.Artifact, error) {
	return watch(ctx, s.notifier, artifactsTopic(userID), func() ([]*models.Artifact, error) {
		return s.ListArtifacts(ctx, userID)
	})
}

// watch delivers an initial snapshot, then a fresh snapshot after every
// change kick, until the context is cancelled.
func watch[T any](ctx context.Context, n *notifier, topic string, snapshot func() ([]T, error)) (<-chan []T, error) {
	if _, err := snapshot(); err != nil {
		return nil, err
	}

	sub := n.subscribe(topic)
	out := make(chan []T, 1)

	go func() {
		defer close(out)
		defer n.unsubscribe(topic, sub)

		for {
			snap, err := snapshot()
			if err == nil {
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-sub.kick:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
