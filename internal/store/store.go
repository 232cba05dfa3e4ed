// Package store defines the persistence contracts shared by the local
// (sqlite) and remote (Firestore) backing stores.
//
// Every Watch method delivers full snapshots of the watched collection, not
// deltas: consumers must treat each notification as replacing their prior
// local state. Snapshots arrive already sorted (sessions descending by
// CreatedAt, messages ascending by CreatedAt). Watch channels are closed
// when the context is cancelled.
package store

import (
	"context"
	"errors"

	"github.com/pixelflare/pixelflare/pkg/models"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrArtifactNotFound = errors.New("artifact not found")
)

// SessionStore persists chat sessions under users/{userId}/sessions/{sessionId}.
type SessionStore interface {
	CreateSession(ctx context.Context, userID string, sess *models.Session) error
	RenameSession(ctx context.Context, userID, sessionID, displayName string) error
	DeleteSession(ctx context.Context, userID, sessionID string) error
	ListSessions(ctx context.Context, userID string) ([]*models.Session, error)
	WatchSessions(ctx context.Context, userID string) (<-chan []*models.Session, error)
}

// MessageStore persists messages under
// users/{userId}/sessions/{sessionId}/messages/{messageId}. Messages are
// append-only; DeleteSessionMessages exists solely for the cascading delete
// issued when a session is removed.
type MessageStore interface {
	AppendMessage(ctx context.Context, userID string, msg *models.Message) error
	ListMessages(ctx context.Context, userID, sessionID string) ([]*models.Message, error)
	CountMessages(ctx context.Context, userID, sessionID string) (int, error)
	DeleteSessionMessages(ctx context.Context, userID, sessionID string) error
	WatchMessages(ctx context.Context, userID, sessionID string) (<-chan []*models.Message, error)
}

// ArtifactStore persists saved artifacts under users/{userId}/artifacts/{artifactId}.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, userID string, artifact *models.Artifact) error
	DeleteArtifact(ctx context.Context, userID, artifactID string) error
	ListArtifacts(ctx context.Context, userID string) ([]*models.Artifact, error)
	WatchArtifacts(ctx context.Context, userID string) (<-chan []*models.Artifact, error)
}

// Store is the full persistence surface consumed by the studio manager and
// the artifact library.
type Store interface {
	SessionStore
	MessageStore
	ArtifactStore
	Close() error
}
