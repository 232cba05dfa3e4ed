// Package firestore implements the remote-synced backing store on top of
// Cloud Firestore, using the path scheme
// users/{userId}/sessions/{sessionId}/messages/{messageId} and
// users/{userId}/artifacts/{artifactId}.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pixelflare/pixelflare/internal/store"
	"github.com/pixelflare/pixelflare/pkg/models"
)

type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore-backed store for the given project.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) sessionsCol(userID string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(userID).Collection("sessions")
}

func (s *Store) sessionDoc(userID, sessionID string) *firestore.DocumentRef {
	return s.sessionsCol(userID).Doc(sessionID)
}

func (s *Store) messagesCol(userID, sessionID string) *firestore.CollectionRef {
	return s.sessionDoc(userID, sessionID).Collection("messages")
}

func (s *Store) artifactsCol(userID string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(userID).Collection("artifacts")
}

type sessionDoc struct {
	DisplayName string    `firestore:"display_name"`
	CreatedAt   time.Time `firestore:"created_at"`
}

type messageDoc struct {
	SessionID    string    `firestore:"session_id"`
	Role         string    `firestore:"role"`
	Kind         string    `firestore:"kind"`
	Body         string    `firestore:"body"`
	SourcePrompt string    `firestore:"source_prompt,omitempty"`
	StyleID      string    `firestore:"style_id,omitempty"`
	CreatedAt    time.Time `firestore:"created_at"`
}

type artifactDoc struct {
	Title        string    `firestore:"title"`
	ImageURL     string    `firestore:"image_url"`
	SourcePrompt string    `firestore:"source_prompt,omitempty"`
	StyleID      string    `firestore:"style_id,omitempty"`
	SavedAt      time.Time `firestore:"saved_at"`
}

func (s *Store) CreateSession(ctx context.Context, userID string, sess *models.Session) error {
	doc := sessionDoc{
		DisplayName: sess.DisplayName,
		CreatedAt:   sess.CreatedAt,
	}
	if _, err := s.sessionDoc(userID, sess.ID).Create(ctx, doc); err != nil {
		return fmt.Errorf("firestore CreateSession: %w", err)
	}
	return nil
}

func (s *Store) RenameSession(ctx context.Context, userID, sessionID, displayName string) error {
	doc := map[string]interface{}{
		"display_name": displayName,
	}
	_, err := s.sessionDoc(userID, sessionID).Set(ctx, doc, firestore.MergeAll)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return store.ErrSessionNotFound
		}
		return fmt.Errorf("firestore RenameSession: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if _, err := s.sessionDoc(userID, sessionID).Delete(ctx); err != nil {
		return fmt.Errorf("firestore DeleteSession: %w", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	iter := s.sessionsCol(userID).OrderBy("created_at", firestore.Desc).Documents(ctx)
	defer iter.Stop()
	return decodeSessions(iter)
}

func (s *Store) WatchSessions(ctx context.Context, userID string) (<-chan []*models.Session, error) {
	snaps := s.sessionsCol(userID).OrderBy("created_at", firestore.Desc).Snapshots(ctx)
	out := make(chan []*models.Session, 1)

	go func() {
		defer close(out)
		defer snaps.Stop()

		for {
			snap, err := snaps.Next()
			if err != nil {
				return
			}
			sessions, err := decodeSessions(snap.Documents)
			if err != nil {
				continue
			}
			select {
			case out <- sessions:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, userID string, msg *models.Message) error {
	doc := messageDoc{
		SessionID:    msg.SessionID,
		Role:         msg.Role.String(),
		Kind:         msg.Kind.String(),
		Body:         msg.Body,
		SourcePrompt: msg.SourcePrompt,
		StyleID:      msg.StyleID,
		CreatedAt:    msg.CreatedAt,
	}
	_, err := s.messagesCol(userID, msg.SessionID).Doc(msg.ID).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("firestore AppendMessage: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, userID, sessionID string) ([]*models.Message, error) {
	iter := s.messagesCol(userID, sessionID).OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()
	return decodeMessages(sessionID, iter)
}

func (s *Store) CountMessages(ctx context.Context, userID, sessionID string) (int, error) {
	messages, err := s.ListMessages(ctx, userID, sessionID)
	if err != nil {
		return 0, err
	}
	return len(messages), nil
}

// DeleteSessionMessages removes the message sub-collection document by
// document. Firestore does not cascade sub-collection deletes on its own.
func (s *Store) DeleteSessionMessages(ctx context.Context, userID, sessionID string) error {
	iter := s.messagesCol(userID, sessionID).Documents(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("firestore DeleteSessionMessages: %w", err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("firestore DeleteSessionMessages: %w", err)
		}
	}
	return nil
}

func (s *Store) WatchMessages(ctx context.Context, userID, sessionID string) (<-chan []*models.Message, error) {
	snaps := s.messagesCol(userID, sessionID).OrderBy("created_at", firestore.Asc).Snapshots(ctx)
	out := make(chan []*models.Message, 1)

	go func() {
		defer close(out)
		defer snaps.Stop()

		for {
			snap, err := snaps.Next()
			if err != nil {
				return
			}
			messages, err := decodeMessages(sessionID, snap.Documents)
			if err != nil {
				continue
			}
			select {
			case out <- messages:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (s *Store) CreateArtifact(ctx context.Context, userID string, artifact *models.Artifact) error {
	doc := artifactDoc{
		Title:        artifact.Title,
		ImageURL:     artifact.ImageURL,
		SourcePrompt: artifact.SourcePrompt,
		StyleID:      artifact.StyleID,
		SavedAt:      artifact.SavedAt,
	}
	_, err := s.artifactsCol(userID).Doc(artifact.ID).Create(ctx, doc)
	if err != nil {
		return fmt.Errorf("firestore CreateArtifact: %w", err)
	}
	return nil
}

func (s *Store) DeleteArtifact(ctx context.Context, userID, artifactID string) error {
	snap, err := s.artifactsCol(userID).Doc(artifactID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return store.ErrArtifactNotFound
		}
		return fmt.Errorf("firestore DeleteArtifact: %w", err)
	}
	if _, err := snap.Ref.Delete(ctx); err != nil {
		return fmt.Errorf("firestore DeleteArtifact: %w", err)
	}
	return nil
}

func (s *Store) ListArtifacts(ctx context.Context, userID string) ([]*models.Artifact, error) {
	iter := s.artifactsCol(userID).OrderBy("saved_at", firestore.Desc).Documents(ctx)
	defer iter.Stop()
	return decodeArtifacts(iter)
}

func (s *Store) WatchArtifacts(ctx context.Context, userID string) (<-chan []*models.Artifact, error) {
	snaps := s.artifactsCol(userID).OrderBy("saved_at", firestore.Desc).Snapshots(ctx)
	out := make(chan []*models.Artifact, 1)

	go func() {
		defer close(out)
		defer snaps.Stop()

		for {
			snap, err := snaps.Next()
			if err != nil {
				return
			}
			artifacts, err := decodeArtifacts(snap.Documents)
			if err != nil {
				continue
			}
			select {
			case out <- artifacts:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func decodeSessions(iter *firestore.DocumentIterator) ([]*models.Session, error) {
	var out []*models.Session
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore decodeSessions: %w", err)
		}

		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			continue
		}

		sess := &models.Session{
			ID:          snap.Ref.ID,
			DisplayName: doc.DisplayName,
			CreatedAt:   doc.CreatedAt,
		}
		if err := sess.Validate(); err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func decodeMessages(sessionID string, iter *firestore.DocumentIterator) ([]*models.Message, error) {
	var out []*models.Message
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore decodeMessages: %w", err)
		}

		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			continue
		}

		msg := &models.Message{
			ID:           snap.Ref.ID,
			SessionID:    sessionID,
			Role:         models.Role(doc.Role),
			Kind:         models.Kind(doc.Kind),
			Body:         doc.Body,
			SourcePrompt: doc.SourcePrompt,
			StyleID:      doc.StyleID,
			CreatedAt:    doc.CreatedAt,
		}
		// Fail closed: malformed documents are dropped, never coerced.
		if err := msg.Validate(); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func decodeArtifacts(iter *firestore.DocumentIterator) ([]*models.Artifact, error) {
	var out []*models.Artifact
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore decodeArtifacts: %w", err)
		}

		var doc artifactDoc
		if err := snap.DataTo(&doc); err != nil {
			continue
		}

		artifact := &models.Artifact{
			ID:           snap.Ref.ID,
			Title:        doc.Title,
			ImageURL:     doc.ImageURL,
			SourcePrompt: doc.SourcePrompt,
			StyleID:      doc.StyleID,
			SavedAt:      doc.SavedAt,
		}
		if err := artifact.Validate(); err != nil {
			continue
		}
		out = append(out, artifact)
	}
	return out, nil
}
