// Package library manages the saved-artifact collection: promoting
// generated image messages into durable artifacts and filtering them
// for display.
package library

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pixelflare/pixelflare/internal/store"
	"github.com/pixelflare/pixelflare/pkg/models"
)

// titleLimit caps how many runes of the source prompt become the
// artifact title.
const titleLimit = 48

// Library saves and lists artifacts for a user. Saving the same
// message twice produces two independent artifacts; each save mints a
// fresh identifier.
type Library struct {
	artifacts store.ArtifactStore
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

func New(artifacts store.ArtifactStore, logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Library{
		artifacts: artifacts,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// Save promotes an image message into an artifact. Only image messages
// can be saved; anything else returns models.ErrNotImageMessage.
func (l *Library) Save(ctx context.Context, userID string, msg *models.Message) (*models.Artifact, error) {
	if msg == nil || !msg.IsImage() {
		return nil, models.ErrNotImageMessage
	}

	art := &models.Artifact{
		ID:           l.newID(),
		Title:        deriveTitle(msg.SourcePrompt),
		ImageURL:     msg.Body,
		SourcePrompt: msg.SourcePrompt,
		StyleID:      msg.StyleID,
		SavedAt:      l.now(),
	}
	if err := l.artifacts.CreateArtifact(ctx, userID, art); err != nil {
		return nil, fmt.Errorf("saving artifact: %w", err)
	}

	l.logger.Debug("artifact saved",
		zap.String("artifact_id", art.ID),
		zap.String("style_id", art.StyleID),
	)
	return art, nil
}

func (l *Library) Delete(ctx context.Context, userID, artifactID string) error {
	return l.artifacts.DeleteArtifact(ctx, userID, artifactID)
}

// List returns the user's artifacts, newest first.
func (l *Library) List(ctx context.Context, userID string) ([]*models.Artifact, error) {
	return l.artifacts.ListArtifacts(ctx, userID)
}

// Watch streams artifact snapshots until ctx is cancelled.
func (l *Library) Watch(ctx context.Context, userID string) (<-chan []*models.Artifact, error) {
	return l.artifacts.WatchArtifacts(ctx, userID)
}

// deriveTitle shortens a prompt into a display title. Prompts longer
// than the limit are cut at a rune boundary with a trailing ellipsis.
func deriveTitle(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "Untitled"
	}
	runes := []rune(prompt)
	if len(runes) <= titleLimit {
		return prompt
	}
	return strings.TrimSpace(string(runes[:titleLimit])) + "…"
}

// Search filters artifacts by a free-text query and an optional style
// filter. The query matches case-insensitively against titles and
// source prompts; a non-empty styleFilter keeps only artifacts with
// that exact style. Input order is preserved and the input slice is
// never mutated.
func Search(artifacts []*models.Artifact, query, styleFilter string) []*models.Artifact {
	query = strings.ToLower(strings.TrimSpace(query))

	out := make([]*models.Artifact, 0, len(artifacts))
	for _, art := range artifacts {
		if styleFilter != "" && art.StyleID != styleFilter {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(art.Title), query) &&
			!strings.Contains(strings.ToLower(art.SourcePrompt), query) {
			continue
		}
		out = append(out, art)
	}
	return out
}
