// Package studio owns the client-side view of the image generation studio:
// which sessions exist, which session is active, and the send-prompt
// workflow that turns user text into assistant image messages.
package studio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pixelflare/pixelflare/internal/store"
	"github.com/pixelflare/pixelflare/internal/synthesis"
	"github.com/pixelflare/pixelflare/pkg/models"
)

var ErrNoActiveSession = errors.New("no active session")

const (
	// PlaceholderName is the display name given to a session before its
	// first exchange derives a real title.
	PlaceholderName = "New Session..."

	// readyMessage is synthesized for display when a session has no
	// messages yet. It is never persisted.
	readyMessage = "Ready to create! 🎨"

	// failureNotice is the single user-visible message for every
	// synthesis-path failure.
	failureNotice = "Sorry, image generation failed. Please try again."

	titleInstruction  = "Generate a cool 2-word title for this session. No extra text."
	refineInstruction = "Rewrite the user short idea into a professional cinematic image prompt. 50 words max. Output ONLY prompt text."

	defaultSendTimeout = 120 * time.Second
)

// Synthesizer is the image synthesis endpoint surface the manager consumes.
type Synthesizer interface {
	Generate(ctx context.Context, prompt string) (*synthesis.Result, error)
}

// Enhancer is the optional text-generation endpoint used for session titles
// and prompt refinement.
type Enhancer interface {
	Generate(ctx context.Context, userPrompt, systemInstruction string) (string, error)
}

type Config struct {
	Store    store.Store
	Synth    Synthesizer
	Enhancer Enhancer // nil disables titles and refinement
	Presets  *models.PresetRegistry
	Logger   *zap.Logger

	// SendTimeout bounds the synthesis call inside SendPrompt. A send that
	// outlives it settles as a failure instead of holding the in-flight
	// flag forever.
	SendTimeout time.Duration
}

// Manager maintains the authoritative local view of sessions and messages,
// kept eventually consistent with the backing store through its snapshot
// subscriptions. At most one SendPrompt per Manager instance is outstanding
// at any time.
type Manager struct {
	store       store.Store
	synth       Synthesizer
	enhancer    Enhancer
	presets     *models.PresetRegistry
	log         *zap.Logger
	sendTimeout time.Duration

	inFlight atomic.Bool

	mu       sync.Mutex
	activeID string

	// background tracks best-effort title derivations so Close can drain
	// them.
	background sync.WaitGroup

	now   func() time.Time
	newID func() string
}

func NewManager(cfg *Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}

	presets := cfg.Presets
	if presets == nil {
		presets = models.DefaultPresets()
	}

	return &Manager{
		store:       cfg.Store,
		synth:       cfg.Synth,
		enhancer:    cfg.Enhancer,
		presets:     presets,
		log:         logger,
		sendTimeout: sendTimeout,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
}

// Close waits for outstanding background work.
func (m *Manager) Close() {
	m.background.Wait()
}

// ActiveSession returns the currently active session id.
func (m *Manager) ActiveSession() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID, m.activeID != ""
}

// SetActiveSession switches the active session.
func (m *Manager) SetActiveSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeID = sessionID
}

// CreateSession writes a new session with a placeholder display name and
// makes it active.
func (m *Manager) CreateSession(ctx context.Context, userID string) (*models.Session, error) {
	sess := &models.Session{
		ID:          m.newID(),
		DisplayName: PlaceholderName,
		CreatedAt:   m.now(),
	}

	if err := m.store.CreateSession(ctx, userID, sess); err != nil {
		return nil, err
	}

	m.SetActiveSession(sess.ID)
	return sess, nil
}

// DeleteSession removes the session and, explicitly, its message
// sub-collection. The store is not trusted to cascade on its own.
func (m *Manager) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if err := m.store.DeleteSessionMessages(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := m.store.DeleteSession(ctx, userID, sessionID); err != nil {
		return err
	}

	m.mu.Lock()
	if m.activeID == sessionID {
		m.activeID = ""
	}
	m.mu.Unlock()
	return nil
}

// RenameSession sets the session's display name.
func (m *Manager) RenameSession(ctx context.Context, userID, sessionID, displayName string) error {
	return m.store.RenameSession(ctx, userID, sessionID, displayName)
}

// Sessions returns a one-shot snapshot of the user's sessions, newest
// first.
func (m *Manager) Sessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return m.store.ListSessions(ctx, userID)
}

// Messages returns a one-shot snapshot of a session transcript, oldest
// first.
func (m *Manager) Messages(ctx context.Context, userID, sessionID string) ([]*models.Message, error) {
	return m.store.ListMessages(ctx, userID, sessionID)
}

// Presets returns the style registry the manager builds prompts with.
func (m *Manager) Presets() *models.PresetRegistry {
	return m.presets
}

// ListSessions subscribes to the user's session collection. Each receive is
// a full snapshot sorted descending by CreatedAt. When no session is active
// yet, the first session of a non-empty snapshot becomes active.
func (m *Manager) ListSessions(ctx context.Context, userID string) (<-chan []*models.Session, error) {
	in, err := m.store.WatchSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make(chan []*models.Session, 1)
	go func() {
		defer close(out)
		for snap := range in {
			if len(snap) > 0 {
				m.mu.Lock()
				if m.activeID == "" {
					m.activeID = snap[0].ID
				}
				m.mu.Unlock()
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// StreamMessages subscribes to a session's messages. Each receive is a full
// snapshot sorted ascending by CreatedAt. An empty snapshot is replaced by
// a single display-only placeholder; the placeholder is never persisted.
func (m *Manager) StreamMessages(ctx context.Context, userID, sessionID string) (<-chan []*models.Message, error) {
	in, err := m.store.WatchMessages(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	out := make(chan []*models.Message, 1)
	go func() {
		defer close(out)
		for snap := range in {
			if len(snap) == 0 {
				snap = []*models.Message{{
					ID:        "ready",
					SessionID: sessionID,
					Role:      models.RoleAssistant,
					Kind:      models.KindText,
					Body:      readyMessage,
					CreatedAt: m.now(),
				}}
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SendPrompt runs the core workflow: append the user message, derive a
// session title on the first exchange, call the synthesis endpoint with the
// styled prompt, and append the assistant response. Blank prompts and sends
// issued while another is in flight are silently dropped. Synthesis-path
// failures never propagate; they become a fixed assistant notice.
func (m *Manager) SendPrompt(ctx context.Context, userID, sessionID, promptText, styleID string) error {
	prompt := strings.TrimSpace(promptText)
	if prompt == "" {
		return nil
	}

	// Single flight per manager instance.
	if !m.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer m.inFlight.Store(false)

	count, err := m.store.CountMessages(ctx, userID, sessionID)
	if err != nil {
		m.log.Warn("counting messages failed", zap.String("session_id", sessionID), zap.Error(err))
		count = -1 // unknown; skip title derivation
	}

	userMsg := &models.Message{
		ID:        m.newID(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Kind:      models.KindText,
		Body:      prompt,
		CreatedAt: m.now(),
	}
	if err := m.store.AppendMessage(ctx, userID, userMsg); err != nil {
		return err
	}

	if count == 0 {
		m.deriveTitle(ctx, userID, sessionID, prompt)
	}

	fullPrompt := m.presets.BuildPrompt(prompt, styleID)

	synthCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	result, err := m.synth.Generate(synthCtx, fullPrompt)

	response := &models.Message{
		ID:        m.newID(),
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		CreatedAt: m.now(),
	}
	if err != nil {
		m.log.Warn("image generation failed",
			zap.String("session_id", sessionID),
			zap.String("style_id", styleID),
			zap.Error(err))
		response.Kind = models.KindText
		response.Body = failureNotice
	} else {
		response.Kind = models.KindImage
		response.Body = result.ImageURL
		response.SourcePrompt = prompt
		response.StyleID = styleID
	}

	return m.store.AppendMessage(ctx, userID, response)
}

// deriveTitle asks the enhancement endpoint for a short session title.
// Best effort: failures are logged and otherwise ignored, and the send
// workflow never waits on it.
func (m *Manager) deriveTitle(ctx context.Context, userID, sessionID, prompt string) {
	if m.enhancer == nil {
		return
	}

	m.background.Add(1)
	go func() {
		defer m.background.Done()

		titleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.sendTimeout)
		defer cancel()

		title, err := m.enhancer.Generate(titleCtx, prompt, titleInstruction)
		if err != nil {
			m.log.Debug("title derivation failed", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		if err := m.store.RenameSession(titleCtx, userID, sessionID, title); err != nil {
			m.log.Debug("session rename failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}

// RefinePrompt rewrites a short idea into a fuller image prompt via the
// enhancement endpoint. Failures fall back to the original text.
func (m *Manager) RefinePrompt(ctx context.Context, promptText string) string {
	prompt := strings.TrimSpace(promptText)
	if prompt == "" || m.enhancer == nil {
		return promptText
	}

	refined, err := m.enhancer.Generate(ctx, prompt, refineInstruction)
	if err != nil {
		m.log.Debug("prompt refinement failed", zap.Error(err))
		return promptText
	}
	return refined
}
