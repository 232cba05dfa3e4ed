package studio

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/pixelflare/pixelflare/internal/store/sqlite"
	"github.com/pixelflare/pixelflare/internal/synthesis"
	"github.com/pixelflare/pixelflare/pkg/models"
)

const testUser = "user-1"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

type fakeSynth struct {
	mu      sync.Mutex
	prompts []string
	result  func(prompt string) (*synthesis.Result, error)
	started chan struct{} // closed-once signal that a call began, optional
	release chan struct{} // blocks the call until closed, optional
}

func (f *fakeSynth) Generate(ctx context.Context, prompt string) (*synthesis.Result, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	started := f.started
	f.started = nil
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.result != nil {
		return f.result(prompt)
	}
	return &synthesis.Result{ImageURL: "https://img.example.com/" + prompt, Prompt: prompt, Seed: 7}, nil
}

func (f *fakeSynth) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type fakeEnhancer struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeEnhancer) Generate(ctx context.Context, userPrompt, systemInstruction string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeEnhancer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testManager(t *testing.T, synth Synthesizer, enhancer Enhancer) (*Manager, *sqlite.Store) {
	t.Helper()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mgr := NewManager(&Config{
		Store:    st,
		Synth:    synth,
		Enhancer: enhancer,
		Logger:   zap.NewNop(),
	})
	t.Cleanup(mgr.Close)
	return mgr, st
}

func mustCreateSession(t *testing.T, mgr *Manager) *models.Session {
	t.Helper()
	sess, err := mgr.CreateSession(context.Background(), testUser)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return sess
}

func TestManager_CreateSession(t *testing.T) {
	mgr, st := testManager(t, &fakeSynth{}, nil)
	ctx := context.Background()

	sess := mustCreateSession(t, mgr)
	if sess.ID == "" {
		t.Error("CreateSession() session ID is empty")
	}
	if sess.DisplayName != PlaceholderName {
		t.Errorf("DisplayName = %v, want %v", sess.DisplayName, PlaceholderName)
	}

	if active, ok := mgr.ActiveSession(); !ok || active != sess.ID {
		t.Errorf("ActiveSession() = %v, %v; want %v, true", active, ok, sess.ID)
	}

	sessions, err := st.ListSessions(ctx, testUser)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != sess.ID {
		t.Errorf("stored sessions = %d, want the created session", len(sessions))
	}
}

func TestManager_SendPrompt_AppendsUserThenImage(t *testing.T) {
	synth := &fakeSynth{}
	mgr, st := testManager(t, synth, nil)
	ctx := context.Background()
	sess := mustCreateSession(t, mgr)

	if err := mgr.SendPrompt(ctx, testUser, sess.ID, "a red fox in snow", "cinematic"); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}

	messages, err := st.ListMessages(ctx, testUser, sess.ID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}

	userMsg := messages[0]
	if userMsg.Role != models.RoleUser || userMsg.Kind != models.KindText {
		t.Errorf("first message = %s/%s, want user/text", userMsg.Role, userMsg.Kind)
	}
	if userMsg.Body != "a red fox in snow" {
		t.Errorf("user message body = %q, want original prompt", userMsg.Body)
	}

	assistantMsg := messages[1]
	if assistantMsg.Role != models.RoleAssistant || assistantMsg.Kind != models.KindImage {
		t.Errorf("second message = %s/%s, want assistant/image", assistantMsg.Role, assistantMsg.Kind)
	}
	if assistantMsg.SourcePrompt != "a red fox in snow" {
		t.Errorf("SourcePrompt = %q, want original prompt", assistantMsg.SourcePrompt)
	}
	if assistantMsg.StyleID != "cinematic" {
		t.Errorf("StyleID = %v, want cinematic", assistantMsg.StyleID)
	}

	wantPrompt := "a red fox in snow, cinematic film still, 8k, professional lighting, masterpiece, sharp focus"
	calls := synth.calls()
	if len(calls) != 1 || calls[0] != wantPrompt {
		t.Errorf("synthesis prompt = %q, want %q", calls, wantPrompt)
	}
}

func TestManager_SendPrompt_UnknownStyleFallsBack(t *testing.T) {
	synth := &fakeSynth{}
	mgr, _ := testManager(t, synth, nil)
	sess := mustCreateSession(t, mgr)

	if err := mgr.SendPrompt(context.Background(), testUser, sess.ID, "a cat", "watercolor"); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}

	calls := synth.calls()
	if len(calls) != 1 || calls[0] != "a cat" {
		t.Errorf("synthesis prompt = %q, want bare prompt for unknown style", calls)
	}
}

func TestManager_SendPrompt_UserMessageObservableBeforeSynthesis(t *testing.T) {
	var observedCount int
	var st *sqlite.Store
	var sessID string

	synth := &fakeSynth{}
	synth.result = func(string) (*synthesis.Result, error) {
		count, err := st.CountMessages(context.Background(), testUser, sessID)
		if err != nil {
			return nil, err
		}
		observedCount = count
		return &synthesis.Result{ImageURL: "https://img.example.com/x"}, nil
	}

	mgr, store := testManager(t, synth, nil)
	st = store
	sess := mustCreateSession(t, mgr)
	sessID = sess.ID

	if err := mgr.SendPrompt(context.Background(), testUser, sess.ID, "a cat", ""); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}
	if observedCount != 1 {
		t.Errorf("messages visible at synthesis time = %d, want 1 (optimistic user append)", observedCount)
	}
}

func TestManager_SendPrompt_FailureAppendsNotice(t *testing.T) {
	synth := &fakeSynth{result: func(string) (*synthesis.Result, error) {
		return nil, errors.New("status 500")
	}}
	mgr, st := testManager(t, synth, nil)
	ctx := context.Background()
	sess := mustCreateSession(t, mgr)

	if err := mgr.SendPrompt(ctx, testUser, sess.ID, "a cat", "cinematic"); err != nil {
		t.Fatalf("SendPrompt() error = %v, want nil (failures do not propagate)", err)
	}

	messages, err := st.ListMessages(ctx, testUser, sess.ID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}

	notice := messages[1]
	if notice.Kind != models.KindText {
		t.Errorf("failure response kind = %v, want text (never image)", notice.Kind)
	}
	if notice.Role != models.RoleAssistant {
		t.Errorf("failure response role = %v, want assistant", notice.Role)
	}
	if notice.Body != "Sorry, image generation failed. Please try again." {
		t.Errorf("failure notice = %q, want the fixed notice", notice.Body)
	}
}

func TestManager_SendPrompt_BlankPromptIsNoOp(t *testing.T) {
	synth := &fakeSynth{}
	mgr, st := testManager(t, synth, nil)
	ctx := context.Background()
	sess := mustCreateSession(t, mgr)

	for _, prompt := range []string{"", "   ", "\n\t"} {
		if err := mgr.SendPrompt(ctx, testUser, sess.ID, prompt, "cinematic"); err != nil {
			t.Fatalf("SendPrompt(%q) error = %v", prompt, err)
		}
	}

	count, err := st.CountMessages(ctx, testUser, sess.ID)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 0 {
		t.Errorf("CountMessages() = %d after blank prompts, want 0", count)
	}
	if len(synth.calls()) != 0 {
		t.Errorf("synthesis called %d times for blank prompts, want 0", len(synth.calls()))
	}
}

func TestManager_SendPrompt_SingleFlight(t *testing.T) {
	synth := &fakeSynth{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	started := synth.started
	mgr, st := testManager(t, synth, nil)
	ctx := context.Background()
	sess := mustCreateSession(t, mgr)

	done := make(chan error, 1)
	go func() {
		done <- mgr.SendPrompt(ctx, testUser, sess.ID, "first prompt", "cinematic")
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first send to reach synthesis")
	}

	// Second send while the first is in flight: silent no-op.
	if err := mgr.SendPrompt(ctx, testUser, sess.ID, "second prompt", "cinematic"); err != nil {
		t.Fatalf("second SendPrompt() error = %v", err)
	}

	close(synth.release)
	if err := <-done; err != nil {
		t.Fatalf("first SendPrompt() error = %v", err)
	}

	count, err := st.CountMessages(ctx, testUser, sess.ID)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 2 {
		t.Errorf("CountMessages() = %d, want 2 (second send dropped)", count)
	}
	if len(synth.calls()) != 1 {
		t.Errorf("synthesis called %d times, want 1", len(synth.calls()))
	}
}

func TestManager_SendPrompt_InFlightClearedAfterFailure(t *testing.T) {
	synth := &fakeSynth{result: func(string) (*synthesis.Result, error) {
		return nil, errors.New("status 500")
	}}
	mgr, st := testManager(t, synth, nil)
	ctx := context.Background()
	sess := mustCreateSession(t, mgr)

	if err := mgr.SendPrompt(ctx, testUser, sess.ID, "a cat", ""); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}

	// The flag must be clear; a follow-up send goes through.
	synth.result = nil
	if err := mgr.SendPrompt(ctx, testUser, sess.ID, "a dog", ""); err != nil {
		t.Fatalf("second SendPrompt() error = %v", err)
	}

	count, err := st.CountMessages(ctx, testUser, sess.ID)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 4 {
		t.Errorf("CountMessages() = %d, want 4", count)
	}
}

func TestManager_SendPrompt_BoundedTimeout(t *testing.T) {
	// A synthesis call that never resolves on its own must settle via the
	// send timeout rather than wedging the manager.
	synth := &fakeSynth{release: make(chan struct{})} // never released
	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mgr := NewManager(&Config{
		Store:       st,
		Synth:       synth,
		Logger:      zap.NewNop(),
		SendTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(mgr.Close)

	ctx := context.Background()
	sess, err := mgr.CreateSession(ctx, testUser)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := mgr.SendPrompt(ctx, testUser, sess.ID, "a cat", ""); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}

	messages, err := st.ListMessages(ctx, testUser, sess.ID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if messages[1].Body != "Sorry, image generation failed. Please try again." {
		t.Errorf("timeout response = %q, want failure notice", messages[1].Body)
	}

	if mgr.inFlight.Load() {
		t.Error("in-flight flag still set after timeout")
	}
}

func TestManager_SendPrompt_FirstExchangeDerivesTitle(t *testing.T) {
	enhancer := &fakeEnhancer{text: "Crimson Fox"}
	mgr, st := testManager(t, &fakeSynth{}, enhancer)
	ctx := context.Background()
	sess := mustCreateSession(t, mgr)

	if err := mgr.SendPrompt(ctx, testUser, sess.ID, "a red fox in snow", "cinematic"); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}
	mgr.background.Wait()

	sessions, err := st.ListSessions(ctx, testUser)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if sessions[0].DisplayName != "Crimson Fox" {
		t.Errorf("DisplayName = %q, want Crimson Fox", sessions[0].DisplayName)
	}

	// The second exchange must not re-title.
	if err := mgr.SendPrompt(ctx, testUser, sess.ID, "another fox", "cinematic"); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}
	mgr.background.Wait()
	if enhancer.callCount() != 1 {
		t.Errorf("enhancer called %d times, want 1", enhancer.callCount())
	}
}

func TestManager_SendPrompt_TitleFailureIsSilent(t *testing.T) {
	enhancer := &fakeEnhancer{err: errors.New("quota exceeded")}
	mgr, st := testManager(t, &fakeSynth{}, enhancer)
	ctx := context.Background()
	sess := mustCreateSession(t, mgr)

	if err := mgr.SendPrompt(ctx, testUser, sess.ID, "a cat", ""); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}
	mgr.background.Wait()

	sessions, err := st.ListSessions(ctx, testUser)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if sessions[0].DisplayName != PlaceholderName {
		t.Errorf("DisplayName = %q, want placeholder kept on title failure", sessions[0].DisplayName)
	}

	count, err := st.CountMessages(ctx, testUser, sess.ID)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 2 {
		t.Errorf("CountMessages() = %d, want 2 (send unaffected by title failure)", count)
	}
}

func TestManager_DeleteSession_CascadesMessages(t *testing.T) {
	mgr, st := testManager(t, &fakeSynth{}, nil)
	ctx := context.Background()
	sess := mustCreateSession(t, mgr)

	if err := mgr.SendPrompt(ctx, testUser, sess.ID, "a cat", ""); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}

	if err := mgr.DeleteSession(ctx, testUser, sess.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}

	sessions, err := st.ListSessions(ctx, testUser)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("ListSessions() returned %d sessions after delete, want 0", len(sessions))
	}

	count, err := st.CountMessages(ctx, testUser, sess.ID)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 0 {
		t.Errorf("CountMessages() = %d after delete, want 0 (explicit cascade)", count)
	}

	if _, ok := mgr.ActiveSession(); ok {
		t.Error("ActiveSession() still set after deleting the active session")
	}
}

func TestManager_ListSessions_ActivatesFirstSession(t *testing.T) {
	mgr, st := testManager(t, &fakeSynth{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := time.Now()
	for i, id := range []string{"sess-old", "sess-new"} {
		err := st.CreateSession(ctx, testUser, &models.Session{
			ID:          id,
			DisplayName: PlaceholderName,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("CreateSession(%s) error = %v", id, err)
		}
	}

	ch, err := mgr.ListSessions(ctx, testUser)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}

	select {
	case snap := <-ch:
		if len(snap) != 2 {
			t.Fatalf("snapshot has %d sessions, want 2", len(snap))
		}
		if snap[0].ID != "sess-new" {
			t.Errorf("snapshot[0].ID = %v, want sess-new (descending order)", snap[0].ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	if active, ok := mgr.ActiveSession(); !ok || active != "sess-new" {
		t.Errorf("ActiveSession() = %v, %v; want sess-new, true", active, ok)
	}
}

func TestManager_StreamMessages_PlaceholderForEmptySession(t *testing.T) {
	mgr, st := testManager(t, &fakeSynth{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess := mustCreateSession(t, mgr)

	ch, err := mgr.StreamMessages(ctx, testUser, sess.ID)
	if err != nil {
		t.Fatalf("StreamMessages() error = %v", err)
	}

	select {
	case snap := <-ch:
		if len(snap) != 1 {
			t.Fatalf("empty-session snapshot has %d messages, want 1 placeholder", len(snap))
		}
		if snap[0].Role != models.RoleAssistant || snap[0].Kind != models.KindText {
			t.Errorf("placeholder = %s/%s, want assistant/text", snap[0].Role, snap[0].Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for placeholder snapshot")
	}

	// The placeholder is display-only, never persisted.
	count, err := st.CountMessages(ctx, testUser, sess.ID)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 0 {
		t.Errorf("CountMessages() = %d, want 0 (placeholder not persisted)", count)
	}

	msg := &models.Message{
		ID:        "msg-1",
		SessionID: sess.ID,
		Role:      models.RoleUser,
		Kind:      models.KindText,
		Body:      "a cat",
		CreatedAt: time.Now(),
	}
	if err := st.AppendMessage(ctx, testUser, msg); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	select {
	case snap := <-ch:
		if len(snap) != 1 || snap[0].ID != "msg-1" {
			t.Errorf("snapshot after append = %+v, want just msg-1 (placeholder replaced)", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for real snapshot")
	}
}

func TestManager_RefinePrompt(t *testing.T) {
	enhancer := &fakeEnhancer{text: "a majestic red fox stalking through fresh powder snow, golden hour"}
	mgr, _ := testManager(t, &fakeSynth{}, enhancer)

	got := mgr.RefinePrompt(context.Background(), "fox in snow")
	if got != enhancer.text {
		t.Errorf("RefinePrompt() = %q, want refined text", got)
	}
}

func TestManager_RefinePrompt_FallsBackOnFailure(t *testing.T) {
	enhancer := &fakeEnhancer{err: errors.New("quota exceeded")}
	mgr, _ := testManager(t, &fakeSynth{}, enhancer)

	if got := mgr.RefinePrompt(context.Background(), "fox in snow"); got != "fox in snow" {
		t.Errorf("RefinePrompt() = %q, want original on failure", got)
	}

	// No enhancer configured at all.
	mgr2, _ := testManager(t, &fakeSynth{}, nil)
	if got := mgr2.RefinePrompt(context.Background(), "fox in snow"); got != "fox in snow" {
		t.Errorf("RefinePrompt() without enhancer = %q, want original", got)
	}
}
