// Package auth abstracts the identity collaborator. The opaque user id it
// yields partitions every store path.
package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/pixelflare/pixelflare/pkg/models"
)

var (
	ErrAuthFailed   = errors.New("authentication failed")
	ErrNotSignedIn  = errors.New("not signed in")
	ErrMissingEmail = errors.New("email is required")
)

// Authenticator is the identity surface consumed by the CLI: credential
// sign-up/sign-in, sign-out, and change notifications.
type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (*models.User, error)
	SignIn(ctx context.Context, email, password string) (*models.User, error)
	SignOut(ctx context.Context) error
	Current() (*models.User, bool)
	OnAuthChange(fn func(*models.User)) (unsubscribe func())
}

// authState tracks the current user and fans out change notifications.
// Shared by both Authenticator implementations.
type authState struct {
	mu      sync.Mutex
	current *models.User
	subs    map[int]func(*models.User)
	nextID  int
}

func newAuthState() *authState {
	return &authState{subs: make(map[int]func(*models.User))}
}

func (s *authState) Current() (*models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, false
	}
	u := *s.current
	return &u, true
}

func (s *authState) OnAuthChange(fn func(*models.User)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	current := s.current
	s.mu.Unlock()

	// New subscribers observe the current state immediately, matching the
	// provider SDK's onAuthChange behavior.
	fn(current)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *authState) setUser(u *models.User) {
	s.mu.Lock()
	s.current = u
	subs := make([]func(*models.User), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(u)
	}
}
