package models

import (
	"errors"
	"slices"
	"time"
)

var (
	ErrMissingID        = errors.New("record id is required")
	ErrMissingSessionID = errors.New("session id is required")
	ErrInvalidRole      = errors.New("invalid message role")
	ErrInvalidKind      = errors.New("invalid message kind")
	ErrEmptyBody        = errors.New("message body cannot be empty")
	ErrMissingImageURL  = errors.New("artifact image URL is required")
	ErrNotImageMessage  = errors.New("message is not an image")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func ValidRoles() []Role {
	return []Role{RoleUser, RoleAssistant}
}

func (r Role) IsValid() bool {
	return slices.Contains(ValidRoles(), r)
}

func (r Role) String() string {
	return string(r)
}

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

func ValidKinds() []Kind {
	return []Kind{KindText, KindImage}
}

func (k Kind) IsValid() bool {
	return slices.Contains(ValidKinds(), k)
}

func (k Kind) String() string {
	return string(k)
}

// Session is a single chat-style conversation thread. It is owned by one
// user and never shared.
type Session struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

func (s *Session) Validate() error {
	if s.ID == "" {
		return ErrMissingID
	}
	return nil
}

// Message is one turn in a Session: user-authored text or an assistant
// text/image response. Messages are append-only.
type Message struct {
	ID           string
	SessionID    string
	Role         Role
	Kind         Kind
	Body         string
	SourcePrompt string
	StyleID      string
	CreatedAt    time.Time
}

func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if m.SessionID == "" {
		return ErrMissingSessionID
	}
	if !m.Role.IsValid() {
		return ErrInvalidRole
	}
	if !m.Kind.IsValid() {
		return ErrInvalidKind
	}
	if m.Body == "" {
		return ErrEmptyBody
	}
	return nil
}

// IsImage reports whether the message carries a generated image URL.
func (m *Message) IsImage() bool {
	return m.Kind == KindImage
}

// Artifact is a saved image independent of any session. Immutable once
// saved, except for deletion.
type Artifact struct {
	ID           string
	Title        string
	ImageURL     string
	SourcePrompt string
	StyleID      string
	SavedAt      time.Time
}

func (a *Artifact) Validate() error {
	if a.ID == "" {
		return ErrMissingID
	}
	if a.ImageURL == "" {
		return ErrMissingImageURL
	}
	return nil
}

// User is the opaque identity yielded by the identity collaborator. Its ID
// partitions every store path.
type User struct {
	ID        string
	Email     string
	Anonymous bool
}
