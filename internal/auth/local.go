package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/pixelflare/pixelflare/pkg/models"
)

// Local is the anonymous identity provider used with the local backend: a
// device-scoped uuid persisted under the config directory. Credentials
// passed to SignUp/SignIn are ignored; both resolve to the persisted
// identity, mirroring anonymous sign-in.
type Local struct {
	*authState
	configDir string
}

type identityFile struct {
	ID string `json:"id"`
}

func NewLocal(configDir string) (*Local, error) {
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	return &Local{authState: newAuthState(), configDir: configDir}, nil
}

func (l *Local) path() string {
	return filepath.Join(l.configDir, "identity.json")
}

func (l *Local) SignUp(ctx context.Context, email, password string) (*models.User, error) {
	return l.SignIn(ctx, email, password)
}

func (l *Local) SignIn(_ context.Context, _, _ string) (*models.User, error) {
	id, err := l.loadOrCreate()
	if err != nil {
		return nil, err
	}

	user := &models.User{ID: id, Anonymous: true}
	l.setUser(user)
	return user, nil
}

func (l *Local) SignOut(context.Context) error {
	l.setUser(nil)
	return nil
}

func (l *Local) loadOrCreate() (string, error) {
	data, err := os.ReadFile(l.path())
	if err == nil {
		var ident identityFile
		if err := json.Unmarshal(data, &ident); err == nil && ident.ID != "" {
			return ident.ID, nil
		}
		// Corrupt identity file; fall through and reissue.
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read identity file: %w", err)
	}

	ident := identityFile{ID: uuid.New().String()}
	data, err = json.MarshalIndent(ident, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := os.WriteFile(l.path(), data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write identity file: %w", err)
	}
	return ident.ID, nil
}
