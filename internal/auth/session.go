package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pixelflare/pixelflare/pkg/models"
)

const sessionFileName = "session.json"

// SaveSession persists the signed-in user so later invocations resume it.
func SaveSession(configDir string, user *models.User) error {
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, sessionFileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// LoadSession returns the persisted user, or ErrNotSignedIn when no
// session file exists or it cannot be parsed.
func LoadSession(configDir string) (*models.User, error) {
	data, err := os.ReadFile(filepath.Join(configDir, sessionFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotSignedIn
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var user models.User
	if err := json.Unmarshal(data, &user); err != nil || user.ID == "" {
		return nil, ErrNotSignedIn
	}
	return &user, nil
}

// ClearSession removes the persisted session if present.
func ClearSession(configDir string) error {
	err := os.Remove(filepath.Join(configDir, sessionFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
