package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pixelflare/pixelflare/pkg/models"
)

var ErrAPIKeyRequired = errors.New("API key is required")

const (
	defaultBaseURL = "https://identitytoolkit.googleapis.com/v1"
	defaultTimeout = 30 * time.Second
)

// Firebase authenticates against the Identity Toolkit REST API used by the
// remote backend. Provider error messages are surfaced verbatim.
type Firebase struct {
	*authState
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type FirebaseConfig struct {
	APIKey     string
	BaseURL    string
	TimeoutSec int
}

type credentialsRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type credentialsResponse struct {
	LocalID string `json:"localId"`
	Email   string `json:"email"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewFirebase(cfg *FirebaseConfig) (*Firebase, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyRequired
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	return &Firebase{
		authState: newAuthState(),
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (f *Firebase) SignUp(ctx context.Context, email, password string) (*models.User, error) {
	return f.call(ctx, "accounts:signUp", email, password)
}

func (f *Firebase) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	return f.call(ctx, "accounts:signInWithPassword", email, password)
}

func (f *Firebase) SignOut(context.Context) error {
	f.setUser(nil)
	return nil
}

func (f *Firebase) call(ctx context.Context, endpoint, email, password string) (*models.User, error) {
	if email == "" {
		return nil, ErrMissingEmail
	}

	jsonData, err := json.Marshal(credentialsRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s?key=%s", f.baseURL, endpoint, f.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var credResp credentialsResponse
	if err := json.Unmarshal(body, &credResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if credResp.Error != nil && credResp.Error.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrAuthFailed, credResp.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}

	user := &models.User{ID: credResp.LocalID, Email: credResp.Email}
	f.setUser(user)
	return user, nil
}
