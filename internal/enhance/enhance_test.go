package enhance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr error
	}{
		{
			name:    "valid config",
			cfg:     &Config{APIKey: "test-key"},
			wantErr: nil,
		},
		{
			name:    "empty API key",
			cfg:     &Config{},
			wantErr: ErrAPIKeyRequired,
		},
		{
			name:    "custom base URL and model",
			cfg:     &Config{APIKey: "test-key", BaseURL: "https://custom.api.com", Model: "gemini-2.0-flash"},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v, want nil", err)
			}
			if c == nil {
				t.Fatal("New() returned nil client")
			}
		})
	}
}

func TestClient_Generate(t *testing.T) {
	var gotReq apiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-1.5-flash:generateContent") {
			t.Errorf("request path = %v, want generateContent for gemini-1.5-flash", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("key param = %v, want test-key", r.URL.Query().Get("key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}

		json.NewEncoder(w).Encode(apiResponse{
			Candidates: []struct {
				Content apiContent `json:"content"`
			}{
				{Content: apiContent{Parts: []apiPart{{Text: "  Crimson Fox \n"}}}},
			},
		})
	}))
	defer server.Close()

	c, err := New(&Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := c.Generate(context.Background(), "a red fox in snow", "Generate a cool 2-word title for this session. No extra text.")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "Crimson Fox" {
		t.Errorf("Generate() = %q, want %q", got, "Crimson Fox")
	}

	if len(gotReq.Contents) != 1 || gotReq.Contents[0].Parts[0].Text != "a red fox in snow" {
		t.Errorf("request contents = %+v, want user prompt", gotReq.Contents)
	}
	if gotReq.SystemInstruction == nil || !strings.Contains(gotReq.SystemInstruction.Parts[0].Text, "2-word title") {
		t.Errorf("request systemInstruction = %+v, want title instruction", gotReq.SystemInstruction)
	}
}

func TestClient_Generate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(apiResponse{
			Error: &apiError{Code: 400, Message: "API key not valid"},
		})
	}))
	defer server.Close()

	c, _ := New(&Config{APIKey: "bad-key", BaseURL: server.URL})

	_, err := c.Generate(context.Background(), "a cat", "")
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("Generate() error = %v, want %v", err, ErrRequestFailed)
	}
	if !strings.Contains(err.Error(), "API key not valid") {
		t.Errorf("Generate() error = %v, want provider message included", err)
	}
}

func TestClient_Generate_EmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{})
	}))
	defer server.Close()

	c, _ := New(&Config{APIKey: "test-key", BaseURL: server.URL})

	_, err := c.Generate(context.Background(), "a cat", "")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Generate() error = %v, want %v", err, ErrEmptyResponse)
	}
}

func TestClient_Generate_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c, _ := New(&Config{APIKey: "test-key", BaseURL: server.URL})

	_, err := c.Generate(context.Background(), "a cat", "")
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("Generate() error = %v, want %v", err, ErrRequestFailed)
	}
}
