package export

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pixelflare/pixelflare/internal/security"
	"github.com/pixelflare/pixelflare/pkg/models"
)

func testServer(t *testing.T, contentType string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testArtifact(url string) *models.Artifact {
	return &models.Artifact{
		ID:           "art-1",
		Title:        "Crimson Fox",
		ImageURL:     url,
		SourcePrompt: "a red fox in snow",
		StyleID:      "cinematic",
		SavedAt:      time.Now(),
	}
}

func TestExporter_Export(t *testing.T) {
	srv := testServer(t, "image/jpeg", []byte("jpeg-bytes"))
	e := New(security.URLPolicy{})

	outPath := filepath.Join(t.TempDir(), "fox.jpg")
	got, err := e.Export(context.Background(), testArtifact(srv.URL), outPath)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if got != outPath {
		t.Errorf("Export() path = %v, want %v", got, outPath)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("written data = %q, want response body", data)
	}
}

func TestExporter_Export_DerivedFilename(t *testing.T) {
	srv := testServer(t, "image/jpeg", []byte("jpeg-bytes"))
	e := New(security.URLPolicy{})
	e.now = func() time.Time {
		return time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	}

	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	got, err := e.Export(context.Background(), testArtifact(srv.URL), "")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	want := "Crimson Fox-20260314-150926.jpg"
	if got != want {
		t.Errorf("Export() path = %v, want %v", got, want)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, want)); err != nil {
		t.Errorf("derived file missing: %v", err)
	}
}

func TestExporter_Export_CreatesDirectories(t *testing.T) {
	srv := testServer(t, "image/png", []byte("png-bytes"))
	e := New(security.URLPolicy{})

	outPath := filepath.Join(t.TempDir(), "exports", "nested", "fox.png")
	if _, err := e.Export(context.Background(), testArtifact(srv.URL), outPath); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Errorf("nested file missing: %v", err)
	}
}

func TestExporter_Export_PolicyRejection(t *testing.T) {
	srv := testServer(t, "image/png", []byte("png-bytes"))
	e := New(security.DefaultURLPolicy())

	// The test server is plain http on loopback; the default policy
	// refuses it before any bytes move.
	_, err := e.Export(context.Background(), testArtifact(srv.URL), filepath.Join(t.TempDir(), "fox.png"))
	if err == nil {
		t.Fatal("Export() = nil error, want policy rejection")
	}
	if !strings.Contains(err.Error(), "refusing to download") {
		t.Errorf("Export() error = %v, want policy rejection", err)
	}
}

func TestExporter_Export_TraversalRejected(t *testing.T) {
	e := New(security.URLPolicy{})

	_, err := e.Export(context.Background(), testArtifact("https://image.pollinations.ai/x"), "../escape.png")
	if !errors.Is(err, security.ErrPathTraversal) {
		t.Errorf("Export() error = %v, want ErrPathTraversal", err)
	}
}

func TestExporter_Export_MissingURL(t *testing.T) {
	e := New(security.URLPolicy{})

	art := testArtifact("")
	if _, err := e.Export(context.Background(), art, "fox.png"); !errors.Is(err, models.ErrMissingImageURL) {
		t.Errorf("Export() error = %v, want ErrMissingImageURL", err)
	}
	if _, err := e.Export(context.Background(), nil, "fox.png"); !errors.Is(err, models.ErrMissingImageURL) {
		t.Errorf("Export(nil) error = %v, want ErrMissingImageURL", err)
	}
}

func TestExporter_Export_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	e := New(security.URLPolicy{})

	_, err := e.Export(context.Background(), testArtifact(srv.URL), filepath.Join(t.TempDir(), "fox.png"))
	if err == nil || !strings.Contains(err.Error(), "status: 500") {
		t.Errorf("Export() error = %v, want download status error", err)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"image/jpeg", ".jpg"},
		{"image/png", ".png"},
		{"image/webp", ".webp"},
		{"image/gif", ".gif"},
		{"", ".png"},
		{"application/octet-stream", ".png"},
	}
	for _, tt := range tests {
		if got := extensionFor(tt.contentType); got != tt.want {
			t.Errorf("extensionFor(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}
