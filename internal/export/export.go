// Package export downloads saved artifacts to local image files.
package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pixelflare/pixelflare/internal/security"
	"github.com/pixelflare/pixelflare/pkg/models"
)

const downloadTimeout = 60 * time.Second

type Exporter struct {
	httpClient *http.Client
	policy     security.URLPolicy

	now func() time.Time
}

func New(policy security.URLPolicy) *Exporter {
	return &Exporter{
		httpClient: &http.Client{
			Timeout: downloadTimeout,
		},
		policy: policy,
		now:    time.Now,
	}
}

// Export fetches the artifact's image and writes it to path. An empty
// path derives a file name from the artifact title and the response
// content type. The written path is returned.
func (e *Exporter) Export(ctx context.Context, art *models.Artifact, path string) (string, error) {
	if art == nil || art.ImageURL == "" {
		return "", models.ErrMissingImageURL
	}
	// Relative paths may come from scripted input; absolute paths are an
	// explicit user choice.
	if path != "" && !filepath.IsAbs(path) {
		if err := security.ValidateSavePath(path); err != nil {
			return "", fmt.Errorf("invalid output path: %w", err)
		}
	}

	if err := e.policy.Validate(art.ImageURL); err != nil {
		return "", fmt.Errorf("refusing to download %q: %w", art.ImageURL, err)
	}

	data, contentType, err := e.download(ctx, art.ImageURL)
	if err != nil {
		return "", fmt.Errorf("failed to download image: %w", err)
	}

	if path == "" {
		path = e.defaultFilename(art.Title, contentType)
	}

	if err := ensureDir(path); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}

func (e *Exporter) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (e *Exporter) defaultFilename(title, contentType string) string {
	timestamp := e.now().Format("20060102-150405")
	return fmt.Sprintf("%s-%s%s",
		security.SanitizeFilename(title), timestamp, extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
