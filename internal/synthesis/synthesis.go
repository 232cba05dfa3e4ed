// Package synthesis is the client for the public text-to-image endpoint.
// The endpoint is stateless: an encoded prompt plus seed and size parameters
// map to a directly-embeddable image URL. Failure is signaled only by a
// non-2xx status or a transport error.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var (
	ErrEmptyPrompt      = errors.New("prompt cannot be empty")
	ErrGenerationFailed = errors.New("image generation failed")
)

const (
	defaultBaseURL = "https://image.pollinations.ai"
	defaultTimeout = 120 * time.Second
	defaultSize    = 1024

	maxSeed = 1_000_000
)

type Config struct {
	BaseURL    string
	TimeoutSec int
	Width      int
	Height     int
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	width      int
	height     int
	seed       func() int
}

// Result describes one synthesized image.
type Result struct {
	// ImageURL is directly embeddable; fetching it again is idempotent for
	// a fixed prompt and seed.
	ImageURL string
	Prompt   string
	Seed     int
}

func New(cfg *Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	width := cfg.Width
	if width <= 0 {
		width = defaultSize
	}
	height := cfg.Height
	if height <= 0 {
		height = defaultSize
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		width:  width,
		height: height,
		seed:   func() int { return rand.IntN(maxSeed) },
	}
}

// Generate requests an image for the prompt with a freshly drawn seed and
// returns its embeddable URL.
func (c *Client) Generate(ctx context.Context, prompt string) (*Result, error) {
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	seed := c.seed()
	imageURL := c.buildURL(prompt, seed)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	// The body is the raw image; drain it so the connection can be reused.
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrGenerationFailed, resp.StatusCode)
	}

	return &Result{
		ImageURL: imageURL,
		Prompt:   prompt,
		Seed:     seed,
	}, nil
}

func (c *Client) buildURL(prompt string, seed int) string {
	q := url.Values{}
	q.Set("seed", strconv.Itoa(seed))
	q.Set("width", strconv.Itoa(c.width))
	q.Set("height", strconv.Itoa(c.height))
	q.Set("nologo", "true")
	q.Set("enhance", "true")
	return c.baseURL + "/prompt/" + url.PathEscape(prompt) + "?" + q.Encode()
}
