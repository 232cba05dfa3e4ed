// Package config loads application configuration with multi-source priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables (PIXELFLARE_*)
//  2. Config file (~/.pixelflare/config.yaml)
//  3. Default values
//
// The loaded Config is an explicit object injected into the studio manager,
// the artifact library, and the store constructors. Nothing reads ambient
// globals at runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidBackend indicates an unknown store backend name.
	ErrInvalidBackend = errors.New("invalid store backend")

	// ErrMissingProject indicates the remote backend was selected without a project id.
	ErrMissingProject = errors.New("missing project id for remote backend")

	// ErrInvalidTimeout indicates a non-positive synthesis timeout.
	ErrInvalidTimeout = errors.New("invalid synthesis timeout")

	// ErrInvalidImageSize indicates a non-positive image dimension.
	ErrInvalidImageSize = errors.New("invalid image size")
)

// Store backend identifiers used in Config.Backend.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

const (
	defaultSynthesisBaseURL = "https://image.pollinations.ai"
	defaultEnhanceBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultEnhanceModel     = "gemini-1.5-flash"
	defaultAuthBaseURL      = "https://identitytoolkit.googleapis.com/v1"
	defaultTimeoutSec       = 120
	defaultImageSize        = 1024
)

// Config stores application configuration.
type Config struct {
	// Store backend selection: "local" (sqlite) or "remote" (Firestore).
	Backend   string `mapstructure:"backend"`
	DataDir   string `mapstructure:"data_dir"`
	ProjectID string `mapstructure:"project_id"`

	// Image synthesis endpoint.
	SynthesisBaseURL    string `mapstructure:"synthesis_base_url"`
	SynthesisTimeoutSec int    `mapstructure:"synthesis_timeout_sec"`
	ImageWidth          int    `mapstructure:"image_width"`
	ImageHeight         int    `mapstructure:"image_height"`

	// Prompt enhancement endpoint (optional; disabled without an API key).
	EnhanceAPIKey  string `mapstructure:"enhance_api_key"`
	EnhanceBaseURL string `mapstructure:"enhance_base_url"`
	EnhanceModel   string `mapstructure:"enhance_model"`

	// Identity provider (optional; anonymous identity without an API key).
	AuthAPIKey  string `mapstructure:"auth_api_key"`
	AuthBaseURL string `mapstructure:"auth_base_url"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	configDir, err := DefaultConfigDir()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)

	v.SetEnvPrefix("PIXELFLARE")
	v.AutomaticEnv()
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfigDir returns ~/.pixelflare, overridable for tests via
// PIXELFLARE_CONFIG_DIR.
func DefaultConfigDir() (string, error) {
	if dir := os.Getenv("PIXELFLARE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home directory: %w", err)
	}
	return filepath.Join(home, ".pixelflare"), nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("backend", BackendLocal)
	v.SetDefault("data_dir", configDir)
	v.SetDefault("synthesis_base_url", defaultSynthesisBaseURL)
	v.SetDefault("synthesis_timeout_sec", defaultTimeoutSec)
	v.SetDefault("image_width", defaultImageSize)
	v.SetDefault("image_height", defaultImageSize)
	v.SetDefault("enhance_base_url", defaultEnhanceBaseURL)
	v.SetDefault("enhance_model", defaultEnhanceModel)
	v.SetDefault("auth_base_url", defaultAuthBaseURL)
}

func bindEnvVariables(v *viper.Viper) {
	keys := []string{
		"backend",
		"data_dir",
		"project_id",
		"synthesis_base_url",
		"synthesis_timeout_sec",
		"image_width",
		"image_height",
		"enhance_api_key",
		"enhance_base_url",
		"enhance_model",
		"auth_api_key",
		"auth_base_url",
	}
	for _, key := range keys {
		v.BindEnv(key)
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal, BackendRemote:
	default:
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidBackend, c.Backend, BackendLocal, BackendRemote)
	}

	if c.Backend == BackendRemote && c.ProjectID == "" {
		return ErrMissingProject
	}

	if c.SynthesisTimeoutSec <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTimeout, c.SynthesisTimeoutSec)
	}

	if c.ImageWidth <= 0 || c.ImageHeight <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidImageSize, c.ImageWidth, c.ImageHeight)
	}

	return nil
}

// EnhanceEnabled reports whether the prompt enhancement endpoint is configured.
func (c *Config) EnhanceEnabled() bool {
	return c.EnhanceAPIKey != ""
}

// DatabasePath returns the sqlite database location for the local backend.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "studio.db")
}
