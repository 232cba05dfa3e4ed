package config

import (
	"errors"
	"testing"
)

func baseConfig() *Config {
	return &Config{
		Backend:             BackendLocal,
		DataDir:             "/tmp/pixelflare-test",
		SynthesisBaseURL:    defaultSynthesisBaseURL,
		SynthesisTimeoutSec: defaultTimeoutSec,
		ImageWidth:          defaultImageSize,
		ImageHeight:         defaultImageSize,
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PIXELFLARE_CONFIG_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend != BackendLocal {
		t.Errorf("Backend = %v, want %v", cfg.Backend, BackendLocal)
	}
	if cfg.SynthesisBaseURL != defaultSynthesisBaseURL {
		t.Errorf("SynthesisBaseURL = %v, want %v", cfg.SynthesisBaseURL, defaultSynthesisBaseURL)
	}
	if cfg.SynthesisTimeoutSec != defaultTimeoutSec {
		t.Errorf("SynthesisTimeoutSec = %v, want %v", cfg.SynthesisTimeoutSec, defaultTimeoutSec)
	}
	if cfg.ImageWidth != defaultImageSize || cfg.ImageHeight != defaultImageSize {
		t.Errorf("image size = %dx%d, want %dx%d", cfg.ImageWidth, cfg.ImageHeight, defaultImageSize, defaultImageSize)
	}
	if cfg.EnhanceEnabled() {
		t.Error("EnhanceEnabled() = true without API key")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PIXELFLARE_CONFIG_DIR", t.TempDir())
	t.Setenv("PIXELFLARE_BACKEND", BackendRemote)
	t.Setenv("PIXELFLARE_PROJECT_ID", "test-project")
	t.Setenv("PIXELFLARE_ENHANCE_API_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend != BackendRemote {
		t.Errorf("Backend = %v, want %v", cfg.Backend, BackendRemote)
	}
	if cfg.ProjectID != "test-project" {
		t.Errorf("ProjectID = %v, want test-project", cfg.ProjectID)
	}
	if !cfg.EnhanceEnabled() {
		t.Error("EnhanceEnabled() = false with API key set")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "valid local",
			mutate:  func(*Config) {},
			wantErr: nil,
		},
		{
			name: "valid remote",
			mutate: func(c *Config) {
				c.Backend = BackendRemote
				c.ProjectID = "proj"
			},
			wantErr: nil,
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backend = "redis" },
			wantErr: ErrInvalidBackend,
		},
		{
			name:    "remote without project",
			mutate:  func(c *Config) { c.Backend = BackendRemote },
			wantErr: ErrMissingProject,
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.SynthesisTimeoutSec = 0 },
			wantErr: ErrInvalidTimeout,
		},
		{
			name:    "zero width",
			mutate:  func(c *Config) { c.ImageWidth = 0 },
			wantErr: ErrInvalidImageSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
