package models

import "testing"

func TestDefaultPresets(t *testing.T) {
	registry := DefaultPresets()

	presets := registry.List()
	if len(presets) != 9 {
		t.Errorf("List() returned %d presets, want 9", len(presets))
	}

	if presets[0].ID != "cinematic" {
		t.Errorf("List()[0].ID = %v, want cinematic", presets[0].ID)
	}

	for _, p := range presets {
		if p.Label == "" {
			t.Errorf("preset %q has empty label", p.ID)
		}
		if p.Suffix == "" {
			t.Errorf("preset %q has empty suffix", p.ID)
		}
	}
}

func TestPresetRegistry_Get(t *testing.T) {
	registry := DefaultPresets()

	p, ok := registry.Get("cinematic")
	if !ok {
		t.Fatal("Get(cinematic) not found")
	}
	if p.Label != "Cinematic" {
		t.Errorf("Get(cinematic).Label = %v, want Cinematic", p.Label)
	}

	if _, ok := registry.Get("watercolor"); ok {
		t.Error("Get(watercolor) found, want not found")
	}
}

func TestPresetRegistry_BuildPrompt(t *testing.T) {
	registry := DefaultPresets()

	tests := []struct {
		name    string
		prompt  string
		styleID string
		want    string
	}{
		{
			name:    "known style",
			prompt:  "a red fox in snow",
			styleID: "cinematic",
			want:    "a red fox in snow, cinematic film still, 8k, professional lighting, masterpiece, sharp focus",
		},
		{
			name:    "unknown style falls back to bare prompt",
			prompt:  "a red fox in snow",
			styleID: "watercolor",
			want:    "a red fox in snow",
		},
		{
			name:    "empty style id",
			prompt:  "a red fox in snow",
			styleID: "",
			want:    "a red fox in snow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := registry.BuildPrompt(tt.prompt, tt.styleID); got != tt.want {
				t.Errorf("BuildPrompt() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStylePreset_Apply(t *testing.T) {
	p := StylePreset{ID: "x", Label: "X", Suffix: "detailed"}
	if got := p.Apply("a cat"); got != "a cat, detailed" {
		t.Errorf("Apply() = %q, want %q", got, "a cat, detailed")
	}

	empty := StylePreset{ID: "y", Label: "Y"}
	if got := empty.Apply("a cat"); got != "a cat" {
		t.Errorf("Apply() with empty suffix = %q, want %q", got, "a cat")
	}
}
