package models

// StylePreset is a named text suffix appended to prompts to bias the
// synthesis endpoint's output style. Presets are static configuration,
// never persisted per user.
type StylePreset struct {
	ID     string
	Label  string
	Suffix string
}

// Apply appends the preset suffix to a prompt.
func (p StylePreset) Apply(prompt string) string {
	if p.Suffix == "" {
		return prompt
	}
	return prompt + ", " + p.Suffix
}

// PresetRegistry resolves style preset ids, preserving definition order
// for display.
type PresetRegistry struct {
	presets map[string]StylePreset
	order   []string
}

func NewPresetRegistry(presets []StylePreset) *PresetRegistry {
	r := &PresetRegistry{presets: make(map[string]StylePreset, len(presets))}
	for _, p := range presets {
		if _, exists := r.presets[p.ID]; !exists {
			r.order = append(r.order, p.ID)
		}
		r.presets[p.ID] = p
	}
	return r
}

// DefaultPresets returns the built-in style presets.
func DefaultPresets() *PresetRegistry {
	return NewPresetRegistry([]StylePreset{
		{ID: "cinematic", Label: "Cinematic", Suffix: "cinematic film still, 8k, professional lighting, masterpiece, sharp focus"},
		{ID: "anime", Label: "Anime", Suffix: "high quality anime art style, studio ghibli aesthetic, vibrant, hand-drawn"},
		{ID: "pixel", Label: "Pixel Art", Suffix: "high quality pixel art, 8-bit, detailed sprites, retro aesthetic"},
		{ID: "realistic", Label: "Realistic", Suffix: "ultra-realistic portrait, highly detailed skin texture, 85mm lens, sharp"},
		{ID: "cyberpunk", Label: "Cyberpunk", Suffix: "cyberpunk aesthetic, neon city, synthwave colors, futuristic glow"},
		{ID: "3d-render", Label: "3D Render", Suffix: "unreal engine 5 render, octane render, 3d isometric, high fidelity"},
		{ID: "oil", Label: "Oil Painting", Suffix: "classical oil painting, visible brushstrokes, canvas texture, masterpiece"},
		{ID: "sketch", Label: "Sketch", Suffix: "charcoal sketch, hand-drawn on textured paper, artistic shading"},
		{ID: "vaporwave", Label: "Vaporwave", Suffix: "vaporwave aesthetic, 80s retro, pastel colors, glitch art"},
	})
}

func (r *PresetRegistry) Get(id string) (StylePreset, bool) {
	p, ok := r.presets[id]
	return p, ok
}

// List returns all presets in definition order.
func (r *PresetRegistry) List() []StylePreset {
	out := make([]StylePreset, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.presets[id])
	}
	return out
}

// BuildPrompt concatenates the prompt with the preset suffix for styleID.
// An unknown style id falls back to the bare prompt.
func (r *PresetRegistry) BuildPrompt(prompt, styleID string) string {
	p, ok := r.presets[styleID]
	if !ok {
		return prompt
	}
	return p.Apply(prompt)
}
