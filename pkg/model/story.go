package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ModelHint routes an image request to a backing image model
type ModelHint string

const (
	ModelHintNone       ModelHint = ""
	ModelHintNanoBanana ModelHint = "nano_banana"
	ModelHintImagen     ModelHint = "imagen_4"
)

// Validate checks if the model hint is known
func (h ModelHint) Validate() error {
	switch h {
	case ModelHintNone, ModelHintNanoBanana, ModelHintImagen:
		return nil
	default:
		return goerr.New("invalid model hint", goerr.V("hint", h))
	}
}

const (
	AspectRatioCover = "9:16"
	AspectRatioPanel = "1:1"
)

// Suggested preference values offered by the landing form
var (
	Moods = []string{
		"Gritty & Intense",
		"High-Octane Action",
		"Dramatic & Emotional",
		"Sleek & Stylish",
	}
	StoryTypes = []string{
		"Origin Story",
		"Rivalry",
		"Underdog Victory",
		"Heist",
	}
)

// Preferences are the user choices that steer story generation
type Preferences struct {
	Mood        string `yaml:"mood" json:"mood"`
	StoryType   string `yaml:"story_type" json:"story_type"`
	Description string `yaml:"description" json:"description"`
	ArtStyle    string `yaml:"art_style" json:"art_style"`
}

// Validate checks if the preferences can be sent to story generation
func (p *Preferences) Validate() error {
	if strings.TrimSpace(p.ArtStyle) == "" {
		return goerr.Wrap(ErrValidation, "art style is required")
	}
	return nil
}

// ReferenceImage is a user-supplied photo of a character
type ReferenceImage struct {
	Data     []byte
	MIMEType string
}

// Image is an encoded image returned by the generative client
type Image struct {
	Data     []byte
	MIMEType string
}

// Audio is encoded speech returned by the generative client
type Audio struct {
	Data     []byte
	MIMEType string
}

// Story is the structured output of story generation
type Story struct {
	Title       string       `json:"title"`
	CoverPrompt string       `json:"cover_page_prompt"`
	Panels      []StoryPanel `json:"panels"`
}

// StoryPanel describes one panel before its image exists
type StoryPanel struct {
	Ordinal       int       `json:"panel"`
	ImagePrompt   string    `json:"image_prompt"`
	Dialogue      string    `json:"dialogue"`
	CharacterName string    `json:"character_name"`
	LayoutHint    string    `json:"panel_layout_description"`
	VoiceHint     string    `json:"voice_suggestion"`
	ModelHint     ModelHint `json:"preferred_model"`
}

// Validate checks the story shape that panel generation relies on
func (s *Story) Validate() error {
	if len(s.Panels) == 0 {
		return goerr.New("story has no panels")
	}
	if strings.TrimSpace(s.CoverPrompt) == "" {
		return goerr.New("story has no cover prompt")
	}

	seen := make(map[int]struct{}, len(s.Panels))
	for _, p := range s.Panels {
		if p.Ordinal < 1 {
			return goerr.New("panel ordinal must be positive", goerr.V("ordinal", p.Ordinal))
		}
		if _, ok := seen[p.Ordinal]; ok {
			return goerr.New("duplicated panel ordinal", goerr.V("ordinal", p.Ordinal))
		}
		seen[p.Ordinal] = struct{}{}

		if err := p.ModelHint.Validate(); err != nil {
			return goerr.Wrap(err, "invalid panel", goerr.V("ordinal", p.Ordinal))
		}
	}
	return nil
}
