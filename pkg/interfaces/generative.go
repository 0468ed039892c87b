package interfaces

import (
	"context"

	"github.com/m-mizutani/comicforge/pkg/model"
)

// GenerativeClient is the external content generation service
type GenerativeClient interface {
	// GenerateStory produces the title, cover prompt and panel descriptors
	GenerateStory(ctx context.Context, prefs model.Preferences, images []model.ReferenceImage) (*model.Story, error)

	// GenerateImage renders a prompt. hint selects the backing model and may be empty
	GenerateImage(ctx context.Context, prompt, aspectRatio string, hint model.ModelHint) (*model.Image, error)

	// GenerateSpeech reads text aloud with a voice chosen from voiceHint
	GenerateSpeech(ctx context.Context, text, voiceHint string) (*model.Audio, error)

	// EditImage applies an instruction to an existing image
	EditImage(ctx context.Context, base model.ReferenceImage, instruction string) (*model.Image, error)
}
