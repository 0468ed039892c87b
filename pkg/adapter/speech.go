package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/model"
	"google.golang.org/genai"
)

const defaultVoice = "Kore"

// voiceKeywords is checked in order. The first keyword found in the hint wins
var voiceKeywords = []struct {
	keyword string
	voice   string
}{
	{"female", "Puck"},
	{"male", "Kore"},
	{"narrator", "Charon"},
	{"deep", "Fenrir"},
	{"energetic", "Zephyr"},
}

// VoiceName picks a prebuilt voice from a free-text description of a speaker
func VoiceName(hint string) string {
	lower := strings.ToLower(hint)
	for _, v := range voiceKeywords {
		if strings.Contains(lower, v.keyword) {
			return v.voice
		}
	}
	return defaultVoice
}

// GenerateSpeech reads text with a voice matching voiceHint. Output is raw PCM as returned by the model
func (g *GeminiClient) GenerateSpeech(ctx context.Context, text, voiceHint string) (*model.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, goerr.Wrap(model.ErrValidation, "speech text is required")
	}

	voice := VoiceName(voiceHint)
	prompt := fmt.Sprintf("Speak this line with appropriate emotion based on the text: %q", text)

	resp, err := g.client.Models.GenerateContent(ctx, g.speechModel,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
				},
			},
		})
	if err != nil {
		return nil, wrapAPIError(err, "failed to generate speech",
			goerr.V("model", g.speechModel),
			goerr.V("voice", voice))
	}

	blob := firstInlineData(resp)
	if blob == nil {
		return nil, goerr.New("speech model returned no audio", goerr.V("voice", voice))
	}
	return &model.Audio{Data: blob.Data, MIMEType: blob.MIMEType}, nil
}
