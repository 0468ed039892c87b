package adapter

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/model"
	"google.golang.org/genai"
)

// StoryPanelCount is the number of panels requested from story generation
const StoryPanelCount = 15

//go:embed prompt/story.md
var storyPromptRaw string

var storyPromptTmpl = template.Must(template.New("story").Parse(storyPromptRaw))

func buildStoryPrompt(prefs model.Preferences) (string, error) {
	var buf bytes.Buffer
	if err := storyPromptTmpl.Execute(&buf, map[string]any{
		"PanelCount":       StoryPanelCount,
		"Mood":             prefs.Mood,
		"StoryType":        prefs.StoryType,
		"ArtStyle":         prefs.ArtStyle,
		"Description":      strings.TrimSpace(prefs.Description),
		"CoverAspectRatio": model.AspectRatioCover,
		"PanelAspectRatio": model.AspectRatioPanel,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute story prompt template")
	}
	return buf.String(), nil
}

// GenerateStory asks the story model for a structured comic script
func (g *GeminiClient) GenerateStory(ctx context.Context, prefs model.Preferences, images []model.ReferenceImage) (*model.Story, error) {
	prompt, err := buildStoryPrompt(prefs)
	if err != nil {
		return nil, err
	}

	schema, err := convertJSONSchemaToGenai(storySchema)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build story schema")
	}

	parts := make([]*genai.Part, 0, len(images)+1)
	for i, img := range images {
		ref, err := prepareReferenceImage(img, g.maxRefBytes)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to prepare reference image", goerr.V("index", i))
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: ref.MIMEType, Data: ref.Data}})
	}
	parts = append(parts, &genai.Part{Text: prompt})

	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.storyModel, contents, config)
	if err != nil {
		return nil, wrapAPIError(err, "failed to generate story", goerr.V("model", g.storyModel))
	}

	return parseStory(responseText(resp))
}

func parseStory(text string) (*model.Story, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var story model.Story
	if err := json.Unmarshal([]byte(text), &story); err != nil {
		return nil, goerr.Wrap(err, "story response is not valid JSON", goerr.V("response", text))
	}
	if err := story.Validate(); err != nil {
		return nil, goerr.Wrap(err, "story response is incomplete")
	}
	return &story, nil
}
