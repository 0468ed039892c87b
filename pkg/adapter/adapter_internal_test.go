package adapter

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"strings"
	"testing"

	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

func TestConvertStorySchema(t *testing.T) {
	schema, err := convertJSONSchemaToGenai(storySchema)
	gt.NoError(t, err)
	gt.Equal(t, schema.Type, genai.TypeObject)
	gt.Map(t, schema.Properties).HasKey("title")
	gt.Map(t, schema.Properties).HasKey("cover_page_prompt")
	gt.Map(t, schema.Properties).HasKey("panels")

	panels := schema.Properties["panels"]
	gt.Equal(t, panels.Type, genai.TypeArray)
	gt.V(t, panels.Items).NotNil()
	gt.Equal(t, panels.Items.Properties["panel"].Type, genai.TypeInteger)
	gt.A(t, panels.Items.Properties["preferred_model"].Enum).Length(3)
	gt.A(t, schema.Required).Length(3)
}

func TestBuildStoryPrompt(t *testing.T) {
	prompt, err := buildStoryPrompt(model.Preferences{
		Mood:      "Gritty & Intense",
		StoryType: "Rivalry",
		ArtStyle:  "Neo-noir ink",
	})
	gt.NoError(t, err)
	gt.S(t, prompt).Contains("Gritty & Intense")
	gt.S(t, prompt).Contains("Neo-noir ink")
	gt.S(t, prompt).Contains("15-panel")
	gt.S(t, prompt).Contains("A classic tale")
	gt.S(t, prompt).Contains("9:16")
}

func TestParseStory(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		story, err := parseStory("```json\n" + `{
			"title": "Midnight Run",
			"cover_page_prompt": "cover",
			"panels": [
				{"panel": 2, "image_prompt": "b", "dialogue": "go", "character_name": "Kai", "panel_layout_description": "wide", "voice_suggestion": "energetic"},
				{"panel": 1, "image_prompt": "a", "dialogue": "ready", "character_name": "Narrator", "panel_layout_description": "close", "voice_suggestion": "narrator", "preferred_model": "nano_banana"}
			]
		}` + "\n```")
		gt.NoError(t, err)
		gt.Equal(t, story.Title, "Midnight Run")
		gt.A(t, story.Panels).Length(2)
		gt.Equal(t, story.Panels[1].ModelHint, model.ModelHintNanoBanana)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := parseStory("not json")
		gt.Error(t, err)
	})

	t.Run("no panels", func(t *testing.T) {
		_, err := parseStory(`{"title": "x", "cover_page_prompt": "c", "panels": []}`)
		gt.Error(t, err)
	})

	t.Run("duplicate ordinals", func(t *testing.T) {
		_, err := parseStory(`{"title": "x", "cover_page_prompt": "c", "panels": [{"panel": 1}, {"panel": 1}]}`)
		gt.Error(t, err)
	})
}

func noisyPNG(t *testing.T, size int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	r := rand.New(rand.NewSource(1))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	gt.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPrepareReferenceImage(t *testing.T) {
	t.Run("small image is unchanged", func(t *testing.T) {
		data := noisyPNG(t, 8)
		out, err := prepareReferenceImage(model.ReferenceImage{Data: data}, maxReferenceImageBytes)
		gt.NoError(t, err)
		gt.Equal(t, out.MIMEType, "image/png")
		gt.Equal(t, len(out.Data), len(data))
	})

	t.Run("large image is re-encoded", func(t *testing.T) {
		data := noisyPNG(t, 128)
		out, err := prepareReferenceImage(model.ReferenceImage{Data: data, MIMEType: "image/png"}, 1024)
		gt.NoError(t, err)
		gt.Equal(t, out.MIMEType, "image/jpeg")
		gt.True(t, len(out.Data) < len(data))
	})

	t.Run("undecodable large image is sent as is", func(t *testing.T) {
		data := []byte("\x89PNG\r\n\x1a\n" + strings.Repeat("x", 2048))
		out, err := prepareReferenceImage(model.ReferenceImage{Data: data, MIMEType: "image/png"}, 1024)
		gt.NoError(t, err)
		gt.Equal(t, len(out.Data), len(data))
	})

	t.Run("empty", func(t *testing.T) {
		_, err := prepareReferenceImage(model.ReferenceImage{}, maxReferenceImageBytes)
		gt.Error(t, err)
	})

	t.Run("not an image", func(t *testing.T) {
		_, err := prepareReferenceImage(model.ReferenceImage{Data: []byte("hello world")}, maxReferenceImageBytes)
		gt.Error(t, err)
	})
}
