package adapter

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// storySchema is the structured output contract of story generation
var storySchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"title": {
			Type:        "string",
			Description: "A catchy title for the comic.",
		},
		"cover_page_prompt": {
			Type:        "string",
			Description: "A detailed image prompt for a portrait comic book cover showing the title and the protagonist.",
		},
		"panels": {
			Type:        "array",
			Description: "Panels in reading order.",
			Items: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"panel": {
						Type:        "integer",
						Description: "Panel number starting at 1.",
					},
					"image_prompt": {
						Type:        "string",
						Description: "Image prompt that starts with the protagonist description and follows the art style.",
					},
					"dialogue": {
						Type:        "string",
						Description: "Dialogue or narration shown in the panel.",
					},
					"character_name": {
						Type:        "string",
						Description: "Who speaks. Use Narrator for narration.",
					},
					"panel_layout_description": {
						Type:        "string",
						Description: "Camera angle and composition.",
					},
					"voice_suggestion": {
						Type:        "string",
						Description: "Vocal tone of the speaker for text-to-speech.",
					},
					"preferred_model": {
						Type:        "string",
						Description: "Image model preference.",
						Enum:        []any{"nano_banana", "imagen_4", ""},
					},
				},
				Required: []string{"panel", "image_prompt", "dialogue", "character_name", "panel_layout_description", "voice_suggestion"},
			},
		},
	},
	Required: []string{"title", "cover_page_prompt", "panels"},
}

// convertJSONSchemaToGenai converts JSON Schema to Gemini genai.Schema
func convertJSONSchemaToGenai(schema *jsonschema.Schema) (*genai.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	out := &genai.Schema{
		Description: schema.Description,
	}

	switch schema.Type {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	default:
		if schema.Type != "" {
			return nil, goerr.New("unsupported schema type", goerr.V("type", schema.Type))
		}
	}

	for _, v := range schema.Enum {
		if s, ok := v.(string); ok {
			out.Enum = append(out.Enum, s)
		}
	}

	if len(schema.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(schema.Properties))
		for name, prop := range schema.Properties {
			converted, err := convertJSONSchemaToGenai(prop)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert property schema", goerr.V("property", name))
			}
			out.Properties[name] = converted
		}
	}

	if len(schema.Required) > 0 {
		out.Required = append([]string(nil), schema.Required...)
	}

	if schema.Items != nil {
		converted, err := convertJSONSchemaToGenai(schema.Items)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert items schema")
		}
		out.Items = converted
	}

	return out, nil
}
