package adapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/interfaces"
	"github.com/m-mizutani/comicforge/pkg/model"
	"google.golang.org/genai"
)

const (
	DefaultStoryModel  = "gemini-2.5-pro"
	DefaultImagenModel = "imagen-4.0-generate-001"
	DefaultFlashImage  = "gemini-2.5-flash-image"
	DefaultSpeechModel = "gemini-2.5-flash-preview-tts"
	DefaultChatModel   = "gemini-2.5-flash"
)

// Gemini is the raw content generation surface used by conversational features
type Gemini interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiClient struct {
	client      *genai.Client
	storyModel  string
	imagenModel string
	flashImage  string
	speechModel string
	chatModel   string
	defaultHint model.ModelHint
	maxRefBytes int
}

var (
	_ interfaces.GenerativeClient = (*GeminiClient)(nil)
	_ Gemini                      = (*GeminiClient)(nil)
)

type GeminiOption func(*GeminiClient)

func WithStoryModel(name string) GeminiOption {
	return func(g *GeminiClient) {
		g.storyModel = name
	}
}

func WithImagenModel(name string) GeminiOption {
	return func(g *GeminiClient) {
		g.imagenModel = name
	}
}

func WithFlashImageModel(name string) GeminiOption {
	return func(g *GeminiClient) {
		g.flashImage = name
	}
}

func WithSpeechModel(name string) GeminiOption {
	return func(g *GeminiClient) {
		g.speechModel = name
	}
}

func WithChatModel(name string) GeminiOption {
	return func(g *GeminiClient) {
		g.chatModel = name
	}
}

// WithDefaultImageHint picks the image model for panels whose story gave no preference
func WithDefaultImageHint(hint model.ModelHint) GeminiOption {
	return func(g *GeminiClient) {
		g.defaultHint = hint
	}
}

// NewGemini creates a client on Vertex AI
func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	return newGemini(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}, opts...)
}

// NewGeminiWithAPIKey creates a client on the Gemini Developer API
func NewGeminiWithAPIKey(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiClient, error) {
	return newGemini(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, opts...)
}

func newGemini(ctx context.Context, cfg *genai.ClientConfig, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:      client,
		storyModel:  DefaultStoryModel,
		imagenModel: DefaultImagenModel,
		flashImage:  DefaultFlashImage,
		speechModel: DefaultSpeechModel,
		chatModel:   DefaultChatModel,
		defaultHint: model.ModelHintImagen,
		maxRefBytes: maxReferenceImageBytes,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// GenerateContent runs the chat model. Used by character chat
func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.chatModel, contents, config)
	if err != nil {
		return nil, wrapAPIError(err, "failed to generate content", goerr.V("model", g.chatModel))
	}
	return resp, nil
}

// IsBusy reports whether err is the service rejecting a request for rate or quota reasons
func IsBusy(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED"
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code == http.StatusTooManyRequests || apiErrPtr.Status == "RESOURCE_EXHAUSTED"
	}
	return false
}

// wrapAPIError attaches ErrServiceBusy when the service reported rate limiting
func wrapAPIError(err error, msg string, opts ...goerr.Option) error {
	if IsBusy(err) {
		err = errors.Join(model.ErrServiceBusy, err)
	}
	return goerr.Wrap(err, msg, opts...)
}

// firstInlineData returns the first candidate part carrying inline data
func firstInlineData(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData
			}
		}
	}
	return nil
}

// responseText concatenates the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			text += part.Text
		}
	}
	return text
}
