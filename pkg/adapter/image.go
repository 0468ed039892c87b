package adapter

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/model"
	"google.golang.org/genai"
)

const (
	maxReferenceImageBytes = 1 << 20
	referenceJPEGQuality   = 85
	imageMIMEType          = "image/png"
)

// prepareReferenceImage re-encodes oversized photos as JPEG. Undecodable data is sent as is
func prepareReferenceImage(img model.ReferenceImage, maxBytes int) (model.ReferenceImage, error) {
	if len(img.Data) == 0 {
		return img, goerr.New("reference image is empty")
	}
	if img.MIMEType == "" {
		img.MIMEType = http.DetectContentType(img.Data)
	}
	if !strings.HasPrefix(img.MIMEType, "image/") {
		return img, goerr.New("reference is not an image", goerr.V("mime_type", img.MIMEType))
	}
	if maxBytes <= 0 || len(img.Data) <= maxBytes {
		return img, nil
	}

	compressed, err := compressToJPEG(img.Data, referenceJPEGQuality)
	if err != nil || len(compressed) >= len(img.Data) {
		return img, nil
	}
	return model.ReferenceImage{Data: compressed, MIMEType: "image/jpeg"}, nil
}

func compressToJPEG(data []byte, quality int) ([]byte, error) {
	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode image")
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, decoded, &jpeg.Options{Quality: quality}); err != nil {
		return nil, goerr.Wrap(err, "failed to encode jpeg")
	}
	return buf.Bytes(), nil
}

// GenerateImage renders prompt with the model chosen by hint
func (g *GeminiClient) GenerateImage(ctx context.Context, prompt, aspectRatio string, hint model.ModelHint) (*model.Image, error) {
	if hint == model.ModelHintNone {
		hint = g.defaultHint
	}

	switch hint {
	case model.ModelHintNanoBanana:
		return g.generateWithFlashImage(ctx, prompt, aspectRatio)
	default:
		return g.generateWithImagen(ctx, prompt, aspectRatio)
	}
}

func (g *GeminiClient) generateWithImagen(ctx context.Context, prompt, aspectRatio string) (*model.Image, error) {
	resp, err := g.client.Models.GenerateImages(ctx, g.imagenModel, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    aspectRatio,
		OutputMIMEType: imageMIMEType,
	})
	if err != nil {
		return nil, wrapAPIError(err, "failed to generate image",
			goerr.V("model", g.imagenModel),
			goerr.V("aspect_ratio", aspectRatio))
	}

	if resp == nil || len(resp.GeneratedImages) == 0 ||
		resp.GeneratedImages[0].Image == nil ||
		len(resp.GeneratedImages[0].Image.ImageBytes) == 0 {
		reason := ""
		if resp != nil && len(resp.GeneratedImages) > 0 {
			reason = resp.GeneratedImages[0].RAIFilteredReason
		}
		return nil, goerr.New("image model returned no image",
			goerr.V("model", g.imagenModel),
			goerr.V("filtered_reason", reason))
	}

	out := resp.GeneratedImages[0].Image
	mimeType := out.MIMEType
	if mimeType == "" {
		mimeType = imageMIMEType
	}
	return &model.Image{Data: out.ImageBytes, MIMEType: mimeType}, nil
}

func (g *GeminiClient) generateWithFlashImage(ctx context.Context, prompt, aspectRatio string) (*model.Image, error) {
	text := prompt
	if aspectRatio != "" {
		text += "\n\nAspect ratio: " + aspectRatio
	}

	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	return g.generateImageContent(ctx, contents)
}

// EditImage applies instruction to base with the flash image model
func (g *GeminiClient) EditImage(ctx context.Context, base model.ReferenceImage, instruction string) (*model.Image, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, goerr.Wrap(model.ErrValidation, "edit instruction is required")
	}

	ref, err := prepareReferenceImage(base, g.maxRefBytes)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare base image")
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: ref.MIMEType, Data: ref.Data}},
			{Text: instruction},
		},
	}}
	return g.generateImageContent(ctx, contents)
}

func (g *GeminiClient) generateImageContent(ctx context.Context, contents []*genai.Content) (*model.Image, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.flashImage, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	})
	if err != nil {
		return nil, wrapAPIError(err, "failed to generate image", goerr.V("model", g.flashImage))
	}

	blob := firstInlineData(resp)
	if blob == nil {
		return nil, goerr.New("image model returned no image",
			goerr.V("model", g.flashImage),
			goerr.V("text", responseText(resp)))
	}

	mimeType := blob.MIMEType
	if mimeType == "" {
		mimeType = http.DetectContentType(blob.Data)
	}
	return &model.Image{Data: blob.Data, MIMEType: mimeType}, nil
}
