package chat

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/adapter"
	"google.golang.org/genai"
)

const (
	compressionRatio = 0.7 // Compress first 70% by byte size
)

//go:embed prompt/summarize.md
var summarizePromptRaw string

var summarizeTemplate = template.Must(template.New("summarize").Parse(summarizePromptRaw))

// isTokenLimitError checks if the error is due to token limit exceeded
func isTokenLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptr *genai.APIError
		if !errors.As(err, &ptr) || ptr == nil {
			return false
		}
		apiErr = *ptr
	}

	// Example: "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576)."
	return apiErr.Code == 400 &&
		apiErr.Status == "INVALID_ARGUMENT" &&
		strings.HasPrefix(apiErr.Message, "The input token count (") &&
		strings.Contains(apiErr.Message, ") exceeds the maximum number of tokens allowed (")
}

// contentSize calculates the byte size of a content by JSON marshaling
func contentSize(content *genai.Content) int {
	data, err := json.Marshal(content)
	if err != nil {
		return 0
	}
	return len(data)
}

// recapScope names whose conversation is being condensed
type recapScope struct {
	Character string
	Title     string
}

// recapCut returns the index of the first turn kept after condensing. The oldest turns
// up to about 70% of the history by size are condensed, and the cut is moved forward to
// the next reader turn so the kept history opens with the reader speaking.
func recapCut(contents []*genai.Content) int {
	total := 0
	sizes := make([]int, len(contents))
	for i, content := range contents {
		sizes[i] = contentSize(content)
		total += sizes[i]
	}

	threshold := int(float64(total) * compressionRatio)
	cut, cumulative := 0, 0
	for i, size := range sizes {
		cumulative += size
		if cumulative >= threshold {
			cut = i + 1
			break
		}
	}

	for cut < len(contents) && contents[cut].Role != genai.RoleUser {
		cut++
	}
	return cut
}

// compressHistory replaces the oldest turns with a recap written for the character and
// returns the new history
func compressHistory(ctx context.Context, gemini adapter.Gemini, scope recapScope, contents []*genai.Content) ([]*genai.Content, error) {
	if len(contents) == 0 {
		return nil, goerr.New("history is empty")
	}

	cut := recapCut(contents)
	if cut == 0 || cut >= len(contents) {
		return nil, goerr.New("insufficient content to compress", goerr.V("turns", len(contents)))
	}

	recap, err := summarizeContents(ctx, gemini, scope, contents[:cut])
	if err != nil {
		return nil, goerr.Wrap(err, "failed to summarize contents", goerr.V("character", scope.Character))
	}

	recapContent := genai.NewContentFromText(
		"Recap of your earlier conversation with the reader, as "+scope.Character+":\n\n"+recap,
		genai.RoleUser)

	return append([]*genai.Content{recapContent}, contents[cut:]...), nil
}

// summarizeContents asks for a recap of contents from the character's point of view
func summarizeContents(ctx context.Context, gemini adapter.Gemini, scope recapScope, contents []*genai.Content) (string, error) {
	var prompt bytes.Buffer
	if err := summarizeTemplate.Execute(&prompt, scope); err != nil {
		return "", goerr.Wrap(err, "failed to build summarize prompt")
	}
	request := append(contents[:len(contents):len(contents)], genai.NewContentFromText(prompt.String(), genai.RoleUser))

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText("You keep continuity notes for comic characters chatting with readers.", ""),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}

	resp, err := gemini.GenerateContent(ctx, request, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate summary")
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.New("no summary generated")
	}

	recap := contentText(resp.Candidates[0].Content)
	if recap == "" {
		return "", goerr.New("empty summary generated")
	}

	return recap, nil
}
