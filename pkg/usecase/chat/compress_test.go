package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/comicforge/pkg/usecase/chat"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

// mockGemini is a mock implementation of adapter.Gemini for testing
type mockGemini struct {
	generateFunc func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if m.generateFunc != nil {
		return m.generateFunc(ctx, contents, config)
	}
	return nil, errors.New("not implemented")
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: text}}}},
		},
	}
}

var tokenLimitErr = genai.APIError{
	Code:    400,
	Status:  "INVALID_ARGUMENT",
	Message: "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576).",
}

func TestIsTokenLimitError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "actual Gemini token limit error",
			err:      tokenLimitErr,
			expected: true,
		},
		{
			name:     "pointer form",
			err:      &tokenLimitErr,
			expected: true,
		},
		{
			name: "400 INVALID_ARGUMENT but unrelated",
			err: genai.APIError{
				Code:    400,
				Status:  "INVALID_ARGUMENT",
				Message: "invalid parameter format",
			},
			expected: false,
		},
		{
			name: "429 resource exhausted",
			err: genai.APIError{
				Code:    429,
				Status:  "RESOURCE_EXHAUSTED",
				Message: "quota exceeded",
			},
			expected: false,
		},
		{
			name:     "other error type",
			err:      errors.New("network timeout"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.V(t, chat.IsTokenLimitError(tt.err)).Equal(tt.expected)
		})
	}
}

var kaiScope = chat.RecapScope{Character: "Kai", Title: "Midnight Run"}

func TestCompressHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("empty history", func(t *testing.T) {
		_, err := chat.CompressHistory(ctx, &mockGemini{}, kaiScope, []*genai.Content{})
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("history is empty")
	})

	t.Run("older turns become a recap", func(t *testing.T) {
		contents := []*genai.Content{
			genai.NewContentFromText("Hi, I'm Mina", genai.RoleUser),
			genai.NewContentFromText("Mina, huh. Nice wheels?", genai.RoleModel),
			genai.NewContentFromText("Who taught you to drive?", genai.RoleUser),
			genai.NewContentFromText("My old man, in the docks", genai.RoleModel),
			genai.NewContentFromText("Will you race Ren again?", genai.RoleUser),
			genai.NewContentFromText("Next full moon. Count on it", genai.RoleModel),
			genai.NewContentFromText("Can I watch the race?", genai.RoleUser),
		}
		initialCount := len(contents)

		var summarized int
		mock := &mockGemini{
			generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				summarized = len(contents)
				instruction := contents[len(contents)-1].Parts[0].Text
				gt.S(t, instruction).Contains("Kai")
				gt.S(t, instruction).Contains("Midnight Run")
				gt.S(t, instruction).Contains("reader's name")
				return textResponse("The reader is Mina. Kai promised a rematch with Ren."), nil
			},
		}

		compressed, err := chat.CompressHistory(ctx, mock, kaiScope, contents)
		gt.NoError(t, err)
		gt.True(t, len(compressed) < initialCount)

		gt.V(t, compressed[0].Role).Equal(genai.RoleUser)
		gt.A(t, compressed[0].Parts).Length(1)
		gt.S(t, compressed[0].Parts[0].Text).Contains("Recap of your earlier conversation")
		gt.S(t, compressed[0].Parts[0].Text).Contains("Mina")

		// the kept history opens with a reader turn and ends with the pending question
		gt.V(t, compressed[1].Role).Equal(genai.RoleUser)
		gt.V(t, compressed[len(compressed)-1].Parts[0].Text).Equal("Can I watch the race?")

		// condensed turns plus the recap instruction
		gt.V(t, summarized).Equal(initialCount - (len(compressed) - 1) + 1)

		gt.V(t, len(contents)).Equal(initialCount)
	})

	t.Run("compression failure - summary error", func(t *testing.T) {
		contents := []*genai.Content{
			genai.NewContentFromText("First message with enough content to make the byte size significant", genai.RoleUser),
			genai.NewContentFromText("Second message with enough content to make the byte size significant", genai.RoleModel),
			genai.NewContentFromText("Third message with enough content to make the byte size significant", genai.RoleUser),
			genai.NewContentFromText("Fourth message with enough content to make the byte size significant", genai.RoleModel),
			genai.NewContentFromText("Fifth message with enough content to make the byte size significant", genai.RoleUser),
		}

		mock := &mockGemini{
			generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return nil, errors.New("API error")
			},
		}

		_, err := chat.CompressHistory(ctx, mock, kaiScope, contents)
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("failed to summarize")
	})

	t.Run("no reader turn left to keep", func(t *testing.T) {
		contents := []*genai.Content{
			genai.NewContentFromText("Tell me a story", genai.RoleUser),
			genai.NewContentFromText("Once, on the docks", genai.RoleModel),
			genai.NewContentFromText("and then the engine roared", genai.RoleModel),
		}

		_, err := chat.CompressHistory(ctx, &mockGemini{}, kaiScope, contents)
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("insufficient content")
	})

	t.Run("insufficient content to compress", func(t *testing.T) {
		contents := []*genai.Content{
			genai.NewContentFromText("x", genai.RoleUser),
		}

		_, err := chat.CompressHistory(ctx, &mockGemini{}, kaiScope, contents)
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("insufficient content")
	})
}

func TestSummarizeContents(t *testing.T) {
	ctx := context.Background()

	t.Run("successful summarization", func(t *testing.T) {
		contents := []*genai.Content{
			genai.NewContentFromText("Who taught you to drive?", genai.RoleUser),
			genai.NewContentFromText("My old man, in the docks.", genai.RoleModel),
		}

		mock := &mockGemini{
			generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				gt.A(t, contents).Length(3)
				gt.V(t, config.SystemInstruction).NotNil()
				return textResponse("Kai learned to drive from their father."), nil
			},
		}

		summary, err := chat.SummarizeContents(ctx, mock, kaiScope, contents)
		gt.NoError(t, err)
		gt.S(t, summary).Contains("father")
		gt.A(t, contents).Length(2)
	})

	t.Run("untitled comic", func(t *testing.T) {
		mock := &mockGemini{
			generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				gt.S(t, contents[len(contents)-1].Parts[0].Text).NotContains("from the comic")
				return textResponse("recap"), nil
			},
		}

		_, err := chat.SummarizeContents(ctx, mock, chat.RecapScope{Character: "Kai"},
			[]*genai.Content{genai.NewContentFromText("Test", genai.RoleUser)})
		gt.NoError(t, err)
	})

	t.Run("API error", func(t *testing.T) {
		mock := &mockGemini{
			generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return nil, errors.New("network error")
			},
		}

		_, err := chat.SummarizeContents(ctx, mock, kaiScope, []*genai.Content{genai.NewContentFromText("Test", genai.RoleUser)})
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("failed to generate summary")
	})

	t.Run("empty response", func(t *testing.T) {
		mock := &mockGemini{
			generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{}}, nil
			},
		}

		_, err := chat.SummarizeContents(ctx, mock, kaiScope, []*genai.Content{genai.NewContentFromText("Test", genai.RoleUser)})
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("no summary generated")
	})
}
