package chat

import (
	"bytes"
	"context"
	_ "embed"
	"slices"
	"strings"
	"sync"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/adapter"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/m-mizutani/comicforge/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/persona.md
var personaPromptRaw string

var personaTemplate = template.Must(template.New("persona").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(personaPromptRaw))

type personaLine struct {
	Panel    model.PanelID
	Dialogue string
}

// Turn is one message of a transcript
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Session is a text conversation with one character of a comic
type Session struct {
	mu        sync.Mutex
	gemini    adapter.Gemini
	comicID   model.ComicID
	title     string
	character string
	persona   string
	contents  []*genai.Content
}

// NewInput contains parameters for creating a new chat session
type NewInput struct {
	Gemini    adapter.Gemini
	Comic     *model.Comic
	Character string
}

func New(ctx context.Context, input NewInput) (*Session, error) {
	if input.Gemini == nil {
		return nil, goerr.New("gemini client is required")
	}
	if input.Comic == nil {
		return nil, goerr.Wrap(model.ErrValidation, "comic is required")
	}

	character := strings.TrimSpace(input.Character)
	if character == "" {
		return nil, goerr.Wrap(model.ErrValidation, "character is required")
	}

	persona, err := buildPersona(input.Comic, character)
	if err != nil {
		return nil, err
	}

	logging.From(ctx).Debug("chat session created", "comic_id", input.Comic.ID, "character", character)

	return &Session{
		gemini:    input.Gemini,
		comicID:   input.Comic.ID,
		title:     input.Comic.Title,
		character: character,
		persona:   persona,
	}, nil
}

// Characters lists the speaking characters of a comic in order of first appearance
func Characters(c *model.Comic) []string {
	var names []string
	for _, p := range c.Panels {
		name := strings.TrimSpace(p.Character)
		if name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

func buildPersona(c *model.Comic, character string) (string, error) {
	var lines []personaLine
	for _, p := range c.Panels {
		if strings.EqualFold(strings.TrimSpace(p.Character), character) && p.Dialogue != "" {
			lines = append(lines, personaLine{Panel: p.ID, Dialogue: p.Dialogue})
		}
	}

	var cast []string
	for _, name := range Characters(c) {
		if !strings.EqualFold(name, character) {
			cast = append(cast, name)
		}
	}

	var buf bytes.Buffer
	err := personaTemplate.Execute(&buf, map[string]any{
		"Character": character,
		"Title":     c.Title,
		"Lines":     lines,
		"Cast":      cast,
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to build persona prompt", goerr.V("character", character))
	}
	return buf.String(), nil
}

func (s *Session) Character() string {
	return s.character
}

func (s *Session) ComicID() model.ComicID {
	return s.comicID
}

// Send posts a user message and returns the reply of the character. When the
// conversation exceeds the token limit, older turns are summarized and the request
// is sent once more.
func (s *Session) Send(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", goerr.Wrap(model.ErrValidation, "message is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	contents := append(slices.Clone(s.contents), genai.NewContentFromText(message, genai.RoleUser))

	resp, err := s.generate(ctx, contents)
	if isTokenLimitError(err) {
		logging.From(ctx).Info("chat history exceeds token limit, compressing", "turns", len(contents))
		compressed, cErr := compressHistory(ctx, s.gemini, recapScope{Character: s.character, Title: s.title}, contents)
		if cErr != nil {
			return "", goerr.Wrap(cErr, "failed to compress chat history")
		}
		contents = compressed
		resp, err = s.generate(ctx, contents)
	}
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate reply", goerr.V("character", s.character))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.New("no reply generated", goerr.V("character", s.character))
	}

	reply := resp.Candidates[0].Content
	text := contentText(reply)
	if text == "" {
		return "", goerr.New("empty reply generated", goerr.V("character", s.character))
	}

	if reply.Role == "" {
		reply.Role = genai.RoleModel
	}
	s.contents = append(contents, reply)
	return text, nil
}

func (s *Session) generate(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(s.persona, ""),
	}
	return s.gemini.GenerateContent(ctx, contents, config)
}

// Transcript returns the conversation so far as plain text turns
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := make([]Turn, 0, len(s.contents))
	for _, c := range s.contents {
		if text := contentText(c); text != "" {
			turns = append(turns, Turn{Role: c.Role, Text: text})
		}
	}
	return turns
}

func contentText(c *genai.Content) string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range c.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
