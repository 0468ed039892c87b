package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/adapter"
	"github.com/m-mizutani/comicforge/pkg/model"
	"google.golang.org/genai"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9_-]+`)

func transcriptKey(comicID model.ComicID, character string) string {
	name := unsafeKeyChars.ReplaceAllString(strings.ToLower(character), "_")
	return "chats/" + string(comicID) + "/" + name + ".json"
}

// Save writes the conversation contents to storage
func (s *Session) Save(ctx context.Context, storage adapter.Storage) error {
	s.mu.Lock()
	data, err := json.Marshal(s.contents)
	s.mu.Unlock()
	if err != nil {
		return goerr.Wrap(err, "failed to marshal chat history")
	}

	key := transcriptKey(s.comicID, s.character)
	writer, err := storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to create storage writer", goerr.V("key", key))
	}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return goerr.Wrap(err, "failed to write chat history to storage", goerr.V("key", key))
	}

	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage writer", goerr.V("key", key))
	}

	return nil
}

// Restore loads a previously saved conversation. A missing conversation leaves the
// session empty and reports false.
func (s *Session) Restore(ctx context.Context, storage adapter.Storage) (bool, error) {
	key := transcriptKey(s.comicID, s.character)
	reader, err := storage.Get(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to get chat history from storage", goerr.V("key", key))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return false, goerr.Wrap(err, "failed to read chat history", goerr.V("key", key))
	}

	var contents []*genai.Content
	if err := json.Unmarshal(data, &contents); err != nil {
		return false, goerr.Wrap(err, "failed to unmarshal chat history", goerr.V("key", key))
	}

	s.mu.Lock()
	s.contents = contents
	s.mu.Unlock()
	return true, nil
}
