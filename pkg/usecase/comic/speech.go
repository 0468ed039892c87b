package comic

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/m-mizutani/comicforge/pkg/utils/logging"
	"github.com/patrickmn/go-cache"
)

const (
	defaultSpeechTTL     = 30 * time.Minute
	defaultSpeechCleanup = time.Hour
)

func speechCacheKey(text, voiceHint string) string {
	return voiceHint + "\x00" + text
}

// Speak reads the dialogue of a panel aloud. Audio is cached by text and voice
func (o *Orchestrator) Speak(ctx context.Context, id model.PanelID) (*model.Audio, error) {
	o.mu.Lock()
	p, err := o.editablePanelLocked(id)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	text, voice := p.Dialogue, p.VoiceHint
	o.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return nil, goerr.Wrap(model.ErrValidation, "panel has no dialogue", goerr.V("panel_id", id))
	}

	key := speechCacheKey(text, voice)
	if v, ok := o.speech.Get(key); ok {
		if audio, ok := v.(*model.Audio); ok {
			logging.From(ctx).Debug("speech cache hit", "panel_id", id)
			return audio, nil
		}
	}

	audio, err := o.client.GenerateSpeech(ctx, text, voice)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate speech", goerr.V("panel_id", id))
	}
	if audio == nil || len(audio.Data) == 0 {
		return nil, goerr.New("speech client returned no audio", goerr.V("panel_id", id))
	}

	o.speech.Set(key, audio, cache.DefaultExpiration)
	return audio, nil
}
