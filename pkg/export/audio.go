package export

import (
	"encoding/binary"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/model"
)

const defaultSampleRate = 24000

// pcmSampleRate reports whether mimeType is raw 16-bit PCM, e.g.
// "audio/L16;codec=pcm;rate=24000", and its sample rate
func pcmSampleRate(mimeType string) (int, bool) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, false
	}
	if !strings.EqualFold(mediaType, "audio/l16") && !strings.EqualFold(params["codec"], "pcm") && !strings.EqualFold(mediaType, "audio/pcm") {
		return 0, false
	}

	rate := defaultSampleRate
	if v, ok := params["rate"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rate = n
		}
	}
	return rate, true
}

// AudioExtension returns the file extension WriteAudio produces for a
func AudioExtension(a *model.Audio) string {
	if _, ok := pcmSampleRate(a.MIMEType); ok {
		return ".wav"
	}
	switch strings.ToLower(a.MIMEType) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".bin"
	}
}

// WriteAudio writes speech to w. Raw mono 16-bit PCM is wrapped in a WAV header so it
// can be played directly; other encodings are written as they are.
func WriteAudio(w io.Writer, a *model.Audio) error {
	rate, ok := pcmSampleRate(a.MIMEType)
	if !ok {
		if _, err := w.Write(a.Data); err != nil {
			return goerr.Wrap(err, "failed to write audio")
		}
		return nil
	}

	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8
	dataSize := uint32(len(a.Data))

	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(1), // PCM
		uint16(channels),
		uint32(rate),
		uint32(rate * blockAlign),
		uint16(blockAlign),
		uint16(bitsPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		dataSize,
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return goerr.Wrap(err, "failed to write wav header")
		}
	}
	if _, err := w.Write(a.Data); err != nil {
		return goerr.Wrap(err, "failed to write audio")
	}
	return nil
}
