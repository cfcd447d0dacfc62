// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or the
// OpenAI speech endpoint) and presents a uniform streaming interface. The
// primary entry point is SynthesizeStream, which accepts a channel of text
// fragments and returns a channel of raw PCM audio bytes as they become
// available.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/juicio/pkg/audio"
)

// ErrEmptyAudio is returned by [Synthesize] when the provider finished without
// producing any audio.
var ErrEmptyAudio = errors.New("tts: provider returned no audio")

// VoiceProfile describes the voice a speaker is narrated with.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is a BCP 47 language tag (e.g. "es-MX").
	Language string

	// Gender is a free-form hint ("male", "female") for providers that steer
	// delivery from a description rather than a fixed voice.
	Gender string

	// Pitch adjusts pitch (-10 to +10, 0 = default).
	Pitch float64

	// SpeakingRate adjusts speaking rate (0.5–2.0, 0 or 1.0 = default).
	SpeakingRate float64

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw PCM audio byte slices as they are
	// synthesised.
	//
	// The returned audio channel is closed by the implementation when all text
	// has been synthesised or when ctx is cancelled. The caller must drain the
	// audio channel to avoid blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started (including
	// an unknown voice). Errors encountered during synthesis are signalled by
	// closing the audio channel early.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// Format returns the PCM format of the audio emitted by SynthesizeStream.
	Format() audio.Format
}

// Synthesize renders text in one call and returns it as a clip. A stream
// that closes without audio yields [ErrEmptyAudio].
func Synthesize(ctx context.Context, p Provider, text string, voice VoiceProfile) (*audio.Clip, error) {
	in := make(chan string, 1)
	in <- text
	close(in)

	out, err := p.SynthesizeStream(ctx, in, voice)
	if err != nil {
		return nil, err
	}
	pcm, err := audio.Collect(ctx, out)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	return audio.NewClip(pcm, p.Format()), nil
}
