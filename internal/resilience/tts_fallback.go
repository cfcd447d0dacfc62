package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/juicio/pkg/audio"
	"github.com/MrWong99/juicio/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// speech-synthesis backends. Each backend has its own circuit breaker.
//
// All backends must emit the same PCM format so that clips from different
// providers play back identically.
type TTSFallback struct {
	group  *FallbackGroup[tts.Provider]
	format audio.Format
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{
		group:  NewFallbackGroup(primary, primaryName, cfg),
		format: primary.Format(),
	}
}

// AddFallback registers an additional TTS provider as a fallback. It fails if
// the provider's output format differs from the primary's.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) error {
	if got := provider.Format(); got != f.format {
		return fmt.Errorf("resilience: tts fallback %q emits %d Hz/%d ch, primary emits %d Hz/%d ch",
			name, got.SampleRate, got.Channels, f.format.SampleRate, f.format.Channels)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// SynthesizeStream consumes text fragments and returns a channel of audio bytes,
// trying the first healthy provider. The text is gathered before the first
// attempt so that every provider receives the full input. Only the initial
// stream setup is covered by failover; mid-stream errors are the caller's
// responsibility.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	var parts []string
collect:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case s, ok := <-text:
			if !ok {
				break collect
			}
			parts = append(parts, s)
		}
	}

	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (<-chan []byte, error) {
		in := make(chan string, len(parts))
		for _, s := range parts {
			in <- s
		}
		close(in)
		return p.SynthesizeStream(ctx, in, voice)
	})
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// Format returns the shared output format of every backend.
func (f *TTSFallback) Format() audio.Format { return f.format }
