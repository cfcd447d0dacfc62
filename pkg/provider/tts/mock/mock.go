// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio to the narration queue and to verify
// which voice and text each synthesis request carried. Unless Chunks is set,
// the emitted "audio" is the received text itself, which lets tests tell
// clips apart after playback.
//
// Example:
//
//	p := &mock.Provider{VoiceErrs: map[string]error{"es-MX-primary": errBoom}}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/juicio/pkg/audio"
	"github.com/MrWong99/juicio/pkg/provider/tts"
)

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of SynthesizeStream.
type SynthesizeCall struct {
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice tts.VoiceProfile
	// Text is the concatenated text read from the input channel. It is only
	// complete once the returned audio channel has been closed.
	Text string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Chunks, if non-nil, is emitted instead of echoing the text.
	Chunks [][]byte

	// Err, if non-nil, is returned by every SynthesizeStream call.
	Err error

	// VoiceErrs maps voice IDs to start errors.
	VoiceErrs map[string]error

	// EmptyVoices lists voice IDs whose streams close without audio.
	EmptyVoices map[string]bool

	// Delay is slept before audio is emitted.
	Delay time.Duration

	// Gate, if non-nil, must yield a value before each stream emits audio.
	Gate chan struct{}

	// AudioFormat is returned by Format. Zero means 16 kHz mono.
	AudioFormat audio.Format

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// --- Internal state ---

	calls []SynthesizeCall
}

// SynthesizeStream records the call and returns an audio channel according to
// the configured behaviour.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	idx := len(p.calls)
	p.calls = append(p.calls, SynthesizeCall{Voice: voice})
	if err := p.Err; err != nil {
		p.mu.Unlock()
		go drainText(text)
		return nil, err
	}
	if err := p.VoiceErrs[voice.ID]; err != nil {
		p.mu.Unlock()
		go drainText(text)
		return nil, err
	}
	var chunks [][]byte
	if p.Chunks != nil {
		chunks = make([][]byte, len(p.Chunks))
		copy(chunks, p.Chunks)
	}
	empty, delay, gate := p.EmptyVoices[voice.ID], p.Delay, p.Gate
	p.mu.Unlock()

	out := make(chan []byte, 16)
	go func() {
		defer close(out)

		var sb strings.Builder
		for {
			select {
			case <-ctx.Done():
				go drainText(text)
				return
			case s, ok := <-text:
				if ok {
					sb.WriteString(s)
					continue
				}
			}
			break
		}
		p.mu.Lock()
		p.calls[idx].Text = sb.String()
		p.mu.Unlock()

		if gate != nil {
			select {
			case <-ctx.Done():
				return
			case <-gate:
			}
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if empty {
			return
		}
		if chunks == nil {
			chunks = [][]byte{[]byte(sb.String())}
		}
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case out <- c:
			}
		}
	}()
	return out, nil
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// Format returns AudioFormat, defaulting to 16 kHz mono.
func (p *Provider) Format() audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AudioFormat.SampleRate == 0 {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return p.AudioFormat
}

// Calls returns a copy of all recorded SynthesizeStream calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of SynthesizeStream calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

func drainText(ch <-chan string) {
	for range ch {
	}
}
