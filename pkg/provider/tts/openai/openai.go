// Package openai provides a TTS provider backed by the OpenAI speech endpoint.
//
// The endpoint is request/response rather than streaming, so SynthesizeStream
// issues one request per text fragment and forwards the PCM response body as
// it is read.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/juicio/pkg/audio"
	"github.com/MrWong99/juicio/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultModel = "gpt-4o-mini-tts"

	// readChunk is the size of the PCM slices forwarded to the caller.
	readChunk = 4800
)

// outputFormat is what the endpoint returns for response_format=pcm.
var outputFormat = audio.Format{SampleRate: 24000, Channels: 1}

// voices is the fixed catalogue offered by the speech endpoint.
var voices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer", "verse"}

// Provider implements tts.Provider using the OpenAI audio speech API.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI TTS Provider. An empty model selects
// gpt-4o-mini-tts.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("openai tts: voice.ID must not be empty")
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for {
			var fragment string
			select {
			case <-ctx.Done():
				go drainText(text)
				return
			case s, ok := <-text:
				if !ok {
					return
				}
				fragment = s
			}
			if strings.TrimSpace(fragment) == "" {
				continue
			}
			if err := p.speak(ctx, fragment, voice, out); err != nil {
				go drainText(text)
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) speak(ctx context.Context, input string, voice tts.VoiceProfile, out chan<- []byte) error {
	resp, err := p.client.Audio.Speech.New(ctx, p.buildParams(input, voice))
	if err != nil {
		return fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, readChunk)
	for {
		n, err := io.ReadFull(resp.Body, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai tts: read body: %w", err)
		}
	}
}

func (p *Provider) buildParams(input string, voice tts.VoiceProfile) oai.AudioSpeechNewParams {
	params := oai.AudioSpeechNewParams{
		Input:          input,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeakingRate > 0 && voice.SpeakingRate != 1 {
		params.Speed = param.NewOpt(max(0.25, min(4.0, voice.SpeakingRate)))
	}
	if instr := instructions(voice); instr != "" {
		params.Instructions = param.NewOpt(instr)
	}
	return params
}

// instructions turns the parts of a profile the endpoint cannot take as
// parameters into a delivery hint.
func instructions(voice tts.VoiceProfile) string {
	var parts []string
	if voice.Language != "" {
		parts = append(parts, "Speak in "+voice.Language+".")
	}
	switch {
	case voice.Pitch >= 3:
		parts = append(parts, "Use a high-pitched voice.")
	case voice.Pitch <= -3:
		parts = append(parts, "Use a deep voice.")
	}
	if voice.Gender != "" {
		parts = append(parts, "Sound "+voice.Gender+".")
	}
	return strings.Join(parts, " ")
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, 0, len(voices))
	for _, v := range voices {
		out = append(out, tts.VoiceProfile{ID: v, Name: v, Provider: "openai"})
	}
	return out, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format { return outputFormat }

func drainText(ch <-chan string) {
	for range ch {
	}
}
