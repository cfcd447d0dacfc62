package resilience

import (
	"context"

	"github.com/MrWong99/juicio/pkg/provider/stt"
)

// DefaultSTTSampleRate is used when a stream is opened without a sample rate.
const DefaultSTTSampleRate = 16000

// STTFallback implements [stt.Provider] for dictation with failover across
// several recognition backends, each behind its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another recognition backend, tried after those
// already registered.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in failover order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// StartStream opens a dictation session on the first healthy backend. A zero
// sample rate or channel count is filled in with 16 kHz mono so that every
// backend sees the same audio format. A session served by a fallback is
// logged at WARN since recognition quality may differ for the rest of it.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSTTSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	primary := f.group.entries[0].name
	return executeNamed(ctx, f.group, func(name string, p stt.Provider) (stt.SessionHandle, error) {
		h, err := p.StartStream(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if name != primary {
			f.group.log.Warn("resilience: dictation served by fallback",
				"provider", name, "primary", primary, "language", cfg.Language)
		} else {
			f.group.log.Debug("resilience: dictation stream opened", "provider", name)
		}
		return h, nil
	})
}
