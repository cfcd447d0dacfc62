package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/juicio/internal/config"
	"github.com/MrWong99/juicio/internal/observe"
	"github.com/MrWong99/juicio/internal/resilience"
	"github.com/MrWong99/juicio/pkg/provider/llm"
	"github.com/MrWong99/juicio/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/juicio/pkg/provider/llm/openai"
	"github.com/MrWong99/juicio/pkg/provider/stt"
	"github.com/MrWong99/juicio/pkg/provider/stt/deepgram"
	"github.com/MrWong99/juicio/pkg/provider/tts"
	"github.com/MrWong99/juicio/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/juicio/pkg/provider/tts/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// OpenAI and OpenAI-compatible endpoints use the native client.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other backend goes through any-llm-go: optional APIKey + optional
	// BaseURL. Local servers (ollama, llamacpp) only need the BaseURL.
	for _, name := range anyllm.Backends {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaitts.WithTimeout(d))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"llm", "tts", "stt"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// providerLabel names a provider entry in logs, metrics and breaker names.
func providerLabel(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + ":" + e.Model
}

// fallbackConfig returns the failover settings shared by all provider kinds.
func fallbackConfig(kind string, m *observe.Metrics, log *slog.Logger) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		},
		Kind:    kind,
		Metrics: m,
		Logger:  log,
	}
}

// buildLLM creates the model provider with its fallbacks.
func buildLLM(cfg *config.Config, reg *config.Registry, m *observe.Metrics, log *slog.Logger) (llm.Provider, error) {
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	log.Info("provider created", "kind", "llm", "name", providerLabel(cfg.Providers.LLM))

	group := resilience.NewLLMFallback(primary, providerLabel(cfg.Providers.LLM), fallbackConfig("llm", m, log))
	for _, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		group.AddFallback(providerLabel(entry), p)
		log.Info("fallback provider created", "kind", "llm", "name", providerLabel(entry))
	}
	return group, nil
}

// buildTTS creates the narration synthesiser with its fallbacks. It returns
// nil when narration is disabled or no provider is configured.
func buildTTS(cfg *config.Config, reg *config.Registry, m *observe.Metrics, log *slog.Logger) (tts.Provider, error) {
	if cfg.Narration.Disabled || cfg.Providers.TTS.Name == "" {
		return nil, nil
	}
	primary, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	log.Info("provider created", "kind", "tts", "name", providerLabel(cfg.Providers.TTS))

	group := resilience.NewTTSFallback(primary, providerLabel(cfg.Providers.TTS), fallbackConfig("tts", m, log))
	var errs []error
	for _, entry := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
		}
		if err := group.AddFallback(providerLabel(entry), p); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Info("fallback provider created", "kind", "tts", "name", providerLabel(entry))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return group, nil
}

// buildSTT creates the dictation recogniser with its fallbacks. It returns
// nil when dictation is disabled.
func buildSTT(cfg *config.Config, reg *config.Registry, m *observe.Metrics, log *slog.Logger) (stt.Provider, error) {
	if !cfg.Dictation.Enabled {
		return nil, nil
	}
	primary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	log.Info("provider created", "kind", "stt", "name", providerLabel(cfg.Providers.STT))

	group := resilience.NewSTTFallback(primary, providerLabel(cfg.Providers.STT), fallbackConfig("stt", m, log))
	for _, entry := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		group.AddFallback(providerLabel(entry), p)
		log.Info("fallback provider created", "kind", "stt", "name", providerLabel(entry))
	}
	return group, nil
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration option such as "30s". Invalid values yield 0.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
