package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/juicio/internal/court"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp"},
	"tts": {"openai", "elevenlabs"},
	"stt": {"deepgram"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	errs = append(errs, validateFallbacks("llm", cfg.Providers.LLM, cfg.Providers.LLMFallbacks)...)
	errs = append(errs, validateFallbacks("tts", cfg.Providers.TTS, cfg.Providers.TTSFallbacks)...)
	errs = append(errs, validateFallbacks("stt", cfg.Providers.STT, cfg.Providers.STTFallbacks)...)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.TTS.Name == "" && !cfg.Narration.Disabled {
		slog.Warn("providers.tts is not configured; the trial will run without narration")
	}

	// Trial
	role, err := cfg.Trial.Role()
	switch {
	case err != nil:
		errs = append(errs, err)
	case !role.IsParticipant():
		errs = append(errs, fmt.Errorf("trial.user_role %q cannot be played by the user; valid values: juez, ministerio público, defensa, testigo, secretario", cfg.Trial.UserRole))
	}
	aiOnly, err := cfg.Trial.AIOnlyRoles()
	if err != nil {
		errs = append(errs, err)
	}
	if slices.Contains(aiOnly, role) && role != court.NoSpeaker {
		errs = append(errs, fmt.Errorf("trial.ai_only lists the user role %q", cfg.Trial.UserRole))
	}
	if cfg.Trial.ResponseTimeout < 0 {
		errs = append(errs, fmt.Errorf("trial.response_timeout %s must not be negative", cfg.Trial.ResponseTimeout))
	}
	if cfg.Trial.MaxAutoTurns < 0 {
		errs = append(errs, fmt.Errorf("trial.max_auto_turns %d must not be negative", cfg.Trial.MaxAutoTurns))
	}
	if cfg.Trial.ContextTokens < 0 {
		errs = append(errs, fmt.Errorf("trial.context_tokens %d must not be negative", cfg.Trial.ContextTokens))
	}
	if cfg.Trial.Temperature < 0 || cfg.Trial.Temperature > 2 {
		errs = append(errs, fmt.Errorf("trial.temperature %.2f is out of range [0, 2]", cfg.Trial.Temperature))
	}
	if cfg.Trial.CaseBrief == "" {
		slog.Warn("trial.case_brief is empty; the model will invent the case")
	}

	// Narration
	if cfg.Narration.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("narration.max_attempts %d must not be negative", cfg.Narration.MaxAttempts))
	}
	if cfg.Narration.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("narration.retry_delay %s must not be negative", cfg.Narration.RetryDelay))
	}
	if cfg.Narration.ReplaySize < 0 {
		errs = append(errs, fmt.Errorf("narration.replay_size %d must not be negative", cfg.Narration.ReplaySize))
	}

	// Voices
	errs = append(errs, validateVoices(cfg)...)

	// Audio
	if cfg.Audio.SampleRate < 0 || cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio format %d Hz / %d channels is invalid", cfg.Audio.SampleRate, cfg.Audio.Channels))
	}
	if cfg.Audio.Volume < 0 || cfg.Audio.Volume > 1 {
		errs = append(errs, fmt.Errorf("audio.volume %.2f is out of range [0, 1]", cfg.Audio.Volume))
	}

	// Dictation
	if cfg.Dictation.Enabled {
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, errors.New("dictation.enabled requires providers.stt"))
		}
		if cfg.Dictation.SourcePath == "" {
			errs = append(errs, errors.New("dictation.source_path is required when dictation is enabled"))
		}
	}
	if cfg.Dictation.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("dictation.sample_rate %d must not be negative", cfg.Dictation.SampleRate))
	}

	// Transcript
	if cfg.Transcript.PostgresDSN == "" {
		slog.Debug("transcript.postgres_dsn is empty; transcripts are kept in memory")
	}

	// Telemetry
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %.2f is out of range [0, 1]", cfg.Telemetry.SampleRatio))
	}

	return errors.Join(errs...)
}

func validateVoices(cfg *Config) []error {
	var errs []error
	seen := make(map[court.Speaker]string, len(cfg.Voices))
	for _, key := range slices.Sorted(maps.Keys(cfg.Voices)) {
		v := cfg.Voices[key]
		prefix := "voices." + key
		s, err := court.ParseSpeaker(key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
			continue
		}
		if s == court.Professor {
			errs = append(errs, fmt.Errorf("%s: the professor is never narrated", prefix))
		}
		if prev, ok := seen[s]; ok {
			errs = append(errs, fmt.Errorf("%s: %s is already configured by voices.%s", prefix, s, prev))
		}
		seen[s] = key
		if v.SpeedFactor != 0 && (v.SpeedFactor < 0.5 || v.SpeedFactor > 2.0) {
			errs = append(errs, fmt.Errorf("%s.speed_factor %.2f is out of range [0.5, 2.0]", prefix, v.SpeedFactor))
		}
		if v.PitchShift < -10 || v.PitchShift > 10 {
			errs = append(errs, fmt.Errorf("%s.pitch_shift %.2f is out of range [-10, 10]", prefix, v.PitchShift))
		}
		if slices.Contains(v.Fallbacks, "") {
			errs = append(errs, fmt.Errorf("%s.fallbacks contains an empty voice id", prefix))
		}
	}
	return errs
}

func validateFallbacks(kind string, primary ProviderEntry, fallbacks []ProviderEntry) []error {
	var errs []error
	if primary.Name == "" && len(fallbacks) > 0 {
		errs = append(errs, fmt.Errorf("providers.%s_fallbacks requires providers.%s", kind, kind))
	}
	for i, fb := range fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
