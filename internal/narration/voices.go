package narration

import (
	"fmt"
	"maps"
	"sync"

	"github.com/MrWong99/juicio/internal/court"
	"github.com/MrWong99/juicio/pkg/provider/tts"
)

// VoiceConfig is the narration voice of one speaker.
type VoiceConfig struct {
	// LanguageTag is a BCP 47 tag, e.g. "es-MX".
	LanguageTag string

	// VoiceID is the primary provider voice. Empty selects the provider default.
	VoiceID string

	// Gender is a delivery hint ("male", "female").
	Gender string

	// Pitch adjusts pitch (-10 to +10, 0 = default).
	Pitch float64

	// SpeakingRate adjusts speed (0 or 1 = default).
	SpeakingRate float64

	// Fallbacks are tried in order when synthesis with VoiceID fails. They
	// should share the primary voice's gender and register.
	Fallbacks []string
}

// Chain returns the voice IDs to try in order: the primary voice followed by
// its fallbacks, without duplicates.
func (c VoiceConfig) Chain() []string {
	chain := []string{c.VoiceID}
	for _, id := range c.Fallbacks {
		dup := false
		for _, seen := range chain {
			if seen == id {
				dup = true
				break
			}
		}
		if !dup {
			chain = append(chain, id)
		}
	}
	return chain
}

// Profile builds the provider voice profile for voiceID with the rest of the
// configuration applied.
func (c VoiceConfig) Profile(voiceID string) tts.VoiceProfile {
	return tts.VoiceProfile{
		ID:           voiceID,
		Language:     c.LanguageTag,
		Gender:       c.Gender,
		Pitch:        c.Pitch,
		SpeakingRate: c.SpeakingRate,
	}
}

// VoiceBook maps speakers to their narration voices. It is safe for
// concurrent use and may be updated while narration is running; items pick up
// the voice in effect when their synthesis starts.
type VoiceBook struct {
	mu     sync.RWMutex
	voices map[court.Speaker]VoiceConfig
}

// NewVoiceBook returns an empty voice book.
func NewVoiceBook() *VoiceBook {
	return &VoiceBook{voices: make(map[court.Speaker]VoiceConfig)}
}

// DefaultVoiceBook returns Spanish voices for every narrated role, using
// voice names of the OpenAI speech endpoint.
func DefaultVoiceBook() *VoiceBook {
	b := NewVoiceBook()
	for s, cfg := range map[court.Speaker]VoiceConfig{
		court.Judge:      {VoiceID: "onyx", Gender: "male", Pitch: -2, SpeakingRate: 0.95, Fallbacks: []string{"ash", "echo"}},
		court.Prosecutor: {VoiceID: "nova", Gender: "female", Fallbacks: []string{"shimmer", "coral"}},
		court.Defense:    {VoiceID: "echo", Gender: "male", Fallbacks: []string{"alloy", "ash"}},
		court.Witness:    {VoiceID: "shimmer", Gender: "female", SpeakingRate: 1.05, Fallbacks: []string{"sage", "nova"}},
		court.Clerk:      {VoiceID: "fable", Gender: "male", Fallbacks: []string{"alloy", "echo"}},
		court.Defendant:  {VoiceID: "ash", Gender: "male", Fallbacks: []string{"echo", "onyx"}},
	} {
		cfg.LanguageTag = "es-MX"
		b.voices[s] = cfg
	}
	return b
}

// Get returns the voice of s and whether one is configured.
func (b *VoiceBook) Get(s court.Speaker) (VoiceConfig, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.voices[s]
	return c, ok
}

// Set configures the voice of s. Professor is never narrated and cannot be
// given a voice.
func (b *VoiceBook) Set(s court.Speaker, c VoiceConfig) error {
	if err := checkNarrated(s); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.voices[s] = c
	return nil
}

// Replace swaps the whole voice table atomically.
func (b *VoiceBook) Replace(voices map[court.Speaker]VoiceConfig) error {
	for s := range voices {
		if err := checkNarrated(s); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.voices = maps.Clone(voices)
	if b.voices == nil {
		b.voices = make(map[court.Speaker]VoiceConfig)
	}
	return nil
}

// Len returns the number of configured voices.
func (b *VoiceBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.voices)
}

func checkNarrated(s court.Speaker) error {
	if !s.Valid() || s == court.Professor {
		return fmt.Errorf("narration: %w: %s has no voice", court.ErrInvalidRole, s)
	}
	return nil
}
