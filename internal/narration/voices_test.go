package narration

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/juicio/internal/court"
	"github.com/MrWong99/juicio/pkg/audio"
)

func TestVoiceConfig_Chain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  VoiceConfig
		want []string
	}{
		{"primary only", VoiceConfig{VoiceID: "a"}, []string{"a"}},
		{"fallbacks in order", VoiceConfig{VoiceID: "a", Fallbacks: []string{"b", "c"}}, []string{"a", "b", "c"}},
		{"duplicates dropped", VoiceConfig{VoiceID: "a", Fallbacks: []string{"a", "b", "b"}}, []string{"a", "b"}},
		{"provider default", VoiceConfig{}, []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.cfg.Chain(); !slices.Equal(got, tt.want) {
				t.Errorf("Chain() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVoiceConfig_Profile(t *testing.T) {
	t.Parallel()

	cfg := VoiceConfig{LanguageTag: "es-AR", VoiceID: "a", Gender: "female", Pitch: 2, SpeakingRate: 1.1}
	p := cfg.Profile("b")
	if p.ID != "b" || p.Language != "es-AR" || p.Gender != "female" || p.Pitch != 2 || p.SpeakingRate != 1.1 {
		t.Errorf("Profile = %+v", p)
	}
}

func TestVoiceBook(t *testing.T) {
	t.Parallel()

	b := NewVoiceBook()
	if err := b.Set(court.Professor, VoiceConfig{VoiceID: "x"}); !errors.Is(err, court.ErrInvalidRole) {
		t.Errorf("Set(Professor) = %v, want ErrInvalidRole", err)
	}
	if err := b.Set(court.NoSpeaker, VoiceConfig{}); !errors.Is(err, court.ErrInvalidRole) {
		t.Errorf("Set(NoSpeaker) = %v, want ErrInvalidRole", err)
	}
	if err := b.Set(court.Judge, VoiceConfig{VoiceID: "j"}); err != nil {
		t.Fatalf("Set(Judge): %v", err)
	}
	if c, ok := b.Get(court.Judge); !ok || c.VoiceID != "j" {
		t.Errorf("Get(Judge) = %+v, %v", c, ok)
	}

	src := map[court.Speaker]VoiceConfig{court.Witness: {VoiceID: "w"}}
	if err := b.Replace(src); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	src[court.Clerk] = VoiceConfig{VoiceID: "c"}
	if b.Len() != 1 {
		t.Errorf("Replace kept a reference to the caller's map: len=%d", b.Len())
	}
	if _, ok := b.Get(court.Judge); ok {
		t.Error("Replace kept the old table")
	}
	if err := b.Replace(map[court.Speaker]VoiceConfig{court.Professor: {}}); err == nil {
		t.Error("Replace accepted a Professor voice")
	}
}

func TestDefaultVoiceBook(t *testing.T) {
	t.Parallel()

	b := DefaultVoiceBook()
	for _, s := range append(court.Participants(), court.Defendant) {
		c, ok := b.Get(s)
		if !ok {
			t.Errorf("no default voice for %v", s)
			continue
		}
		if c.VoiceID == "" || c.LanguageTag != "es-MX" || len(c.Fallbacks) == 0 {
			t.Errorf("default voice for %v = %+v", s, c)
		}
	}
	if _, ok := b.Get(court.Professor); ok {
		t.Error("Professor has a default voice")
	}
}

func TestReplayBuffer(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 16000, Channels: 1}
	c1 := audio.NewClip([]byte{1, 0}, f)
	c2 := audio.NewClip([]byte{2, 0}, f)
	c3 := audio.NewClip([]byte{3, 0}, f)

	b := NewReplayBuffer(2)
	b.Add(ReplayEntry{SourceID: "1", Clip: c1})
	b.Add(ReplayEntry{SourceID: "2", Clip: c2})
	b.Add(ReplayEntry{SourceID: "3", Clip: c3})

	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2", b.Len())
	}
	if !c1.Released() {
		t.Error("evicted clip not released")
	}

	items := b.Items()
	if items[0].SourceID != "2" || items[1].SourceID != "3" {
		t.Errorf("Items order = %s, %s", items[0].SourceID, items[1].SourceID)
	}

	b.Clear()
	if c2.Released() || c3.Released() {
		t.Error("clip released while caller still holds it")
	}
	for _, e := range items {
		e.Clip.Release()
	}
	if !c2.Released() || !c3.Released() {
		t.Error("clips not released after last reference dropped")
	}
	if b.Len() != 0 {
		t.Errorf("Len after Clear = %d", b.Len())
	}
}

func TestReplayBuffer_Disabled(t *testing.T) {
	t.Parallel()

	c := audio.NewClip([]byte{1, 0}, audio.Format{SampleRate: 16000, Channels: 1})
	b := NewReplayBuffer(0)
	b.Add(ReplayEntry{Clip: c})
	if b.Len() != 0 || !c.Released() {
		t.Errorf("disabled buffer kept entry: len=%d released=%v", b.Len(), c.Released())
	}
}
