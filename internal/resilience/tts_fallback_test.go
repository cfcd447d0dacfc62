package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/juicio/pkg/audio"
	"github.com/MrWong99/juicio/pkg/provider/tts"
	ttsmock "github.com/MrWong99/juicio/pkg/provider/tts/mock"
)

func textChan(parts ...string) <-chan string {
	ch := make(chan string, len(parts))
	for _, p := range parts {
		ch <- p
	}
	close(ch)
	return ch
}

func drain(ch <-chan []byte) []string {
	var out []string
	for c := range ch {
		out = append(out, string(c))
	}
	return out
}

func TestTTSFallback_SynthesizeStream_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{Chunks: [][]byte{[]byte("audio1"), []byte("audio2")}}
	secondary := &ttsmock.Provider{Chunks: [][]byte{[]byte("fallback-audio")}}

	fb := NewTTSFallback(primary, "primary", quietConfig(3))
	if err := fb.AddFallback("secondary", secondary); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	audioCh, err := fb.SynthesizeStream(context.Background(), textChan("Orden en la sala."), tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunks := drain(audioCh)
	if len(chunks) != 2 || chunks[0] != "audio1" {
		t.Fatalf("chunks = %q, want [audio1 audio2]", chunks)
	}
	if primary.CallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.CallCount())
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestTTSFallback_SynthesizeStream_FailoverKeepsText(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{Err: errors.New("primary down")}
	secondary := &ttsmock.Provider{}

	fb := NewTTSFallback(primary, "primary", quietConfig(3))
	if err := fb.AddFallback("secondary", secondary); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	audioCh, err := fb.SynthesizeStream(context.Background(), textChan("Objeción, ", "su señoría."), tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The mock echoes the text it received.
	if got := drain(audioCh); len(got) != 1 || got[0] != "Objeción, su señoría." {
		t.Fatalf("fallback audio = %q, want the full text", got)
	}
}

func TestTTSFallback_SynthesizeStream_AllFail(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{Err: errors.New("primary down")}
	secondary := &ttsmock.Provider{Err: errors.New("secondary down")}

	fb := NewTTSFallback(primary, "primary", quietConfig(3))
	if err := fb.AddFallback("secondary", secondary); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	_, err := fb.SynthesizeStream(context.Background(), textChan(), tts.VoiceProfile{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_SynthesizeStream_CancelledWhileReadingText(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{}
	fb := NewTTSFallback(primary, "primary", quietConfig(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	open := make(chan string) // never closed

	if _, err := fb.SynthesizeStream(ctx, open, tts.VoiceProfile{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if primary.CallCount() != 0 {
		t.Fatalf("primary called %d times, want 0", primary.CallCount())
	}
}

func TestTTSFallback_ListVoices_Failover(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{ListVoicesErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{
		ListVoicesResult: []tts.VoiceProfile{
			{ID: "onyx", Name: "Onyx"},
			{ID: "nova", Name: "Nova"},
		},
	}

	fb := NewTTSFallback(primary, "primary", quietConfig(3))
	if err := fb.AddFallback("secondary", secondary); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 2 || voices[0].Name != "Onyx" {
		t.Fatalf("voices = %+v", voices)
	}
}

func TestTTSFallback_FormatMismatch(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{AudioFormat: audio.Format{SampleRate: 24000, Channels: 1}}
	fb := NewTTSFallback(primary, "primary", quietConfig(3))

	if got := fb.Format(); got != (audio.Format{SampleRate: 24000, Channels: 1}) {
		t.Errorf("Format() = %+v, want 24 kHz mono", got)
	}
	// Zero AudioFormat means 16 kHz mono.
	if err := fb.AddFallback("secondary", &ttsmock.Provider{}); err == nil {
		t.Fatal("expected error for mismatched fallback format")
	}
	if err := fb.AddFallback("same", &ttsmock.Provider{AudioFormat: audio.Format{SampleRate: 24000, Channels: 1}}); err != nil {
		t.Fatalf("AddFallback(same format): %v", err)
	}
}
