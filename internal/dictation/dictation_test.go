package dictation

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/juicio/pkg/provider/stt"
	"github.com/MrWong99/juicio/pkg/provider/stt/mock"
)

func newTestDictation(p stt.Provider, opts ...Option) *Dictation {
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return New(p, opts...)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startedSession(t *testing.T, p *mock.Provider) *mock.Session {
	t.Helper()
	sessions := p.Sessions()
	if len(sessions) == 0 {
		t.Fatal("no STT session was opened")
	}
	return sessions[len(sessions)-1]
}

func TestDictation_FinalsBecomePending(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	d := newTestDictation(p)

	var (
		mu  sync.Mutex
		got []string
	)
	d.OnText(func(s string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
	})

	if err := d.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	s := startedSession(t, p)
	s.EmitPartial("objeción su")
	s.EmitFinal("Objeción, su señoría.")
	s.EmitFinal("   ")
	s.EmitFinal("Pregunta capciosa.")

	eventually(t, "pending text", func() bool {
		return d.Pending() == "Objeción, su señoría. Pregunta capciosa."
	})

	mu.Lock()
	if len(got) != 2 {
		t.Errorf("OnText received %q, want two finals", got)
	}
	mu.Unlock()

	if text := d.Take(); text != "Objeción, su señoría. Pregunta capciosa." {
		t.Errorf("Take() = %q", text)
	}
	if d.Pending() != "" {
		t.Errorf("Pending() after Take = %q, want empty", d.Pending())
	}
	_ = d.Stop()
}

func TestDictation_StartStopIdempotent(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	d := newTestDictation(p)
	ctx := context.Background()

	for range 3 {
		if err := d.Start(ctx, nil); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
	}
	if n := len(p.Sessions()); n != 1 {
		t.Fatalf("opened %d sessions, want 1", n)
	}
	if !d.Running() {
		t.Fatal("Running() = false after Start")
	}

	for range 3 {
		if err := d.Stop(); err != nil {
			t.Fatalf("Stop() error: %v", err)
		}
	}
	if d.Running() {
		t.Error("Running() = true after Stop")
	}
	if !p.Sessions()[0].Closed() {
		t.Error("session not closed by Stop")
	}

	if err := d.Start(ctx, nil); err != nil {
		t.Fatalf("restart error: %v", err)
	}
	if n := len(p.Sessions()); n != 2 {
		t.Errorf("opened %d sessions after restart, want 2", n)
	}
	_ = d.Stop()
}

func TestDictation_DiscardsStaleResults(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	d := newTestDictation(p)

	if err := d.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	d.mu.Lock()
	stale := d.gen
	done := d.done
	d.mu.Unlock()

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not exit after Stop")
	}

	var published bool
	d.OnText(func(string) { published = true })
	d.accept(stale, stt.Transcript{Text: "llegó tarde", IsFinal: true})

	if d.Pending() != "" {
		t.Errorf("Pending() = %q, want stale result discarded", d.Pending())
	}
	if published {
		t.Error("stale result was published to OnText")
	}
}

func TestDictation_VocabularyRepair(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	d := newTestDictation(p, WithVocabulary("Gutiérrez"))

	if err := d.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer d.Stop()

	cfg := p.Configs()[0]
	if len(cfg.Keywords) != 1 || cfg.Keywords[0].Keyword != "Gutiérrez" {
		t.Errorf("StreamConfig.Keywords = %+v, want the case vocabulary", cfg.Keywords)
	}

	startedSession(t, p).EmitFinal("¿Conoce a gutierres?")
	eventually(t, "corrected text", func() bool {
		return d.Pending() == "¿Conoce a Gutiérrez?"
	})
}

func TestDictation_StreamsAudioSource(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	d := newTestDictation(p, WithChunkSize(640))

	source := bytes.NewReader(make([]byte, 1500))
	if err := d.Start(context.Background(), source); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer d.Stop()

	s := startedSession(t, p)
	eventually(t, "audio chunks", func() bool { return len(s.Audio()) == 3 })

	sizes := []int{640, 640, 220}
	for i, chunk := range s.Audio() {
		if len(chunk) != sizes[i] {
			t.Errorf("chunk %d has %d bytes, want %d", i, len(chunk), sizes[i])
		}
	}
}

func TestDictation_StartError(t *testing.T) {
	t.Parallel()

	boom := errors.New("unauthorized")
	d := newTestDictation(&mock.Provider{StartStreamErr: boom})

	err := d.Start(context.Background(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Start() error = %v, want wrapped %v", err, boom)
	}
	if d.Running() {
		t.Error("Running() = true after failed Start")
	}
}

func TestDictation_ProviderClosesSession(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	d := newTestDictation(p)

	if err := d.Start(context.Background(), io.LimitReader(bytes.NewReader(nil), 0)); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	_ = startedSession(t, p).Close()

	eventually(t, "session end", func() bool { return !d.Running() })
	if err := d.Stop(); err != nil {
		t.Errorf("Stop() after provider close error: %v", err)
	}
}
