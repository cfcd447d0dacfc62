package narration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/juicio/internal/court"
	"github.com/MrWong99/juicio/internal/observe"
	audiomock "github.com/MrWong99/juicio/pkg/audio/mock"
	ttsmock "github.com/MrWong99/juicio/pkg/provider/tts/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const testTimeout = 5 * time.Second

func newTestQueue(t *testing.T, synth *ttsmock.Provider, player *audiomock.Player, voices *VoiceBook, opts ...Option) *Queue {
	t.Helper()
	n := 0
	var mu sync.Mutex
	base := []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithRetryDelay(0),
		WithIDFunc(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("q%d", n)
		}),
	}
	q := New(synth, player, voices, append(base, opts...)...)
	t.Cleanup(q.Close)
	return q
}

func unlock(t *testing.T, q *Queue) {
	t.Helper()
	if err := q.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := q.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// eventually polls cond until it holds or the test times out.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func played(p *audiomock.Player) []string {
	var out []string
	for _, c := range p.PlayCalls() {
		out = append(out, string(c.Data))
	}
	return out
}

// recorder collects item results.
type recorder struct {
	mu      sync.Mutex
	results []ItemResult
}

func (r *recorder) add(res ItemResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) all() []ItemResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.results)
}

func TestQueue_PlaysInEnqueueOrder(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Provider{}
	player := &audiomock.Player{}
	q := newTestQueue(t, synth, player, nil)
	rec := &recorder{}
	q.OnItemDone(rec.add)

	unlock(t, q)
	ids := []string{
		q.Enqueue("Se abre la sesión.", court.Judge, "s-0"),
		q.Enqueue("Acusamos.", court.Prosecutor, "s-1"),
		q.Enqueue("Lo vi todo.", court.Witness, "s-2"),
	}
	if !slices.Equal(ids, []string{"q1", "q2", "q3"}) {
		t.Fatalf("queue IDs = %v", ids)
	}
	waitIdle(t, q)

	want := []string{"Se abre la sesión.", "Acusamos.", "Lo vi todo."}
	if got := played(player); !slices.Equal(got, want) {
		t.Errorf("played = %v, want %v", got, want)
	}
	if got := q.Stats(); got != (Stats{Total: 3, Completed: 3}) {
		t.Errorf("Stats = %+v", got)
	}
	results := rec.all()
	if len(results) != 3 {
		t.Fatalf("item results = %d, want 3", len(results))
	}
	for i, r := range results {
		if r.QueueID != ids[i] || r.State != StateCompleted || r.Attempts != 1 {
			t.Errorf("result %d = %+v", i, r)
		}
	}
	if q.IsPlaying() {
		t.Error("IsPlaying after drain")
	}
}

func TestQueue_UsesSpeakerVoice(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Provider{}
	q := newTestQueue(t, synth, &audiomock.Player{}, nil)
	unlock(t, q)
	q.Enqueue("Orden.", court.Judge, "s-0")
	waitIdle(t, q)

	calls := synth.Calls()
	if len(calls) != 1 {
		t.Fatalf("synth calls = %d", len(calls))
	}
	v := calls[0].Voice
	if v.ID != "onyx" || v.Language != "es-MX" || v.Gender != "male" || v.SpeakingRate != 0.95 {
		t.Errorf("voice = %+v", v)
	}
	if calls[0].Text != "Orden." {
		t.Errorf("text = %q", calls[0].Text)
	}
}

func TestQueue_WaitsForUnlock(t *testing.T) {
	t.Parallel()

	player := &audiomock.Player{}
	q := newTestQueue(t, &ttsmock.Provider{}, player, nil)
	q.Enqueue("Hola.", court.Judge, "s-0")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := q.WaitIdle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitIdle before unlock = %v, want deadline exceeded", err)
	}
	if len(player.PlayCalls()) != 0 {
		t.Fatal("played before unlock")
	}

	unlock(t, q)
	unlock(t, q)
	waitIdle(t, q)
	if got := played(player); !slices.Equal(got, []string{"Hola."}) {
		t.Errorf("played = %v", got)
	}
	if !q.Unlocked() {
		t.Error("Unlocked() = false")
	}
}

func TestQueue_UnlockError(t *testing.T) {
	t.Parallel()

	errDenied := errors.New("gesture required")
	q := newTestQueue(t, &ttsmock.Provider{}, &audiomock.Player{UnlockErr: errDenied}, nil)
	if err := q.Unlock(context.Background()); !errors.Is(err, errDenied) {
		t.Fatalf("Unlock = %v, want %v", err, errDenied)
	}
	if q.Unlocked() {
		t.Error("Unlocked() = true after failure")
	}
}

func TestQueue_RejectsUnnarratedItems(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Provider{}
	q := newTestQueue(t, synth, &audiomock.Player{}, nil)

	tests := []struct {
		text    string
		speaker court.Speaker
	}{
		{"Consejo.", court.Professor},
		{"Nadie.", court.NoSpeaker},
		{"   ", court.Judge},
	}
	for _, tt := range tests {
		if id := q.Enqueue(tt.text, tt.speaker, "x"); id != "" {
			t.Errorf("Enqueue(%q, %v) = %q, want rejection", tt.text, tt.speaker, id)
		}
	}
	if got := q.Stats().Total; got != 0 {
		t.Errorf("Total = %d, want 0", got)
	}
	if synth.CallCount() != 0 {
		t.Error("rejected item was synthesised")
	}
}

func TestQueue_RetryWalksFallbackVoices(t *testing.T) {
	t.Parallel()

	voices := NewVoiceBook()
	if err := voices.Set(court.Judge, VoiceConfig{LanguageTag: "es-ES", VoiceID: "primary", Fallbacks: []string{"second", "third"}}); err != nil {
		t.Fatal(err)
	}
	synth := &ttsmock.Provider{
		VoiceErrs:   map[string]error{"primary": errors.New("rate limited")},
		EmptyVoices: map[string]bool{"second": true},
	}
	player := &audiomock.Player{}
	q := newTestQueue(t, synth, player, voices)
	rec := &recorder{}
	q.OnItemDone(rec.add)
	unlock(t, q)

	q.Enqueue("Orden en la sala.", court.Judge, "s-0")
	waitIdle(t, q)

	var used []string
	for _, c := range synth.Calls() {
		used = append(used, c.Voice.ID)
	}
	if !slices.Equal(used, []string{"primary", "second", "third"}) {
		t.Errorf("voices tried = %v", used)
	}
	results := rec.all()
	if len(results) != 1 || results[0].State != StateCompleted || results[0].Attempts != 3 {
		t.Errorf("results = %+v", results)
	}
	if got := played(player); !slices.Equal(got, []string{"Orden en la sala."}) {
		t.Errorf("played = %v", got)
	}
}

func TestQueue_ExhaustedItemDoesNotStall(t *testing.T) {
	t.Parallel()

	voices := NewVoiceBook()
	_ = voices.Set(court.Judge, VoiceConfig{VoiceID: "broken"})
	_ = voices.Set(court.Witness, VoiceConfig{VoiceID: "fine"})
	errBroken := errors.New("voice unavailable")
	synth := &ttsmock.Provider{VoiceErrs: map[string]error{"broken": errBroken}}
	player := &audiomock.Player{}
	q := newTestQueue(t, synth, player, voices, WithMaxAttempts(2))
	rec := &recorder{}
	q.OnItemDone(rec.add)
	unlock(t, q)

	q.Enqueue("No se oirá.", court.Judge, "s-0")
	q.Enqueue("Sí se oirá.", court.Witness, "s-1")
	waitIdle(t, q)

	if got := played(player); !slices.Equal(got, []string{"Sí se oirá."}) {
		t.Errorf("played = %v", got)
	}
	if got := q.Stats(); got != (Stats{Total: 2, Completed: 1, Failed: 1}) {
		t.Errorf("Stats = %+v", got)
	}
	results := rec.all()
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].State != StateFailed || !errors.Is(results[0].Err, errBroken) || results[0].Attempts != 2 {
		t.Errorf("failed result = %+v", results[0])
	}
	if n := synth.CallCount(); n != 3 {
		t.Errorf("synth calls = %d, want 3", n)
	}
}

func TestQueue_CompletionEventsMatchEnqueued(t *testing.T) {
	t.Parallel()

	voices := NewVoiceBook()
	_ = voices.Set(court.Judge, VoiceConfig{VoiceID: "ok"})
	_ = voices.Set(court.Clerk, VoiceConfig{VoiceID: "silent"})
	synth := &ttsmock.Provider{EmptyVoices: map[string]bool{"silent": true}}
	q := newTestQueue(t, synth, &audiomock.Player{}, voices)
	rec := &recorder{}
	q.OnItemDone(rec.add)
	unlock(t, q)

	const n = 12
	for i := range n {
		s := court.Judge
		if i%3 == 0 {
			s = court.Clerk
		}
		q.Enqueue(fmt.Sprintf("línea %d", i), s, fmt.Sprintf("s-%d", i))
	}
	waitIdle(t, q)

	st := q.Stats()
	if st.Total != n || st.Completed+st.Failed != n || st.Failed != 4 {
		t.Errorf("Stats = %+v", st)
	}
	if got := len(rec.all()); got != n {
		t.Errorf("completion events = %d, want %d", got, n)
	}
}

func TestQueue_MuteKeepsAdvancing(t *testing.T) {
	t.Parallel()

	player := &audiomock.Player{PlayDuration: 5 * time.Millisecond}
	started := player.Started()
	q := newTestQueue(t, &ttsmock.Provider{}, player, nil)
	unlock(t, q)

	const n = 5
	for i := range n {
		q.Enqueue(fmt.Sprintf("línea %d", i), court.Judge, fmt.Sprintf("s-%d", i))
	}
	waitSignal(t, started, "first playback")
	q.SetMuted(true)
	if !q.Muted() || player.Volume() != 0 {
		t.Fatalf("mute not applied: muted=%v volume=%v", q.Muted(), player.Volume())
	}
	waitIdle(t, q)

	if got := q.Stats(); got.Completed != n {
		t.Errorf("Completed = %d, want %d", got.Completed, n)
	}
	calls := player.PlayCalls()
	if calls[len(calls)-1].Volume != 0 {
		t.Errorf("last item volume = %v, want 0", calls[len(calls)-1].Volume)
	}

	q.SetMuted(false)
	if player.Volume() != 1 {
		t.Errorf("volume after unmute = %v, want 1", player.Volume())
	}
}

func TestQueue_CancelDiscardsEverything(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	player := &audiomock.Player{Hold: hold}
	started := player.Started()
	q := newTestQueue(t, &ttsmock.Provider{}, player, nil)
	rec := &recorder{}
	q.OnItemDone(rec.add)
	unlock(t, q)

	for i := range 3 {
		q.Enqueue(fmt.Sprintf("línea %d", i), court.Judge, fmt.Sprintf("s-%d", i))
	}
	waitSignal(t, started, "playback")

	waitErr := make(chan error, 1)
	go func() { waitErr <- q.WaitIdle(context.Background()) }()

	q.Cancel()
	select {
	case err := <-waitErr:
		if err != nil {
			t.Fatalf("WaitIdle = %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("WaitIdle not released by Cancel")
	}

	if q.Len() != 0 || q.IsPlaying() || q.ActiveUtterance() != "" {
		t.Errorf("after cancel: len=%d playing=%v active=%q", q.Len(), q.IsPlaying(), q.ActiveUtterance())
	}
	if got := q.Stats(); got != (Stats{Total: 3, Cancelled: 3}) {
		t.Errorf("Stats = %+v", got)
	}
	for _, r := range rec.all() {
		if r.State != StateCancelled {
			t.Errorf("result %+v, want cancelled", r)
		}
	}
	eventually(t, "playback to stop", func() bool {
		calls := player.PlayCalls()
		return len(calls) == 1 && calls[0].Cancelled
	})
	if n := len(q.ReplayItems()); n != 0 {
		t.Errorf("cancelled item entered replay buffer: %d entries", n)
	}

	// The queue keeps working after a cancel.
	q.Enqueue("otra vez", court.Judge, "s-9")
	waitSignal(t, started, "playback after cancel")
	hold <- struct{}{}
	waitIdle(t, q)
	if got := q.Stats().Completed; got != 1 {
		t.Errorf("Completed after cancel = %d, want 1", got)
	}
}

func TestQueue_SkipAdvancesOneItem(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	player := &audiomock.Player{Hold: hold}
	started := player.Started()
	q := newTestQueue(t, &ttsmock.Provider{}, player, nil)
	rec := &recorder{}
	q.OnItemDone(rec.add)
	unlock(t, q)

	q.Enqueue("primero", court.Judge, "s-0")
	q.Enqueue("segundo", court.Witness, "s-1")
	waitSignal(t, started, "first playback")
	q.Skip()
	waitSignal(t, started, "second playback")
	if !q.IsPlaying() {
		t.Error("not playing while second item plays")
	}
	hold <- struct{}{}
	waitIdle(t, q)

	results := rec.all()
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].State != StateCompleted || !results[0].Skipped {
		t.Errorf("skipped result = %+v", results[0])
	}
	if results[1].State != StateCompleted || results[1].Skipped {
		t.Errorf("second result = %+v", results[1])
	}
	if got := played(player); !slices.Equal(got, []string{"primero", "segundo"}) {
		t.Errorf("played = %v", got)
	}
}

func TestQueue_SkipLastItemStopsPlayingImmediately(t *testing.T) {
	t.Parallel()

	player := &audiomock.Player{Hold: make(chan struct{})}
	started := player.Started()
	q := newTestQueue(t, &ttsmock.Provider{}, player, nil)
	var (
		mu     sync.Mutex
		states []bool
	)
	q.OnPlaying(func(p bool) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, p)
	})
	unlock(t, q)

	q.Enqueue("único", court.Judge, "s-0")
	waitSignal(t, started, "playback")
	if !q.IsPlaying() {
		t.Fatal("IsPlaying = false during playback")
	}
	q.Skip()
	if q.IsPlaying() {
		t.Error("IsPlaying = true right after skipping the last item")
	}
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(states, []bool{true, false}) {
		t.Errorf("playing notifications = %v, want [true false]", states)
	}
}

func TestQueue_PreloadsNextItem(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	player := &audiomock.Player{Hold: hold}
	started := player.Started()
	synth := &ttsmock.Provider{}
	q := newTestQueue(t, synth, player, nil)
	unlock(t, q)

	q.Enqueue("uno", court.Judge, "s-0")
	q.Enqueue("dos", court.Judge, "s-1")
	q.Enqueue("tres", court.Judge, "s-2")
	waitSignal(t, started, "first playback")

	eventually(t, "preload of second item", func() bool { return synth.CallCount() >= 2 })
	if n := synth.CallCount(); n != 2 {
		t.Errorf("synth calls while first plays = %d, want 2", n)
	}
	if n := len(player.PlayCalls()); n != 1 {
		t.Errorf("play calls = %d, want 1 (no overlap)", n)
	}
	for range 3 {
		hold <- struct{}{}
	}
	waitIdle(t, q)
	if got := played(player); !slices.Equal(got, []string{"uno", "dos", "tres"}) {
		t.Errorf("played = %v", got)
	}
}

func TestQueue_PauseHoldsNextItem(t *testing.T) {
	t.Parallel()

	player := &audiomock.Player{}
	q := newTestQueue(t, &ttsmock.Provider{}, player, nil)
	unlock(t, q)
	q.Pause()
	if !q.Paused() {
		t.Fatal("Paused() = false")
	}

	q.Enqueue("espera", court.Judge, "s-0")
	time.Sleep(20 * time.Millisecond)
	if len(player.PlayCalls()) != 0 {
		t.Fatal("played while paused")
	}

	q.Resume()
	waitIdle(t, q)
	if got := played(player); !slices.Equal(got, []string{"espera"}) {
		t.Errorf("played = %v", got)
	}
}

func TestQueue_ActiveUtteranceNotifications(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, &ttsmock.Provider{}, &audiomock.Player{}, nil)
	var (
		mu     sync.Mutex
		active []string
	)
	unsub := q.OnActiveUtterance(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		active = append(active, id)
	})
	unlock(t, q)

	q.Enqueue("uno", court.Judge, "u1")
	q.Enqueue("dos", court.Witness, "u2")
	waitIdle(t, q)

	mu.Lock()
	got := slices.Clone(active)
	mu.Unlock()
	if want := []string{"u1", "", "u2", ""}; !slices.Equal(got, want) {
		t.Errorf("active notifications = %q, want %q", got, want)
	}

	unsub()
	q.Enqueue("tres", court.Judge, "u3")
	waitIdle(t, q)
	mu.Lock()
	defer mu.Unlock()
	if len(active) != 4 {
		t.Errorf("notified after unsubscribe: %q", active)
	}
}

func TestQueue_ReplayReusesAudio(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Provider{}
	player := &audiomock.Player{}
	q := newTestQueue(t, synth, player, nil)
	unlock(t, q)

	q.Enqueue("uno", court.Judge, "s-0")
	q.Enqueue("dos", court.Prosecutor, "s-1")
	waitIdle(t, q)

	items := q.ReplayItems()
	if len(items) != 2 || items[0].SourceID != "s-0" || items[1].Text != "dos" || items[1].Speaker != court.Prosecutor {
		t.Fatalf("ReplayItems = %+v", items)
	}

	ids := q.Replay()
	if len(ids) != 2 || ids[0] == "" || slices.Contains(ids, "q1") {
		t.Fatalf("Replay IDs = %v", ids)
	}
	waitIdle(t, q)

	if n := synth.CallCount(); n != 2 {
		t.Errorf("synth calls = %d, want 2 (replay must reuse audio)", n)
	}
	if got := played(player); !slices.Equal(got, []string{"uno", "dos", "uno", "dos"}) {
		t.Errorf("played = %v", got)
	}
	if got := len(q.ReplayItems()); got != 2 {
		t.Errorf("replay buffer size after replay = %d, want 2", got)
	}

	q.ClearReplay()
	if got := q.Replay(); len(got) != 0 {
		t.Errorf("Replay after clear = %v", got)
	}
}

func TestQueue_ReplayBufferBounded(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, &ttsmock.Provider{}, &audiomock.Player{}, nil, WithReplaySize(2))
	unlock(t, q)
	for i := range 4 {
		q.Enqueue(fmt.Sprintf("línea %d", i), court.Judge, fmt.Sprintf("s-%d", i))
	}
	waitIdle(t, q)

	var got []string
	for _, e := range q.ReplayItems() {
		got = append(got, e.SourceID)
		if e.Clip != nil {
			t.Error("ReplayItems exposes clip")
		}
	}
	if want := []string{"s-2", "s-3"}; !slices.Equal(got, want) {
		t.Errorf("replay sources = %v, want %v", got, want)
	}
}

func TestQueue_CloseRejectsWork(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, &ttsmock.Provider{}, &audiomock.Player{}, nil)
	q.Close()
	q.Close()

	if id := q.Enqueue("tarde", court.Judge, "s-0"); id != "" {
		t.Errorf("Enqueue after Close = %q", id)
	}
	if err := q.Unlock(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Unlock after Close = %v", err)
	}
	waitIdle(t, q)
}

func TestQueue_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	voices := NewVoiceBook()
	_ = voices.Set(court.Judge, VoiceConfig{VoiceID: "a", Fallbacks: []string{"b"}})
	synth := &ttsmock.Provider{VoiceErrs: map[string]error{"a": errors.New("down")}}
	q := newTestQueue(t, synth, &audiomock.Player{}, voices, WithMetrics(m))
	unlock(t, q)
	q.Enqueue("hola", court.Judge, "s-0")
	waitIdle(t, q)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if s, ok := met.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[met.Name] += dp.Value
				}
			}
		}
	}
	if sums["juicio.narration.items"] != 1 {
		t.Errorf("narration items = %d, want 1", sums["juicio.narration.items"])
	}
	if sums["juicio.narration.retries"] != 1 {
		t.Errorf("narration retries = %d, want 1", sums["juicio.narration.retries"])
	}
}
