// Package narration implements the narration queue: the ordered pipeline
// that synthesises speech for model utterances and plays it back one item at
// a time.
//
// A [Queue] is an explicitly constructed, long-lived instance shared by
// reference. Items are synthesised through a [tts.Provider] with per-speaker
// fallback voices, cached as reference-counted [audio.Clip]s, preloaded one
// item ahead of playback and rendered through an [audio.Player]. Finished
// items are kept in a bounded [ReplayBuffer] so the last turn can be replayed
// without synthesising it again.
//
// Muting only lowers the player volume: the queue keeps advancing at its
// natural pace. Cancelling discards everything queued and releases the cached
// audio.
package narration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/juicio/internal/court"
	"github.com/MrWong99/juicio/internal/observe"
	"github.com/MrWong99/juicio/pkg/audio"
	"github.com/MrWong99/juicio/pkg/notify"
	"github.com/MrWong99/juicio/pkg/provider/tts"
)

// ErrQueueClosed is returned by operations on a closed [Queue].
var ErrQueueClosed = errors.New("narration: queue closed")

// Defaults used by [New].
const (
	DefaultMaxAttempts = 3
	DefaultReplaySize  = 5
	DefaultRetryDelay  = 250 * time.Millisecond
)

// Option configures a [Queue].
type Option func(*Queue)

// WithMaxAttempts bounds the synthesis attempts per item, the first one
// included. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n >= 1 {
			q.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the pause between synthesis attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(q *Queue) { q.retryDelay = d }
}

// WithReplaySize sets how many finished items the replay buffer keeps.
func WithReplaySize(k int) Option {
	return func(q *Queue) { q.replaySize = k }
}

// WithMetrics sets the metrics the queue reports to. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLogger sets the queue's logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// WithIDFunc overrides the generator of queue IDs. Default: random UUIDs.
func WithIDFunc(fn func() string) Option {
	return func(q *Queue) { q.newID = fn }
}

// Queue sequences narration. All methods are safe for concurrent use.
//
// Observer callbacks run synchronously in the order the state changed. They
// may read queue state but must not call methods that change it.
type Queue struct {
	synth  tts.Provider
	player audio.Player
	voices *VoiceBook
	replay *ReplayBuffer

	maxAttempts int
	retryDelay  time.Duration
	replaySize  int
	metrics     *observe.Metrics
	log         *slog.Logger
	newID       func() string

	activeHub  notify.Hub[string]
	playingHub notify.Hub[bool]
	doneHub    notify.Hub[ItemResult]

	// emitTurn orders observer delivery; guarded by emitMu.
	emitMu   sync.Mutex
	emitCond *sync.Cond
	emitTurn uint64

	mu       sync.Mutex
	items    []*item
	current  *item
	genCtx   context.Context
	genStop  context.CancelFunc
	wake     chan struct{}
	running  bool
	paused   bool
	muted    bool
	volume   float64
	unlocked bool
	closed   bool
	playing  bool
	active   string
	stats    Stats
	nextTurn uint64
}

// New returns a queue that synthesises with synth, plays through player and
// looks voices up in voices. A nil voices uses [DefaultVoiceBook].
//
// Items wait in the queue until [Queue.Unlock] has succeeded once.
func New(synth tts.Provider, player audio.Player, voices *VoiceBook, opts ...Option) *Queue {
	if voices == nil {
		voices = DefaultVoiceBook()
	}
	q := &Queue{
		synth:       synth,
		player:      player,
		voices:      voices,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		replaySize:  DefaultReplaySize,
		log:         slog.Default(),
		newID:       uuid.NewString,
		wake:        make(chan struct{}),
		volume:      player.Volume(),
	}
	for _, o := range opts {
		o(q)
	}
	if q.metrics == nil {
		q.metrics = observe.DefaultMetrics()
	}
	q.replay = NewReplayBuffer(q.replaySize)
	q.emitCond = sync.NewCond(&q.emitMu)
	q.genCtx, q.genStop = context.WithCancel(context.Background())
	return q
}

// Voices returns the voice book consulted for synthesis.
func (q *Queue) Voices() *VoiceBook { return q.voices }

// Enqueue appends an utterance for narration and returns its queue ID.
// Professor is never narrated: enqueueing it, an invalid speaker or blank
// text is rejected with a logged warning and returns "".
func (q *Queue) Enqueue(text string, speaker court.Speaker, sourceID string) string {
	text = strings.TrimSpace(text)
	if !speaker.Valid() || speaker == court.Professor {
		q.log.Warn("narration: speaker is not narrated", "speaker", speaker, "source_id", sourceID)
		return ""
	}
	if text == "" {
		q.log.Warn("narration: nothing to narrate", "speaker", speaker, "source_id", sourceID)
		return ""
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.log.Warn("narration: enqueue on closed queue", "source_id", sourceID)
		return ""
	}
	it := q.newItemLocked(text, speaker, sourceID)
	q.items = append(q.items, it)
	q.stats.Total++
	q.startLocked()
	q.broadcastLocked()
	return it.id
}

// Pause holds the queue before the next item starts. The item playing keeps
// playing.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
	q.broadcastLocked()
}

// Resume releases a paused queue.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	q.broadcastLocked()
}

// Paused reports whether the queue is paused.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// SetMuted silences or restores output. The queue and the playback position
// are not affected.
func (q *Queue) SetMuted(muted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.muted == muted {
		return
	}
	q.muted = muted
	if muted {
		q.player.SetVolume(0)
	} else {
		q.player.SetVolume(q.volume)
	}
}

// Muted reports whether output is muted.
func (q *Queue) Muted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.muted
}

// Skip stops the current item and moves on to the next one. A skipped item
// counts as completed. When nothing else is queued, the playing state clears
// immediately.
func (q *Queue) Skip() {
	q.mu.Lock()
	it := q.current
	if it == nil || it.state.Terminal() {
		q.mu.Unlock()
		return
	}
	it.skipped = true
	it.cancel()
	var ev events
	if len(q.items) <= 1 {
		q.setActiveLocked("", &ev)
		q.setPlayingLocked(false, &ev)
	}
	q.unlockAndEmit(ev)
}

// Cancel stops playback, discards every queued item and releases their
// audio. Pending [Queue.WaitIdle] calls return.
func (q *Queue) Cancel() {
	q.mu.Lock()
	ev := q.cancelLocked()
	q.unlockAndEmit(ev)
}

// Replay cancels whatever is in flight and queues the replay buffer again
// with new queue IDs, reusing the cached audio. It returns the new IDs.
// Replayed items are not added to the replay buffer a second time.
func (q *Queue) Replay() []string {
	entries := q.replay.Items()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		for _, e := range entries {
			e.Clip.Release()
		}
		return nil
	}
	ev := q.cancelLocked()
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		it := q.newItemLocked(e.Text, e.Speaker, e.SourceID)
		it.replayed = true
		it.clip = e.Clip
		it.state = StateCached
		q.items = append(q.items, it)
		q.stats.Total++
		ids = append(ids, it.id)
	}
	if len(ids) > 0 {
		q.startLocked()
	}
	q.broadcastLocked()
	q.unlockAndEmit(ev)
	return ids
}

// ClearReplay empties the replay buffer. Call it when a new human turn
// begins so that replay always means the most recent model turn.
func (q *Queue) ClearReplay() {
	q.replay.Clear()
}

// ReplayItems returns the text, speaker and source of the buffered items,
// oldest first. Clip is nil in the returned entries.
func (q *Queue) ReplayItems() []ReplayEntry {
	entries := q.replay.Items()
	for i := range entries {
		entries[i].Clip.Release()
		entries[i].Clip = nil
	}
	return entries
}

// Stats returns the item counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Len returns the number of items waiting or in progress.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// WaitIdle blocks until nothing is queued or playing, or ctx is done. It
// returns immediately when the queue is already idle. Notifications for every
// finished item have been delivered when WaitIdle returns nil, so it must not
// be called from an observer callback.
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.idleLocked() {
			turn := q.nextTurn
			q.mu.Unlock()
			q.waitEmitted(turn)
			return nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

// Unlock activates the audio output. It must succeed once before queued
// items play. Repeated calls are harmless.
func (q *Queue) Unlock(ctx context.Context) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}
	if err := q.player.Unlock(ctx); err != nil {
		return fmt.Errorf("narration: unlock audio: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.unlocked = true
	q.broadcastLocked()
	return nil
}

// Unlocked reports whether [Queue.Unlock] has succeeded.
func (q *Queue) Unlocked() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unlocked
}

// IsPlaying reports whether narration is audibly in progress.
func (q *Queue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// ActiveUtterance returns the source ID of the utterance being played, or "".
func (q *Queue) ActiveUtterance() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// OnActiveUtterance registers fn for changes of the active source ID ("" when
// playback of an item ends).
func (q *Queue) OnActiveUtterance(fn func(sourceID string)) (unsubscribe func()) {
	return q.activeHub.Subscribe(fn)
}

// OnPlaying registers fn for changes of the playing state.
func (q *Queue) OnPlaying(fn func(playing bool)) (unsubscribe func()) {
	return q.playingHub.Subscribe(fn)
}

// OnItemDone registers fn for every item leaving the queue.
func (q *Queue) OnItemDone(fn func(ItemResult)) (unsubscribe func()) {
	return q.doneHub.Subscribe(fn)
}

// Close cancels all narration and rejects further items. The replay buffer
// is released.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	ev := q.cancelLocked()
	q.closed = true
	q.genStop()
	q.broadcastLocked()
	q.unlockAndEmit(ev)
	q.replay.Clear()
}

// run is the single consumer of the queue.
func (q *Queue) run() {
	for {
		it, ok := q.next()
		if !ok {
			return
		}
		q.process(it)
	}
}

// next waits until the queue may proceed and returns its head item. It
// returns false, ending the loop, once the queue is empty.
func (q *Queue) next() (*item, bool) {
	q.mu.Lock()
	for {
		if len(q.items) == 0 || q.closed {
			q.running = false
			var ev events
			q.setPlayingLocked(false, &ev)
			q.unlockAndEmit(ev)
			return nil, false
		}
		if !q.paused && q.unlocked {
			it := q.items[0]
			q.current = it
			q.mu.Unlock()
			return it, true
		}
		var ev events
		q.setPlayingLocked(false, &ev)
		wake := q.wake
		q.unlockAndEmit(ev)
		<-wake
		q.mu.Lock()
	}
}

// process synthesises (unless cached) and plays one item.
func (q *Queue) process(it *item) {
	q.startSynth(it)
	<-it.ready

	q.mu.Lock()
	var ev events
	switch {
	case it.state.Terminal():
		q.popLocked(it, &ev)
		q.unlockAndEmit(ev)
		return
	case it.skipped:
		q.finishLocked(it, StateCompleted, nil, &ev)
		q.popLocked(it, &ev)
		q.unlockAndEmit(ev)
		return
	case it.err != nil:
		q.finishLocked(it, StateFailed, it.err, &ev)
		q.popLocked(it, &ev)
		q.unlockAndEmit(ev)
		return
	}

	it.state = StatePlaying
	clip := it.clip
	q.setActiveLocked(it.sourceID, &ev)
	q.setPlayingLocked(true, &ev)
	var next *item
	if len(q.items) > 1 {
		next = q.items[1]
	}
	q.unlockAndEmit(ev)

	if next != nil {
		q.startSynth(next)
	}
	err := q.player.Play(it.ctx, clip)

	q.mu.Lock()
	ev = events{}
	if !it.state.Terminal() {
		q.setActiveLocked("", &ev)
		if err == nil || it.skipped {
			if !it.replayed {
				q.replay.Add(ReplayEntry{Text: it.text, Speaker: it.speaker, SourceID: it.sourceID, Clip: clip.Retain()})
			}
			q.finishLocked(it, StateCompleted, nil, &ev)
		} else {
			q.log.Error("narration: playback failed", "queue_id", it.id, "speaker", it.speaker, "err", err)
			q.finishLocked(it, StateFailed, err, &ev)
		}
	}
	q.popLocked(it, &ev)
	q.unlockAndEmit(ev)
}

// startSynth begins synthesis of it in the background unless it has started
// already. it.ready is closed when the outcome is known.
func (q *Queue) startSynth(it *item) {
	q.mu.Lock()
	if it.started {
		q.mu.Unlock()
		return
	}
	it.started = true
	if it.state.Terminal() || it.clip != nil {
		close(it.ready)
		q.mu.Unlock()
		return
	}
	it.state = StateSynthesizing
	q.mu.Unlock()

	go func() {
		defer close(it.ready)
		clip, attempts, err := q.synthesize(it)

		q.mu.Lock()
		defer q.mu.Unlock()
		it.attempts = attempts
		switch {
		case it.state.Terminal():
			if clip != nil {
				clip.Release()
			}
		case err != nil:
			it.err = err
		default:
			it.clip = clip
			it.state = StateCached
		}
	}()
}

// synthesize renders it, walking the speaker's voice chain on failure.
func (q *Queue) synthesize(it *item) (*audio.Clip, int, error) {
	ctx, span := observe.StartSpan(it.ctx, "narration.synthesize")
	defer span.End()

	cfg, ok := q.voices.Get(it.speaker)
	if !ok {
		q.log.Debug("narration: no voice configured, using provider default", "speaker", it.speaker)
	}
	chain := cfg.Chain()

	var lastErr error
	for attempt := range q.maxAttempts {
		if attempt > 0 {
			q.metrics.NarrationRetries.Add(ctx, 1)
			if err := sleep(ctx, q.retryDelay); err != nil {
				return nil, attempt, err
			}
		}
		voiceID := chain[min(attempt, len(chain)-1)]

		start := time.Now()
		clip, err := tts.Synthesize(ctx, q.synth, it.text, cfg.Profile(voiceID))
		q.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		if err == nil {
			return clip, attempt + 1, nil
		}
		if ctx.Err() != nil {
			return nil, attempt + 1, ctx.Err()
		}
		lastErr = err
		q.log.Warn("narration: synthesis attempt failed",
			"queue_id", it.id,
			"speaker", it.speaker,
			"voice", voiceID,
			"attempt", attempt+1,
			"err", err,
		)
	}

	span.RecordError(lastErr)
	q.log.Error("narration: synthesis exhausted, skipping item",
		"queue_id", it.id,
		"speaker", it.speaker,
		"attempts", q.maxAttempts,
		"err", lastErr,
	)
	return nil, q.maxAttempts, fmt.Errorf("narration: synthesize %s: %w", it.id, lastErr)
}

func (q *Queue) newItemLocked(text string, speaker court.Speaker, sourceID string) *item {
	ctx, cancel := context.WithCancel(q.genCtx)
	return &item{
		id:       q.newID(),
		text:     text,
		speaker:  speaker,
		sourceID: sourceID,
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
	}
}

func (q *Queue) startLocked() {
	if !q.running {
		q.running = true
		go q.run()
	}
}

// cancelLocked discards every item and starts a new generation.
func (q *Queue) cancelLocked() events {
	var ev events
	q.genStop()
	q.genCtx, q.genStop = context.WithCancel(context.Background())
	if q.current != nil {
		q.finishLocked(q.current, StateCancelled, nil, &ev)
	}
	for _, it := range q.items {
		q.finishLocked(it, StateCancelled, nil, &ev)
	}
	q.items = nil
	q.setActiveLocked("", &ev)
	q.setPlayingLocked(false, &ev)
	q.broadcastLocked()
	return ev
}

// finishLocked moves it into a terminal state exactly once and releases its
// audio.
func (q *Queue) finishLocked(it *item, state ItemState, err error, ev *events) {
	if it.state.Terminal() {
		return
	}
	it.state = state
	it.err = err
	it.cancel()
	if it.clip != nil {
		it.clip.Release()
		it.clip = nil
	}
	switch state {
	case StateCompleted:
		q.stats.Completed++
	case StateFailed:
		q.stats.Failed++
	case StateCancelled:
		q.stats.Cancelled++
	}
	q.metrics.RecordNarrationItem(context.Background(), state.String())
	ev.done = append(ev.done, it.result())
	q.broadcastLocked()
}

// popLocked removes the finished head item. Playback stops being reported
// as soon as the last item leaves.
func (q *Queue) popLocked(it *item, ev *events) {
	if len(q.items) > 0 && q.items[0] == it {
		q.items[0] = nil
		q.items = q.items[1:]
	}
	if q.current == it {
		q.current = nil
	}
	if len(q.items) == 0 {
		q.setPlayingLocked(false, ev)
	}
	q.broadcastLocked()
}

func (q *Queue) idleLocked() bool {
	return len(q.items) == 0 && (q.current == nil || q.current.state.Terminal())
}

// broadcastLocked wakes every goroutine waiting on a state change.
func (q *Queue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *Queue) setActiveLocked(id string, ev *events) {
	if q.active == id {
		return
	}
	q.active = id
	ev.active = &id
}

func (q *Queue) setPlayingLocked(playing bool, ev *events) {
	if q.playing == playing {
		return
	}
	q.playing = playing
	ev.playing = &playing
}

// events collects observer notifications produced under q.mu.
type events struct {
	active  *string
	playing *bool
	done    []ItemResult
}

// unlockAndEmit releases q.mu and delivers ev. Each batch takes a turn while
// q.mu is held, so notifications arrive in the order the state changed.
func (q *Queue) unlockAndEmit(ev events) {
	if ev.active == nil && ev.playing == nil && len(ev.done) == 0 {
		q.mu.Unlock()
		return
	}
	turn := q.nextTurn
	q.nextTurn++
	q.mu.Unlock()

	q.emitMu.Lock()
	for q.emitTurn != turn {
		q.emitCond.Wait()
	}
	q.emitMu.Unlock()

	if ev.active != nil {
		q.activeHub.Publish(*ev.active)
	}
	if ev.playing != nil {
		q.playingHub.Publish(*ev.playing)
	}
	for _, r := range ev.done {
		q.doneHub.Publish(r)
	}

	q.emitMu.Lock()
	q.emitTurn++
	q.emitCond.Broadcast()
	q.emitMu.Unlock()
}

// waitEmitted blocks until every notification batch before turn has been
// delivered.
func (q *Queue) waitEmitted(turn uint64) {
	q.emitMu.Lock()
	defer q.emitMu.Unlock()
	for q.emitTurn < turn {
		q.emitCond.Wait()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
