// Package dictation turns the human's speech into pending text input.
//
// A [Dictation] streams raw PCM from an [io.Reader] into a speech-to-text
// session. Final transcripts are optionally repaired against the case
// vocabulary and appended to a pending-input buffer that the front end drains
// with [Dictation.Take] when the human submits their turn.
//
// Start and Stop are idempotent. Every Start opens a new generation; results
// that belong to a stopped generation are discarded, so nothing dictated
// before an explicit stop can leak into the next turn.
package dictation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/juicio/internal/dictation/phonetic"
	"github.com/MrWong99/juicio/pkg/notify"
	"github.com/MrWong99/juicio/pkg/provider/stt"
)

// DefaultChunkSize is the number of bytes read from the audio source per
// SendAudio call: 20 ms of 16 kHz mono 16-bit PCM.
const DefaultChunkSize = 640

// Option configures a [Dictation].
type Option func(*Dictation)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dictation) { d.log = l }
}

// WithStreamConfig sets the audio format and recognition hints passed to the
// provider on every Start.
func WithStreamConfig(cfg stt.StreamConfig) Option {
	return func(d *Dictation) { d.cfg = cfg }
}

// WithVocabulary enables phonetic repair of final transcripts against the
// given case terms. The terms are also sent to the provider as keyword
// boosts.
func WithVocabulary(terms ...string) Option {
	return func(d *Dictation) { d.vocab = phonetic.NewVocabulary(terms...) }
}

// WithMatcher overrides the phonetic matcher used with [WithVocabulary].
func WithMatcher(m *phonetic.Matcher) Option {
	return func(d *Dictation) { d.matcher = m }
}

// WithChunkSize sets the read size for the audio source. Values <= 0 are
// ignored.
func WithChunkSize(n int) Option {
	return func(d *Dictation) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

// Dictation is safe for concurrent use.
type Dictation struct {
	provider  stt.Provider
	cfg       stt.StreamConfig
	log       *slog.Logger
	matcher   *phonetic.Matcher
	vocab     *phonetic.Vocabulary
	chunkSize int

	textHub    notify.Hub[string]
	partialHub notify.Hub[string]

	mu      sync.Mutex
	gen     uint64
	running bool
	handle  stt.SessionHandle
	cancel  context.CancelFunc
	done    chan struct{}
	pending []string
}

// New creates a Dictation on top of provider.
func New(provider stt.Provider, opts ...Option) *Dictation {
	d := &Dictation{
		provider:  provider,
		log:       slog.Default(),
		matcher:   phonetic.New(),
		chunkSize: DefaultChunkSize,
		cfg: stt.StreamConfig{
			SampleRate: 16000,
			Channels:   1,
		},
	}
	for _, o := range opts {
		o(d)
	}
	if d.vocab.Len() > 0 && len(d.cfg.Keywords) == 0 {
		for _, term := range d.vocab.Terms() {
			d.cfg.Keywords = append(d.cfg.Keywords, stt.KeywordBoost{Keyword: term, Boost: 2})
		}
	}
	return d
}

// Start opens a recognition session and begins streaming source into it.
// Calling Start while already running is a no-op. The session ends when
// Stop is called, ctx is cancelled, or the provider closes it.
func (d *Dictation) Start(ctx context.Context, source io.Reader) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle, err := d.provider.StartStream(runCtx, d.cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("dictation: start stream: %w", err)
	}

	d.gen++
	d.running = true
	d.handle = handle
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.pump(runCtx, handle, source)
	go d.consume(runCtx, d.gen, handle, d.done)

	d.log.Debug("dictation: started", "generation", d.gen)
	return nil
}

// Stop ends the current session. Results still in flight are discarded.
// Calling Stop while not running is a no-op.
func (d *Dictation) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.gen++
	d.running = false
	handle, cancel := d.handle, d.cancel
	d.handle, d.cancel = nil, nil
	d.mu.Unlock()

	cancel()
	if err := handle.Close(); err != nil {
		return fmt.Errorf("dictation: close stream: %w", err)
	}
	return nil
}

// Running reports whether a session is active.
func (d *Dictation) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Pending returns the dictated text not yet taken, joined with spaces.
func (d *Dictation) Pending() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.Join(d.pending, " ")
}

// Take returns the pending text and clears the buffer.
func (d *Dictation) Take() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	text := strings.Join(d.pending, " ")
	d.pending = nil
	return text
}

// OnText registers fn for every accepted final transcript, after vocabulary
// repair.
func (d *Dictation) OnText(fn func(string)) (unsubscribe func()) {
	return d.textHub.Subscribe(fn)
}

// OnPartial registers fn for interim transcripts of the current generation.
func (d *Dictation) OnPartial(fn func(string)) (unsubscribe func()) {
	return d.partialHub.Subscribe(fn)
}

// pump copies source into the session until EOF, an error, or cancellation.
// A blocked Read is only noticed after it returns.
func (d *Dictation) pump(ctx context.Context, handle stt.SessionHandle, source io.Reader) {
	if source == nil {
		return
	}
	buf := make([]byte, d.chunkSize)
	for ctx.Err() == nil {
		n, err := source.Read(buf)
		if n > 0 {
			if sendErr := handle.SendAudio(buf[:n]); sendErr != nil {
				if !errors.Is(sendErr, stt.ErrSessionClosed) {
					d.log.Warn("dictation: send audio failed", "err", sendErr)
				}
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.log.Warn("dictation: read audio source failed", "err", err)
			}
			return
		}
	}
}

// consume reads transcripts of generation gen until both channels close or
// ctx is cancelled.
func (d *Dictation) consume(ctx context.Context, gen uint64, handle stt.SessionHandle, done chan struct{}) {
	defer close(done)
	defer d.finish(gen)

	partials, finals := handle.Partials(), handle.Finals()
	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if d.current(gen) {
				d.partialHub.Publish(tr.Text)
			}
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			d.accept(gen, tr)
		}
	}
}

func (d *Dictation) accept(gen uint64, tr stt.Transcript) {
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return
	}
	if d.vocab.Len() > 0 {
		var fixes []phonetic.Correction
		text, fixes = d.matcher.Correct(text, d.vocab)
		for _, f := range fixes {
			d.log.Debug("dictation: corrected case term",
				"original", f.Original, "corrected", f.Corrected, "confidence", f.Confidence)
		}
	}

	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		d.log.Debug("dictation: discarded stale transcript", "generation", gen, "text", text)
		return
	}
	d.pending = append(d.pending, text)
	d.mu.Unlock()

	d.textHub.Publish(text)
}

func (d *Dictation) current(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return gen == d.gen
}

// finish marks the generation as ended when the provider closed the session
// on its own.
func (d *Dictation) finish(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen == d.gen && d.running {
		d.running = false
		if d.cancel != nil {
			d.cancel()
		}
		d.handle, d.cancel = nil, nil
	}
}
