// Package pcm provides an [audio.Player] that writes raw 16-bit PCM to an
// [io.Writer] in real time. Pointed at a pipe into a system audio tool
// (e.g. `aplay -f S16_LE -r 24000 -c 1`) it becomes a speaker; pointed at
// [io.Discard] it still consumes wall-clock time, so narration timing stays
// realistic even without an output device.
package pcm

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/juicio/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Player = (*Player)(nil)

const (
	// DefaultFrameDuration is the amount of audio written per tick.
	DefaultFrameDuration = 20 * time.Millisecond
)

// DefaultFormat is the output format used when none is configured.
var DefaultFormat = audio.Format{SampleRate: 24000, Channels: 1}

// Option configures a [Player].
type Option func(*Player)

// WithFormat sets the output format. Clips in other formats are converted
// before they are written.
func WithFormat(f audio.Format) Option {
	return func(p *Player) {
		if f.SampleRate > 0 && f.Channels > 0 {
			p.format = f
		}
	}
}

// WithFrameDuration sets how much audio is written per tick.
func WithFrameDuration(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.frame = d
		}
	}
}

// WithoutPacing writes clips as fast as the writer accepts them. Intended for
// tests and offline rendering.
func WithoutPacing() Option {
	return func(p *Player) { p.pace = false }
}

// WithOpener defers opening the output until [Player.Unlock] is called.
// The writer passed to [New] is ignored when an opener is set.
func WithOpener(open func(ctx context.Context) (io.Writer, error)) Option {
	return func(p *Player) { p.open = open }
}

// Player writes clips to an [io.Writer], one frame per tick.
//
// All methods are safe for concurrent use.
type Player struct {
	format audio.Format
	frame  time.Duration
	pace   bool
	open   func(ctx context.Context) (io.Writer, error)

	mu       sync.Mutex
	w        io.Writer
	volume   float64
	unlocked bool
}

// New creates a Player writing to w. The player starts locked.
func New(w io.Writer, opts ...Option) *Player {
	p := &Player{
		format: DefaultFormat,
		frame:  DefaultFrameDuration,
		pace:   true,
		w:      w,
		volume: 1,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Unlock opens the output (when an opener is configured) and allows
// playback. Calling Unlock again after success is a no-op.
func (p *Player) Unlock(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unlocked {
		return nil
	}
	if p.open != nil {
		w, err := p.open(ctx)
		if err != nil {
			return fmt.Errorf("pcm: open output: %w", err)
		}
		p.w = w
	}
	if p.w == nil {
		p.w = io.Discard
	}
	p.unlocked = true
	return nil
}

// SetVolume sets the output gain, clamped to [0, 1]. The change applies from
// the next frame on, including mid-clip.
func (p *Player) SetVolume(v float64) {
	v = max(0, min(1, v))
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

// Volume returns the current output gain.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Play writes clip frame by frame until it ends or ctx is cancelled.
func (p *Player) Play(ctx context.Context, clip *audio.Clip) error {
	p.mu.Lock()
	if !p.unlocked {
		p.mu.Unlock()
		return audio.ErrLocked
	}
	w := p.w
	p.mu.Unlock()

	pcm := audio.Convert(clip.Data(), clip.Format(), p.format)
	frameBytes := int(int64(p.format.BytesPerSecond()) * int64(p.frame) / int64(time.Second))
	frameBytes -= frameBytes % (2 * p.format.Channels)
	if frameBytes <= 0 {
		frameBytes = 2 * p.format.Channels
	}

	var tick <-chan time.Time
	if p.pace {
		ticker := time.NewTicker(p.frame)
		defer ticker.Stop()
		tick = ticker.C
	}

	for off := 0; off < len(pcm); off += frameBytes {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+frameBytes, len(pcm))
		if _, err := w.Write(audio.ApplyGain(pcm[off:end], p.Volume())); err != nil {
			return fmt.Errorf("pcm: write: %w", err)
		}
		if tick == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		}
	}
	return nil
}

// Close closes the underlying writer if it implements [io.Closer].
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
