// Package audio defines the playback primitives used by the narration queue:
// a reference-counted PCM [Clip] that serves as the cached synthesis handle,
// and the [Player] interface that renders clips to whatever output the host
// provides.
//
// All PCM in this package is signed 16-bit little-endian, interleaved when
// stereo.
package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrLocked is returned by [Player.Play] when the player has not been
// unlocked yet. Hosts that gate autonomous playback behind a user gesture
// surface this until [Player.Unlock] succeeds.
var ErrLocked = errors.New("audio: player is locked")

// Format describes the sample rate and channel count of PCM data.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the byte rate of 16-bit PCM in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Clip is a fully synthesised piece of speech held in memory.
//
// Clips are reference counted so that the narration queue and the replay
// buffer can share one synthesis result. [NewClip] returns a clip holding one
// reference; every [Clip.Retain] must be paired with a [Clip.Release]. When the
// last reference is released the PCM buffer is dropped and [Clip.Data]
// returns nil.
type Clip struct {
	format Format

	refs atomic.Int32

	mu   sync.RWMutex
	data []byte
}

// NewClip wraps pcm in a clip holding a single reference.
func NewClip(pcm []byte, format Format) *Clip {
	c := &Clip{format: format, data: pcm}
	c.refs.Store(1)
	return c
}

// Format returns the clip's PCM format.
func (c *Clip) Format() Format { return c.format }

// Data returns the clip's PCM bytes, or nil once the clip has been released.
// The returned slice must not be modified.
func (c *Clip) Data() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}

// Len returns the number of PCM bytes still held by the clip.
func (c *Clip) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Duration returns the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	bps := c.format.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(c.Len()) * int64(time.Second) / int64(bps))
}

// Retain adds a reference and returns c for chaining.
func (c *Clip) Retain() *Clip {
	c.refs.Add(1)
	return c
}

// Release drops a reference. The PCM buffer is freed when the count reaches
// zero. Releasing more often than retaining is a no-op.
func (c *Clip) Release() {
	n := c.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		c.refs.Store(0)
	}
	c.mu.Lock()
	c.data = nil
	c.mu.Unlock()
}

// Released reports whether the clip's buffer has been freed.
func (c *Clip) Released() bool {
	return c.refs.Load() <= 0
}

// Player renders clips to an output device.
//
// Implementations must be safe for concurrent use, although the narration
// queue never calls Play concurrently.
type Player interface {
	// Unlock performs whatever activation the host requires before autonomous
	// playback is allowed. It must be idempotent.
	Unlock(ctx context.Context) error

	// Play renders clip and blocks until it has finished or ctx is cancelled.
	// Cancellation stops output immediately and returns ctx.Err().
	Play(ctx context.Context, clip *Clip) error

	// SetVolume sets the output gain in [0, 1]. Zero mutes output without
	// affecting playback timing.
	SetVolume(v float64)

	// Volume returns the current output gain.
	Volume() float64
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to avoid leaking a producer goroutine when a stream is abandoned.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

// Collect reads every chunk from ch into one buffer. It returns early with
// ctx.Err() if ctx is cancelled; in that case the rest of ch is drained in
// the background.
func Collect(ctx context.Context, ch <-chan []byte) ([]byte, error) {
	var buf []byte
	for {
		select {
		case <-ctx.Done():
			go Drain(ch)
			return nil, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return buf, nil
			}
			buf = append(buf, chunk...)
		}
	}
}
