// Package mock provides a test double for the audio.Player interface.
//
// Player records every clip it is asked to play and can be configured to
// simulate playback time, failures and a locked output.
//
// Example:
//
//	p := &mock.Player{PlayDuration: 10 * time.Millisecond}
//	_ = p.Unlock(ctx)
//	_ = p.Play(ctx, clip)
//	calls := p.PlayCalls()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/juicio/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Player = (*Player)(nil)

// PlayCall records a single invocation of Play.
type PlayCall struct {
	// Data is the clip's PCM at the time Play was called.
	Data []byte
	// Volume is the player volume at the time Play was called.
	Volume float64
	// Cancelled is true if playback ended because the context was cancelled.
	Cancelled bool
}

// Player is a mock implementation of audio.Player. The zero value is usable
// and starts locked. Volume reports 1 until SetVolume is called.
type Player struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// PlayDuration is how long each Play call blocks before returning.
	PlayDuration time.Duration

	// PlayErr, if non-nil, is returned by every Play call after the
	// simulated duration.
	PlayErr error

	// UnlockErr, if non-nil, is returned by Unlock and the player stays locked.
	UnlockErr error

	// Hold, if non-nil, makes Play block until a value is received on it (or
	// the context is cancelled), instead of waiting PlayDuration.
	Hold chan struct{}

	// --- Internal state ---

	unlocked  bool
	volumeSet bool
	volume    float64
	calls     []PlayCall
	unlocks   int
	started   chan struct{}
}

// Unlock records the call and unlocks the player unless UnlockErr is set.
func (p *Player) Unlock(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlocks++
	if p.UnlockErr != nil {
		return p.UnlockErr
	}
	p.unlocked = true
	return nil
}

// Play records the clip and blocks according to the configured behaviour.
func (p *Player) Play(ctx context.Context, clip *audio.Clip) error {
	p.mu.Lock()
	if !p.unlocked {
		p.mu.Unlock()
		return audio.ErrLocked
	}
	data := append([]byte(nil), clip.Data()...)
	idx := len(p.calls)
	p.calls = append(p.calls, PlayCall{Data: data, Volume: p.volumeLocked()})
	hold, d, playErr := p.Hold, p.PlayDuration, p.PlayErr
	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}
	p.mu.Unlock()

	var done <-chan time.Time
	if hold == nil {
		if d <= 0 {
			return playErr
		}
		t := time.NewTimer(d)
		defer t.Stop()
		done = t.C
	}

	select {
	case <-ctx.Done():
		p.mu.Lock()
		p.calls[idx].Cancelled = true
		p.mu.Unlock()
		return ctx.Err()
	case <-hold:
	case <-done:
	}
	return playErr
}

// SetVolume records the requested volume.
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
	p.volumeSet = true
}

// Volume returns the last volume set, or 1 if none was set.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volumeLocked()
}

func (p *Player) volumeLocked() float64 {
	if !p.volumeSet {
		return 1
	}
	return p.volume
}

// Started returns a channel that receives a value each time Play begins. It
// is buffered by one; sends never block the player.
func (p *Player) Started() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan struct{}, 1)
	}
	return p.started
}

// PlayCalls returns a copy of all recorded Play calls.
func (p *Player) PlayCalls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// UnlockCalls returns the number of times Unlock was called.
func (p *Player) UnlockCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unlocks
}

// Reset clears all recorded calls. Configuration and lock state are kept.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
	p.unlocks = 0
}
