package narration

import (
	"context"
	"fmt"

	"github.com/MrWong99/juicio/internal/court"
	"github.com/MrWong99/juicio/pkg/audio"
)

// ItemState is the lifecycle state of a narration item.
//
//	Queued → Synthesizing → Cached → Playing → Completed
//
// Failed and Cancelled are absorbing.
type ItemState int

const (
	StateQueued ItemState = iota
	StateSynthesizing
	StateCached
	StatePlaying
	StateCompleted
	StateFailed
	StateCancelled
)

// String returns the state name.
func (s ItemState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateSynthesizing:
		return "synthesizing"
	case StateCached:
		return "cached"
	case StatePlaying:
		return "playing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("item_state(%d)", int(s))
	}
}

// Terminal reports whether s is a final state.
func (s ItemState) Terminal() bool {
	return s >= StateCompleted
}

// ItemResult describes an item that left the queue. Every enqueued item
// produces exactly one ItemResult.
type ItemResult struct {
	QueueID  string
	SourceID string
	Speaker  court.Speaker
	State    ItemState

	// Skipped is set when a completed item was cut short by Skip.
	Skipped bool

	// Attempts is the number of synthesis attempts made.
	Attempts int

	// Err is the last synthesis or playback error of a failed item.
	Err error
}

// Stats counts items by outcome. Once the queue is idle,
// Completed+Failed+Cancelled equals Total.
type Stats struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
}

// item is one queued narration. Fields after ctx are guarded by Queue.mu.
type item struct {
	id       string
	text     string
	speaker  court.Speaker
	sourceID string
	replayed bool

	ctx    context.Context
	cancel context.CancelFunc

	// ready is closed once synthesis has finished, successfully or not.
	ready chan struct{}

	state    ItemState
	started  bool
	skipped  bool
	clip     *audio.Clip
	attempts int
	err      error
}

func (it *item) result() ItemResult {
	return ItemResult{
		QueueID:  it.id,
		SourceID: it.sourceID,
		Speaker:  it.speaker,
		State:    it.state,
		Skipped:  it.skipped,
		Attempts: it.attempts,
		Err:      it.err,
	}
}
