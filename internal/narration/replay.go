package narration

import (
	"sync"

	"github.com/MrWong99/juicio/internal/court"
	"github.com/MrWong99/juicio/pkg/audio"
)

// ReplayEntry is a finished narration kept for replay.
type ReplayEntry struct {
	Text     string
	Speaker  court.Speaker
	SourceID string
	Clip     *audio.Clip
}

// ReplayBuffer keeps the most recent finished narrations, oldest first, so the
// last turn can be replayed without synthesising it again.
//
// The buffer owns one reference to each entry's clip. Evicted and cleared
// entries are released.
//
// All methods are safe for concurrent use.
type ReplayBuffer struct {
	mu      sync.Mutex
	entries []ReplayEntry
	maxSize int
}

// NewReplayBuffer returns a buffer holding at most maxSize entries. A
// non-positive size disables the buffer.
func NewReplayBuffer(maxSize int) *ReplayBuffer {
	if maxSize < 0 {
		maxSize = 0
	}
	return &ReplayBuffer{
		entries: make([]ReplayEntry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends e and evicts the oldest entries beyond the size bound. The
// caller transfers one reference to e.Clip to the buffer.
func (b *ReplayBuffer) Add(e ReplayEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxSize == 0 {
		e.Clip.Release()
		return
	}
	b.entries = append(b.entries, e)
	if over := len(b.entries) - b.maxSize; over > 0 {
		for _, old := range b.entries[:over] {
			old.Clip.Release()
		}
		// Copy so evicted entries are not pinned by the backing array.
		fresh := make([]ReplayEntry, b.maxSize)
		copy(fresh, b.entries[over:])
		b.entries = fresh
	}
}

// Items returns the buffered entries oldest first. Each returned clip carries
// a reference owned by the caller, who must release it.
func (b *ReplayBuffer) Items() []ReplayEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ReplayEntry, len(b.entries))
	for i, e := range b.entries {
		e.Clip = e.Clip.Retain()
		out[i] = e
	}
	return out
}

// Clear releases and removes every entry.
func (b *ReplayBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.entries {
		e.Clip.Release()
	}
	b.entries = make([]ReplayEntry, 0, b.maxSize)
}

// Len returns the number of buffered entries.
func (b *ReplayBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
