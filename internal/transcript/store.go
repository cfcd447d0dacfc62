// Package transcript archives the utterances of a trial session.
//
// The trial session appends one [Entry] per committed utterance: the human's
// own lines, the AI cast's dialogue once an exchange resolves, synthetic
// system messages produced by error handling, and the Professor's advisory
// answers. Archiving is best effort; a failing store never blocks the trial.
//
// Two implementations exist: [MemStore] for tests and single-process runs, and
// the PostgreSQL store in the postgres subpackage.
package transcript

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/juicio/internal/court"
)

// Kind classifies a transcript entry.
type Kind string

const (
	// KindDialogue is an utterance spoken in the hearing, by the human or the
	// AI cast.
	KindDialogue Kind = "dialogue"

	// KindSystem is a synthetic message injected by error handling.
	KindSystem Kind = "system"

	// KindAdvisory is an out-of-band answer from the Professor.
	KindAdvisory Kind = "advisory"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindDialogue, KindSystem, KindAdvisory:
		return true
	}
	return false
}

// Entry is a single archived utterance.
type Entry struct {
	// Seq is the position of the entry within its session, assigned by the
	// store on Append. Values start at 1.
	Seq int64

	// UtteranceID is the ID of the archived utterance.
	UtteranceID string

	// Speaker is the role that spoke.
	Speaker court.Speaker

	// Kind classifies the entry.
	Kind Kind

	// Text is the utterance content.
	Text string

	// CreatedAt is set by the store when zero.
	CreatedAt time.Time
}

// Store persists the transcript of trial sessions.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds e to the end of the transcript of sessionID. The Seq field
	// of e is ignored.
	Append(ctx context.Context, sessionID string, e Entry) error

	// List returns the transcript of sessionID in append order. An unknown
	// session yields an empty (non-nil) slice.
	List(ctx context.Context, sessionID string) ([]Entry, error)
}

// Validate checks e for fields every store requires.
func (e Entry) Validate() error {
	if !e.Speaker.Valid() {
		return fmt.Errorf("transcript: entry %q: %w", e.UtteranceID, court.ErrInvalidRole)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("transcript: entry %q: unknown kind %q", e.UtteranceID, e.Kind)
	}
	return nil
}

// Compile-time interface assertion.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store].
type MemStore struct {
	mu       sync.Mutex
	sessions map[string][]Entry
	now      func() time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string][]Entry),
		now:      time.Now,
	}
}

// Append implements [Store].
func (m *MemStore) Append(ctx context.Context, sessionID string, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.sessions[sessionID]
	e.Seq = int64(len(entries)) + 1
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	m.sessions[sessionID] = append(entries, e)
	return nil
}

// List implements [Store].
func (m *MemStore) List(ctx context.Context, sessionID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.sessions[sessionID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}
