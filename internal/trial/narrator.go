package trial

import (
	"context"

	"github.com/MrWong99/juicio/internal/court"
	"github.com/MrWong99/juicio/internal/narration"
)

// Narrator is the part of the narration queue a session drives.
//
// The session may call Enqueue and Cancel while holding its own lock, so
// OnPlaying callbacks must not call back into the session synchronously.
type Narrator interface {
	Enqueue(text string, speaker court.Speaker, sourceID string) string
	Cancel()
	ClearReplay()
	IsPlaying() bool
	OnPlaying(fn func(playing bool)) (unsubscribe func())
	WaitIdle(ctx context.Context) error
}

var _ Narrator = (*narration.Queue)(nil)

// silentNarrator is used when a session runs without narration.
type silentNarrator struct{}

func (silentNarrator) Enqueue(string, court.Speaker, string) string { return "" }
func (silentNarrator) Cancel()                                      {}
func (silentNarrator) ClearReplay()                                 {}
func (silentNarrator) IsPlaying() bool                              { return false }
func (silentNarrator) OnPlaying(func(bool)) func()                  { return func() {} }
func (silentNarrator) WaitIdle(context.Context) error               { return nil }
