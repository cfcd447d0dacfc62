package trial

import "errors"

// Sentinel errors returned by [Session] operations. They report misuse of the
// turn protocol; model and transport failures never surface as errors but as
// system utterances in the transcript.
var (
	// ErrNotYourTurn is returned when the human acts outside of a user turn.
	ErrNotYourTurn = errors.New("trial: not the user's turn")

	// ErrNoObjection is returned by ResolveObjection outside the objection
	// phase.
	ErrNoObjection = errors.New("trial: no objection pending")

	// ErrFinished is returned once the simulation has concluded.
	ErrFinished = errors.New("trial: simulation finished")

	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("trial: already started")

	// ErrEmptyInput is returned for blank human input.
	ErrEmptyInput = errors.New("trial: empty input")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("trial: session closed")
)
