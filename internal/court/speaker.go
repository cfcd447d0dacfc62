// Package court holds the courtroom domain model of a juicio trial: the fixed
// set of speakers, the turn-ownership rules binding one of them to the human
// participant, and the text protocol the model uses to attribute dialogue
// (speaker tags, stage and turn directives, control markers).
//
// Everything in this package is deterministic and free of I/O. The streaming
// [Parser] and the [Resolve] function are pure functions of their input text so
// they can be re-run on every chunk of a model response.
package court

import (
	"errors"
	"fmt"
)

// ErrInvalidRole is returned when a role cannot be bound to the human
// participant or a label does not name a known speaker.
var ErrInvalidRole = errors.New("court: invalid role")

// Speaker is one of the fixed courtroom roles. The zero value [NoSpeaker]
// means "undecided" and is never a participant.
type Speaker int

const (
	NoSpeaker Speaker = iota
	Judge
	Prosecutor
	Defense
	Witness
	Clerk
	// Professor answers advisory questions out of band. It never takes a
	// turn and is never narrated.
	Professor
	// Defendant is reserved; it has no tag and is treated as an AI role.
	Defendant
)

var speakerLabels = [...]string{
	NoSpeaker:  "",
	Judge:      "JUEZ",
	Prosecutor: "MINISTERIO PÚBLICO",
	Defense:    "DEFENSA",
	Witness:    "TESTIGO",
	Clerk:      "SECRETARIO",
	Professor:  "PROFESOR",
	Defendant:  "ACUSADO",
}

var speakerNames = [...]string{
	NoSpeaker:  "none",
	Judge:      "judge",
	Prosecutor: "prosecutor",
	Defense:    "defense",
	Witness:    "witness",
	Clerk:      "clerk",
	Professor:  "professor",
	Defendant:  "defendant",
}

// participants are the roles that take turns and carry a speaker tag.
var participants = []Speaker{Judge, Prosecutor, Defense, Witness, Clerk}

// Participants returns the five turn-taking roles in courtroom order.
// The returned slice is a copy.
func Participants() []Speaker {
	return append([]Speaker(nil), participants...)
}

// Valid reports whether s is one of the declared speakers (not [NoSpeaker]).
func (s Speaker) Valid() bool {
	return s > NoSpeaker && s <= Defendant
}

// IsParticipant reports whether s takes turns in the hearing, i.e. whether it
// may be bound to the human.
func (s Speaker) IsParticipant() bool {
	return s >= Judge && s <= Clerk
}

// Label returns the Spanish role label used in the text protocol, e.g.
// "MINISTERIO PÚBLICO".
func (s Speaker) Label() string {
	if !s.Valid() {
		return ""
	}
	return speakerLabels[s]
}

// Tag returns the exact speaker tag ("[JUEZ]:") the model must emit before a
// block of dialogue. Professor, Defendant and NoSpeaker have no tag.
func (s Speaker) Tag() string {
	if !s.IsParticipant() {
		return ""
	}
	return "[" + speakerLabels[s] + "]:"
}

// String returns the lower-case English name of the role.
func (s Speaker) String() string {
	if s < NoSpeaker || s > Defendant {
		return fmt.Sprintf("speaker(%d)", int(s))
	}
	return speakerNames[s]
}

// MarshalText implements [encoding.TextMarshaler] using the English name.
func (s Speaker) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, int(s))
	}
	return []byte(speakerNames[s]), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler] via [ParseSpeaker].
func (s *Speaker) UnmarshalText(text []byte) error {
	v, err := ParseSpeaker(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSpeaker resolves a role label. Both the Spanish protocol label and the
// English name are accepted, compared case- and accent-insensitively, so
// "Ministerio Publico", "ministerio público" and "prosecutor" all yield
// [Prosecutor].
func ParseSpeaker(label string) (Speaker, error) {
	key := Fold(label)
	if key == "" {
		return NoSpeaker, fmt.Errorf("%w: empty label", ErrInvalidRole)
	}
	if s, ok := foldedLabels[key]; ok {
		return s, nil
	}
	return NoSpeaker, fmt.Errorf("%w: %q", ErrInvalidRole, label)
}

// foldedLabels maps folded Spanish labels and English names to speakers.
var foldedLabels = func() map[string]Speaker {
	m := make(map[string]Speaker, 2*len(speakerLabels))
	for s := Judge; s <= Defendant; s++ {
		m[Fold(speakerLabels[s])] = s
		m[Fold(speakerNames[s])] = s
	}
	return m
}()

// Utterance is one speaker-attributed block of dialogue.
type Utterance struct {
	ID      string
	Speaker Speaker
	Text    string
}
