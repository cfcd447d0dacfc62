package court

import "fmt"

// TurnState is the single authoritative interaction state derived from the
// current speaker and the asynchronous loading, audio and objection signals.
// It is never stored; callers recompute it with [TurnManager.ComputeTurnState].
type TurnState int

const (
	// AITurn blocks human input while the model's roles speak.
	AITurn TurnState = iota
	// UserTurn is the only state in which the human may act.
	UserTurn
	// ObjectionPhase suspends the hearing until an objection is resolved.
	ObjectionPhase
	// Loading means a model response is in flight.
	Loading
)

// String returns the state name.
func (t TurnState) String() string {
	switch t {
	case AITurn:
		return "ai_turn"
	case UserTurn:
		return "user_turn"
	case ObjectionPhase:
		return "objection_phase"
	case Loading:
		return "loading"
	default:
		return fmt.Sprintf("turn_state(%d)", int(t))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (t TurnState) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// TurnManager holds the binding of one participant role to the human for a
// session and answers every question about who may speak. It is immutable
// after construction and safe for concurrent use.
type TurnManager struct {
	user   Speaker
	aiOnly map[Speaker]bool
}

// TurnOption configures a [TurnManager].
type TurnOption func(*turnConfig)

type turnConfig struct {
	aiOnly []Speaker
}

// WithAIOnly reserves the given roles for the model. A reserved role always
// resolves to [AITurn], even as the nominal speaker.
func WithAIOnly(speakers ...Speaker) TurnOption {
	return func(c *turnConfig) {
		c.aiOnly = append(c.aiOnly, speakers...)
	}
}

// NewTurnManager binds user to the human participant. It returns
// [ErrInvalidRole] unless user is one of [Participants], or when user is also
// listed as AI-only.
func NewTurnManager(user Speaker, opts ...TurnOption) (*TurnManager, error) {
	if !user.IsParticipant() {
		return nil, fmt.Errorf("%w: %s cannot be played by the user", ErrInvalidRole, user)
	}
	var cfg turnConfig
	for _, o := range opts {
		o(&cfg)
	}
	tm := &TurnManager{user: user, aiOnly: make(map[Speaker]bool, len(cfg.aiOnly))}
	for _, s := range cfg.aiOnly {
		if s == user {
			return nil, fmt.Errorf("%w: %s is both the user role and AI-only", ErrInvalidRole, s)
		}
		if !s.Valid() {
			return nil, fmt.Errorf("%w: AI-only role %s", ErrInvalidRole, s)
		}
		tm.aiOnly[s] = true
	}
	return tm, nil
}

// UserRole returns the role bound to the human.
func (tm *TurnManager) UserRole() Speaker { return tm.user }

// IsUserSpeaker reports whether s is the human's role.
func (tm *TurnManager) IsUserSpeaker(s Speaker) bool { return s == tm.user }

// IsAISpeaker reports whether s is spoken by the model: every declared role
// except Professor and the human's role.
func (tm *TurnManager) IsAISpeaker(s Speaker) bool {
	return s.Valid() && s != Professor && s != tm.user
}

// ValidateAIMessage reports whether the model may produce dialogue for s.
// It is false exactly when s is the human's role.
func (tm *TurnManager) ValidateAIMessage(s Speaker) bool {
	return s != tm.user
}

// ComputeTurnState derives the interaction state. The first matching rule
// wins: objection phase, loading, audio playing ([AITurn]), an AI-only or AI
// nominal speaker ([AITurn]), the user's role ([UserTurn]). Anything else,
// including [NoSpeaker], blocks input with [AITurn].
func (tm *TurnManager) ComputeTurnState(nominal Speaker, loading, audioPlaying, objection bool) TurnState {
	switch {
	case objection:
		return ObjectionPhase
	case loading:
		return Loading
	case audioPlaying:
		return AITurn
	case tm.aiOnly[nominal] || tm.IsAISpeaker(nominal):
		return AITurn
	case tm.IsUserSpeaker(nominal):
		return UserTurn
	default:
		return AITurn
	}
}

// ResolveNext applies the turn resolution guarantee to a resolved candidate:
// the user's role or an AI participant is returned unchanged. Anything else
// falls back to the user's role, including NoSpeaker and the untagged roles
// (Professor, Defendant) that the model has no tag to speak as.
func (tm *TurnManager) ResolveNext(candidate Speaker) Speaker {
	if tm.IsUserSpeaker(candidate) || (tm.IsAISpeaker(candidate) && candidate.IsParticipant()) {
		return candidate
	}
	return tm.user
}
