package trial

import "github.com/MrWong99/juicio/internal/court"

// History is the conversation transcript of a session.
//
// Utterances before the commit point are final. Everything after it belongs
// to the stream in flight and is replaced wholesale by each [History.Splice],
// because re-parsing the accumulated text may revise earlier splits.
//
// History is not safe for concurrent use; the session guards it.
type History struct {
	items     []court.Utterance
	committed int
}

// Append adds u after the current tail. It does not move the commit point.
func (h *History) Append(u court.Utterance) {
	h.items = append(h.items, u)
}

// Splice replaces every uncommitted utterance with utts.
func (h *History) Splice(utts []court.Utterance) {
	h.items = append(h.items[:h.committed:h.committed], utts...)
}

// Commit makes every current utterance final.
func (h *History) Commit() {
	h.committed = len(h.items)
}

// Rollback drops every uncommitted utterance.
func (h *History) Rollback() {
	h.items = h.items[:h.committed]
}

// Uncommitted returns a copy of the utterances after the commit point.
func (h *History) Uncommitted() []court.Utterance {
	return clone(h.items[h.committed:])
}

// Committed returns a copy of the final utterances.
func (h *History) Committed() []court.Utterance {
	return clone(h.items[:h.committed])
}

// Snapshot returns a copy of all utterances, in-flight ones included.
func (h *History) Snapshot() []court.Utterance {
	return clone(h.items)
}

// Len returns the number of utterances, in-flight ones included.
func (h *History) Len() int { return len(h.items) }

// CommittedLen returns the position of the commit point.
func (h *History) CommittedLen() int { return h.committed }

// Reset empties the history.
func (h *History) Reset() {
	h.items = nil
	h.committed = 0
}

func clone(utts []court.Utterance) []court.Utterance {
	out := make([]court.Utterance, len(utts))
	copy(out, utts)
	return out
}
