package court

import (
	"regexp"
	"strings"
)

// Control markers of the text protocol.
const (
	// ObjectionMarker asks the orchestrator to pause the hearing for an
	// objection.
	ObjectionMarker = "[PAUSA_OBJECION]"

	// TerminationPhrase closes the simulation when it ends a response.
	TerminationPhrase = "FIN DE LA SIMULACIÓN"

	stagePrefix = "[ETAPA:"
	turnPrefix  = "[TURNO:"
)

var (
	stageRe       = regexp.MustCompile(`\[ETAPA:([^\[\]]*)\]`)
	trailingTurn  = regexp.MustCompile(`\[TURNO:([^\[\]]*)\]\s*$`)
	terminationRe = regexp.MustCompile(regexp.QuoteMeta(TerminationPhrase) + `[.!]*\s*$`)
)

// stageTrim is the markup stripped around a stage label for display.
const stageTrim = "*_#\"' \t\r\n"

// Resolution is the outcome of resolving a completed response.
type Resolution struct {
	// CleanedText is the response with stage and trailing turn directives
	// removed and surrounding whitespace trimmed.
	CleanedText string

	// NextSpeaker is the role named by the trailing turn directive, or
	// [NoSpeaker] when there is none. Legality is decided by the caller.
	NextSpeaker Speaker

	// StageLabel is the label of the last stage directive, or "".
	StageLabel string
}

// Resolve extracts the stage and next-speaker directives from a completed
// response. Every [ETAPA: ...] directive is stripped; the last one provides
// the stage label. A [TURNO: ...] directive is honoured only at the very end of
// the text; its label is matched case- and accent-insensitively while the
// TURNO keyword must be exact. A run of trailing turn directives is stripped
// entirely and the last one wins. A trailing directive with an unknown label
// is left in place, and so is everything before it.
//
// Resolve is idempotent: resolving CleanedText again yields the same text.
func Resolve(finalText string) Resolution {
	var res Resolution
	res.StageLabel = StageLabel(finalText)
	text := stageRe.ReplaceAllString(finalText, "")

	for {
		loc := trailingTurn.FindStringSubmatchIndex(text)
		if loc == nil {
			break
		}
		s, ok := labelSpeaker(text[loc[2]:loc[3]])
		if !ok {
			break
		}
		if res.NextSpeaker == NoSpeaker {
			res.NextSpeaker = s
		}
		text = text[:loc[0]]
	}
	res.CleanedText = strings.TrimSpace(text)
	return res
}

// StageLabel returns the display label of the last complete stage directive
// in text, or "" when there is none. It may be called on partial text.
func StageLabel(text string) string {
	all := stageRe.FindAllStringSubmatch(text, -1)
	for i := len(all) - 1; i >= 0; i-- {
		if label := strings.Trim(all[i][1], stageTrim); label != "" {
			return label
		}
	}
	return ""
}

// HasObjectionPause reports whether text carries the objection marker.
func HasObjectionPause(text string) bool {
	return strings.Contains(text, ObjectionMarker)
}

// StripObjectionPause removes every objection marker from text.
func StripObjectionPause(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, ObjectionMarker, ""))
}

// IsTerminated reports whether text ends with the termination phrase,
// optionally followed by periods or exclamation marks.
func IsTerminated(text string) bool {
	return terminationRe.MatchString(text)
}

// StripTermination removes a trailing termination phrase from text.
func StripTermination(text string) string {
	return strings.TrimSpace(terminationRe.ReplaceAllString(text, ""))
}

// labelSpeaker maps a directive label to its speaker using the Spanish
// protocol labels only.
func labelSpeaker(label string) (Speaker, bool) {
	key := Fold(label)
	for s := Judge; s <= Defendant; s++ {
		if Fold(speakerLabels[s]) == key {
			return s, true
		}
	}
	return NoSpeaker, false
}
