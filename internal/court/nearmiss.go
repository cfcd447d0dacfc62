package court

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// nearMissThreshold is the minimum Jaro-Winkler similarity between a bracketed
// label and a participant label for the bracket to be reported.
const nearMissThreshold = 0.85

var bracketRe = regexp.MustCompile(`\[([^\[\]]{2,40})\]\s*:?`)

// NearMiss is a bracketed token that resembles a speaker tag without being
// one, e.g. "[Juez]:" or "[MINISTERIO PUBLICO]:".
type NearMiss struct {
	Offset  int
	Text    string
	Speaker Speaker
	Score   float64
}

// NearMisses scans text for malformed speaker tags. They are never accepted
// as tags; callers only report them so generation errors stay visible.
// Control markers and exact tags are not near misses.
func NearMisses(text string) []NearMiss {
	var out []NearMiss
	for _, loc := range bracketRe.FindAllStringSubmatchIndex(text, -1) {
		raw := strings.TrimSpace(text[loc[0]:loc[1]])
		if _, exact := tagSpeakers[raw]; exact {
			continue
		}
		label := text[loc[2]:loc[3]]
		if isControlLabel(label) {
			continue
		}
		folded := Fold(label)
		best, score := NoSpeaker, 0.0
		for _, s := range participants {
			var sc float64
			if target := Fold(s.Label()); folded == target {
				sc = 1
			} else {
				sc = matchr.JaroWinkler(folded, target, false)
			}
			if sc > score {
				best, score = s, sc
			}
		}
		if score >= nearMissThreshold {
			out = append(out, NearMiss{Offset: loc[0], Text: raw, Speaker: best, Score: score})
		}
	}
	return out
}

func isControlLabel(label string) bool {
	return label == ObjectionMarker[1:len(ObjectionMarker)-1] ||
		strings.HasPrefix(label, stagePrefix[1:]) ||
		strings.HasPrefix(label, turnPrefix[1:])
}
