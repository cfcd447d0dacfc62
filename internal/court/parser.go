package court

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/MrWong99/juicio/internal/observe"
)

var (
	// tagRe matches exactly the five participant tags.
	tagRe = func() *regexp.Regexp {
		alts := make([]string, 0, len(participants))
		for _, s := range participants {
			alts = append(alts, regexp.QuoteMeta(s.Tag()))
		}
		return regexp.MustCompile(strings.Join(alts, "|"))
	}()

	// controlRe matches every in-band control marker hidden from dialogue.
	controlRe = regexp.MustCompile(regexp.QuoteMeta(ObjectionMarker) + `|\[ETAPA:[^\[\]]*\]|\[TURNO:[^\[\]]*\]`)

	tagSpeakers = func() map[string]Speaker {
		m := make(map[string]Speaker, len(participants))
		for _, s := range participants {
			m[s.Tag()] = s
		}
		return m
	}()

	// pendingTokens are the tokens whose incomplete prefix is held back at
	// the end of a partial stream.
	pendingTokens = func() []string {
		t := []string{ObjectionMarker, stagePrefix, turnPrefix}
		for _, s := range participants {
			t = append(t, s.Tag())
		}
		return t
	}()
)

// Parser splits the accumulated text of one model response into
// speaker-attributed utterances. [Parser.Parse] is a pure function of its
// input apart from logging: it may be re-run on every chunk and the utterance
// list it returns for a given text is always the same.
//
// A Parser belongs to a single response stream. Warnings about impersonation
// and malformed tags are emitted once per occurrence across repeated parses
// of the same stream.
type Parser struct {
	tm       *TurnManager
	streamID string
	log      *slog.Logger
	metrics  *observe.Metrics

	mu           sync.Mutex
	impersonated map[int]bool
	nearMissed   map[int]bool
}

// ParserOption configures a [Parser].
type ParserOption func(*Parser)

// WithStreamID sets the prefix of the utterance IDs the parser produces.
// Default: "stream".
func WithStreamID(id string) ParserOption {
	return func(p *Parser) { p.streamID = id }
}

// WithLogger sets the logger used for protocol warnings.
func WithLogger(l *slog.Logger) ParserOption {
	return func(p *Parser) { p.log = l }
}

// WithMetrics sets the metrics the parser reports impersonations and
// near-miss tags to.
func WithMetrics(m *observe.Metrics) ParserOption {
	return func(p *Parser) { p.metrics = m }
}

// NewParser returns a parser guarding tm's user role against impersonation.
func NewParser(tm *TurnManager, opts ...ParserOption) *Parser {
	p := &Parser{
		tm:           tm,
		streamID:     "stream",
		log:          slog.Default(),
		impersonated: make(map[int]bool),
		nearMissed:   make(map[int]bool),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// StreamID returns the utterance ID prefix.
func (p *Parser) StreamID() string { return p.streamID }

// block is one tagged segment of the content.
type block struct {
	offset  int
	speaker Speaker
	text    string
}

// Parse converts accumulated response text into an ordered utterance list.
//
// Only exact participant tags split the text. Control markers are removed
// from the dialogue first, and a trailing partial tag or marker is held back
// until it completes. Blocks tagged with the user's role are discarded. Text
// before the first accepted tag is attributed to that tag's speaker. A tag at
// the very end with no content yet yields a placeholder utterance with empty
// text; an empty tag elsewhere is skipped. Parse returns nil when no tag has
// been seen.
//
// Utterance IDs are "<streamID>-<index>".
func (p *Parser) Parse(accumulated string) []Utterance {
	content := controlRe.ReplaceAllString(holdBack(accumulated), "")
	p.reportNearMisses(content)

	locs := tagRe.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return nil
	}

	var (
		out   []Utterance
		first = NoSpeaker
	)
	for i, loc := range locs {
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		b := block{
			offset:  loc[0],
			speaker: tagSpeakers[content[loc[0]:loc[1]]],
			text:    strings.TrimSpace(content[loc[1]:end]),
		}
		if !p.tm.ValidateAIMessage(b.speaker) {
			p.reportImpersonation(b)
			continue
		}
		// The preamble belongs to the first accepted tag, not to an
		// impersonated one that precedes it.
		if first == NoSpeaker {
			first = b.speaker
		}
		if b.text == "" && i+1 < len(locs) {
			continue
		}
		out = append(out, Utterance{Speaker: b.speaker, Text: b.text})
	}

	if preamble := strings.TrimSpace(content[:locs[0][0]]); preamble != "" && first != NoSpeaker {
		if len(out) > 0 && out[0].Speaker == first {
			out[0].Text = joinText(preamble, out[0].Text)
		} else {
			out = append([]Utterance{{Speaker: first, Text: preamble}}, out...)
		}
	}

	for i := range out {
		out[i].ID = fmt.Sprintf("%s-%d", p.streamID, i)
	}
	return out
}

func (p *Parser) reportImpersonation(b block) {
	p.mu.Lock()
	seen := p.impersonated[b.offset]
	p.impersonated[b.offset] = true
	p.mu.Unlock()
	if seen {
		return
	}
	p.log.Warn("court: discarded dialogue generated for the user's role",
		"stream", p.streamID,
		"speaker", b.speaker,
		"offset", b.offset,
	)
	if p.metrics != nil {
		p.metrics.RecordImpersonation(context.Background(), b.speaker.String())
	}
}

func (p *Parser) reportNearMisses(content string) {
	misses := NearMisses(content)
	if len(misses) == 0 {
		return
	}
	p.mu.Lock()
	fresh := misses[:0]
	for _, m := range misses {
		if !p.nearMissed[m.Offset] {
			p.nearMissed[m.Offset] = true
			fresh = append(fresh, m)
		}
	}
	p.mu.Unlock()
	for _, m := range fresh {
		p.log.Warn("court: malformed speaker tag treated as dialogue",
			"stream", p.streamID,
			"text", m.Text,
			"closest", m.Speaker,
			"score", m.Score,
		)
		if p.metrics != nil {
			p.metrics.ParserNearMisses.Add(context.Background(), 1)
		}
	}
}

// holdBack drops a trailing incomplete tag or control marker so that it is
// neither shown as dialogue nor mistaken for one.
func holdBack(text string) string {
	i := strings.LastIndexByte(text, '[')
	if i < 0 {
		return text
	}
	suffix := text[i:]
	for _, tok := range pendingTokens {
		if len(suffix) < len(tok) && strings.HasPrefix(tok, suffix) {
			return text[:i]
		}
	}
	if (strings.HasPrefix(suffix, stagePrefix) || strings.HasPrefix(suffix, turnPrefix)) &&
		!strings.Contains(suffix, "]") {
		return text[:i]
	}
	return text
}

func joinText(a, b string) string {
	if b == "" {
		return a
	}
	return a + " " + b
}

// FallbackSpeaker is the role that voices protocol-violation fallbacks and
// system messages: the Judge, or the Clerk when the user plays the Judge.
func FallbackSpeaker(tm *TurnManager) Speaker {
	if tm.UserRole() == Judge {
		return Clerk
	}
	return Judge
}

// FallbackUtterance attributes untagged response text to [FallbackSpeaker] so
// that content is never lost when the model ignores the tag protocol. Only the
// text before the first speaker tag is used; tagged blocks that the parser
// rejected stay rejected.
func FallbackUtterance(id, text string, tm *TurnManager) Utterance {
	content := controlRe.ReplaceAllString(text, "")
	if loc := tagRe.FindStringIndex(content); loc != nil {
		content = content[:loc[0]]
	}
	return Utterance{
		ID:      id,
		Speaker: FallbackSpeaker(tm),
		Text:    strings.TrimSpace(content),
	}
}
