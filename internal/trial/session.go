// Package trial orchestrates a simulated hearing.
//
// A [Session] owns the conversation history and the turn state. It streams
// model responses through the court parser, hands finished utterances to the
// narration queue, resolves who speaks next and guarantees that a failed or
// malformed exchange always hands the floor back to the human. Every action
// that supersedes in-flight work advances an epoch; results of an older epoch
// are dropped.
package trial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/juicio/internal/court"
	"github.com/MrWong99/juicio/internal/observe"
	"github.com/MrWong99/juicio/internal/transcript"
	"github.com/MrWong99/juicio/pkg/notify"
	"github.com/MrWong99/juicio/pkg/provider/llm"
)

// Defaults applied by [New].
const (
	DefaultResponseTimeout = 45 * time.Second
	DefaultMaxAutoTurns    = 4
)

// System messages injected when an exchange yields nothing usable.
const (
	msgTransportError = "El tribunal tuvo un problema técnico y no pudo continuar. Puede retomar la palabra."
	msgTimeout        = "El tribunal no recibió respuesta a tiempo. Puede retomar la palabra."
	msgEmptyResponse  = "El tribunal no obtuvo una intervención válida. Puede retomar la palabra."
)

// Exchange outcomes recorded in metrics.
const (
	outcomeOK        = "ok"
	outcomeFallback  = "fallback"
	outcomeEmpty     = "empty"
	outcomeError     = "error"
	outcomeTimeout   = "timeout"
	outcomeObjection = "objection"
	outcomeFinished  = "finished"
	outcomeStale     = "stale"
)

var errStale = errors.New("trial: stale exchange")

// Config describes a session.
type Config struct {
	// UserRole is the participant played by the human.
	UserRole court.Speaker

	// AIOnly reserves additional roles for the model.
	AIOnly []court.Speaker

	// CaseBrief is passed to the prompter.
	CaseBrief string

	// ResponseTimeout bounds a single model exchange. Default: 45s.
	ResponseTimeout time.Duration

	// MaxAutoTurns caps consecutive exchanges that hand the floor to another
	// AI role before the human gets it back. Default: 4.
	MaxAutoTurns int

	// ContextTokens is the history budget, in estimated tokens, above which
	// old utterances are summarised. Zero disables summarisation.
	ContextTokens int
}

// Option configures a [Session].
type Option func(*Session)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metrics. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithPrompter replaces the [DefaultPrompter].
func WithPrompter(p Prompter) Option {
	return func(s *Session) { s.prompter = p }
}

// WithSummariser replaces the LLM summariser used when
// Config.ContextTokens is set.
func WithSummariser(sum Summariser) Option {
	return func(s *Session) { s.summariser = sum }
}

// WithTranscript archives committed utterances in store.
func WithTranscript(store transcript.Store) Option {
	return func(s *Session) { s.store = store }
}

// WithSessionID sets the initial session ID. Default: a random UUID.
func WithSessionID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithIDFunc sets the generator for utterance and stream IDs.
func WithIDFunc(fn func() string) Option {
	return func(s *Session) { s.newID = fn }
}

// Advisory is a question to the Professor and its answer.
type Advisory struct {
	ID       string
	Question string
	Answer   string
}

// Snapshot is a consistent view of a session.
type Snapshot struct {
	ID          string
	State       court.TurnState
	UserRole    court.Speaker
	NextSpeaker court.Speaker
	Utterances  []court.Utterance
	Advisories  []Advisory
	Stage       string
	Started     bool
	Loading     bool
	Objection   bool
	Finished    bool
	Narrating   bool
	Epoch       uint64
}

// Session is safe for concurrent use.
type Session struct {
	cfg        Config
	tm         *court.TurnManager
	llm        llm.Provider
	narrator   Narrator
	prompter   Prompter
	summariser Summariser
	store      transcript.Store
	log        *slog.Logger
	metrics    *observe.Metrics
	newID      func() string

	changes  notify.Hub[Snapshot]
	kick     chan struct{}
	stop     chan struct{}
	stopped  chan struct{}
	playing  atomic.Bool
	unsubPly func()

	archiveMu sync.Mutex

	mu         sync.Mutex
	id         string
	history    History
	advisories []Advisory
	system     map[string]bool
	summaries  []string
	summarised int
	archived   int
	nominal    court.Speaker
	stage      string
	started    bool
	loading    bool
	objection  bool
	finished   bool
	closed     bool
	epoch      uint64
	cancelRun  context.CancelFunc
}

// New creates a session. A nil narrator runs the trial silently.
func New(cfg Config, provider llm.Provider, narrator Narrator, opts ...Option) (*Session, error) {
	tm, err := court.NewTurnManager(cfg.UserRole, court.WithAIOnly(cfg.AIOnly...))
	if err != nil {
		return nil, fmt.Errorf("trial: %w", err)
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.MaxAutoTurns <= 0 {
		cfg.MaxAutoTurns = DefaultMaxAutoTurns
	}
	if narrator == nil {
		narrator = silentNarrator{}
	}

	s := &Session{
		cfg:      cfg,
		tm:       tm,
		llm:      provider,
		narrator: narrator,
		prompter: DefaultPrompter{},
		log:      slog.Default(),
		metrics:  observe.DefaultMetrics(),
		newID:    uuid.NewString,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		system:   make(map[string]bool),
	}
	for _, o := range opts {
		o(s)
	}
	if s.id == "" {
		s.id = s.newID()
	}
	if s.summariser == nil && cfg.ContextTokens > 0 {
		s.summariser = NewLLMSummariser(provider)
	}

	s.playing.Store(narrator.IsPlaying())
	s.unsubPly = narrator.OnPlaying(func(playing bool) {
		s.playing.Store(playing)
		s.notify()
	})
	go s.publish()
	return s, nil
}

// ID returns the current session ID. It changes on [Session.Reset].
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// TurnManager returns the session's role binding.
func (s *Session) TurnManager() *court.TurnManager { return s.tm }

// State returns the authoritative turn state.
func (s *Session) State() court.TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:          s.id,
		State:       s.stateLocked(),
		UserRole:    s.tm.UserRole(),
		NextSpeaker: s.nominal,
		Utterances:  s.history.Snapshot(),
		Advisories:  append([]Advisory(nil), s.advisories...),
		Stage:       s.stage,
		Started:     s.started,
		Loading:     s.loading,
		Objection:   s.objection,
		Finished:    s.finished,
		Narrating:   s.playing.Load(),
		Epoch:       s.epoch,
	}
}

// OnChange registers fn for state changes. Bursts of changes may be
// coalesced into one snapshot. fn runs on a dedicated goroutine and may call
// any Session method except Close.
func (s *Session) OnChange(fn func(Snapshot)) (unsubscribe func()) {
	return s.changes.Subscribe(fn)
}

// Start runs the opening exchange. It blocks until the model has finished
// and the next speaker is resolved.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()
	s.notify()

	s.converse(ctx, epoch, true)
	return nil
}

// Submit commits the human's utterance and runs the exchanges that follow
// it. It is only allowed in [court.UserTurn]. Pending narration and the
// replay buffer are discarded.
func (s *Session) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if st := s.stateLocked(); st != court.UserTurn {
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotYourTurn, st)
	}
	epoch := s.humanLocked(text)
	s.mu.Unlock()
	s.notify()
	s.archive(ctx)

	s.converse(ctx, epoch, false)
	return nil
}

// ResolveObjection answers a pending objection. contest reports whether the
// human objects (or, as judge, sustains the objection); grounds is appended
// to the human's utterance.
func (s *Session) ResolveObjection(ctx context.Context, contest bool, grounds string) error {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.objection || s.loading {
		s.mu.Unlock()
		return ErrNoObjection
	}
	s.objection = false
	epoch := s.humanLocked(objectionText(s.tm.UserRole(), contest, grounds))
	s.mu.Unlock()
	s.notify()
	s.archive(ctx)

	s.converse(ctx, epoch, false)
	return nil
}

// AskProfessor asks the out-of-band advisor. The answer never enters the
// turn flow or narration; it is kept in the advisory log.
func (s *Session) AskProfessor(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyInput
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	req := s.prompter.Advisory(s.promptInputLocked(false), question)
	s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "trial.advisory")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ResponseTimeout)
	defer cancel()

	resp, err := s.llm.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("trial: ask professor: %w", err)
	}
	answer := ""
	if resp != nil {
		answer = strings.TrimSpace(resp.Content)
	}

	adv := Advisory{ID: s.newID(), Question: question, Answer: answer}
	s.mu.Lock()
	s.advisories = append(s.advisories, adv)
	id := s.id
	s.mu.Unlock()
	s.notify()

	if s.store != nil {
		s.archiveMu.Lock()
		defer s.archiveMu.Unlock()
		actx, acancel := archiveContext(ctx)
		defer acancel()
		for _, e := range []transcript.Entry{
			{UtteranceID: adv.ID, Speaker: s.tm.UserRole(), Kind: transcript.KindAdvisory, Text: question},
			{UtteranceID: adv.ID, Speaker: court.Professor, Kind: transcript.KindAdvisory, Text: answer},
		} {
			if err := s.store.Append(actx, id, e); err != nil {
				s.log.Warn("trial: archive advisory failed", "err", err)
			}
		}
	}
	return answer, nil
}

// Reset discards the whole trial and starts a new session ID. In-flight
// exchanges become stale.
func (s *Session) Reset() {
	s.mu.Lock()
	s.advanceLocked()
	s.history.Reset()
	s.advisories = nil
	clear(s.system)
	s.summaries = nil
	s.summarised = 0
	s.archived = 0
	s.nominal = court.NoSpeaker
	s.stage = ""
	s.started, s.loading, s.objection, s.finished = false, false, false, false
	s.id = s.newID()
	s.mu.Unlock()
	s.notify()
}

// WaitNarration blocks until queued narration has played.
func (s *Session) WaitNarration(ctx context.Context) error {
	return s.narrator.WaitIdle(ctx)
}

// Close stops the session. In-flight exchanges become stale and further
// operations fail with [ErrClosed]. The narrator is not closed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.advanceLocked()
	s.mu.Unlock()

	s.unsubPly()
	close(s.stop)
	<-s.stopped
}

func (s *Session) usableLocked() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.finished:
		return ErrFinished
	}
	return nil
}

func (s *Session) stateLocked() court.TurnState {
	return s.tm.ComputeTurnState(s.nominal, s.loading, s.playing.Load(), s.objection)
}

// advanceLocked supersedes in-flight work.
func (s *Session) advanceLocked() uint64 {
	s.epoch++
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.narrator.Cancel()
	s.narrator.ClearReplay()
	s.history.Rollback()
	return s.epoch
}

// humanLocked commits a human utterance and opens a new epoch.
func (s *Session) humanLocked(text string) uint64 {
	epoch := s.advanceLocked()
	s.history.Append(court.Utterance{ID: s.newID(), Speaker: s.tm.UserRole(), Text: text})
	s.history.Commit()
	s.nominal = court.NoSpeaker
	return epoch
}

func objectionText(user court.Speaker, contest bool, grounds string) string {
	var text string
	switch {
	case user == court.Judge && contest:
		text = "Ha lugar a la objeción."
	case user == court.Judge:
		text = "No ha lugar a la objeción. Continúe."
	case contest:
		text = "¡Objeción, su señoría!"
	default:
		text = "Sin objeción, su señoría."
	}
	if g := strings.TrimSpace(grounds); g != "" {
		text += " " + g
	}
	return text
}

// converse runs exchanges until the floor returns to the human, the hearing
// pauses or ends, or the auto-turn cap is hit.
func (s *Session) converse(ctx context.Context, epoch uint64, opening bool) {
	for turn := 1; ; turn++ {
		again, err := s.exchange(ctx, epoch, opening)
		if err != nil || !again {
			return
		}
		opening = false
		if turn >= s.cfg.MaxAutoTurns {
			s.mu.Lock()
			if epoch == s.epoch {
				s.log.Debug("trial: auto-turn cap reached, returning the floor", "turns", turn)
				s.nominal = s.tm.UserRole()
			}
			s.mu.Unlock()
			s.notify()
			return
		}
	}
}

// exchange streams one model response. It reports whether another AI role
// holds the floor afterwards. errStale means the epoch moved on.
func (s *Session) exchange(parent context.Context, epoch uint64, opening bool) (bool, error) {
	s.compact(parent, epoch)

	ctx, span := observe.StartSpan(parent, "trial.exchange",
		trace.WithAttributes(attribute.Int64("trial.epoch", int64(epoch))))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ResponseTimeout)
	defer cancel()

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return false, errStale
	}
	s.cancelRun = cancel
	s.loading = true
	req := s.prompter.Build(s.promptInputLocked(opening))
	streamID := s.newID()
	s.mu.Unlock()
	s.notify()

	parser := court.NewParser(s.tm,
		court.WithStreamID(streamID),
		court.WithLogger(s.log),
		court.WithMetrics(s.metrics),
	)
	log := observe.WithTrace(ctx, s.log).With("stream", streamID)

	start := time.Now()
	var (
		acc      strings.Builder
		enqueued int
		err      error
	)
	stream, err := s.llm.StreamCompletion(ctx, req)
	if err == nil {
	recv:
		for {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				go drain(stream)
				break recv
			case c, ok := <-stream:
				if !ok {
					break recv
				}
				acc.WriteString(c.Text)
				if c.FinishReason == llm.FinishError {
					err = c.Err
					if err == nil {
						err = llm.ErrStream
					}
					go drain(stream)
					break recv
				}
				if !s.progress(epoch, parser, acc.String(), &enqueued) {
					go drain(stream)
					break recv
				}
			}
		}
	}
	if err == nil && ctx.Err() != nil {
		// The provider closed the stream because ctx ended.
		err = ctx.Err()
	}
	s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		log.Debug("trial: dropped stale exchange result", "epoch", epoch)
		s.metrics.RecordExchange(ctx, outcomeStale)
		return false, errStale
	}
	s.cancelRun = nil

	var (
		outcome string
		again   bool
	)
	if err != nil {
		outcome = outcomeError
		text := msgTransportError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome, text = outcomeTimeout, msgTimeout
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("trial: model exchange failed", "err", err, "outcome", outcome)
		s.failLocked(parser.Parse(acc.String()), enqueued, text)
	} else {
		outcome, again = s.resolveLocked(parser, acc.String(), enqueued)
	}
	s.loading = false
	s.mu.Unlock()
	s.notify()

	s.metrics.RecordExchange(ctx, outcome)
	span.SetAttributes(attribute.String("trial.outcome", outcome))
	s.archive(parent)
	return again, nil
}

// progress applies a partial stream. It returns false when the exchange is
// stale.
func (s *Session) progress(epoch uint64, parser *court.Parser, text string, enqueued *int) bool {
	utts := parser.Parse(text)

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return false
	}
	s.history.Splice(utts)
	if label := court.StageLabel(text); label != "" {
		s.stage = label
	}
	// Every utterance but the last is complete once the next tag is visible.
	for ; *enqueued < len(utts)-1; *enqueued++ {
		s.narrateLocked(utts[*enqueued])
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// resolveLocked commits a completed response and decides who speaks next.
func (s *Session) resolveLocked(parser *court.Parser, text string, enqueued int) (outcome string, again bool) {
	utts := parser.Parse(text)
	outcome = outcomeOK
	if len(utts) == 0 {
		if fb := court.FallbackUtterance(parser.StreamID()+"-fallback", text, s.tm); fb.Text != "" {
			utts = []court.Utterance{fb}
			outcome = outcomeFallback
			s.log.Warn("trial: response carried no usable speaker tag, attributed to fallback speaker",
				"speaker", fb.Speaker)
		}
	}

	terminated := court.IsTerminated(text)
	if terminated && len(utts) > 0 {
		last := &utts[len(utts)-1]
		last.Text = strings.TrimSpace(court.StripTermination(last.Text))
		if last.Text == "" {
			utts = utts[:len(utts)-1]
		}
	}

	// A trailing tag with no text yet is a placeholder; nothing follows it
	// once the response is complete.
	utts = slices.DeleteFunc(utts, func(u court.Utterance) bool { return strings.TrimSpace(u.Text) == "" })

	s.history.Splice(utts)
	for i := min(enqueued, len(utts)); i < len(utts); i++ {
		s.narrateLocked(utts[i])
	}

	res := court.Resolve(text)
	if res.StageLabel != "" {
		s.stage = res.StageLabel
	}

	switch {
	case terminated:
		s.history.Commit()
		s.finished = true
		s.nominal = court.NoSpeaker
		return outcomeFinished, false
	case len(utts) == 0:
		s.systemLocked(msgEmptyResponse)
		s.history.Commit()
		s.nominal = s.tm.UserRole()
		return outcomeEmpty, false
	}
	s.history.Commit()

	if court.HasObjectionPause(text) {
		s.objection = true
		s.nominal = s.tm.UserRole()
		return outcomeObjection, false
	}

	next := s.tm.ResolveNext(res.NextSpeaker)
	s.nominal = next
	return outcome, s.tm.IsAISpeaker(next)
}

// failLocked keeps whatever arrived before a failure, appends a system
// message and hands the floor to the human.
func (s *Session) failLocked(partial []court.Utterance, enqueued int, msg string) {
	var kept []court.Utterance
	for _, u := range partial {
		if strings.TrimSpace(u.Text) != "" {
			kept = append(kept, u)
		}
	}
	s.history.Splice(kept)
	for i := min(enqueued, len(kept)); i < len(kept); i++ {
		s.narrateLocked(kept[i])
	}
	s.systemLocked(msg)
	s.history.Commit()
	s.objection = false
	s.nominal = s.tm.UserRole()
}

// systemLocked appends a synthetic utterance voiced by the fallback speaker.
func (s *Session) systemLocked(msg string) {
	u := court.Utterance{ID: s.newID(), Speaker: court.FallbackSpeaker(s.tm), Text: msg}
	s.system[u.ID] = true
	s.history.Append(u)
	s.narrateLocked(u)
}

func (s *Session) narrateLocked(u court.Utterance) {
	if strings.TrimSpace(u.Text) == "" || !s.tm.ValidateAIMessage(u.Speaker) {
		return
	}
	s.narrator.Enqueue(u.Text, u.Speaker, u.ID)
}

func (s *Session) promptInputLocked(opening bool) PromptInput {
	committed := s.history.Committed()
	return PromptInput{
		CaseBrief: s.cfg.CaseBrief,
		UserRole:  s.tm.UserRole(),
		Summary:   strings.Join(s.summaries, "\n\n"),
		History:   committed[min(s.summarised, len(committed)):],
		Next:      s.nominal,
		Stage:     s.stage,
		Opening:   opening,
	}
}

// compact summarises the oldest half of the prompt window once it exceeds
// the context budget. Failures only cost context size.
func (s *Session) compact(ctx context.Context, epoch uint64) {
	if s.summariser == nil || s.cfg.ContextTokens <= 0 {
		return
	}

	s.mu.Lock()
	committed := s.history.Committed()
	window := committed[min(s.summarised, len(committed)):]
	cut := summaryCut(window, s.cfg.ContextTokens)
	s.mu.Unlock()
	if cut == 0 {
		return
	}

	summary, err := s.summariser.Summarise(ctx, window[:cut])
	if err != nil {
		s.log.Warn("trial: summarising history failed", "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || summary == "" {
		return
	}
	s.summaries = append(s.summaries, summary)
	s.summarised += cut
}

// archive appends newly committed utterances to the transcript store.
func (s *Session) archive(ctx context.Context) {
	if s.store == nil {
		return
	}
	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()

	s.mu.Lock()
	committed := s.history.Committed()
	from := min(s.archived, len(committed))
	pending := committed[from:]
	s.archived = len(committed)
	id := s.id
	entries := make([]transcript.Entry, 0, len(pending))
	for _, u := range pending {
		kind := transcript.KindDialogue
		if s.system[u.ID] {
			kind = transcript.KindSystem
		}
		entries = append(entries, transcript.Entry{UtteranceID: u.ID, Speaker: u.Speaker, Kind: kind, Text: u.Text})
	}
	s.mu.Unlock()

	actx, cancel := archiveContext(ctx)
	defer cancel()
	for _, e := range entries {
		if err := s.store.Append(actx, id, e); err != nil {
			s.log.Warn("trial: archive utterance failed", "utterance", e.UtteranceID, "err", err)
		}
	}
}

func archiveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

// notify schedules a snapshot for the change observers.
func (s *Session) notify() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Session) publish() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stop:
			return
		case <-s.kick:
			s.changes.Publish(s.Snapshot())
		}
	}
}

func drain(ch <-chan llm.Chunk) {
	for range ch {
	}
}
