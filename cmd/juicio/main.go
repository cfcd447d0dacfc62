// Command juicio runs a narrated courtroom trial simulation in the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/juicio/internal/config"
	"github.com/MrWong99/juicio/internal/court"
	"github.com/MrWong99/juicio/internal/dictation"
	"github.com/MrWong99/juicio/internal/health"
	"github.com/MrWong99/juicio/internal/narration"
	"github.com/MrWong99/juicio/internal/observe"
	"github.com/MrWong99/juicio/internal/transcript"
	"github.com/MrWong99/juicio/internal/transcript/postgres"
	"github.com/MrWong99/juicio/internal/trial"
	"github.com/MrWong99/juicio/pkg/audio/pcm"
	"github.com/MrWong99/juicio/pkg/provider/stt"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "juicio.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "juicio: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "juicio: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("juicio starting",
		"version", version,
		"config", *configPath,
		"user_role", cfg.Trial.UserRole,
		"listen_addr", cfg.Server.ListenAddr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	model, err := buildLLM(cfg, reg, metrics, logger)
	if err != nil {
		logger.Error("failed to build providers", "err", err)
		return 1
	}
	synth, err := buildTTS(cfg, reg, metrics, logger)
	if err != nil {
		logger.Error("failed to build providers", "err", err)
		return 1
	}
	recogniser, err := buildSTT(cfg, reg, metrics, logger)
	if err != nil {
		logger.Error("failed to build providers", "err", err)
		return 1
	}

	var checkers []health.Checker

	// ── Transcript ────────────────────────────────────────────────────────────
	var store transcript.Store = transcript.NewMemStore()
	if dsn := cfg.Transcript.PostgresDSN; dsn != "" {
		pg, err := postgres.Open(ctx, dsn)
		if err != nil {
			logger.Error("failed to open transcript store", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		checkers = append(checkers, health.PingCheck("transcript", pg))
		logger.Info("transcript archived in postgres")
	}

	// ── Narration ─────────────────────────────────────────────────────────────
	var queue *narration.Queue
	if synth != nil {
		voices, err := voiceTable(cfg)
		if err != nil {
			logger.Error("invalid voice table", "err", err)
			return 1
		}
		book := narration.NewVoiceBook()
		if err := book.Replace(voices); err != nil {
			logger.Error("invalid voice table", "err", err)
			return 1
		}

		player := newPlayer(cfg.Audio)
		defer func() {
			if err := player.Close(); err != nil {
				logger.Warn("audio output close error", "err", err)
			}
		}()

		queue = narration.New(synth, player, book,
			narration.WithMaxAttempts(cfg.Narration.MaxAttempts),
			narration.WithRetryDelay(cfg.Narration.RetryDelay),
			narration.WithReplaySize(cfg.Narration.ReplaySize),
			narration.WithMetrics(metrics),
			narration.WithLogger(logger),
		)
		defer queue.Close()
		queue.SetMuted(cfg.Narration.Muted)
		if err := queue.Unlock(ctx); err != nil {
			logger.Error("failed to open audio output", "err", err)
			return 1
		}
		checkers = append(checkers, health.Checker{Name: "narration", Check: func(context.Context) error {
			if !queue.Unlocked() {
				return errors.New("audio output locked")
			}
			return nil
		}})
	}

	// ── Trial session ─────────────────────────────────────────────────────────
	role, err := cfg.Trial.Role()
	if err != nil {
		logger.Error("invalid trial role", "err", err)
		return 1
	}
	aiOnly, err := cfg.Trial.AIOnlyRoles()
	if err != nil {
		logger.Error("invalid trial role", "err", err)
		return 1
	}
	var narrator trial.Narrator
	if queue != nil {
		narrator = queue
	}
	session, err := trial.New(trial.Config{
		UserRole:        role,
		AIOnly:          aiOnly,
		CaseBrief:       cfg.Trial.CaseBrief,
		ResponseTimeout: cfg.Trial.ResponseTimeout,
		MaxAutoTurns:    cfg.Trial.MaxAutoTurns,
		ContextTokens:   cfg.Trial.ContextTokens,
	}, model, narrator,
		trial.WithLogger(logger),
		trial.WithMetrics(metrics),
		trial.WithPrompter(trial.DefaultPrompter{Temperature: cfg.Trial.Temperature, MaxTokens: cfg.Trial.MaxTokens}),
		trial.WithTranscript(store),
	)
	if err != nil {
		logger.Error("failed to create trial session", "err", err)
		return 1
	}
	defer session.Close()

	// ── Console ───────────────────────────────────────────────────────────────
	out := io.Writer(os.Stdout)
	if cfg.Audio.OutputPath == "-" {
		out = os.Stderr
	}
	con := &console{hearing: session, out: out, log: logger}
	if queue != nil {
		con.narration = queue
	}
	if recogniser != nil {
		sc := stt.StreamConfig{SampleRate: cfg.Dictation.SampleRate, Channels: 1, Language: cfg.Dictation.Language}
		if sc.SampleRate == 0 {
			sc.SampleRate = 16000
		}
		if sc.Language == "" {
			sc.Language = "es"
		}
		d := dictation.New(recogniser,
			dictation.WithLogger(logger),
			dictation.WithStreamConfig(sc),
			dictation.WithVocabulary(cfg.Dictation.Vocabulary...),
		)
		unsubscribe := d.OnText(func(text string) { fmt.Fprintf(out, "(oído) %s\n", text) })
		defer unsubscribe()
		con.dictation = d
		con.openSource = func() (io.ReadCloser, error) { return os.Open(cfg.Dictation.SourcePath) }
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfig(config.Diff(old, new), new, level, queue, logger)
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("config hot-reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	if addr := cfg.Server.ListenAddr; addr != "" {
		srv := newHTTPServer(addr, health.New(checkers...).WithStatus(statusFunc(session, queue)), metrics)
		g.Go(func() error {
			logger.Info("http server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return con.run(gctx, os.Stdin)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run error", "err", err)
		return 1
	}
	logger.Info("goodbye")
	return 0
}

// ── Wiring helpers ────────────────────────────────────────────────────────────

// voiceTable returns the default voices overlaid with the configured ones.
func voiceTable(cfg *config.Config) (map[court.Speaker]narration.VoiceConfig, error) {
	configured, err := cfg.VoiceTable()
	if err != nil {
		return nil, err
	}
	defaults := narration.DefaultVoiceBook()
	out := make(map[court.Speaker]narration.VoiceConfig)
	for _, s := range append(court.Participants(), court.Defendant) {
		if v, ok := defaults.Get(s); ok {
			out[s] = v
		}
	}
	for s, v := range configured {
		out[s] = v
	}
	return out, nil
}

// newPlayer creates the PCM player for the configured output.
func newPlayer(cfg config.AudioConfig) *pcm.Player {
	format := pcm.DefaultFormat
	if cfg.SampleRate > 0 {
		format.SampleRate = cfg.SampleRate
	}
	if cfg.Channels > 0 {
		format.Channels = cfg.Channels
	}

	var p *pcm.Player
	switch cfg.OutputPath {
	case "":
		p = pcm.New(io.Discard, pcm.WithFormat(format))
	case "-":
		p = pcm.New(nopCloser{os.Stdout}, pcm.WithFormat(format))
	default:
		p = pcm.New(nil, pcm.WithFormat(format), pcm.WithOpener(func(context.Context) (io.Writer, error) {
			return os.OpenFile(cfg.OutputPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		}))
	}
	if cfg.Volume > 0 {
		p.SetVolume(cfg.Volume)
	}
	return p
}

// nopCloser keeps Player.Close from closing stdout.
type nopCloser struct{ io.Writer }

// applyConfig applies the live-reloadable parts of a config change.
func applyConfig(d config.ConfigDiff, cfg *config.Config, level *slog.LevelVar, queue *narration.Queue, log *slog.Logger) {
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		log.Info("config: log level changed", "level", d.NewLogLevel)
	}
	if queue != nil && d.MutedChanged {
		queue.SetMuted(d.NewMuted)
		log.Info("config: narration mute changed", "muted", d.NewMuted)
	}
	if queue != nil && d.VoicesChanged {
		voices, err := voiceTable(cfg)
		if err == nil {
			err = queue.Voices().Replace(voices)
		}
		if err != nil {
			log.Warn("config: voice update rejected", "err", err)
		} else {
			for _, vc := range d.VoiceChanges {
				log.Info("config: voice updated", "speaker", vc.Key, "added", vc.Added, "removed", vc.Removed)
			}
		}
	}
	for _, section := range d.RestartRequired {
		log.Warn("config: change takes effect after restart", "section", section)
	}
}

// status is the document served on /status.
type status struct {
	SessionID   string           `json:"session_id"`
	State       string           `json:"state"`
	UserRole    string           `json:"user_role"`
	NextSpeaker string           `json:"next_speaker"`
	Stage       string           `json:"stage,omitempty"`
	Utterances  int              `json:"utterances"`
	Advisories  int              `json:"advisories"`
	Objection   bool             `json:"objection"`
	Finished    bool             `json:"finished"`
	Narrating   bool             `json:"narrating"`
	Narration   *narration.Stats `json:"narration,omitempty"`
}

func statusFunc(session *trial.Session, queue *narration.Queue) func(context.Context) any {
	return func(context.Context) any {
		snap := session.Snapshot()
		st := status{
			SessionID:   snap.ID,
			State:       snap.State.String(),
			UserRole:    snap.UserRole.String(),
			NextSpeaker: snap.NextSpeaker.String(),
			Stage:       snap.Stage,
			Utterances:  len(snap.Utterances),
			Advisories:  len(snap.Advisories),
			Objection:   snap.Objection,
			Finished:    snap.Finished,
			Narrating:   snap.Narrating,
		}
		if queue != nil {
			stats := queue.Stats()
			st.Narration = &stats
		}
		return st
	}
}

// newHTTPServer serves health, status and Prometheus metrics.
func newHTTPServer(addr string, h *health.Handler, m *observe.Metrics) *http.Server {
	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
