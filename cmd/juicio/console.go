package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/juicio/internal/court"
	"github.com/MrWong99/juicio/internal/trial"
)

// hearing is the part of [trial.Session] the console drives.
type hearing interface {
	Start(ctx context.Context) error
	Submit(ctx context.Context, text string) error
	ResolveObjection(ctx context.Context, contest bool, grounds string) error
	AskProfessor(ctx context.Context, question string) (string, error)
	Reset()
	Snapshot() trial.Snapshot
	OnChange(fn func(trial.Snapshot)) (unsubscribe func())
}

// narrationControls is the part of the narration queue the console exposes.
type narrationControls interface {
	Skip()
	Pause()
	Resume()
	Paused() bool
	SetMuted(muted bool)
	Muted() bool
	Replay() []string
}

// dictator is the part of [dictation.Dictation] the console drives.
type dictator interface {
	Start(ctx context.Context, source io.Reader) error
	Stop() error
	Running() bool
	Take() string
}

const helpText = `Comandos:
  <texto>                 habla en tu turno
  /objecion si <motivo>   objeta (o, como juez, ha lugar)
  /objecion no            no objeta (o, como juez, no ha lugar)
  /profesor <pregunta>    consulta al profesor
  /dictar                 inicia o envía el dictado por voz
  /saltar                 salta la narración en curso
  /pausa, /reanudar       pausa o reanuda la narración
  /silencio               alterna el silencio de la narración
  /repetir                repite el último turno narrado
  /reiniciar              descarta el juicio y empieza de nuevo
  /salir                  termina
`

// console is a line-oriented front end for one hearing.
type console struct {
	hearing    hearing
	narration  narrationControls
	dictation  dictator
	openSource func() (io.ReadCloser, error)
	out        io.Writer
	log        *slog.Logger

	wg sync.WaitGroup

	mu        sync.Mutex
	sessionID string
	printed   int
	stage     string
	state     court.TurnState
	objection bool
	finished  bool
	source    io.ReadCloser
}

// run opens the hearing and processes commands from in until /salir, EOF or
// ctx is done. Actions run in the background so that narration controls stay
// responsive while the model is speaking.
func (c *console) run(ctx context.Context, in io.Reader) error {
	unsubscribe := c.hearing.OnChange(c.render)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.wg.Wait()
		c.stopDictation()
	}()

	c.printf("%s", helpText)
	c.async(func() error { return c.hearing.Start(ctx) })

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			if quit := c.dispatch(ctx, line); quit {
				return nil
			}
		}
	}
}

// dispatch handles one input line and reports whether the console should
// exit.
func (c *console) dispatch(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.async(func() error { return c.hearing.Submit(ctx, line) })
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(cmd) {
	case "/salir":
		return true
	case "/ayuda":
		c.printf("%s", helpText)
	case "/objecion", "/objeción":
		answer, grounds, _ := strings.Cut(arg, " ")
		contest := false
		switch court.Fold(answer) {
		case "SI":
			contest = true
		case "NO":
		default:
			c.printf("Uso: /objecion si <motivo> | /objecion no\n")
			return false
		}
		c.async(func() error { return c.hearing.ResolveObjection(ctx, contest, strings.TrimSpace(grounds)) })
	case "/profesor":
		c.async(func() error {
			answer, err := c.hearing.AskProfessor(ctx, arg)
			if err != nil {
				return err
			}
			c.printf("[PROFESOR]: %s\n", answer)
			return nil
		})
	case "/dictar":
		c.toggleDictation(ctx)
	case "/reiniciar":
		c.hearing.Reset()
		c.async(func() error { return c.hearing.Start(ctx) })
	case "/saltar", "/pausa", "/reanudar", "/silencio", "/repetir":
		c.narrationCommand(strings.ToLower(cmd))
	default:
		c.printf("Comando desconocido %q. Escribe /ayuda.\n", cmd)
	}
	return false
}

func (c *console) narrationCommand(cmd string) {
	if c.narration == nil {
		c.printf("La narración está desactivada.\n")
		return
	}
	switch cmd {
	case "/saltar":
		c.narration.Skip()
	case "/pausa":
		c.narration.Pause()
	case "/reanudar":
		c.narration.Resume()
	case "/silencio":
		muted := !c.narration.Muted()
		c.narration.SetMuted(muted)
		if muted {
			c.printf("Narración silenciada.\n")
		} else {
			c.printf("Narración activada.\n")
		}
	case "/repetir":
		if len(c.narration.Replay()) == 0 {
			c.printf("No hay nada que repetir.\n")
		}
	}
}

// toggleDictation starts dictation, or stops it and submits what was heard.
func (c *console) toggleDictation(ctx context.Context) {
	if c.dictation == nil {
		c.printf("El dictado está desactivado.\n")
		return
	}
	if !c.dictation.Running() {
		src, err := c.openSource()
		if err != nil {
			c.printf("No se pudo abrir la fuente de audio: %v\n", err)
			return
		}
		if err := c.dictation.Start(ctx, src); err != nil {
			_ = src.Close()
			c.printf("No se pudo iniciar el dictado: %v\n", err)
			return
		}
		c.mu.Lock()
		c.source = src
		c.mu.Unlock()
		c.printf("Dictando… escribe /dictar de nuevo para enviar.\n")
		return
	}

	text := c.dictation.Take()
	c.stopDictation()
	if strings.TrimSpace(text) == "" {
		c.printf("No se escuchó nada.\n")
		return
	}
	c.printf("(dictado) %s\n", text)
	c.async(func() error { return c.hearing.Submit(ctx, text) })
}

func (c *console) stopDictation() {
	if c.dictation == nil {
		return
	}
	if err := c.dictation.Stop(); err != nil {
		c.log.Warn("console: stop dictation", "err", err)
	}
	c.mu.Lock()
	src := c.source
	c.source = nil
	c.mu.Unlock()
	if src != nil {
		_ = src.Close()
	}
}

// async runs fn in the background and reports its error to the user.
func (c *console) async(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			c.report(err)
		}
	}()
}

func (c *console) report(err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, trial.ErrClosed):
	case errors.Is(err, trial.ErrNotYourTurn):
		c.printf("Espera tu turno.\n")
	case errors.Is(err, trial.ErrNoObjection):
		c.printf("No hay ninguna objeción pendiente.\n")
	case errors.Is(err, trial.ErrFinished):
		c.printf("La simulación terminó. Escribe /reiniciar para empezar otra.\n")
	case errors.Is(err, trial.ErrEmptyInput):
		c.printf("Escribe algo.\n")
	default:
		c.log.Error("console: action failed", "err", err)
		c.printf("Error: %v\n", err)
	}
}

// render prints what changed since the previous snapshot. Utterances are
// printed once the exchange that produced them has settled.
func (c *console) render(snap trial.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if snap.ID != c.sessionID {
		if c.sessionID != "" {
			c.printf("\n── Nueva audiencia ──\n")
		}
		c.sessionID = snap.ID
		c.printed, c.stage, c.objection, c.finished = 0, "", false, false
		c.state = court.AITurn
	}

	if !snap.Loading {
		if c.printed > len(snap.Utterances) {
			c.printed = len(snap.Utterances)
		}
		for _, u := range snap.Utterances[c.printed:] {
			c.printf("%s %s\n", speakerPrefix(u.Speaker), u.Text)
		}
		c.printed = len(snap.Utterances)
	}

	if snap.Stage != "" && snap.Stage != c.stage {
		c.stage = snap.Stage
		c.printf("══ Etapa: %s ══\n", snap.Stage)
	}
	if snap.Objection && !c.objection {
		c.printf("¡Objeción! Responde con /objecion si <motivo> o /objecion no.\n")
	}
	c.objection = snap.Objection
	if snap.Finished && !c.finished {
		c.printf("Fin de la simulación.\n")
	}
	c.finished = snap.Finished
	if snap.State == court.UserTurn && c.state != court.UserTurn {
		c.printf("» Tu turno (%s).\n", snap.UserRole.Label())
	}
	c.state = snap.State
}

func speakerPrefix(s court.Speaker) string {
	if tag := s.Tag(); tag != "" {
		return tag
	}
	return "[" + s.Label() + "]:"
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
