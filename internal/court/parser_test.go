package court

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/juicio/internal/observe"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestParser(t *testing.T, user Speaker, opts ...ParserOption) *Parser {
	t.Helper()
	opts = append([]ParserOption{WithStreamID("s"), WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return NewParser(mustTurnManager(t, user), opts...)
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		user Speaker
		in   string
		want []Utterance
	}{
		{
			name: "two speakers",
			user: Defense,
			in:   "[JUEZ]: Hola. [MINISTERIO PÚBLICO]: Hola también.",
			want: []Utterance{
				{ID: "s-0", Speaker: Judge, Text: "Hola."},
				{ID: "s-1", Speaker: Prosecutor, Text: "Hola también."},
			},
		},
		{
			name: "impersonation discarded",
			user: Defense,
			in:   "[JUEZ]: Orden en la sala. [DEFENSA]: ¡Protesto!",
			want: []Utterance{{ID: "s-0", Speaker: Judge, Text: "Orden en la sala."}},
		},
		{
			name: "no tags",
			user: Defense,
			in:   "Buenos días a todos.",
			want: nil,
		},
		{
			name: "malformed tag is content",
			user: Defense,
			in:   "[JUEZ]: Hola. [Juez]: sigo yo.",
			want: []Utterance{{ID: "s-0", Speaker: Judge, Text: "Hola. [Juez]: sigo yo."}},
		},
		{
			name: "accent variant is not a tag",
			user: Defense,
			in:   "[MINISTERIO PUBLICO]: Acusamos.",
			want: nil,
		},
		{
			name: "trailing empty tag placeholder",
			user: Prosecutor,
			in:   "[JUEZ]: Hola. [DEFENSA]:",
			want: []Utterance{
				{ID: "s-0", Speaker: Judge, Text: "Hola."},
				{ID: "s-1", Speaker: Defense, Text: ""},
			},
		},
		{
			name: "empty tag mid text skipped",
			user: Prosecutor,
			in:   "[JUEZ]: [TESTIGO]: Sí.",
			want: []Utterance{{ID: "s-0", Speaker: Witness, Text: "Sí."}},
		},
		{
			name: "preamble merged into first speaker",
			user: Defense,
			in:   "Buenos días. [TESTIGO]: Sí, lo vi.",
			want: []Utterance{{ID: "s-0", Speaker: Witness, Text: "Buenos días. Sí, lo vi."}},
		},
		{
			name: "preamble before empty first tag",
			user: Defense,
			in:   "Intro [JUEZ]: [TESTIGO]: Sí.",
			want: []Utterance{
				{ID: "s-0", Speaker: Judge, Text: "Intro"},
				{ID: "s-1", Speaker: Witness, Text: "Sí."},
			},
		},
		{
			name: "preamble skips impersonated first tag",
			user: Defense,
			in:   "Intro [DEFENSA]: falso [JUEZ]: Bien.",
			want: []Utterance{{ID: "s-0", Speaker: Judge, Text: "Intro Bien."}},
		},
		{
			name: "preamble goes to first accepted tag even when empty",
			user: Defense,
			in:   "Intro [DEFENSA]: falso [TESTIGO]: [JUEZ]: Bien.",
			want: []Utterance{
				{ID: "s-0", Speaker: Witness, Text: "Intro"},
				{ID: "s-1", Speaker: Judge, Text: "Bien."},
			},
		},
		{
			name: "only impersonation",
			user: Defense,
			in:   "Intro [DEFENSA]: falso",
			want: nil,
		},
		{
			name: "control markers stripped",
			user: Defense,
			in:   "[JUEZ]: Silencio. [PAUSA_OBJECION] [ETAPA: Alegatos] [TURNO: DEFENSA]",
			want: []Utterance{{ID: "s-0", Speaker: Judge, Text: "Silencio."}},
		},
		{
			name: "partial tag held back",
			user: Defense,
			in:   "[JUEZ]: Hola. [MINISTERIO P",
			want: []Utterance{{ID: "s-0", Speaker: Judge, Text: "Hola."}},
		},
		{
			name: "tag without colon held back",
			user: Defense,
			in:   "[JUEZ]: Hola. [TESTIGO]",
			want: []Utterance{{ID: "s-0", Speaker: Judge, Text: "Hola."}},
		},
		{
			name: "partial marker held back",
			user: Defense,
			in:   "[JUEZ]: Hola. [PAUSA_OB",
			want: []Utterance{{ID: "s-0", Speaker: Judge, Text: "Hola."}},
		},
		{
			name: "unclosed stage held back",
			user: Defense,
			in:   "[JUEZ]: Hola. [ETAPA: Apertura de",
			want: []Utterance{{ID: "s-0", Speaker: Judge, Text: "Hola."}},
		},
		{
			name: "continuation stays with its speaker",
			user: Defense,
			in:   "[TESTIGO]: Llegué tarde\ny vi todo. [JUEZ]: Gracias.",
			want: []Utterance{
				{ID: "s-0", Speaker: Witness, Text: "Llegué tarde\ny vi todo."},
				{ID: "s-1", Speaker: Judge, Text: "Gracias."},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newTestParser(t, tt.user)
			got := p.Parse(tt.in)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Parse(%q)\n got %+v\nwant %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParse_Deterministic(t *testing.T) {
	t.Parallel()

	p := newTestParser(t, Witness)
	in := "Audiencia. [JUEZ]: Se abre. [DEFENSA]: Gracias. [TESTIGO]: falso [SECRETARIO]:"
	first := p.Parse(in)
	for range 5 {
		if got := p.Parse(in); !slices.Equal(got, first) {
			t.Fatalf("Parse not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestParse_StreamPrefixesNeverLeakMarkup(t *testing.T) {
	t.Parallel()

	full := "Audiencia. [JUEZ]: Se abre la sesión. [ETAPA: Apertura] " +
		"[MINISTERIO PÚBLICO]: Acusamos formalmente. [DEFENSA]: esto no debe verse " +
		"[TESTIGO]: Yo estaba allí. [PAUSA_OBJECION] [TURNO: DEFENSA]"
	p := newTestParser(t, Defense)

	for i := 1; i <= len(full); i++ {
		for _, u := range p.Parse(full[:i]) {
			if strings.ContainsAny(u.Text, "[]") {
				t.Fatalf("prefix %d: utterance %+v leaks markup", i, u)
			}
			if u.Speaker == Defense {
				t.Fatalf("prefix %d: user role utterance %+v", i, u)
			}
			if strings.Contains(u.Text, "no debe verse") {
				t.Fatalf("prefix %d: impersonated content leaked into %+v", i, u)
			}
		}
	}

	want := []Utterance{
		{ID: "s-0", Speaker: Judge, Text: "Audiencia. Se abre la sesión."},
		{ID: "s-1", Speaker: Prosecutor, Text: "Acusamos formalmente."},
		{ID: "s-2", Speaker: Witness, Text: "Yo estaba allí."},
	}
	if got := p.Parse(full); !slices.Equal(got, want) {
		t.Errorf("final Parse\n got %+v\nwant %+v", got, want)
	}
}

func TestParse_ImpersonationReportedOnce(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	p := NewParser(mustTurnManager(t, Defense),
		WithStreamID("s"),
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
		WithMetrics(m),
	)
	in := "[JUEZ]: Hola. [DEFENSA]: Protesto."
	p.Parse(in)
	p.Parse(in + " Y otra cosa.")

	if n := strings.Count(buf.String(), "discarded dialogue"); n != 1 {
		t.Errorf("impersonation warnings = %d, want 1\n%s", n, buf.String())
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "juicio.parser.impersonations" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 1 {
		t.Errorf("impersonation counter = %d, want 1", total)
	}
}

func TestParse_NearMissLogged(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewParser(mustTurnManager(t, Defense), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	p.Parse("[JUEZ]: Hola. [Testigo]: Sí.")
	p.Parse("[JUEZ]: Hola. [Testigo]: Sí. Claro.")

	if n := strings.Count(buf.String(), "malformed speaker tag"); n != 1 {
		t.Errorf("near-miss warnings = %d, want 1\n%s", n, buf.String())
	}
}

func TestFallbackUtterance(t *testing.T) {
	t.Parallel()

	u := FallbackUtterance("s-0", "  Sin etiquetas. [PAUSA_OBJECION] ", mustTurnManager(t, Defense))
	want := Utterance{ID: "s-0", Speaker: Judge, Text: "Sin etiquetas."}
	if u != want {
		t.Errorf("FallbackUtterance = %+v, want %+v", u, want)
	}

	u = FallbackUtterance("s-1", "Preámbulo. [DEFENSA]: Hablo por el usuario.", mustTurnManager(t, Defense))
	if u.Text != "Preámbulo." {
		t.Errorf("FallbackUtterance kept tagged text: %q", u.Text)
	}

	if s := FallbackSpeaker(mustTurnManager(t, Judge)); s != Clerk {
		t.Errorf("FallbackSpeaker with user judge = %v, want clerk", s)
	}
}
