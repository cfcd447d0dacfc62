package phonetic_test

import (
	"testing"

	"github.com/MrWong99/juicio/internal/dictation/phonetic"
)

var caseTerms = []string{"Rodrigo Valdés", "Gutiérrez", "Calle Tlaxcala"}

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	v := phonetic.NewVocabulary(caseTerms...)

	tests := []struct {
		phrase   string
		want     string
		matched  bool
		minScore float64
	}{
		{phrase: "rodrigo valdes", want: "Rodrigo Valdés", matched: true, minScore: 0.99},
		{phrase: "RODRIGO VALDÉS", want: "Rodrigo Valdés", matched: true, minScore: 0.99},
		{phrase: "rodrigo baldes", want: "Rodrigo Valdés", matched: true, minScore: 0.85},
		{phrase: "gutierres", want: "Gutiérrez", matched: true, minScore: 0.85},
		{phrase: "el testigo", want: "el testigo"},
		{phrase: "señor rodrigo", want: "señor rodrigo"},
		{phrase: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			t.Parallel()
			got, score, matched := m.Match(tt.phrase, v)
			if matched != tt.matched {
				t.Fatalf("Match(%q) matched = %v, want %v", tt.phrase, matched, tt.matched)
			}
			if got != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.phrase, got, tt.want)
			}
			if !matched && score != 0 {
				t.Errorf("Match(%q) score = %f, want 0 when unmatched", tt.phrase, score)
			}
			if matched && score < tt.minScore {
				t.Errorf("Match(%q) score = %f, want >= %f", tt.phrase, score, tt.minScore)
			}
		})
	}
}

func TestMatcher_Correct(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	v := phonetic.NewVocabulary(caseTerms...)

	tests := []struct {
		name  string
		text  string
		want  string
		fixes int
	}{
		{
			name:  "two word name",
			text:  "el señor rodrigo baldes declaró",
			want:  "el señor Rodrigo Valdés declaró",
			fixes: 1,
		},
		{
			name:  "keeps punctuation",
			text:  "¿conoce a gutierres, señor?",
			want:  "¿conoce a Gutiérrez, señor?",
			fixes: 1,
		},
		{
			name: "already correct",
			text: "Rodrigo Valdés vive en la Calle Tlaxcala.",
			want: "Rodrigo Valdés vive en la Calle Tlaxcala.",
		},
		{
			name: "nothing to fix",
			text: "No tengo más preguntas.",
			want: "No tengo más preguntas.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, fixes := m.Correct(tt.text, v)
			if got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.text, got, tt.want)
			}
			if len(fixes) != tt.fixes {
				t.Errorf("Correct(%q) made %d corrections %+v, want %d", tt.text, len(fixes), fixes, tt.fixes)
			}
		})
	}
}

func TestMatcher_ThresholdRejectsNearMatches(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	v := phonetic.NewVocabulary(caseTerms...)

	if _, _, matched := m.Match("rodrigo baldes", v); matched {
		t.Error("Match with threshold 0.99 accepted a near match")
	}
}

func TestMatcher_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	for _, v := range []*phonetic.Vocabulary{nil, phonetic.NewVocabulary(), phonetic.NewVocabulary("  ", "")} {
		if got, _ := m.Correct("rodrigo baldes", v); got != "rodrigo baldes" {
			t.Errorf("Correct() with empty vocabulary = %q, want unchanged", got)
		}
		if v.Len() != 0 {
			t.Errorf("Len() = %d, want 0", v.Len())
		}
	}
}

func TestNewVocabulary_Dedupes(t *testing.T) {
	t.Parallel()

	v := phonetic.NewVocabulary("Gutiérrez", "GUTIERREZ", "  Calle   Tlaxcala ")
	got := v.Terms()
	want := []string{"Gutiérrez", "Calle Tlaxcala"}
	if len(got) != len(want) {
		t.Fatalf("Terms() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Terms()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
