package trial

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/juicio/internal/court"
	"github.com/MrWong99/juicio/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation.
const charsPerToken = 4

// summaryThreshold is the fraction of the context budget at which the oldest
// half of the history is summarised.
const summaryThreshold = 0.75

const summarisationPrompt = `Resume el siguiente fragmento de un juicio oral simulado.
Conserva: hechos alegados, pruebas presentadas, objeciones y resoluciones, contradicciones de los testigos y compromisos procesales.
Sé conciso pero no omitas nada relevante para continuar la audiencia.`

// Summariser condenses a run of utterances.
type Summariser interface {
	Summarise(ctx context.Context, utts []court.Utterance) (string, error)
}

// LLMSummariser summarises through a one-shot completion.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser creates a [LLMSummariser] backed by provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise implements [Summariser].
func (s *LLMSummariser) Summarise(ctx context.Context, utts []court.Utterance) (string, error) {
	if len(utts) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, u := range utts {
		fmt.Fprintf(&sb, "%s\n", tagged(u))
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Temperature:  0.3,
	})
	if err != nil {
		return "", fmt.Errorf("trial: summarise: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Content), nil
}

// estimateTokens returns a rough token count for u.
func estimateTokens(u court.Utterance) int {
	chars := len(u.Text) + len(u.Speaker.Label())
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}

// summaryCut returns how many leading utterances of window should be
// summarised to stay within budget tokens, or 0 when no summary is due.
func summaryCut(window []court.Utterance, budget int) int {
	if budget <= 0 || len(window) < 2 {
		return 0
	}
	total := 0
	for _, u := range window {
		total += estimateTokens(u)
	}
	if total <= int(float64(budget)*summaryThreshold) {
		return 0
	}
	return max(len(window)/2, 1)
}
