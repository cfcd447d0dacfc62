package trial

import (
	"fmt"
	"strings"

	"github.com/MrWong99/juicio/internal/court"
	"github.com/MrWong99/juicio/pkg/provider/llm"
)

// PromptInput is everything a [Prompter] may use to build a request.
type PromptInput struct {
	// CaseBrief describes the case being tried.
	CaseBrief string

	// UserRole is the role played by the human.
	UserRole court.Speaker

	// Summary condenses utterances that no longer fit the context window.
	Summary string

	// History holds the committed utterances after the summarised prefix.
	History []court.Utterance

	// Next is the role expected to speak, or [court.NoSpeaker] when the
	// model decides.
	Next court.Speaker

	// Stage is the current procedural stage label, possibly empty.
	Stage string

	// Opening is set for the first exchange of a session.
	Opening bool
}

// Prompter builds model requests. Implementations must be safe for
// concurrent use.
type Prompter interface {
	// Build returns the request for the next courtroom exchange.
	Build(in PromptInput) llm.CompletionRequest

	// Advisory returns the request for an out-of-band question to the
	// Professor.
	Advisory(in PromptInput, question string) llm.CompletionRequest
}

// DefaultPrompter renders the tag protocol, the case brief and the history.
// It carries no legal-domain knowledge beyond that.
type DefaultPrompter struct {
	Temperature float64
	MaxTokens   int
}

var _ Prompter = DefaultPrompter{}

// Build implements [Prompter].
//
// Consecutive AI utterances become one assistant message written in the tag
// protocol; each human utterance becomes a user message. A closing system
// message tells the model who speaks next.
func (p DefaultPrompter) Build(in PromptInput) llm.CompletionRequest {
	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt(in),
		Temperature:  p.Temperature,
		MaxTokens:    p.MaxTokens,
	}

	var block []string
	flush := func() {
		if len(block) > 0 {
			req.Messages = append(req.Messages, llm.Message{Role: llm.RoleAssistant, Content: strings.Join(block, "\n")})
			block = nil
		}
	}
	for _, u := range in.History {
		if u.Speaker == in.UserRole {
			flush()
			req.Messages = append(req.Messages, llm.Message{Role: llm.RoleUser, Content: u.Speaker.Tag() + " " + u.Text})
			continue
		}
		block = append(block, tagged(u))
	}
	flush()

	req.Messages = append(req.Messages, llm.Message{Role: llm.RoleSystem, Content: instruction(in)})
	return req
}

// Advisory implements [Prompter].
func (p DefaultPrompter) Advisory(in PromptInput, question string) llm.CompletionRequest {
	var sb strings.Builder
	sb.WriteString("Eres el PROFESOR de derecho que asesora al estudiante durante un juicio simulado. ")
	fmt.Fprintf(&sb, "El estudiante interpreta el papel de %s. ", in.UserRole.Label())
	sb.WriteString("Responde en español, de forma breve y didáctica, sin hablar en nombre de ningún participante ni usar etiquetas de la audiencia.")
	if in.CaseBrief != "" {
		sb.WriteString("\n\nCaso:\n")
		sb.WriteString(in.CaseBrief)
	}
	if in.Summary != "" {
		sb.WriteString("\n\nResumen previo:\n")
		sb.WriteString(in.Summary)
	}

	var transcript strings.Builder
	for _, u := range in.History {
		transcript.WriteString(tagged(u))
		transcript.WriteByte('\n')
	}
	content := "Pregunta del estudiante: " + question
	if transcript.Len() > 0 {
		content = "Transcripción de la audiencia:\n" + transcript.String() + "\n" + content
	}

	return llm.CompletionRequest{
		SystemPrompt: sb.String(),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: content}},
		Temperature:  p.Temperature,
		MaxTokens:    p.MaxTokens,
	}
}

func systemPrompt(in PromptInput) string {
	var sb strings.Builder
	sb.WriteString("Diriges un juicio oral simulado en español. Interpretas a todos los participantes excepto al usuario.\n")
	fmt.Fprintf(&sb, "El usuario interpreta a %s: nunca escribas diálogo para ese papel.\n", in.UserRole.Label())
	sb.WriteString("Antepón a cada intervención la etiqueta exacta de quien habla:")
	for _, s := range court.Participants() {
		if s == in.UserRole {
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(s.Tag())
	}
	sb.WriteString("\n")
	sb.WriteString("Indica la etapa procesal con [ETAPA: nombre] cuando cambie.\n")
	sb.WriteString("Termina cada respuesta con [TURNO: PAPEL] nombrando a quien habla después.\n")
	fmt.Fprintf(&sb, "Si una pregunta merece objeción del usuario, escribe %s y detente.\n", court.ObjectionMarker)
	fmt.Fprintf(&sb, "Cuando el juicio concluya, termina con %s.\n", court.TerminationPhrase)
	if in.Stage != "" {
		fmt.Fprintf(&sb, "\nEtapa actual: %s\n", in.Stage)
	}
	if in.CaseBrief != "" {
		sb.WriteString("\nCaso:\n")
		sb.WriteString(in.CaseBrief)
		sb.WriteString("\n")
	}
	if in.Summary != "" {
		sb.WriteString("\nResumen de lo ocurrido hasta ahora:\n")
		sb.WriteString(in.Summary)
		sb.WriteString("\n")
	}
	return sb.String()
}

func instruction(in PromptInput) string {
	switch {
	case in.Opening:
		return "Abre la audiencia."
	case in.Next.IsParticipant() && in.Next != in.UserRole:
		return fmt.Sprintf("Continúa la audiencia. Habla a continuación %s.", in.Next.Tag())
	default:
		return "Continúa la audiencia."
	}
}

func tagged(u court.Utterance) string {
	if tag := u.Speaker.Tag(); tag != "" {
		return tag + " " + u.Text
	}
	return "[" + u.Speaker.Label() + "] " + u.Text
}
