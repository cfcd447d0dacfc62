// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote model API (e.g., OpenAI or any backend
// reachable through any-llm) and exposes the two calls the trial needs: a
// streaming completion that drives the courtroom exchange and a one-shot
// completion used for out-of-band questions.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishError is the FinishReason of a chunk that reports a mid-stream failure.
const FinishError = "error"

// Message is a single message in an LLM conversation history.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages or SystemPrompt must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected before the conversation history as a
	// "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation history.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// means provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or
	// FinishError. Empty on non-final chunks.
	FinishReason string

	// Err carries the failure when FinishReason is FinishError.
	Err error
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel that emits
	// Chunk values as they arrive. The channel is closed by the implementation
	// when generation finishes or when ctx is cancelled.
	//
	// Errors that occur after the channel is opened are surfaced as a Chunk
	// with FinishReason FinishError; the returned error is non-nil only for
	// failures that prevent the stream from starting. The returned channel is
	// never nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ErrStream is reported by Collect when a stream ends with FinishError but
// carries no error of its own.
var ErrStream = errors.New("llm: stream failed")

// Collect drains a completion stream into a single string. It returns the
// text received so far together with the chunk error if the stream ended with
// FinishError, or ctx.Err() if ctx was cancelled first.
func Collect(ctx context.Context, ch <-chan Chunk) (string, error) {
	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			go drain(ch)
			return text.String(), ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return text.String(), nil
			}
			text.WriteString(c.Text)
			if c.FinishReason == FinishError {
				go drain(ch)
				if c.Err == nil {
					return text.String(), ErrStream
				}
				return text.String(), c.Err
			}
		}
	}
}

func drain(ch <-chan Chunk) {
	for range ch {
	}
}
