package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/juicio/pkg/provider/llm"
)

func feed(chunks ...llm.Chunk) <-chan llm.Chunk {
	ch := make(chan llm.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestCollect(t *testing.T) {
	t.Parallel()

	got, err := llm.Collect(context.Background(), feed(
		llm.Chunk{Text: "[JUEZ]: "},
		llm.Chunk{Text: "Orden en la sala."},
		llm.Chunk{FinishReason: "stop"},
	))
	if err != nil {
		t.Fatal(err)
	}
	if got != "[JUEZ]: Orden en la sala." {
		t.Fatalf("Collect = %q", got)
	}
}

func TestCollect_StreamError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	got, err := llm.Collect(context.Background(), feed(
		llm.Chunk{Text: "partial"},
		llm.Chunk{FinishReason: llm.FinishError, Err: boom},
	))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if got != "partial" {
		t.Fatalf("text = %q, want partial", got)
	}

	_, err = llm.Collect(context.Background(), feed(llm.Chunk{FinishReason: llm.FinishError}))
	if !errors.Is(err, llm.ErrStream) {
		t.Fatalf("err = %v, want ErrStream", err)
	}
}

func TestCollect_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := make(chan llm.Chunk)
	defer close(ch)

	if _, err := llm.Collect(ctx, ch); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want Canceled", err)
	}
}
