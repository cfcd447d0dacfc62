package notify_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/juicio/pkg/notify"
)

func TestHub_PublishOrder(t *testing.T) {
	t.Parallel()

	var h notify.Hub[string]
	var got []string
	h.Subscribe(func(v string) { got = append(got, "a:"+v) })
	h.Subscribe(func(v string) { got = append(got, "b:"+v) })

	h.Publish("x")

	want := []string{"a:x", "b:x"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	t.Parallel()

	var h notify.Hub[int]
	calls := 0
	unsub := h.Subscribe(func(int) { calls++ })

	h.Publish(1)
	unsub()
	unsub() // idempotent
	h.Publish(2)

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if h.Len() != 0 {
		t.Fatalf("Len = %d, want 0", h.Len())
	}
}

func TestHub_UnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()

	var h notify.Hub[int]
	var unsub func()
	calls := 0
	unsub = h.Subscribe(func(int) {
		calls++
		unsub()
	})

	h.Publish(1)
	h.Publish(2)

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestHub_NilSubscriber(t *testing.T) {
	t.Parallel()

	var h notify.Hub[int]
	unsub := h.Subscribe(nil)
	unsub()
	if h.Len() != 0 {
		t.Fatalf("Len = %d, want 0", h.Len())
	}
}

func TestHub_ConcurrentUse(t *testing.T) {
	t.Parallel()

	var h notify.Hub[int]
	var mu sync.Mutex
	total := 0

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := h.Subscribe(func(v int) {
				mu.Lock()
				total += v
				mu.Unlock()
			})
			h.Publish(1)
			unsub()
		}()
	}
	wg.Wait()

	if h.Len() != 0 {
		t.Fatalf("Len = %d, want 0", h.Len())
	}
	mu.Lock()
	defer mu.Unlock()
	if total < 8 {
		t.Fatalf("total = %d, want >= 8", total)
	}
}
