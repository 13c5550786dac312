package gateway

import (
	"sync"
	"testing"

	"skyclaw/pkg/schema"
)

func TestResponseStoreDrainOrdering(t *testing.T) {
	store := NewResponseStore()
	store.Push("user-1", schema.Event{ID: "a", Content: "first"})
	store.Push("user-1", schema.Event{ID: "b", Content: "second"})
	store.Push("user-2", schema.Event{ID: "c", Content: "other"})

	events := store.Drain("user-1")
	if len(events) != 2 || events[0].ID != "a" || events[1].ID != "b" {
		t.Fatalf("drained %v, want [a b] in order", events)
	}
	if got := store.Drain("user-1"); got != nil {
		t.Fatalf("second drain = %v, want nil", got)
	}
	if got := store.Drain("user-2"); len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("user-2 drain = %v", got)
	}
}

func TestResponseStorePeekKeepsBuffer(t *testing.T) {
	store := NewResponseStore()
	store.Push("user-1", schema.Event{ID: "a"})

	if got := store.Peek("user-1"); len(got) != 1 {
		t.Fatalf("peek = %v", got)
	}
	if got := store.Drain("user-1"); len(got) != 1 {
		t.Fatal("peek should not clear the buffer")
	}
}

func TestResponseStoreConcurrentDrainDeliversOnce(t *testing.T) {
	store := NewResponseStore()
	for i := 0; i < 100; i++ {
		store.Push("user-1", schema.Event{ID: schema.NewID()})
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			events := store.Drain("user-1")
			mu.Lock()
			total += len(events)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 100 {
		t.Fatalf("drained %d events total, want exactly 100", total)
	}
}
