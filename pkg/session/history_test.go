package session

import (
	"fmt"
	"strings"
	"testing"
)

func TestHistoryAddAndList(t *testing.T) {
	h := NewHistory(0)

	h.AddTurn("hello", "hi there")
	h.AddTurn("  spaced  ", "reply")
	h.AddTurn("", "")

	turns := h.List()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].UserMessage != "hello" || turns[0].AssistantResponse != "hi there" {
		t.Fatalf("unexpected first turn: %+v", turns[0])
	}
	if turns[1].UserMessage != "spaced" {
		t.Fatalf("expected trimmed message, got %q", turns[1].UserMessage)
	}
}

func TestHistoryEvictsOldestTurns(t *testing.T) {
	h := NewHistory(3)

	for i := 1; i <= 5; i++ {
		h.AddTurn(fmt.Sprintf("message %d", i), "ok")
	}

	turns := h.List()
	if len(turns) != 3 {
		t.Fatalf("expected window of 3, got %d", len(turns))
	}
	if turns[0].UserMessage != "message 3" {
		t.Fatalf("expected oldest surviving turn to be message 3, got %q", turns[0].UserMessage)
	}
}

func TestHistoryFormat(t *testing.T) {
	h := NewHistory(0)

	if h.Format() != "" {
		t.Fatal("expected empty format for empty history")
	}

	h.AddTurn("what is the weather", "sunny")
	out := h.Format()

	if !strings.Contains(out, "## Recent Conversation History") {
		t.Fatalf("expected header, got %q", out)
	}
	if !strings.Contains(out, "### Turn 1") {
		t.Fatalf("expected turn section, got %q", out)
	}
	if !strings.Contains(out, "User: what is the weather") || !strings.Contains(out, "Assistant: sunny") {
		t.Fatalf("expected exchange, got %q", out)
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory(0)
	h.AddTurn("hello", "hi")

	h.Clear()

	if len(h.List()) != 0 {
		t.Fatal("expected empty history after Clear")
	}
}
