package session

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultMaxTurns bounds the turn history kept per session.
const DefaultMaxTurns = 10

// Turn is one completed user/assistant exchange.
type Turn struct {
	UserMessage       string
	AssistantResponse string
	At                time.Time
}

// History keeps a bounded window of recent conversation turns.
type History struct {
	mu       sync.RWMutex
	maxTurns int
	turns    []Turn
}

// NewHistory builds a turn history. maxTurns <= 0 selects DefaultMaxTurns.
func NewHistory(maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &History{maxTurns: maxTurns}
}

// AddTurn records one exchange, evicting the oldest turn once the window
// is full. Blank exchanges are ignored.
func (h *History) AddTurn(userMessage string, assistantResponse string) {
	userMessage = strings.TrimSpace(userMessage)
	assistantResponse = strings.TrimSpace(assistantResponse)
	if userMessage == "" && assistantResponse == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, Turn{
		UserMessage:       userMessage,
		AssistantResponse: assistantResponse,
		At:                time.Now().UTC(),
	})
	if len(h.turns) > h.maxTurns {
		h.turns = h.turns[len(h.turns)-h.maxTurns:]
	}
}

// List returns a copy of the tracked turns, oldest first.
func (h *History) List() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.turns) == 0 {
		return nil
	}

	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Format renders the history as a prompt section, or "" when empty.
func (h *History) Format() string {
	turns := h.List()
	if len(turns) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Recent Conversation History\n")
	for i, turn := range turns {
		fmt.Fprintf(&b, "\n### Turn %d\nUser: %s\nAssistant: %s\n", i+1, turn.UserMessage, turn.AssistantResponse)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Clear drops all tracked turns.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = nil
}
