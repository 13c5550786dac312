package gateway

import (
	"sync"

	"skyclaw/pkg/schema"
)

// ResponseStore buffers outbound responses per user until a channel adapter
// or the responses endpoint drains them. Purely in memory; the outbox stream
// remains the durable record.
type ResponseStore struct {
	mu      sync.Mutex
	pending map[string][]schema.Event
}

// NewResponseStore builds an empty store.
func NewResponseStore() *ResponseStore {
	return &ResponseStore{pending: make(map[string][]schema.Event)}
}

// Push appends a response to the user's buffer in arrival order.
func (s *ResponseStore) Push(userID string, event schema.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[userID] = append(s.pending[userID], event)
}

// Drain returns the user's buffered responses and clears the buffer in one
// step, so concurrent pollers never see the same response twice.
func (s *ResponseStore) Drain(userID string) []schema.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.pending[userID]
	if len(events) == 0 {
		return nil
	}
	delete(s.pending, userID)
	return events
}

// Peek returns a copy of the buffered responses without clearing them.
func (s *ResponseStore) Peek(userID string) []schema.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.pending[userID]
	if len(events) == 0 {
		return nil
	}
	out := make([]schema.Event, len(events))
	copy(out, events)
	return out
}
