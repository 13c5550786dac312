package gateway

import (
	"sync"
	"time"
)

// DefaultLaneTTL bounds how long a user lane stays marked after intake.
const DefaultLaneTTL = 60 * time.Second

// LaneQueue is a TTL dedup gate keyed by user. Enqueue marks a lane and
// reports whether the lane was newly marked; a lane already marked and not
// yet expired absorbs the duplicate. Expiry is lazy: expired entries are
// dropped on the next lookup or by GC.
type LaneQueue struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewLaneQueue builds an empty queue on the wall clock.
func NewLaneQueue() *LaneQueue {
	return &LaneQueue{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Enqueue marks the user lane for ttl and reports whether the mark is new.
// A non-positive ttl falls back to DefaultLaneTTL.
func (q *LaneQueue) Enqueue(userID string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultLaneTTL
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if expiry, ok := q.expires[userID]; ok && now.Before(expiry) {
		return false
	}
	q.expires[userID] = now.Add(ttl)
	return true
}

// Dequeue clears the user lane regardless of expiry.
func (q *LaneQueue) Dequeue(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.expires, userID)
}

// Has reports whether the user lane is currently marked.
func (q *LaneQueue) Has(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	expiry, ok := q.expires[userID]
	if !ok {
		return false
	}
	if !q.now().Before(expiry) {
		delete(q.expires, userID)
		return false
	}
	return true
}

// GC drops every expired lane and returns how many were removed.
func (q *LaneQueue) GC() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	removed := 0
	for userID, expiry := range q.expires {
		if !now.Before(expiry) {
			delete(q.expires, userID)
			removed++
		}
	}
	return removed
}
