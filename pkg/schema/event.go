// Package schema defines the single event type that flows through the
// per-user mailbox streams, plus the helpers for building and tagging events.
package schema

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event kinds. Every mailbox record carries exactly one.
const (
	KindMessage  = 1   // incoming user message from any channel
	KindResponse = 2   // agent response produced by a sprite
	KindSystem   = 100 // internal lifecycle event
)

// AuthorSystem is the reserved author id for gateway-generated events.
const AuthorSystem = "system"

// Event is the universal mailbox record. Once appended to a stream an event
// is never mutated; streams are append-only logs addressed by offsets.
type Event struct {
	// ID is a ULID: globally unique and monotonically sortable.
	ID string `json:"id"`
	// UserID is the user whose mailbox this event belongs to.
	UserID string `json:"userId"`
	// AuthorID identifies who produced the event: a user id, an agent id,
	// or "system".
	AuthorID string `json:"authorId"`
	// Kind is one of KindMessage, KindResponse, KindSystem.
	Kind int `json:"kind"`
	// Content is the text payload.
	Content string `json:"content"`
	// Meta holds extensible tagged entries of the form [name, value...].
	// Order is preserved and names may repeat.
	Meta [][]string `json:"meta"`
	// Channel is the origin transport tag ("http", "telegram", ...).
	Channel string `json:"channel"`
	// ChannelID is the platform-specific conversation handle, if any.
	ChannelID *string `json:"channelId"`
	// CreatedAt is the creation time in unix milliseconds.
	CreatedAt int64 `json:"createdAt"`
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a fresh ULID. IDs generated within the same process are
// strictly increasing even within one millisecond.
func NewID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// EventParams carries the caller-supplied fields for event builders.
type EventParams struct {
	UserID    string
	AuthorID  string
	Content   string
	Channel   string
	ChannelID *string
	Meta      [][]string
}

func newEvent(kind int, p EventParams) Event {
	meta := p.Meta
	if meta == nil {
		meta = [][]string{}
	}

	return Event{
		ID:        NewID(),
		UserID:    p.UserID,
		AuthorID:  p.AuthorID,
		Kind:      kind,
		Content:   p.Content,
		Meta:      meta,
		Channel:   p.Channel,
		ChannelID: p.ChannelID,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// NewMessageEvent builds an event for an incoming user message.
func NewMessageEvent(p EventParams) Event {
	return newEvent(KindMessage, p)
}

// NewResponseEvent builds an event for a sprite/agent response.
func NewResponseEvent(p EventParams) Event {
	return newEvent(KindResponse, p)
}

// NewSystemEvent builds an internal lifecycle event authored by "system".
func NewSystemEvent(p EventParams) Event {
	p.AuthorID = AuthorSystem
	return newEvent(KindSystem, p)
}
