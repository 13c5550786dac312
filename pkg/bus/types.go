package bus

// InboundMessage is one normalized message arriving from a channel adapter.
// SenderID doubles as the mailbox user identity.
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is one response headed back to a channel adapter.
type OutboundMessage struct {
	Channel string `json:"channel"`
	UserID  string `json:"user_id"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}
