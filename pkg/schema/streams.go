package schema

import "fmt"

// StreamPath builds a durable stream path from a logical stream name.
func StreamPath(stream string) string {
	return "v1/stream/" + stream
}

// UserInbox returns the stream path for messages directed TO a user's sprite.
func UserInbox(userID string) string {
	return StreamPath(fmt.Sprintf("user/%s/inbox", userID))
}

// UserOutbox returns the stream path for responses directed to the user.
func UserOutbox(userID string) string {
	return StreamPath(fmt.Sprintf("user/%s/outbox", userID))
}

// InboxFeedKey is the offset-store key for a consumer of a user's inbox.
func InboxFeedKey(userID string) string {
	return "inbox:" + userID
}
