package handler

import (
	"context"
	"errors"
	"fmt"

	"skyclaw/pkg/ds"
	"skyclaw/pkg/schema"
)

// Pending is one inbox drain result. NextOffset is the cursor to persist
// after the whole batch has been processed.
type Pending struct {
	Events     []schema.Event
	LastOffset string
	NextOffset string
}

// ReadPending fetches every inbox event since the stored cursor through
// the gateway's stream proxy. A missing stream yields zero events; any
// other read error is fatal. The cursor is not advanced here: callers
// persist NextOffset only once the batch has been fully processed.
func ReadPending(ctx context.Context, client *ds.Client, userID string, offsets ds.OffsetStore) (Pending, error) {
	feedKey := schema.InboxFeedKey(userID)

	lastOffset, _, err := offsets.Get(feedKey)
	if err != nil {
		return Pending{}, fmt.Errorf("load offset for %s: %w", feedKey, err)
	}

	events, nextOffset, err := client.Read(ctx, schema.UserInbox(userID), lastOffset)
	if err != nil {
		if errors.Is(err, ds.ErrStreamNotFound) {
			return Pending{LastOffset: lastOffset, NextOffset: lastOffset}, nil
		}
		return Pending{}, fmt.Errorf("read inbox for %s: %w", userID, err)
	}

	if nextOffset == "" {
		nextOffset = lastOffset
	}

	return Pending{Events: events, LastOffset: lastOffset, NextOffset: nextOffset}, nil
}
