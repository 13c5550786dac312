package handler

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"

	"skyclaw/pkg/ds"
	"skyclaw/pkg/dsserver"
	"skyclaw/pkg/schema"
)

func newStreamFixture(t *testing.T) (*ds.Client, *httptest.Server) {
	t.Helper()

	store, err := dsserver.OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	server := httptest.NewServer(dsserver.NewServer(store, slog.New(slog.DiscardHandler)).Handler())
	t.Cleanup(server.Close)

	return ds.New(server.URL), server
}

func TestReadPendingMissingStream(t *testing.T) {
	client, _ := newStreamFixture(t)
	offsets := ds.NewMemoryOffsetStore()

	pending, err := ReadPending(context.Background(), client, "user-1", offsets)
	if err != nil {
		t.Fatalf("expected missing stream to yield zero events, got %v", err)
	}
	if len(pending.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(pending.Events))
	}
	if pending.NextOffset != pending.LastOffset {
		t.Fatalf("expected cursor unchanged, got %q -> %q", pending.LastOffset, pending.NextOffset)
	}
}

func TestReadPendingReturnsEventsWithoutAdvancingCursor(t *testing.T) {
	client, _ := newStreamFixture(t)
	offsets := ds.NewMemoryOffsetStore()
	ctx := context.Background()

	inbox := schema.UserInbox("user-1")
	if err := client.EnsureStream(ctx, inbox); err != nil {
		t.Fatal(err)
	}
	for _, content := range []string{"first", "second"} {
		event := schema.NewMessageEvent(schema.EventParams{
			AuthorID: "user-1",
			Content:  content,
			Channel:  "http",
		})
		if err := client.Append(ctx, inbox, event); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := ReadPending(ctx, client, "user-1", offsets)
	if err != nil {
		t.Fatalf("ReadPending failed: %v", err)
	}
	if len(pending.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pending.Events))
	}
	if pending.Events[0].Content != "first" || pending.Events[1].Content != "second" {
		t.Fatalf("unexpected event order: %+v", pending.Events)
	}
	if pending.NextOffset == "" || pending.NextOffset == pending.LastOffset {
		t.Fatalf("expected advanced next offset, got %q", pending.NextOffset)
	}

	if stored, ok, _ := offsets.Get(schema.InboxFeedKey("user-1")); ok || stored != "" {
		t.Fatalf("expected cursor not persisted by ReadPending, got %q", stored)
	}
}

func TestReadPendingResumesFromStoredCursor(t *testing.T) {
	client, _ := newStreamFixture(t)
	offsets := ds.NewMemoryOffsetStore()
	ctx := context.Background()

	inbox := schema.UserInbox("user-1")
	if err := client.EnsureStream(ctx, inbox); err != nil {
		t.Fatal(err)
	}
	for _, content := range []string{"first", "second", "third"} {
		event := schema.NewMessageEvent(schema.EventParams{AuthorID: "user-1", Content: content, Channel: "http"})
		if err := client.Append(ctx, inbox, event); err != nil {
			t.Fatal(err)
		}
	}

	first, err := ReadPending(ctx, client, "user-1", offsets)
	if err != nil {
		t.Fatal(err)
	}
	if err := offsets.Set(schema.InboxFeedKey("user-1"), first.NextOffset); err != nil {
		t.Fatal(err)
	}

	event := schema.NewMessageEvent(schema.EventParams{AuthorID: "user-1", Content: "fourth", Channel: "http"})
	if err := client.Append(ctx, inbox, event); err != nil {
		t.Fatal(err)
	}

	second, err := ReadPending(ctx, client, "user-1", offsets)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Events) != 1 || second.Events[0].Content != "fourth" {
		t.Fatalf("expected only the new event, got %+v", second.Events)
	}
}
