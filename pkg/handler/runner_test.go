package handler

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	providertypes "skyclaw/pkg/provider/types"
	"skyclaw/pkg/schema"
)

type fakePrompter struct {
	failOn  map[string]error
	prompts []string
	closed  bool
}

func (f *fakePrompter) Prompt(ctx context.Context, userID string, content string) (providertypes.PromptResult, error) {
	if err, ok := f.failOn[content]; ok {
		return providertypes.PromptResult{}, err
	}
	f.prompts = append(f.prompts, content)
	return providertypes.PromptResult{Text: "reply to: " + content}, nil
}

func (f *fakePrompter) CloseAll() { f.closed = true }

type fakeDeliverer struct {
	failOn    map[string]error
	delivered []string
}

func (f *fakeDeliverer) SendMessage(ctx context.Context, content string) error {
	if err, ok := f.failOn[content]; ok {
		return err
	}
	f.delivered = append(f.delivered, content)
	return nil
}

func messageEvent(content string) schema.Event {
	return schema.NewMessageEvent(schema.EventParams{AuthorID: "user-1", Content: content, Channel: "http"})
}

func TestProcessEventsDeliversReplies(t *testing.T) {
	prompter := &fakePrompter{}
	deliverer := &fakeDeliverer{}
	events := []schema.Event{messageEvent("hello"), messageEvent("how are you")}

	processed := ProcessEvents(context.Background(), "user-1", events, prompter, deliverer, slog.New(slog.DiscardHandler))

	if processed != 2 {
		t.Fatalf("expected 2 processed, got %d", processed)
	}
	if len(deliverer.delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(deliverer.delivered))
	}
	if deliverer.delivered[0] != "reply to: hello" {
		t.Fatalf("unexpected first delivery %q", deliverer.delivered[0])
	}
}

func TestProcessEventsSkipsNonMessages(t *testing.T) {
	prompter := &fakePrompter{}
	deliverer := &fakeDeliverer{}
	events := []schema.Event{
		schema.NewResponseEvent(schema.EventParams{AuthorID: "agent", Content: "old reply", Channel: "http"}),
		schema.NewSystemEvent(schema.EventParams{Content: "sprite woke", Channel: "http"}),
		messageEvent("   "),
		messageEvent("real message"),
	}

	processed := ProcessEvents(context.Background(), "user-1", events, prompter, deliverer, slog.New(slog.DiscardHandler))

	if processed != 1 {
		t.Fatalf("expected 1 processed, got %d", processed)
	}
	if len(prompter.prompts) != 1 || prompter.prompts[0] != "real message" {
		t.Fatalf("expected only the real message prompted, got %v", prompter.prompts)
	}
}

func TestProcessEventsIsolatesFailures(t *testing.T) {
	prompter := &fakePrompter{failOn: map[string]error{"broken": errors.New("provider down")}}
	deliverer := &fakeDeliverer{failOn: map[string]error{"reply to: undeliverable": errors.New("gateway away")}}
	events := []schema.Event{
		messageEvent("broken"),
		messageEvent("undeliverable"),
		messageEvent("fine"),
	}

	processed := ProcessEvents(context.Background(), "user-1", events, prompter, deliverer, slog.New(slog.DiscardHandler))

	if processed != 1 {
		t.Fatalf("expected 1 processed despite failures, got %d", processed)
	}
	if len(deliverer.delivered) != 1 || deliverer.delivered[0] != "reply to: fine" {
		t.Fatalf("expected only the healthy event delivered, got %v", deliverer.delivered)
	}
}
