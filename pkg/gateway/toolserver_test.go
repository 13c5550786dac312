package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"skyclaw/pkg/ds"
	"skyclaw/pkg/schema"
)

// fakeMailbox is an in-memory Mailbox with injectable append failures.
type fakeMailbox struct {
	mu        sync.Mutex
	streams   map[string][]schema.Event
	appendErr error
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{streams: make(map[string][]schema.Event)}
}

func (m *fakeMailbox) EnsureStream(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[path]; !ok {
		m.streams[path] = nil
	}
	return nil
}

func (m *fakeMailbox) Append(_ context.Context, path string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	event, ok := payload.(schema.Event)
	if !ok {
		return fmt.Errorf("unexpected payload %T", payload)
	}
	m.streams[path] = append(m.streams[path], event)
	return nil
}

func (m *fakeMailbox) Read(_ context.Context, path string, sinceOffset string) ([]schema.Event, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events, ok := m.streams[path]
	if !ok {
		return nil, sinceOffset, ds.ErrStreamNotFound
	}
	start := 0
	if sinceOffset != "" {
		if parsed, err := strconv.Atoi(sinceOffset); err == nil {
			start = parsed
		}
	}
	if start > len(events) {
		start = len(events)
	}
	out := make([]schema.Event, len(events)-start)
	copy(out, events[start:])
	return out, strconv.Itoa(len(events)), nil
}

func (m *fakeMailbox) events(path string) []schema.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schema.Event(nil), m.streams[path]...)
}

func callTool(t *testing.T, server *ToolServer, userID, body string) rpcResponse {
	t.Helper()
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("POST", "/mcp/"+userID, bytes.NewReader([]byte(body)))
	server.ServeUser(recorder, request, userID)

	var resp rpcResponse
	if err := json.NewDecoder(recorder.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func resultText(t *testing.T, resp rpcResponse) string {
	t.Helper()
	encoded, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-encode result: %v", err)
	}
	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(encoded, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("result has no content: %v", resp.Result)
	}
	return result.Content[0].Text
}

func newTestToolServer(mailbox Mailbox) (*ToolServer, *ResponseStore) {
	responses := NewResponseStore()
	return NewToolServer(mailbox, responses, nil, slog.New(slog.DiscardHandler)), responses
}

func TestToolServerInitializeAndList(t *testing.T) {
	server, _ := newTestToolServer(newFakeMailbox())

	resp := callTool(t, server, "user-1", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	if resp.Error != nil {
		t.Fatalf("initialize error: %+v", resp.Error)
	}
	if _, ok := server.ConnID("user-1"); !ok {
		t.Fatal("initialize should register a connection entry")
	}

	resp = callTool(t, server, "user-1", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	encoded, _ := json.Marshal(resp.Result)
	for _, tool := range []string{"send_message", "recent_history"} {
		if !strings.Contains(string(encoded), tool) {
			t.Errorf("tools/list missing %q", tool)
		}
	}
}

func TestToolServerSendMessage(t *testing.T) {
	mailbox := newFakeMailbox()
	server, responses := newTestToolServer(mailbox)

	resp := callTool(t, server, "user-1",
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"send_message","arguments":{"content":"hello there"}}}`)
	if resp.Error != nil {
		t.Fatalf("send_message error: %+v", resp.Error)
	}

	outbox := mailbox.events(schema.UserOutbox("user-1"))
	if len(outbox) != 1 {
		t.Fatalf("outbox has %d events, want 1", len(outbox))
	}
	if outbox[0].Kind != schema.KindResponse || outbox[0].Content != "hello there" {
		t.Fatalf("outbox event = %+v", outbox[0])
	}

	buffered := responses.Drain("user-1")
	if len(buffered) != 1 || buffered[0].ID != outbox[0].ID {
		t.Fatalf("response buffer = %v", buffered)
	}
}

func TestToolServerSendMessageAppendFailure(t *testing.T) {
	mailbox := newFakeMailbox()
	mailbox.appendErr = errors.New("stream service down")
	server, responses := newTestToolServer(mailbox)

	resp := callTool(t, server, "user-1",
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"send_message","arguments":{"content":"lost"}}}`)
	if resp.Error == nil {
		t.Fatal("expected tool error when the outbox append fails")
	}
	if got := responses.Drain("user-1"); got != nil {
		t.Fatalf("nothing should reach the response buffer, got %v", got)
	}
}

func TestToolServerRecentHistory(t *testing.T) {
	mailbox := newFakeMailbox()
	inbox := schema.UserInbox("user-1")
	for i := 0; i < 5; i++ {
		_ = mailbox.Append(context.Background(), inbox, schema.NewMessageEvent(schema.EventParams{
			UserID:   "user-1",
			AuthorID: "user-1",
			Content:  fmt.Sprintf("message %d", i),
		}))
	}
	server, _ := newTestToolServer(mailbox)

	resp := callTool(t, server, "user-1",
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"recent_history","arguments":{"limit":2}}}`)
	if resp.Error != nil {
		t.Fatalf("recent_history error: %+v", resp.Error)
	}

	var history []schema.Event
	if err := json.Unmarshal([]byte(resultText(t, resp)), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d events, want 2", len(history))
	}
	if history[0].Content != "message 3" || history[1].Content != "message 4" {
		t.Fatalf("history = %v, want the newest two in order", history)
	}
}

func TestToolServerRecentHistoryMissingStream(t *testing.T) {
	server, _ := newTestToolServer(newFakeMailbox())

	resp := callTool(t, server, "user-1",
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"recent_history","arguments":{}}}`)
	if resp.Error != nil {
		t.Fatalf("missing stream should yield empty history, got %+v", resp.Error)
	}
	if text := resultText(t, resp); text != "[]" && text != "null" {
		t.Fatalf("history text = %q, want empty", text)
	}
}

func TestToolServerUnknownMethodAndTool(t *testing.T) {
	server, _ := newTestToolServer(newFakeMailbox())

	resp := callTool(t, server, "user-1", `{"jsonrpc":"2.0","id":7,"method":"bogus"}`)
	if resp.Error == nil || resp.Error.Code != rpcMethodNotFound {
		t.Fatalf("error = %+v, want method not found", resp.Error)
	}

	resp = callTool(t, server, "user-1",
		`{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"bogus","arguments":{}}}`)
	if resp.Error == nil || resp.Error.Code != rpcInvalidParams {
		t.Fatalf("error = %+v, want invalid params", resp.Error)
	}
}

func TestToolServerShutdown(t *testing.T) {
	server, _ := newTestToolServer(newFakeMailbox())

	resp := callTool(t, server, "user-1", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	encoded, _ := json.Marshal(resp.Result)
	var init struct {
		ConnectionID string `json:"connectionId"`
	}
	if err := json.Unmarshal(encoded, &init); err != nil || init.ConnectionID == "" {
		t.Fatalf("initialize result carries no connectionId: %s", encoded)
	}

	resp = callTool(t, server, "user-1", `{"jsonrpc":"2.0","id":2,"method":"shutdown","params":{}}`)
	if resp.Error == nil || resp.Error.Code != rpcInvalidParams {
		t.Fatalf("shutdown without connectionId: error = %+v", resp.Error)
	}

	resp = callTool(t, server, "user-1",
		`{"jsonrpc":"2.0","id":3,"method":"shutdown","params":{"connectionId":"`+init.ConnectionID+`"}}`)
	if resp.Error != nil {
		t.Fatalf("shutdown error: %+v", resp.Error)
	}
	if _, ok := server.ConnID("user-1"); ok {
		t.Fatal("shutdown should remove the connection entry")
	}
}

func TestToolServerShutdownAfterReconnectKeepsCurrentEntry(t *testing.T) {
	server, _ := newTestToolServer(newFakeMailbox())

	resp := callTool(t, server, "user-1", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	encoded, _ := json.Marshal(resp.Result)
	var init struct {
		ConnectionID string `json:"connectionId"`
	}
	_ = json.Unmarshal(encoded, &init)

	callTool(t, server, "user-1", `{"jsonrpc":"2.0","id":2,"method":"initialize"}`)
	currentID, _ := server.ConnID("user-1")
	if currentID == init.ConnectionID {
		t.Fatal("reconnect should mint a new connection id")
	}

	// A late shutdown from the replaced run must leave the new entry alone.
	resp = callTool(t, server, "user-1",
		`{"jsonrpc":"2.0","id":3,"method":"shutdown","params":{"connectionId":"`+init.ConnectionID+`"}}`)
	if resp.Error != nil {
		t.Fatalf("stale shutdown error: %+v", resp.Error)
	}
	if got, ok := server.ConnID("user-1"); !ok || got != currentID {
		t.Fatalf("current connection = %q, %v; want %q kept", got, ok, currentID)
	}
}

func TestToolServerCloseConnRaceGuard(t *testing.T) {
	server, _ := newTestToolServer(newFakeMailbox())

	callTool(t, server, "user-1", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	oldID, _ := server.ConnID("user-1")

	// Reconnect replaces the entry; the old finalizer must not remove it.
	callTool(t, server, "user-1", `{"jsonrpc":"2.0","id":2,"method":"initialize"}`)
	newID, _ := server.ConnID("user-1")
	if newID == oldID {
		t.Fatal("reconnect should mint a new connection id")
	}

	server.CloseConn("user-1", oldID)
	if _, ok := server.ConnID("user-1"); !ok {
		t.Fatal("stale close must not remove the current connection")
	}

	server.CloseConn("user-1", newID)
	if _, ok := server.ConnID("user-1"); ok {
		t.Fatal("current close should remove the connection")
	}
}
