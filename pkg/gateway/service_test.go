package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"skyclaw/pkg/config"
	"skyclaw/pkg/schema"
)

func testServiceConfig() *config.Config {
	cfg := config.Default()
	cfg.Gateway.PublicURL = "http://localhost:3000"
	return cfg
}

func newTestService(t *testing.T, mailbox Mailbox, waker *Waker, streams http.Handler) *Service {
	t.Helper()
	s, err := NewService(testServiceConfig(), ServiceOptions{
		Mailbox: mailbox,
		Streams: streams,
		Waker:   waker,
		Logger:  slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestIntakeAppendsAndWakesOnce(t *testing.T) {
	mailbox := newFakeMailbox()
	fake := &fakeControlPlane{}
	s := newTestService(t, mailbox, newTestWaker(fake), nil)

	for i := 0; i < 3; i++ {
		_, err := s.Intake(context.Background(), schema.EventParams{
			UserID:   "user-1",
			AuthorID: "user-1",
			Content:  "ping",
		})
		if err != nil {
			t.Fatalf("Intake: %v", err)
		}
	}

	inbox := mailbox.events(schema.UserInbox("user-1"))
	if len(inbox) != 3 {
		t.Fatalf("inbox has %d events, want 3", len(inbox))
	}
	if inbox[0].Kind != schema.KindMessage || inbox[0].AuthorID != "user-1" {
		t.Fatalf("inbox event = %+v", inbox[0])
	}

	// The lane gate absorbs the duplicates, so only one wake runs.
	waitFor(t, time.Second, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.ensureCalls == 1
	})
	time.Sleep(20 * time.Millisecond)
	fake.mu.Lock()
	calls := fake.ensureCalls
	fake.mu.Unlock()
	if calls != 1 {
		t.Fatalf("ensureCalls = %d, want 1", calls)
	}
}

func TestIntakeSucceedsWithoutControlPlane(t *testing.T) {
	mailbox := newFakeMailbox()
	s := newTestService(t, mailbox, nil, nil)

	event, err := s.Intake(context.Background(), schema.EventParams{
		UserID:   "user-1",
		AuthorID: "user-1",
		Content:  "still recorded",
	})
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}
	if got := mailbox.events(schema.UserInbox("user-1")); len(got) != 1 || got[0].ID != event.ID {
		t.Fatalf("inbox = %v", got)
	}
}

func TestIntakeFailsWhenAppendFails(t *testing.T) {
	mailbox := newFakeMailbox()
	mailbox.appendErr = errors.New("stream down")
	s := newTestService(t, mailbox, nil, nil)

	if _, err := s.Intake(context.Background(), schema.EventParams{UserID: "user-1", Content: "x"}); err == nil {
		t.Fatal("expected intake error when append fails")
	}
}

func TestSendMessageEndpoint(t *testing.T) {
	mailbox := newFakeMailbox()
	s := newTestService(t, mailbox, nil, nil)
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	body := `{"userId":"user-1","content":"hello","channel":"telegram","channelId":"42"}`
	resp, err := http.Post(server.URL+"/api/messages/send", "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var result struct {
		OK      bool   `json:"ok"`
		EventID string `json:"eventId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.OK || result.EventID == "" {
		t.Fatalf("result = %+v", result)
	}

	inbox := mailbox.events(schema.UserInbox("user-1"))
	if len(inbox) != 1 || inbox[0].Channel != "telegram" {
		t.Fatalf("inbox = %v", inbox)
	}
	if inbox[0].ChannelID == nil || *inbox[0].ChannelID != "42" {
		t.Fatalf("channelId = %v", inbox[0].ChannelID)
	}
}

func TestSendMessageEndpointValidation(t *testing.T) {
	s := newTestService(t, newFakeMailbox(), nil, nil)
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/messages/send", "application/json", bytes.NewReader([]byte(`{"userId":"u"}`)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestResponsesEndpointDrains(t *testing.T) {
	s := newTestService(t, newFakeMailbox(), nil, nil)
	s.responses.Push("user-1", schema.Event{ID: "a", Content: "reply"})
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	get := func() []schema.Event {
		resp, err := http.Get(server.URL + "/api/responses/get?userId=user-1")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer resp.Body.Close()
		var result struct {
			Responses []schema.Event `json:"responses"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return result.Responses
	}

	if got := get(); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("responses = %v", got)
	}
	if got := get(); len(got) != 0 {
		t.Fatalf("second poll = %v, want empty", got)
	}
}

func TestSpriteAuthOnToolEndpoint(t *testing.T) {
	s := newTestService(t, newFakeMailbox(), nil, nil)
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	token := fetchToken(t, server.URL, "user-1")
	initBody := `{"jsonrpc":"2.0","id":1,"method":"initialize"}`

	if status := postMCP(t, server.URL+"/mcp/user-1", initBody, token); status != http.StatusOK {
		t.Fatalf("authorized call status = %d", status)
	}
	if status := postMCP(t, server.URL+"/mcp/user-2", initBody, token); status != http.StatusForbidden {
		t.Fatalf("cross-user call status = %d, want 403", status)
	}
	if status := postMCP(t, server.URL+"/mcp/user-1", initBody, ""); status != http.StatusUnauthorized {
		t.Fatalf("anonymous call status = %d, want 401", status)
	}
	if status := postMCP(t, server.URL+"/mcp/user-1", initBody, "garbage"); status != http.StatusUnauthorized {
		t.Fatalf("bad token call status = %d, want 401", status)
	}
}

func TestStreamProxyScopedToTokenUser(t *testing.T) {
	var proxiedPath string
	streams := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxiedPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})
	s := newTestService(t, newFakeMailbox(), nil, streams)
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	token := fetchToken(t, server.URL, "user-1")

	if status := getWithToken(t, server.URL+"/ds/v1/stream/user/user-1/inbox", token); status != http.StatusOK {
		t.Fatalf("own stream status = %d", status)
	}
	if proxiedPath != "/v1/stream/user/user-1/inbox" {
		t.Fatalf("proxied path = %q", proxiedPath)
	}

	if status := getWithToken(t, server.URL+"/ds/v1/stream/user/user-2/inbox", token); status != http.StatusForbidden {
		t.Fatalf("foreign stream status = %d, want 403", status)
	}
}

func fetchToken(t *testing.T, baseURL, userID string) string {
	t.Helper()
	resp, err := http.Get(baseURL + "/api/token/" + userID)
	if err != nil {
		t.Fatalf("GET token: %v", err)
	}
	defer resp.Body.Close()
	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if result.Token == "" {
		t.Fatal("empty token")
	}
	return result.Token
}

func postMCP(t *testing.T, url, body, token string) int {
	t.Helper()
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func getWithToken(t *testing.T, url, token string) int {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}
