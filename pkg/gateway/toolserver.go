package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"skyclaw/pkg/ds"
	"skyclaw/pkg/metrics"
	"skyclaw/pkg/schema"
)

// JSON-RPC error codes used by the tool endpoint.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcInternalError  = -32603
)

const toolProtocolVersion = "2024-11-05"

const defaultHistoryLimit = 20

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// toolConn is the per-user connection entry. One entry exists per user at a
// time; a replaced entry's finalizer must not tear down its successor.
type toolConn struct {
	id     string
	userID string
}

// Mailbox is the stream surface the tool server writes through.
type Mailbox interface {
	EnsureStream(ctx context.Context, path string) error
	Append(ctx context.Context, path string, payload any) error
	Read(ctx context.Context, path string, sinceOffset string) ([]schema.Event, string, error)
}

// ToolServer exposes the per-user tool endpoint the sprite handler calls
// back into: send_message delivers a response through the user's outbox,
// recent_history reads the user's inbox.
type ToolServer struct {
	mailbox   Mailbox
	responses *ResponseStore
	metrics   *metrics.Metrics
	log       *slog.Logger

	connGroup singleflight.Group
	mu        sync.Mutex
	conns     map[string]*toolConn

	onResponse func(userID string, event schema.Event)
}

// SetResponseHook registers a callback invoked after a response has been
// durably appended and buffered. Used by the gateway for channel delivery.
func (t *ToolServer) SetResponseHook(hook func(userID string, event schema.Event)) {
	t.onResponse = hook
}

// NewToolServer wires the tool endpoint over a mailbox client.
func NewToolServer(mailbox Mailbox, responses *ResponseStore, m *metrics.Metrics, log *slog.Logger) *ToolServer {
	if log == nil {
		log = slog.Default()
	}
	return &ToolServer{
		mailbox:   mailbox,
		responses: responses,
		metrics:   m,
		log:       log.With("component", "gateway.tools"),
		conns:     make(map[string]*toolConn),
	}
}

// ServeUser handles one JSON-RPC request on behalf of the authenticated user.
func (t *ToolServer) ServeUser(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.respond(w, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: rpcParseError, Message: "parse error"}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		t.respond(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: rpcInvalidRequest, Message: "invalid request"}})
		return
	}

	result, rpcErr := t.dispatch(r.Context(), userID, req)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr}
	t.respond(w, resp)
}

func (t *ToolServer) respond(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.log.Error("Failed to write tool response", "error", err)
	}
}

func (t *ToolServer) dispatch(ctx context.Context, userID string, req rpcRequest) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		return t.handleInitialize(userID)
	case "notifications/initialized":
		return map[string]any{}, nil
	case "shutdown":
		return t.handleShutdown(userID, req.Params)
	case "tools/list":
		return t.handleToolsList()
	case "tools/call":
		return t.handleToolsCall(ctx, userID, req.Params)
	default:
		return nil, &rpcError{Code: rpcMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

// handleInitialize registers the user's connection entry. Creation runs
// under singleflight so a burst of initialize calls yields one entry.
func (t *ToolServer) handleInitialize(userID string) (any, *rpcError) {
	entry, _, _ := t.connGroup.Do(userID, func() (any, error) {
		conn := &toolConn{id: uuid.NewString(), userID: userID}
		t.mu.Lock()
		t.conns[userID] = conn
		t.mu.Unlock()
		return conn, nil
	})
	conn := entry.(*toolConn)

	t.log.Info("Tool connection initialized", "user_id", userID, "connection_id", conn.id)
	return map[string]any{
		"protocolVersion": toolProtocolVersion,
		"serverInfo":      map[string]any{"name": "skyclaw-gateway", "version": "1.0.0"},
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"connectionId":    conn.id,
	}, nil
}

// handleShutdown finalizes the caller's connection entry. The connection id
// from initialize is required so a shutdown arriving after a reconnect does
// not tear down the newer entry.
func (t *ToolServer) handleShutdown(userID string, raw json.RawMessage) (any, *rpcError) {
	var params struct {
		ConnectionID string `json:"connectionId"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || params.ConnectionID == "" {
		return nil, &rpcError{Code: rpcInvalidParams, Message: "shutdown requires connectionId"}
	}

	t.CloseConn(userID, params.ConnectionID)
	t.log.Info("Tool connection closed", "user_id", userID, "connection_id", params.ConnectionID)
	return map[string]any{}, nil
}

// CloseConn removes the user's connection entry, but only when the entry is
// still the one identified by connID. A reconnect that already replaced the
// entry is left untouched.
func (t *ToolServer) CloseConn(userID, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.conns[userID]; ok && current.id == connID {
		delete(t.conns, userID)
	}
}

// ConnID returns the user's current connection ID, if any.
func (t *ToolServer) ConnID(userID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn, ok := t.conns[userID]
	if !ok {
		return "", false
	}
	return conn.id, true
}

func (t *ToolServer) handleToolsList() (any, *rpcError) {
	return map[string]any{
		"tools": []map[string]any{
			{
				"name":        "send_message",
				"description": "Send a message to the user.",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"content": map[string]any{"type": "string", "description": "Message text to deliver."},
					},
					"required": []string{"content"},
				},
			},
			{
				"name":        "recent_history",
				"description": "Read the user's recent incoming messages.",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"limit": map[string]any{"type": "integer", "description": "Maximum number of messages."},
					},
				},
			},
		},
	}, nil
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (t *ToolServer) handleToolsCall(ctx context.Context, userID string, raw json.RawMessage) (any, *rpcError) {
	var params toolCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &rpcError{Code: rpcInvalidParams, Message: "invalid tool call params"}
	}

	if t.metrics != nil {
		t.metrics.ToolCalls.WithLabelValues(params.Name).Inc()
	}

	switch params.Name {
	case "send_message":
		return t.callSendMessage(ctx, userID, params.Arguments)
	case "recent_history":
		return t.callRecentHistory(ctx, userID, params.Arguments)
	default:
		return nil, &rpcError{Code: rpcInvalidParams, Message: fmt.Sprintf("unknown tool %q", params.Name)}
	}
}

// callSendMessage appends a response event to the user's outbox. The append
// is authoritative: when it fails the tool call fails, and nothing reaches
// the in-memory response buffer.
func (t *ToolServer) callSendMessage(ctx context.Context, userID string, raw json.RawMessage) (any, *rpcError) {
	var args struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &args); err != nil || args.Content == "" {
		return nil, &rpcError{Code: rpcInvalidParams, Message: "send_message requires content"}
	}

	params := schema.EventParams{
		UserID:   userID,
		AuthorID: "agent",
		Content:  args.Content,
	}
	// Responses inherit their reply route from the newest inbound message
	// that carried one.
	if events, _, err := t.mailbox.Read(ctx, schema.UserInbox(userID), ""); err == nil {
		for i := len(events) - 1; i >= 0; i-- {
			if events[i].Channel != "" {
				params.Channel = events[i].Channel
				params.ChannelID = events[i].ChannelID
				break
			}
		}
	}

	event := schema.NewResponseEvent(params)
	if err := t.mailbox.Append(ctx, schema.UserOutbox(userID), event); err != nil {
		t.log.Error("Outbox append failed", "user_id", userID, "error", err)
		return nil, &rpcError{Code: rpcInternalError, Message: "message delivery failed"}
	}
	if t.metrics != nil {
		t.metrics.MessagesAppended.WithLabelValues("outbox").Inc()
	}
	t.responses.Push(userID, event)
	if t.onResponse != nil {
		t.onResponse(userID, event)
	}

	return toolResultText("message sent"), nil
}

// callRecentHistory reads the user's inbox. The result shape is stable even
// when the stream does not exist yet: an empty history, not an error.
func (t *ToolServer) callRecentHistory(ctx context.Context, userID string, raw json.RawMessage) (any, *rpcError) {
	limit := defaultHistoryLimit
	if len(raw) > 0 {
		var args struct {
			Limit int `json:"limit"`
		}
		if err := json.Unmarshal(raw, &args); err == nil && args.Limit > 0 {
			limit = args.Limit
		}
	}

	events, _, err := t.mailbox.Read(ctx, schema.UserInbox(userID), "")
	if err != nil && !errors.Is(err, ds.ErrStreamNotFound) {
		t.log.Error("Inbox read failed", "user_id", userID, "error", err)
		return nil, &rpcError{Code: rpcInternalError, Message: "history read failed"}
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}

	encoded, err := json.Marshal(events)
	if err != nil {
		return nil, &rpcError{Code: rpcInternalError, Message: "history encode failed"}
	}
	return toolResultText(string(encoded)), nil
}

func toolResultText(text string) map[string]any {
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	}
}
