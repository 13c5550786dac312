package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// ToolClient speaks JSON-RPC 2.0 against the gateway's per-user tool
// endpoint.
type ToolClient struct {
	endpoint string
	token    string
	http     *http.Client
	nextID   atomic.Int64
	connID   string
}

// NewToolClient builds a client for the gateway tool endpoint of one user.
func NewToolClient(gatewayURL string, userID string, token string) *ToolClient {
	return &ToolClient{
		endpoint: fmt.Sprintf("%s/mcp/%s", gatewayURL, userID),
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Initialize performs the protocol handshake, registering this run's
// connection with the gateway and remembering its connection id for Shutdown.
func (c *ToolClient) Initialize(ctx context.Context) error {
	result, err := c.call(ctx, "initialize", map[string]any{})
	if err != nil {
		return err
	}

	var init struct {
		ConnectionID string `json:"connectionId"`
	}
	if err := json.Unmarshal(result, &init); err == nil {
		c.connID = init.ConnectionID
	}
	return nil
}

// Shutdown finalizes this run's connection on the gateway. A no-op when the
// handshake never completed.
func (c *ToolClient) Shutdown(ctx context.Context) error {
	if c.connID == "" {
		return nil
	}
	_, err := c.call(ctx, "shutdown", map[string]any{"connectionId": c.connID})
	return err
}

// SendMessage delivers one reply to the user through the send_message tool.
func (c *ToolClient) SendMessage(ctx context.Context, content string) error {
	_, err := c.call(ctx, "tools/call", map[string]any{
		"name":      "send_message",
		"arguments": map[string]any{"content": content},
	})
	return err
}

func (c *ToolClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", method, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, rpcResp.Error)
	}

	return rpcResp.Result, nil
}
