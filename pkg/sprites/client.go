// Package sprites is a minimal HTTP client for the sprite control plane.
// The surface is intentionally small: just what gateway wake and service
// management need.
package sprites

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the hosted control-plane endpoint.
const DefaultBaseURL = "https://api.sprites.dev"

// APIError is a non-2xx control-plane response.
type APIError struct {
	Status int
	Method string
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sprites API %s %s failed with %d", e.Method, e.Path, e.Status)
}

// IsNotFound reports whether err is a 404-class control-plane error.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Sprite machine states reported by the control plane.
const (
	SpriteStatusCold    = "cold"
	SpriteStatusWarm    = "warm"
	SpriteStatusRunning = "running"
)

// Sprite is one remote compute unit.
type Sprite struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Organization string `json:"organization"`
	URL          string `json:"url"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// Service states reported by the control plane.
const (
	ServiceStatusStopped  = "stopped"
	ServiceStatusStarting = "starting"
	ServiceStatusRunning  = "running"
	ServiceStatusStopping = "stopping"
	ServiceStatusFailed   = "failed"
)

// ServiceState is the runtime portion of a service record.
type ServiceState struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	PID       int    `json:"pid,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Service is a named process definition on a sprite.
type Service struct {
	Name     string        `json:"name"`
	Cmd      string        `json:"cmd"`
	Args     []string      `json:"args"`
	Needs    []string      `json:"needs"`
	HTTPPort *int          `json:"http_port"`
	State    *ServiceState `json:"state,omitempty"`
}

// Status returns the service state, or "unknown" when the control plane
// did not report one.
func (s *Service) Status() string {
	if s == nil || s.State == nil || s.State.Status == "" {
		return "unknown"
	}
	return s.State.Status
}

// PutServiceInput is the write shape for service definitions.
type PutServiceInput struct {
	Cmd      string   `json:"cmd"`
	Args     []string `json:"args"`
	Needs    []string `json:"needs"`
	HTTPPort *int     `json:"http_port"`
}

// LogEvent is one structured entry from a service start or exec call. The
// control plane emits heterogeneous entries (stdout, stderr, exit, error,
// complete); Data carries whatever payload the entry type defines.
type LogEvent struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp,omitempty"`
	Data      any     `json:"data,omitempty"`
	ExitCode  *int    `json:"exit_code,omitempty"`
}

// ExecResult captures one exec invocation on a sprite.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

const defaultRequestTimeout = 60 * time.Second

// Client calls the sprite control plane with a bearer token.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the control-plane endpoint.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.http = httpClient }
}

// NewClient builds a control-plane client.
func NewClient(token string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("sprites token is required")
	}

	client := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// GetSprite fetches a sprite by name.
func (c *Client) GetSprite(ctx context.Context, name string) (*Sprite, error) {
	var sprite Sprite
	if err := c.requestJSON(ctx, http.MethodGet, "/v1/sprites/"+url.PathEscape(name), nil, nil, &sprite); err != nil {
		return nil, err
	}
	return &sprite, nil
}

// CreateSprite provisions a new sprite.
func (c *Client) CreateSprite(ctx context.Context, name string) (*Sprite, error) {
	var sprite Sprite
	body := map[string]string{"name": name}
	if err := c.requestJSON(ctx, http.MethodPost, "/v1/sprites", nil, body, &sprite); err != nil {
		return nil, err
	}
	return &sprite, nil
}

// EnsureSprite fetches the sprite, creating it when it does not exist. Any
// fetch failure other than not-found is fatal for the attempt.
func (c *Client) EnsureSprite(ctx context.Context, name string) (*Sprite, error) {
	sprite, err := c.GetSprite(ctx, name)
	if IsNotFound(err) {
		return c.CreateSprite(ctx, name)
	}
	if err != nil {
		return nil, err
	}
	return sprite, nil
}

// GetService fetches a service definition and state.
func (c *Client) GetService(ctx context.Context, spriteName, serviceName string) (*Service, error) {
	var service Service
	path := servicePath(spriteName, serviceName)
	if err := c.requestJSON(ctx, http.MethodGet, path, nil, nil, &service); err != nil {
		return nil, err
	}
	return &service, nil
}

// PutService writes a service definition. The control plane sometimes echoes
// start logs instead of the service object; in that case the canonical state
// is re-fetched rather than trusting the malformed body.
func (c *Client) PutService(ctx context.Context, spriteName, serviceName string, input PutServiceInput) (*Service, error) {
	if input.Args == nil {
		input.Args = []string{}
	}
	if input.Needs == nil {
		input.Needs = []string{}
	}

	path := servicePath(spriteName, serviceName)
	resp, err := c.request(ctx, http.MethodPut, path, nil, input)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read PUT %s response: %w", path, err)
	}

	var service Service
	if len(bytes.TrimSpace(raw)) == 0 || json.Unmarshal(raw, &service) != nil {
		return c.GetService(ctx, spriteName, serviceName)
	}
	return &service, nil
}

// StartService starts the service and returns the structured log events the
// control plane streamed during the bounded wait.
func (c *Client) StartService(ctx context.Context, spriteName, serviceName, duration string) ([]LogEvent, error) {
	if duration == "" {
		duration = "2s"
	}

	path := servicePath(spriteName, serviceName) + "/start"
	resp, err := c.request(ctx, http.MethodPost, path, url.Values{"duration": {duration}}, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read start %s response: %w", path, err)
	}
	return ParseLogEvents(raw)
}

// Exec runs a command on the sprite. The control plane answers either a JSON
// ExecResult or raw stdout as an octet stream; both are normalized.
func (c *Client) Exec(ctx context.Context, spriteName string, cmd []string, env map[string]string, dir string) (*ExecResult, error) {
	query := url.Values{}
	for _, part := range cmd {
		query.Add("cmd", part)
	}

	var body any
	payload := map[string]any{}
	if len(env) > 0 {
		payload["env"] = env
	}
	if dir != "" {
		payload["dir"] = dir
	}
	if len(payload) > 0 {
		body = payload
	}

	path := "/v1/sprites/" + url.PathEscape(spriteName) + "/exec"
	resp, err := c.request(ctx, http.MethodPost, path, query, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read exec response: %w", err)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var result ExecResult
		if err := json.Unmarshal(raw, &result); err == nil {
			return &result, nil
		}
	}
	return &ExecResult{Stdout: string(raw)}, nil
}

// ParseLogEvents decodes a start/exec log body: either a JSON array or
// newline-delimited JSON objects.
func ParseLogEvents(raw []byte) ([]LogEvent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var events []LogEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decode log events: %w", err)
		}
		return events, nil
	}

	var events []LogEvent
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var event LogEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("decode log event line: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

func servicePath(spriteName, serviceName string) string {
	return "/v1/sprites/" + url.PathEscape(spriteName) + "/services/" + url.PathEscape(serviceName)
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{
			Status: resp.StatusCode,
			Method: method,
			Path:   path,
			Body:   string(snippet),
		}
	}
	return resp, nil
}

func (c *Client) requestJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.request(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s response: %w", method, path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("sprites API %s %s returned an empty body", method, path)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		snippet := strings.Join(strings.Fields(string(raw[:min(len(raw), 240)])), " ")
		return fmt.Errorf("sprites API %s %s returned non-JSON body: %s", method, path, snippet)
	}
	return nil
}
