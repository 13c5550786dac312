// Package ds is the mailbox client: append, create, and offset-based reads
// over named durable streams exposed by the gateway's stream service.
package ds

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"skyclaw/pkg/schema"
)

// NextOffsetHeader carries the resume cursor on read responses.
const NextOffsetHeader = "X-Stream-Next-Offset"

// ErrStreamNotFound marks reads and appends against an unknown stream.
var ErrStreamNotFound = errors.New("stream not found")

const defaultRequestTimeout = 30 * time.Second

// Client talks to a durable stream service. The zero value is not usable;
// construct with New.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken attaches a bearer token to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.http = httpClient }
}

// New builds a stream client rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// EnsureStream creates the stream if it does not exist. A stream that
// already exists is success, not an error: concurrent creators may race and
// the loser must not fail.
func (c *Client) EnsureStream(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodPut, path, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return nil
	default:
		return responseError(http.MethodPut, path, resp)
	}
}

// Append serializes payload as JSON and appends it to the stream. If the
// stream does not exist yet it is created and the append retried exactly
// once, so callers never pre-create streams.
func (c *Client) Append(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode stream payload: %w", err)
	}

	err = c.appendRaw(ctx, path, body)
	if !errors.Is(err, ErrStreamNotFound) {
		return err
	}

	if err := c.EnsureStream(ctx, path); err != nil {
		return err
	}
	return c.appendRaw(ctx, path, body)
}

func (c *Client) appendRaw(ctx context.Context, path string, body []byte) error {
	resp, err := c.do(ctx, http.MethodPost, path, "", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("append %s: %w", path, ErrStreamNotFound)
	default:
		return responseError(http.MethodPost, path, resp)
	}
}

// Read returns all events after sinceOffset (or from the beginning when
// sinceOffset is empty) up to the current tail, plus the new tail offset.
// It never blocks waiting for future events. An unknown stream yields
// ErrStreamNotFound.
func (c *Client) Read(ctx context.Context, path string, sinceOffset string) ([]schema.Event, string, error) {
	query := ""
	if sinceOffset != "" {
		query = "?offset=" + sinceOffset
	}

	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", fmt.Errorf("read %s: %w", path, ErrStreamNotFound)
	default:
		return nil, "", responseError(http.MethodGet, path, resp)
	}

	events, err := decodeEvents(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("decode stream %s: %w", path, err)
	}

	nextOffset := resp.Header.Get(NextOffsetHeader)
	if nextOffset == "" {
		nextOffset = sinceOffset
	}
	return events, nextOffset, nil
}

func decodeEvents(body io.Reader) ([]schema.Event, error) {
	var events []schema.Event

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event schema.Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

func (c *Client) do(ctx context.Context, method, path, query string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + "/" + path + query
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func responseError(method, path string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 240))
	return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
