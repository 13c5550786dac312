package opencode

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"skyclaw/pkg/config"
	providertypes "skyclaw/pkg/provider/types"

	sdk "github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"
)

// Client drives reasoning sessions on an opencode server.
type Client struct {
	sdk     *sdk.Client
	timeout time.Duration
}

func New(cfg *config.Config) (*Client, error) {
	pc := cfg.Providers.OpenCode
	baseURL := strings.TrimSpace(pc.BaseURL)
	if baseURL == "" {
		return nil, errors.New("providers.opencode.base_url is required")
	}

	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if header := basicAuthHeader(pc); header != "" {
		opts = append(opts, option.WithHeader("Authorization", header))
	}

	return &Client{
		sdk:     sdk.NewClient(opts...),
		timeout: time.Duration(pc.RequestTimeoutSeconds) * time.Second,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	op := startOp("health")

	var status struct {
		Healthy bool   `json:"healthy"`
		Version string `json:"version"`
	}
	if err := c.sdk.Get(ctx, "/global/health", nil, &status); err != nil {
		op.failed(err)
		return fmt.Errorf("health check failed: %w", err)
	}
	if !status.Healthy {
		op.failed(errors.New("server unhealthy"))
		return errors.New("opencode server reported unhealthy status")
	}
	op.done("version", status.Version)
	return nil
}

func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	op := startOp("create_session")

	params := sdk.SessionNewParams{}
	if t := strings.TrimSpace(title); t != "" {
		params.Title = sdk.F(t)
	}

	created, err := c.sdk.Session.New(ctx, params)
	if err != nil {
		op.failed(err)
		return "", fmt.Errorf("create session failed: %w", err)
	}
	if created.ID == "" {
		op.failed(errors.New("empty session id"))
		return "", errors.New("create session returned empty session id")
	}
	op.done("session_id", created.ID)
	return created.ID, nil
}

func (c *Client) Prompt(ctx context.Context, sessionID string, prompt string, model string, agent string) (providertypes.PromptResult, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	op := startOp("prompt",
		"session_id", strings.TrimSpace(sessionID),
		"model", strings.TrimSpace(model),
		"prompt_length", len(strings.TrimSpace(prompt)),
	)

	params := sdk.SessionPromptParams{
		Parts: sdk.F([]sdk.SessionPromptParamsPartUnion{
			sdk.TextPartInputParam{
				Type: sdk.F(sdk.TextPartInputTypeText),
				Text: sdk.F(prompt),
			},
		}),
	}
	if a := strings.TrimSpace(agent); a != "" {
		params.Agent = sdk.F(a)
	}
	if providerID, modelID, ok := splitModelRef(model); ok {
		params.Model = sdk.F(sdk.SessionPromptParamsModel{
			ProviderID: sdk.F(providerID),
			ModelID:    sdk.F(modelID),
		})
	}

	response, err := c.sdk.Session.Prompt(ctx, sessionID, params)
	if err != nil {
		op.failed(err)
		return providertypes.PromptResult{}, fmt.Errorf("prompt failed: %w", err)
	}

	text := joinTextParts(response.Parts)
	if text == "" {
		op.failed(errors.New("no text parts"))
		return providertypes.PromptResult{}, errors.New("prompt succeeded but returned no text parts")
	}
	op.done("response_length", len(text), "parts_count", len(response.Parts))

	return providertypes.PromptResult{
		Text: text,
		Metadata: providertypes.PromptMetadata{
			Provider: strings.TrimSpace(response.Info.ProviderID),
			Model:    strings.TrimSpace(response.Info.ModelID),
			Agent:    strings.TrimSpace(agent),
			Usage: tokenUsage(
				response.Info.Tokens.Input,
				response.Info.Tokens.Output,
				response.Info.Tokens.Reasoning,
				response.Info.Tokens.Cache.Read,
			),
		},
	}, nil
}

func (c *Client) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// opLog times one SDK call and records its outcome at debug level.
type opLog struct {
	log     *slog.Logger
	started time.Time
}

func startOp(operation string, attrs ...any) opLog {
	log := slog.Default().With("component", "provider.opencode", "operation", operation)
	log.Debug("provider request started", attrs...)
	return opLog{log: log, started: time.Now()}
}

func (o opLog) failed(err error) {
	o.log.Debug("provider request failed", "duration_ms", time.Since(o.started).Milliseconds(), "error", err)
}

func (o opLog) done(attrs ...any) {
	attrs = append([]any{"duration_ms", time.Since(o.started).Milliseconds()}, attrs...)
	o.log.Debug("provider request completed", attrs...)
}

func basicAuthHeader(pc config.OpenCodeProviderConfig) string {
	passwordEnv := strings.TrimSpace(pc.PasswordEnv)
	if passwordEnv == "" {
		return ""
	}
	password := strings.TrimSpace(os.Getenv(passwordEnv))
	if password == "" {
		return ""
	}

	username := strings.TrimSpace(pc.Username)
	if username == "" {
		username = "opencode"
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// splitModelRef parses "provider/model" references. Anything else falls back
// to the server's default model.
func splitModelRef(input string) (providerID string, modelID string, ok bool) {
	before, after, found := strings.Cut(strings.TrimSpace(input), "/")
	if !found {
		return "", "", false
	}

	providerID = strings.TrimSpace(before)
	modelID = strings.TrimSpace(after)
	if providerID == "" || modelID == "" {
		return "", "", false
	}
	return providerID, modelID, true
}

func joinTextParts(parts []sdk.Part) string {
	var lines []string
	for _, part := range parts {
		if part.Type != sdk.PartTypeText {
			continue
		}
		if text := strings.TrimSpace(part.Text); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func tokenUsage(input, output, reasoning, cacheRead float64) *providertypes.TokenUsage {
	usage := providertypes.TokenUsage{
		InputTokens:     roundTokens(input),
		OutputTokens:    roundTokens(output),
		ReasoningTokens: roundTokens(reasoning),
		CacheReadTokens: roundTokens(cacheRead),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	if usage.IsZero() {
		return nil
	}
	return &usage
}

func roundTokens(value float64) int64 {
	if value <= 0 {
		return 0
	}
	return int64(math.Round(value))
}
