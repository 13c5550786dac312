package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"skyclaw/pkg/config"
	providertypes "skyclaw/pkg/provider/types"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/conversations"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

// Client runs reasoning sessions on the OpenAI Responses API, one conversation
// per session.
type Client struct {
	api     osdk.Client
	timeout time.Duration
}

func New(cfg *config.Config) (*Client, error) {
	pc := cfg.Providers.OpenAI
	apiKey := resolveAPIKey(pc)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if v := strings.TrimSpace(pc.BaseURL); v != "" {
		opts = append(opts, option.WithBaseURL(v))
	}
	if v := strings.TrimSpace(pc.Organization); v != "" {
		opts = append(opts, option.WithOrganization(v))
	}
	if v := strings.TrimSpace(pc.Project); v != "" {
		opts = append(opts, option.WithProject(v))
	}

	timeout := time.Duration(pc.RequestTimeoutSeconds) * time.Second
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &Client{api: osdk.NewClient(opts...), timeout: timeout}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	op := startOp("health")

	if _, err := c.api.Models.List(ctx); err != nil {
		op.failed(err)
		return fmt.Errorf("health check failed: %w", err)
	}
	op.done()
	return nil
}

func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	op := startOp("create_session")

	conversation, err := c.api.Conversations.New(ctx, conversations.ConversationNewParams{})
	if err != nil {
		op.failed(err)
		return "", fmt.Errorf("create session failed: %w", err)
	}
	if conversation == nil || strings.TrimSpace(conversation.ID) == "" {
		op.failed(errors.New("empty conversation id"))
		return "", errors.New("create session returned empty conversation id")
	}

	id := strings.TrimSpace(conversation.ID)
	op.done("session_id", id)
	return id, nil
}

func (c *Client) Prompt(ctx context.Context, sessionID string, prompt string, model string, agent string) (providertypes.PromptResult, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return providertypes.PromptResult{}, errors.New("session id is required")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return providertypes.PromptResult{}, errors.New("prompt is required")
	}

	modelID, err := normalizeModel(model)
	if err != nil {
		return providertypes.PromptResult{}, err
	}
	op := startOp("prompt", "session_id", sessionID, "model", modelID, "prompt_length", len(prompt))

	response, err := c.api.Responses.New(ctx, responses.ResponseNewParams{
		Model: modelID,
		Input: responses.ResponseNewParamsInputUnion{OfString: osdk.String(prompt)},
		Conversation: responses.ResponseNewParamsConversationUnion{
			OfConversationObject: &responses.ResponseConversationParam{ID: sessionID},
		},
	})
	if err != nil {
		op.failed(err)
		return providertypes.PromptResult{}, fmt.Errorf("prompt failed: %w", err)
	}

	text := strings.TrimSpace(response.OutputText())
	if text == "" {
		op.failed(errors.New("no output text"))
		return providertypes.PromptResult{}, errors.New("prompt succeeded but returned no text")
	}
	op.done("response_length", len(text))

	return providertypes.PromptResult{
		Text: text,
		Metadata: providertypes.PromptMetadata{
			Provider: "openai",
			Model:    modelID,
			Agent:    strings.TrimSpace(agent),
			Usage:    responseUsage(response),
		},
	}, nil
}

func (c *Client) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// opLog times one API call and records its outcome at debug level.
type opLog struct {
	log     *slog.Logger
	started time.Time
}

func startOp(operation string, attrs ...any) opLog {
	log := slog.Default().With("component", "provider.openai", "operation", operation)
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

func responseUsage(response *responses.Response) *providertypes.TokenUsage {
	if response == nil {
		return nil
	}

	usage := providertypes.TokenUsage{
		InputTokens:     response.Usage.InputTokens,
		OutputTokens:    response.Usage.OutputTokens,
		TotalTokens:     response.Usage.TotalTokens,
		ReasoningTokens: response.Usage.OutputTokensDetails.ReasoningTokens,
		CacheReadTokens: response.Usage.InputTokensDetails.CachedTokens,
	}
	if usage.IsZero() {
		return nil
	}
	return &usage
}

func resolveAPIKey(pc config.OpenAIProviderConfig) string {
	if env := strings.TrimSpace(pc.APIKeyEnv); env != "" {
		if key := strings.TrimSpace(os.Getenv(env)); key != "" {
			return key
		}
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

// normalizeModel accepts bare model ids and "openai/<model>" references.
// References naming another provider are rejected rather than silently sent.
func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	before, after, found := strings.Cut(model, "/")
	if !found {
		return model, nil
	}

	providerID := strings.TrimSpace(before)
	modelID := strings.TrimSpace(after)
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by openai provider", providerID)
	}
	return modelID, nil
}
