package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"skyclaw/pkg/config"
	provideropenai "skyclaw/pkg/provider/openai"
	"skyclaw/pkg/provider/opencode"
	providertypes "skyclaw/pkg/provider/types"
)

// DefaultProvider is used when the config names no reasoning provider.
const DefaultProvider = "opencode"

// Client is the reasoning backend the session manager multiplexes users over.
type Client interface {
	Health(ctx context.Context) error
	CreateSession(ctx context.Context, title string) (string, error)
	Prompt(ctx context.Context, sessionID string, prompt string, model string, agent string) (providertypes.PromptResult, error)
}

// New builds the provider client named by cfg.Agents.Defaults.Provider.
func New(cfg *config.Config) (Client, error) {
	providerID := strings.TrimSpace(cfg.Agents.Defaults.Provider)
	if providerID == "" {
		providerID = DefaultProvider
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", providerID)

	switch providerID {
	case "opencode":
		return opencode.New(cfg)
	case "openai":
		return provideropenai.New(cfg)
	}
	return nil, fmt.Errorf("unsupported provider: %s", providerID)
}
