package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const (
	envPort                 = "PORT"
	envDSPort               = "DS_PORT"
	envJWTSecret            = "JWT_SECRET"
	envGatewayURL           = "GATEWAY_URL"
	envSpritesToken         = "SPRITES_TOKEN"
	envSpritesBaseURL       = "SPRITES_API_BASE_URL"
	envSpriteNamePrefix     = "SPRITE_NAME_PREFIX"
	envSpriteServiceName    = "SPRITE_SERVICE_NAME"
	envSpriteHandlerCommand = "SPRITE_HANDLER_COMMAND"
	envSpriteStartDuration  = "SPRITE_SERVICE_START_DURATION"
	envForwardEnv           = "SKYCLAW_FORWARD_ENV"
	envTelegramBotToken     = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom    = "TELEGRAM_ALLOW_FROM"
)

// DefaultJWTSecret signs sprite credentials when no secret is configured.
// Deployments must override it via JWT_SECRET.
const DefaultJWTSecret = "skyclaw-dev-secret"

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Sprites   SpritesConfig   `json:"sprites"`
	Channels  ChannelsConfig  `json:"channels"`
	Agents    AgentsConfig    `json:"agents"`
	Providers ProvidersConfig `json:"providers"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// GatewayConfig configures the HTTP gateway and the embedded stream server.
type GatewayConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	DSPort    int    `json:"ds_port"`
	PublicURL string `json:"public_url"`
	JWTSecret string `json:"jwt_secret"`
}

// SpritesConfig configures the remote sprite control plane and the handler
// service definition pushed to every user sprite.
type SpritesConfig struct {
	Token          string   `json:"token"`
	BaseURL        string   `json:"base_url"`
	NamePrefix     string   `json:"name_prefix"`
	ServiceName    string   `json:"service_name"`
	HandlerCommand string   `json:"handler_command"`
	StartDuration  string   `json:"start_duration"`
	ForwardEnv     []string `json:"forward_env"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// AgentsConfig contains handler runtime defaults.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

// AgentDefaults describes default model/runtime settings for user sessions.
type AgentDefaults struct {
	Provider          string  `json:"provider"`
	Model             string  `json:"model"`
	Agent             string  `json:"agent"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"max_tool_iterations"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenCode OpenCodeProviderConfig `json:"opencode"`
	OpenAI   OpenAIProviderConfig   `json:"openai"`
}

// OpenCodeProviderConfig configures the OpenCode provider client.
type OpenCodeProviderConfig struct {
	BaseURL               string `json:"base_url"`
	Username              string `json:"username"`
	PasswordEnv           string `json:"password_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url"`
	APIKeyEnv             string `json:"api_key_env"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:      "0.0.0.0",
			Port:      3000,
			DSPort:    4437,
			JWTSecret: DefaultJWTSecret,
		},
		Sprites: SpritesConfig{
			NamePrefix:    "skyclaw-",
			ServiceName:   "handler",
			StartDuration: "2s",
			ForwardEnv: []string{
				"ANTHROPIC_API_KEY",
				"OPENAI_API_KEY",
				"OPENROUTER_API_KEY",
				"SKYCLAW_AGENT_MODEL",
			},
		},
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Provider:          "opencode",
				MaxTokens:         4096,
				Temperature:       0.7,
				MaxToolIterations: 20,
			},
		},
	}
}

// LoadConfig resolves config.json, unmarshals it over the defaults, and
// applies environment overrides. A missing config file is not an error.
func LoadConfig() (*Config, error) {
	cfg := Default()

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyFallbacks(cfg)

	return cfg, nil
}

// applyEnvOverrides injects env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if port, ok := envInt(envPort); ok {
		cfg.Gateway.Port = port
	}
	if port, ok := envInt(envDSPort); ok {
		cfg.Gateway.DSPort = port
	}
	if secret := strings.TrimSpace(os.Getenv(envJWTSecret)); secret != "" {
		cfg.Gateway.JWTSecret = secret
	}
	if url := strings.TrimSpace(os.Getenv(envGatewayURL)); url != "" {
		cfg.Gateway.PublicURL = url
	}

	if token := strings.TrimSpace(os.Getenv(envSpritesToken)); token != "" {
		cfg.Sprites.Token = token
	}
	if url := strings.TrimSpace(os.Getenv(envSpritesBaseURL)); url != "" {
		cfg.Sprites.BaseURL = url
	}
	if prefix := strings.TrimSpace(os.Getenv(envSpriteNamePrefix)); prefix != "" {
		cfg.Sprites.NamePrefix = prefix
	}
	if name := strings.TrimSpace(os.Getenv(envSpriteServiceName)); name != "" {
		cfg.Sprites.ServiceName = name
	}
	if command := strings.TrimSpace(os.Getenv(envSpriteHandlerCommand)); command != "" {
		cfg.Sprites.HandlerCommand = command
	}
	if duration := strings.TrimSpace(os.Getenv(envSpriteStartDuration)); duration != "" {
		cfg.Sprites.StartDuration = duration
	}
	if rawForward := strings.TrimSpace(os.Getenv(envForwardEnv)); rawForward != "" {
		cfg.Sprites.ForwardEnv = parseCSV(rawForward)
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}
	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// applyFallbacks fills derived values that depend on other settings.
func applyFallbacks(cfg *Config) {
	if cfg.Gateway.PublicURL == "" {
		cfg.Gateway.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Gateway.Port)
	}
}

func envInt(name string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is SKYCLAW_CONFIG first, then $SKYCLAW_ROOT/config.json, then
// cwd-local fallback paths. An empty return means "use defaults".
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("SKYCLAW_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("SKYCLAW_CONFIG does not point to a file: %s", value)
	}

	var candidates []string
	if root := strings.TrimSpace(os.Getenv("SKYCLAW_ROOT")); root != "" {
		candidates = append(candidates, filepath.Join(root, "config.json"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "skyclaw", "config.json"))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, "config.json"))
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
