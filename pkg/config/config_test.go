package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SKYCLAW_CONFIG", "")
	t.Setenv("SKYCLAW_ROOT", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Gateway.Port != 3000 {
		t.Fatalf("gateway.port = %d, want 3000", cfg.Gateway.Port)
	}
	if cfg.Gateway.DSPort != 4437 {
		t.Fatalf("gateway.ds_port = %d, want 4437", cfg.Gateway.DSPort)
	}
	if cfg.Gateway.JWTSecret != DefaultJWTSecret {
		t.Fatalf("gateway.jwt_secret = %q, want default", cfg.Gateway.JWTSecret)
	}
	if cfg.Gateway.PublicURL != "http://localhost:3000" {
		t.Fatalf("gateway.public_url = %q", cfg.Gateway.PublicURL)
	}
	if cfg.Sprites.ServiceName != "handler" {
		t.Fatalf("sprites.service_name = %q, want %q", cfg.Sprites.ServiceName, "handler")
	}
	want := []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "OPENROUTER_API_KEY", "SKYCLAW_AGENT_MODEL"}
	if len(cfg.Sprites.ForwardEnv) != len(want) {
		t.Fatalf("sprites.forward_env = %v, want %v", cfg.Sprites.ForwardEnv, want)
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "gateway": {"host": "0.0.0.0", "port": 18790, "jwt_secret": "file-secret"},
	  "sprites": {"name_prefix": "myclaw-", "service_name": "worker"},
	  "channels": {"telegram": {"enabled": true, "token": "tg-token"}},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("SKYCLAW_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Gateway.Port != 18790 {
		t.Fatalf("gateway.port = %d, want 18790", cfg.Gateway.Port)
	}
	if cfg.Gateway.JWTSecret != "file-secret" {
		t.Fatalf("gateway.jwt_secret = %q, want %q", cfg.Gateway.JWTSecret, "file-secret")
	}
	if cfg.Sprites.NamePrefix != "myclaw-" {
		t.Fatalf("sprites.name_prefix = %q, want %q", cfg.Sprites.NamePrefix, "myclaw-")
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SKYCLAW_CONFIG", "")
	t.Setenv("SKYCLAW_ROOT", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PORT", "8080")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("GATEWAY_URL", "https://gw.example.com")
	t.Setenv("SPRITES_TOKEN", "sprite-token")
	t.Setenv("SKYCLAW_FORWARD_ENV", "FOO_KEY, BAR_KEY")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-env-token")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Gateway.Port != 8080 {
		t.Fatalf("gateway.port = %d, want 8080", cfg.Gateway.Port)
	}
	if cfg.Gateway.JWTSecret != "env-secret" {
		t.Fatalf("gateway.jwt_secret = %q, want %q", cfg.Gateway.JWTSecret, "env-secret")
	}
	if cfg.Gateway.PublicURL != "https://gw.example.com" {
		t.Fatalf("gateway.public_url = %q", cfg.Gateway.PublicURL)
	}
	if cfg.Sprites.Token != "sprite-token" {
		t.Fatalf("sprites.token = %q", cfg.Sprites.Token)
	}
	if len(cfg.Sprites.ForwardEnv) != 2 || cfg.Sprites.ForwardEnv[0] != "FOO_KEY" || cfg.Sprites.ForwardEnv[1] != "BAR_KEY" {
		t.Fatalf("sprites.forward_env = %v", cfg.Sprites.ForwardEnv)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "tg-env-token" {
		t.Fatalf("telegram config = %+v", cfg.Channels.Telegram)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("SKYCLAW_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}
