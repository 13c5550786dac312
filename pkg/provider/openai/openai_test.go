package openai

import (
	"testing"

	"skyclaw/pkg/config"
)

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default")
	t.Setenv("TEST_OPENAI_API_KEY", "sk-configured")

	if got := resolveAPIKey(config.OpenAIProviderConfig{APIKeyEnv: "TEST_OPENAI_API_KEY"}); got != "sk-configured" {
		t.Fatalf("resolveAPIKey with configured env = %q", got)
	}

	t.Setenv("TEST_OPENAI_API_KEY", "")
	if got := resolveAPIKey(config.OpenAIProviderConfig{APIKeyEnv: "TEST_OPENAI_API_KEY"}); got != "sk-default" {
		t.Fatalf("resolveAPIKey fallback = %q", got)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := New(&config.Config{}); err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestNewWithConfiguredAPIKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TEST_OPENAI_API_KEY", "sk-test")

	cfg := &config.Config{}
	cfg.Providers.OpenAI.APIKeyEnv = "TEST_OPENAI_API_KEY"

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if client == nil {
		t.Fatal("expected client")
	}
}

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain model", input: "gpt-5.2", want: "gpt-5.2"},
		{name: "openai prefix", input: "openai/gpt-5.2", want: "gpt-5.2"},
		{name: "surrounding whitespace", input: "  openai/gpt-5.2  ", want: "gpt-5.2"},
		{name: "other provider", input: "anthropic/claude", wantErr: true},
		{name: "empty model id", input: "openai/", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeModel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeModel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("normalizeModel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
