package sprites

import (
	"reflect"
	"testing"
)

func TestHandlerServiceDefinition(t *testing.T) {
	definition := HandlerServiceDefinition("tok-123", "", map[string]string{
		"OPENAI_API_KEY":    "sk-x",
		"ANTHROPIC_API_KEY": "sk-a",
	})

	if definition.Cmd != "env" {
		t.Fatalf("Cmd = %q, want env", definition.Cmd)
	}

	want := []string{
		"SKYCLAW_TOKEN=tok-123",
		"ANTHROPIC_API_KEY=sk-a",
		"OPENAI_API_KEY=sk-x",
		"sh", "-lc", DefaultHandlerCommand,
	}
	if !reflect.DeepEqual(definition.Args, want) {
		t.Fatalf("Args = %v, want %v", definition.Args, want)
	}
}

func TestEqualDefinition(t *testing.T) {
	desired := HandlerServiceDefinition("tok", "skyclaw handler start", nil)

	tests := []struct {
		name    string
		current *Service
		want    bool
	}{
		{name: "nil service", current: nil, want: false},
		{
			name:    "identical",
			current: &Service{Cmd: desired.Cmd, Args: append([]string(nil), desired.Args...)},
			want:    true,
		},
		{
			name:    "different cmd",
			current: &Service{Cmd: "bash", Args: append([]string(nil), desired.Args...)},
			want:    false,
		},
		{
			name:    "different arg count",
			current: &Service{Cmd: desired.Cmd, Args: desired.Args[:len(desired.Args)-1]},
			want:    false,
		},
		{
			name: "one element differs",
			current: func() *Service {
				args := append([]string(nil), desired.Args...)
				args[0] = "SKYCLAW_TOKEN=other"
				return &Service{Cmd: desired.Cmd, Args: args}
			}(),
			want: false,
		},
	}

	for _, tt := range tests {
		if got := EqualDefinition(tt.current, desired); got != tt.want {
			t.Fatalf("%s: EqualDefinition = %v, want %v", tt.name, got, tt.want)
		}
	}
}
