package tmux

import (
	"context"
	"testing"

	"github.com/fleetmcp/coordinator/internal/common/logger"
)

func TestSanitizeSessionName(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"already safe", "agent-a1", "agent-a1"},
		{"spaces and colons collapse", "agent a:1", "agent_a_1"},
		{"empty falls back to default", "", "agent"},
		{"only invalid chars falls back to default", "::::", "agent"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSessionName(tc.input); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestGenerateAgentSessionNameUsesLastFourTokenChars(t *testing.T) {
	got := GenerateAgentSessionName("agent-a", "abcdef0123456789")
	if want := "agent-a-6789"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestGenerateAgentSessionNameShortTokenUsedWhole(t *testing.T) {
	got := GenerateAgentSessionName("agent-a", "AB")
	if want := "agent-a-ab"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestGenerateAgentSessionNameEmptyTokenFallsBack(t *testing.T) {
	got := GenerateAgentSessionName("agent-a", "")
	if want := "agent-a-0000"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAvailableFalseForNonexistentBinary(t *testing.T) {
	a := New(Config{BinaryPath: "coordinator-test-nonexistent-tmux"}, logger.Default())
	if a.Available(context.Background()) {
		t.Error("expected Available to be false for a nonexistent binary")
	}
}
