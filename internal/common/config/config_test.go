package config

import "testing"

func TestDatabaseConfigResolvedPath(t *testing.T) {
	cases := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{"explicit path wins", DatabaseConfig{Path: "/tmp/custom.db", ProjectDir: "/repo"}, "/tmp/custom.db"},
		{"derives from project dir", DatabaseConfig{ProjectDir: "/repo"}, "/repo/.agent/coordinator.db"},
		{"defaults to current dir", DatabaseConfig{}, "./.agent/coordinator.db"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.ResolvedPath(); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSessionConfigGracePeriod(t *testing.T) {
	cfg := SessionConfig{GracePeriodMinutes: 5}
	if got := cfg.GracePeriod(); got.Minutes() != 5 {
		t.Errorf("got %v, want 5 minutes", got)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port <= 0 {
		t.Error("expected a positive default server port")
	}
	if cfg.RAG.EmbeddingDimension <= 0 {
		t.Error("expected a positive default embedding dimension")
	}
	if !cfg.Categories.Basic {
		t.Error("basic category should default to enabled")
	}
	if cfg.Session.GracePeriodMinutes <= 0 {
		t.Error("expected a positive default grace period")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: 0},
		RAG:     RAGConfig{EmbeddingDimension: 384, TopK: 8},
		Auth:    AuthConfig{TokenBytes: 16},
		Session: SessionConfig{GracePeriodMinutes: 5},
	}
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation to reject port 0")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: 8420},
		RAG:     RAGConfig{EmbeddingDimension: 384, TopK: 8},
		Auth:    AuthConfig{TokenBytes: 16},
		Session: SessionConfig{GracePeriodMinutes: 5},
	}
	if err := validate(cfg); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}
