// Package config provides configuration management for the coordinator.
// It loads from environment variables, an optional YAML file, and
// defaults, the way the teacher's internal/common/config package does.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every configuration section the coordinator needs.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RAG        RAGConfig        `mapstructure:"rag"`
	Tmux       TmuxConfig       `mapstructure:"tmux"`
	Session    SessionConfig    `mapstructure:"session"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Categories CategoriesConfig `mapstructure:"categories"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds the sqlite store location (spec §4.A: one file
// under a .agent directory in the project root).
type DatabaseConfig struct {
	ProjectDir string `mapstructure:"projectDir"`
	Path       string `mapstructure:"path"`
}

// ResolvedPath returns the effective sqlite file path.
func (d DatabaseConfig) ResolvedPath() string {
	if d.Path != "" {
		return d.Path
	}
	dir := d.ProjectDir
	if dir == "" {
		dir = "."
	}
	return dir + "/.agent/coordinator.db"
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// AuthConfig holds token-minting configuration.
type AuthConfig struct {
	AdminToken    string `mapstructure:"adminToken"` // override; random hex if empty
	TokenBytes    int    `mapstructure:"tokenBytes"`
}

// RAGConfig holds the RAG substrate's configuration (spec §4.B, §4.I).
type RAGConfig struct {
	EmbeddingDimension int      `mapstructure:"embeddingDimension"`
	EmbeddingProvider  string   `mapstructure:"embeddingProvider"`
	TopK               int      `mapstructure:"topK"`
	ChunkSize          int      `mapstructure:"chunkSize"`
	ChunkOverlap       int      `mapstructure:"chunkOverlap"`
	MarkdownRoots      []string `mapstructure:"markdownRoots"`
	CodeRoots          []string `mapstructure:"codeRoots"`
}

// TmuxConfig holds the multiplexer adapter's configuration (spec §4.C, §9).
type TmuxConfig struct {
	BinaryPath          string `mapstructure:"binaryPath"`
	PromptPhaseDelayMs  int    `mapstructure:"promptPhaseDelayMs"`  // ~500ms between typing and Enter
	SetupPhaseDelayMs   int    `mapstructure:"setupPhaseDelayMs"`   // ~1s between setup lines
	LaunchDelayMs       int    `mapstructure:"launchDelayMs"`       // ~4s before firing the agent prompt
	DefaultCLIAgent     string `mapstructure:"defaultCliAgent"`
	McpServerURL        string `mapstructure:"mcpServerUrl"`
}

// SessionConfig holds the JSON-RPC session layer's configuration (spec §4.K).
type SessionConfig struct {
	GracePeriodMinutes int `mapstructure:"gracePeriodMinutes"`
}

// GracePeriod returns the grace period as a time.Duration.
func (s SessionConfig) GracePeriod() time.Duration {
	return time.Duration(s.GracePeriodMinutes) * time.Minute
}

// NATSConfig holds the message-bus / RAG-trigger event bus configuration.
// An empty URL selects the in-memory event bus (spec §4.H background delivery).
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// CategoriesConfig is the persisted form of the capability gate (spec §4.L).
type CategoriesConfig struct {
	Basic               bool `mapstructure:"basic"`
	RAG                 bool `mapstructure:"rag"`
	Memory              bool `mapstructure:"memory"`
	AgentManagement     bool `mapstructure:"agentManagement"`
	TaskManagement      bool `mapstructure:"taskManagement"`
	FileManagement      bool `mapstructure:"fileManagement"`
	AgentCommunication  bool `mapstructure:"agentCommunication"`
	SessionState        bool `mapstructure:"sessionState"`
	AssistanceRequest   bool `mapstructure:"assistanceRequest"`
	BackgroundAgents    bool `mapstructure:"backgroundAgents"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8420)

	v.SetDefault("database.projectDir", ".")
	v.SetDefault("database.path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("auth.adminToken", "")
	v.SetDefault("auth.tokenBytes", 16) // -> 32 hex chars, matches spec scenario S1

	v.SetDefault("rag.embeddingDimension", 768)
	v.SetDefault("rag.embeddingProvider", "")
	v.SetDefault("rag.topK", 8)
	v.SetDefault("rag.chunkSize", 800)
	v.SetDefault("rag.chunkOverlap", 120)
	v.SetDefault("rag.markdownRoots", []string{"."})
	v.SetDefault("rag.codeRoots", []string{"."})

	v.SetDefault("tmux.binaryPath", "tmux")
	v.SetDefault("tmux.promptPhaseDelayMs", 500)
	v.SetDefault("tmux.setupPhaseDelayMs", 1000)
	v.SetDefault("tmux.launchDelayMs", 4000)
	v.SetDefault("tmux.defaultCliAgent", "claude")
	v.SetDefault("tmux.mcpServerUrl", "")

	v.SetDefault("session.gracePeriodMinutes", 10)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "coordinator")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("categories.basic", true)
	v.SetDefault("categories.rag", true)
	v.SetDefault("categories.memory", true)
	v.SetDefault("categories.agentManagement", true)
	v.SetDefault("categories.taskManagement", true)
	v.SetDefault("categories.fileManagement", true)
	v.SetDefault("categories.agentCommunication", true)
	v.SetDefault("categories.sessionState", true)
	v.SetDefault("categories.assistanceRequest", true)
	v.SetDefault("categories.backgroundAgents", true)
}

// Load reads configuration from environment variables, an optional
// config.yaml, and defaults. Env vars use the COORDINATOR_ prefix.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath is Load with an explicit config-file search path.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COORDINATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("logging.level", "COORDINATOR_LOG_LEVEL")
	_ = v.BindEnv("rag.embeddingProvider", "EMBEDDING_PROVIDER")
	_ = v.BindEnv("rag.embeddingDimension", "EMBEDDING_DIMENSION")
	_ = v.BindEnv("nats.url", "COORDINATOR_NATS_URL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/coordinator/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.RAG.EmbeddingDimension <= 0 {
		errs = append(errs, "rag.embeddingDimension must be positive")
	}
	if cfg.RAG.TopK <= 0 {
		errs = append(errs, "rag.topK must be positive")
	}
	if cfg.Auth.TokenBytes <= 0 {
		errs = append(errs, "auth.tokenBytes must be positive")
	}
	if cfg.Session.GracePeriodMinutes <= 0 {
		errs = append(errs, "session.gracePeriodMinutes must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
