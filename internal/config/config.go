package config

import (
	"fmt"
	"strings"
)

// Config represents the main minder configuration
type Config struct {
	// Server holds HTTP API server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Agent holds agent loop settings
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Knowledge holds vector store and retrieval settings
	Knowledge KnowledgeConfig `json:"knowledge" mapstructure:"knowledge"`

	// Sessions holds session store settings
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP API server configuration
type ServerConfig struct {
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
}

// AgentConfig holds agent loop configuration
type AgentConfig struct {
	MaxTurns int `json:"max_turns" mapstructure:"max_turns"`

	// PlanSource selects the plan-source collaborator: "gateway" (HTTP model
	// gateway) or "anthropic" (direct SDK).
	PlanSource string `json:"plan_source" mapstructure:"plan_source"`

	// GatewayURL is the HTTP model gateway base URL (plan_source=gateway).
	GatewayURL string `json:"gateway_url" mapstructure:"gateway_url"`

	// AnthropicModel is the model used when plan_source=anthropic.
	AnthropicModel string `json:"anthropic_model" mapstructure:"anthropic_model"`

	// SandboxURL is the tool-execution sandbox base URL. Empty disables the
	// tool executor: tool-call plans then terminate the run with a
	// configuration error in the transcript.
	SandboxURL string `json:"sandbox_url" mapstructure:"sandbox_url"`

	// MemoryURL, when set, points the loop at a remote memory service
	// instead of the in-process stores.
	MemoryURL string `json:"memory_url" mapstructure:"memory_url"`

	// WorkspaceDir, when set, enables the built-in file tools rooted at
	// this directory. Empty disables them.
	WorkspaceDir string `json:"workspace_dir" mapstructure:"workspace_dir"`

	RequestTimeoutSeconds int `json:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
}

// KnowledgeConfig holds vector store and retrieval configuration
type KnowledgeConfig struct {
	DBPath string `json:"db_path" mapstructure:"db_path"`

	// Bases are the seeded retrieval knowledge bases. The playbook base is
	// managed separately and is always present.
	Bases []string `json:"bases" mapstructure:"bases"`

	// DefaultBase is queried when a retrieval request names no bases.
	DefaultBase string `json:"default_base" mapstructure:"default_base"`

	TopK int `json:"top_k" mapstructure:"top_k"`

	// SeedDir, when set, is a directory of markdown documents ingested into
	// DefaultBase and watched for changes.
	SeedDir string `json:"seed_dir" mapstructure:"seed_dir"`

	// Embedding provider: "hash" (deterministic, no network) or "openai".
	EmbeddingProvider string `json:"embedding_provider" mapstructure:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model" mapstructure:"embedding_model"`
}

// SessionsConfig holds session store configuration
type SessionsConfig struct {
	DBPath string `json:"db_path" mapstructure:"db_path"`

	// CleanupSchedule is a cron expression for stale-session pruning.
	// Empty disables cleanup.
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`

	// RetentionDays is the stale threshold used by cleanup.
	RetentionDays int `json:"retention_days" mapstructure:"retention_days"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8003,
			RateLimitPerMinute: 120,
		},
		Agent: AgentConfig{
			MaxTurns:              3,
			PlanSource:            "gateway",
			GatewayURL:            "http://localhost:50051",
			AnthropicModel:        "claude-sonnet-4-20250514",
			RequestTimeoutSeconds: 10,
		},
		Knowledge: KnowledgeConfig{
			Bases:             []string{"Domain-KB", "Body-KB", "Soul-KB"},
			DefaultBase:       "Body-KB",
			TopK:              3,
			EmbeddingProvider: "hash",
			EmbeddingModel:    "text-embedding-3-small",
		},
		Sessions: SessionsConfig{
			CleanupSchedule: "@daily",
			RetentionDays:   7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent max_turns must be positive, got %d", c.Agent.MaxTurns)
	}
	switch c.Agent.PlanSource {
	case "gateway", "anthropic":
	default:
		return fmt.Errorf("unknown plan_source %q (want gateway or anthropic)", c.Agent.PlanSource)
	}
	switch c.Knowledge.EmbeddingProvider {
	case "hash", "openai":
	default:
		return fmt.Errorf("unknown embedding_provider %q (want hash or openai)", c.Knowledge.EmbeddingProvider)
	}
	if len(c.Knowledge.Bases) == 0 {
		return fmt.Errorf("at least one knowledge base is required")
	}
	if c.Knowledge.DefaultBase == "" {
		return fmt.Errorf("default knowledge base is required")
	}
	if !contains(c.Knowledge.Bases, c.Knowledge.DefaultBase) {
		return fmt.Errorf("default base %q is not among configured bases", c.Knowledge.DefaultBase)
	}
	if c.Knowledge.TopK <= 0 {
		return fmt.Errorf("knowledge top_k must be positive, got %d", c.Knowledge.TopK)
	}
	if c.Sessions.RetentionDays < 0 {
		return fmt.Errorf("sessions retention_days cannot be negative")
	}
	return nil
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}
