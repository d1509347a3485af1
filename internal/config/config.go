package config

import "context"

// Package config provides configuration management for servicepilot-ai.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading for non-structural settings
//   - Manage sensitive data (LLM API keys)
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (SERVICEPILOT_* prefix)
//   2. YAML config file (default: /etc/servicepilot/ai.yaml)
//   3. Built-in defaults
//
// Main sections: Server, Registry, LLM, Workflow, Database, Logging.
// Workflow carries the troubleshooting tunables: escalation threshold,
// effectiveness recency half-life, expert-verified boost, and the gateway
// call timeout. These are read once at process start; no component mutates
// configuration at runtime.

// Config contains all configuration fields.
type Config struct {
	// Server configuration
	Server struct {
		Port        int
		TLSEnabled  bool
		TLSCertPath string
		TLSKeyPath  string
		// AllowedOrigins is the CORS / WebSocket origin allowlist.
		// Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
		// TurnRateLimitPerMin bounds turn requests per client per minute.
		// Every turn can cost an LLM call, so this is a spend guard as
		// much as an abuse guard.
		TurnRateLimitPerMin int
	}

	// Registry is the host platform's machine/user registry.
	Registry struct {
		BaseURL         string // e.g. http://localhost:8080
		TimeoutSeconds  int
		CacheTTLSeconds int
	}

	// LLM provider configuration
	LLM struct {
		Provider  string // "anthropic" | "openai" | "ollama"
		OpenAI    map[string]interface{}
		Anthropic map[string]interface{}
		Ollama    map[string]interface{}
	}

	// Workflow tunables for the troubleshooting engine.
	Workflow struct {
		// EscalationThreshold is the number of distinct failed steps after
		// which a session escalates to a human expert.
		EscalationThreshold int
		// RecencyHalfLifeDays halves a solution's effectiveness weight for
		// every elapsed window since its last observed outcome.
		RecencyHalfLifeDays int
		// ExpertBoost multiplies the score of expert-verified solutions.
		ExpertBoost float64
		// GatewayTimeoutSeconds bounds every language-generation call.
		GatewayTimeoutSeconds int
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}
}

// Manager defines the interface for configuration access.
type Manager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration file changes and emits reloads.
	Watch(ctx context.Context) <-chan Config
}

// NewManager creates a new configuration manager reading from configPath.
func NewManager(configPath string) (Manager, error) {
	return &viperManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}, nil
}

// NewManagerWithDefaults creates a manager with the default config path.
func NewManagerWithDefaults() (Manager, error) {
	return NewManager("/etc/servicepilot/ai.yaml")
}
