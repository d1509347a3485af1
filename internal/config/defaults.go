package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8082
	cfg.Server.TLSEnabled = false
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Server.TurnRateLimitPerMin = 60

	// Registry defaults
	cfg.Registry.BaseURL = "http://localhost:8080"
	cfg.Registry.TimeoutSeconds = 10
	cfg.Registry.CacheTTLSeconds = 300

	// LLM defaults
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.OpenAI = map[string]interface{}{
		"model":      "gpt-4o",
		"max_tokens": 2048,
	}
	cfg.LLM.Anthropic = map[string]interface{}{
		"model":      "claude-3-5-sonnet-20241022",
		"max_tokens": 2048,
	}
	cfg.LLM.Ollama = map[string]interface{}{
		"base_url": "http://localhost:11434",
		"model":    "llama3",
	}

	// Workflow defaults
	cfg.Workflow.EscalationThreshold = 3
	cfg.Workflow.RecencyHalfLifeDays = 30
	cfg.Workflow.ExpertBoost = 1.25
	cfg.Workflow.GatewayTimeoutSeconds = 45

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/servicepilot/servicepilot-ai.db"

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}
