package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperManager implements Manager using Viper.
type viperManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("SERVICEPILOT")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// Config file is optional; defaults + env vars are enough to run.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// use defaults
		} else if os.IsNotExist(err) {
			// use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()
	return nil
}

// Get returns the current configuration.
func (m *viperManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var msgs []string
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration file changes and reloads.
func (m *viperManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
			// channel full, skip this update
		}
	})
	return m.watchChan
}

// setDefaults sets default values in viper.
func (m *viperManager) setDefaults() {
	defaults := DefaultConfig()

	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.tls_enabled", defaults.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", defaults.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", defaults.Server.TLSKeyPath)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.turn_rate_limit_per_min", defaults.Server.TurnRateLimitPerMin)

	m.viper.SetDefault("registry.base_url", defaults.Registry.BaseURL)
	m.viper.SetDefault("registry.timeout_seconds", defaults.Registry.TimeoutSeconds)
	m.viper.SetDefault("registry.cache_ttl_seconds", defaults.Registry.CacheTTLSeconds)

	m.viper.SetDefault("llm.provider", defaults.LLM.Provider)
	m.viper.SetDefault("llm.openai", defaults.LLM.OpenAI)
	m.viper.SetDefault("llm.anthropic", defaults.LLM.Anthropic)
	m.viper.SetDefault("llm.ollama", defaults.LLM.Ollama)

	m.viper.SetDefault("workflow.escalation_threshold", defaults.Workflow.EscalationThreshold)
	m.viper.SetDefault("workflow.recency_half_life_days", defaults.Workflow.RecencyHalfLifeDays)
	m.viper.SetDefault("workflow.expert_boost", defaults.Workflow.ExpertBoost)
	m.viper.SetDefault("workflow.gateway_timeout_seconds", defaults.Workflow.GatewayTimeoutSeconds)

	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
}

// unmarshalConfig unmarshals viper config into the Config struct.
func (m *viperManager) unmarshalConfig() error {
	cfg := &Config{}

	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.TurnRateLimitPerMin = m.viper.GetInt("server.turn_rate_limit_per_min")

	cfg.Registry.BaseURL = m.viper.GetString("registry.base_url")
	cfg.Registry.TimeoutSeconds = m.viper.GetInt("registry.timeout_seconds")
	cfg.Registry.CacheTTLSeconds = m.viper.GetInt("registry.cache_ttl_seconds")

	cfg.LLM.Provider = m.viper.GetString("llm.provider")
	cfg.LLM.OpenAI = m.viper.GetStringMap("llm.openai")
	cfg.LLM.Anthropic = m.viper.GetStringMap("llm.anthropic")
	cfg.LLM.Ollama = m.viper.GetStringMap("llm.ollama")

	cfg.Workflow.EscalationThreshold = m.viper.GetInt("workflow.escalation_threshold")
	cfg.Workflow.RecencyHalfLifeDays = m.viper.GetInt("workflow.recency_half_life_days")
	cfg.Workflow.ExpertBoost = m.viper.GetFloat64("workflow.expert_boost")
	cfg.Workflow.GatewayTimeoutSeconds = m.viper.GetInt("workflow.gateway_timeout_seconds")

	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides for sensitive data.
func (m *viperManager) applyEnvOverrides() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if m.config.LLM.OpenAI == nil {
			m.config.LLM.OpenAI = make(map[string]interface{})
		}
		m.config.LLM.OpenAI["api_key"] = apiKey
	}

	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		if m.config.LLM.Anthropic == nil {
			m.config.LLM.Anthropic = make(map[string]interface{})
		}
		m.config.LLM.Anthropic["api_key"] = apiKey
	}

	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if m.config.LLM.Ollama == nil {
			m.config.LLM.Ollama = make(map[string]interface{})
		}
		m.config.LLM.Ollama["base_url"] = baseURL
	}

	if addr := os.Getenv("SERVICEPILOT_REGISTRY_URL"); addr != "" {
		m.config.Registry.BaseURL = addr
	}
}
