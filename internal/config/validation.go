package config

import (
	"fmt"
	"net/url"
	"os"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}
		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		}
	}

	if c.Server.TurnRateLimitPerMin < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.turn_rate_limit_per_min",
			Message: fmt.Sprintf("turn_rate_limit_per_min must be at least 1, got %d", c.Server.TurnRateLimitPerMin),
		})
	}

	if c.Registry.BaseURL == "" {
		errs = append(errs, &ValidationError{
			Field:   "registry.base_url",
			Message: "registry base_url is required",
		})
	} else if u, err := url.Parse(c.Registry.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, &ValidationError{
			Field:   "registry.base_url",
			Message: fmt.Sprintf("invalid URL: %s", c.Registry.BaseURL),
		})
	}

	switch c.LLM.Provider {
	case "anthropic", "openai", "ollama":
	default:
		errs = append(errs, &ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q (expected anthropic, openai or ollama)", c.LLM.Provider),
		})
	}

	if c.Workflow.EscalationThreshold < 1 {
		errs = append(errs, &ValidationError{
			Field:   "workflow.escalation_threshold",
			Message: fmt.Sprintf("escalation_threshold must be at least 1, got %d", c.Workflow.EscalationThreshold),
		})
	}
	if c.Workflow.RecencyHalfLifeDays < 1 {
		errs = append(errs, &ValidationError{
			Field:   "workflow.recency_half_life_days",
			Message: fmt.Sprintf("recency_half_life_days must be at least 1, got %d", c.Workflow.RecencyHalfLifeDays),
		})
	}
	if c.Workflow.ExpertBoost < 1.0 {
		errs = append(errs, &ValidationError{
			Field:   "workflow.expert_boost",
			Message: fmt.Sprintf("expert_boost must be >= 1.0, got %g", c.Workflow.ExpertBoost),
		})
	}
	if c.Workflow.GatewayTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "workflow.gateway_timeout_seconds",
			Message: "gateway_timeout_seconds must be at least 1",
		})
	}

	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown log level %q", c.Logging.Level),
		})
	}

	return errs
}
