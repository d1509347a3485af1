package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/servicepilot/servicepilot-ai/internal/config"
	"github.com/servicepilot/servicepilot-ai/internal/llm/provider/anthropic"
	"github.com/servicepilot/servicepilot-ai/internal/llm/provider/ollama"
	"github.com/servicepilot/servicepilot-ai/internal/llm/provider/openai"
	"github.com/servicepilot/servicepilot-ai/internal/llm/types"
	"github.com/servicepilot/servicepilot-ai/internal/metrics"
)

// Package gateway is the single boundary to language generation. Everything
// upstream of it (analyzer, step generator, plain chat) deals in prompts and
// raw text; provider selection, timeouts and error normalization live here.
// Callers must treat every Complete error as recoverable and fall back to
// their deterministic path.

// ErrGatewayTimeout wraps provider calls that exceeded the configured bound.
var ErrGatewayTimeout = errors.New("gateway: completion timed out")

// Provider is a single LLM backend.
type Provider interface {
	// Name identifies the backend ("anthropic", "openai", "ollama").
	Name() string

	// Complete performs one non-streaming completion.
	Complete(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error)
}

// Gateway bounds and dispatches completion calls to the configured provider.
type Gateway struct {
	provider Provider
	timeout  time.Duration
}

// New creates a gateway for the configured provider.
func New(cfg *config.Config) (*Gateway, error) {
	timeout := time.Duration(cfg.Workflow.GatewayTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	var (
		p   Provider
		err error
	)
	switch cfg.LLM.Provider {
	case "anthropic":
		apiKey, _ := cfg.LLM.Anthropic["api_key"].(string)
		model, _ := cfg.LLM.Anthropic["model"].(string)
		p, err = anthropic.NewClient(apiKey, model)
	case "openai":
		apiKey, _ := cfg.LLM.OpenAI["api_key"].(string)
		model, _ := cfg.LLM.OpenAI["model"].(string)
		p, err = openai.NewClient(apiKey, model)
	case "ollama":
		baseURL, _ := cfg.LLM.Ollama["base_url"].(string)
		model, _ := cfg.LLM.Ollama["model"].(string)
		p = ollama.NewClient(baseURL, model)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.LLM.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s provider: %w", cfg.LLM.Provider, err)
	}

	return &Gateway{provider: p, timeout: timeout}, nil
}

// NewWithProvider wraps an existing provider. Used by tests and by callers
// that construct providers themselves.
func NewWithProvider(p Provider, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Gateway{provider: p, timeout: timeout}
}

// Provider returns the name of the active backend.
func (g *Gateway) Provider() string { return g.provider.Name() }

// Complete performs one completion bounded by the gateway timeout.
func (g *Gateway) Complete(ctx context.Context, req *types.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.provider.Complete(ctx, req)
	metrics.GatewayRequestDuration.WithLabelValues(g.provider.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			metrics.GatewayRequestsTotal.WithLabelValues(g.provider.Name(), "timeout").Inc()
			return "", fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		metrics.GatewayRequestsTotal.WithLabelValues(g.provider.Name(), "error").Inc()
		return "", fmt.Errorf("gateway: %s completion failed: %w", g.provider.Name(), err)
	}
	metrics.GatewayRequestsTotal.WithLabelValues(g.provider.Name(), "ok").Inc()
	return resp.Content, nil
}
