package registry

// Package registry is the read-only client for the host platform's machine
// registry. The engine asks it one question per turn: what machine is this,
// and what does its recent service history look like. A missing machine is
// not an error; the engine degrades to plain chat.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/servicepilot/servicepilot-ai/internal/config"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot"
)

// Client resolves machine context from the host platform.
type Client interface {
	// GetMachine returns the machine's registry view, or (nil, nil) when the
	// registry has no record of it.
	GetMachine(ctx context.Context, machineID string) (*troubleshoot.MachineContext, error)
}

type httpClient struct {
	baseURL    string
	httpClient *http.Client
	cache      *machineCache
	cacheTTL   time.Duration
}

// negativeEntry caches a 404 so unknown machine IDs don't generate a
// registry round trip every turn.
type negativeEntry struct{}

// NewClient creates a registry client from configuration.
func NewClient(cfg *config.Config) Client {
	timeout := time.Duration(cfg.Registry.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := time.Duration(cfg.Registry.CacheTTLSeconds) * time.Second

	return &httpClient{
		baseURL:    cfg.Registry.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      newMachineCache(ttl),
		cacheTTL:   ttl,
	}
}

// machineResponse is the registry's wire format.
type machineResponse struct {
	ID            string   `json:"id"`
	Model         string   `json:"model"`
	Category      string   `json:"category"`
	RecentHistory []string `json:"recent_history"`
}

func (c *httpClient) GetMachine(ctx context.Context, machineID string) (*troubleshoot.MachineContext, error) {
	if machineID == "" {
		return nil, nil
	}

	if cached, ok := c.cache.Get(machineID); ok {
		if _, miss := cached.(negativeEntry); miss {
			return nil, nil
		}
		return cached.(*troubleshoot.MachineContext), nil
	}

	url := fmt.Sprintf("%s/api/v1/machines/%s", c.baseURL, machineID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.cache.Set(machineID, negativeEntry{}, c.cacheTTL)
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("registry: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var mr machineResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return nil, fmt.Errorf("registry: decoding response: %w", err)
	}

	machine := &troubleshoot.MachineContext{
		MachineID:     mr.ID,
		Model:         mr.Model,
		Category:      mr.Category,
		RecentHistory: mr.RecentHistory,
	}
	c.cache.Set(machineID, machine, c.cacheTTL)
	return machine, nil
}
