package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/servicepilot/servicepilot-ai/internal/llm/types"
)

// Package ollama implements the provider for a locally hosted Ollama
// instance. Zero cost and complete privacy: nothing leaves the shop network,
// which matters on sites where machine telemetry is confidential.
//
// Configuration:
//   - OLLAMA_BASE_URL: URL to the Ollama instance (defaults to http://localhost:11434)
//   - OLLAMA_MODEL: model name to use (defaults to llama3)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3"
	DefaultTimeout = 180 * time.Second
)

// Client implements the Ollama provider.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model     string        `json:"model"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
	EvalCount int           `json:"eval_count"`
	// prompt_eval_count is omitted by Ollama when the prompt was cached
	PromptEvalCount int `json:"prompt_eval_count"`
}

// NewClient creates a new Ollama client.
func NewClient(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_BASE_URL")
		if baseURL == "" {
			baseURL = DefaultBaseURL
		}
	}
	if model == "" {
		model = os.Getenv("OLLAMA_MODEL")
		if model == "" {
			model = DefaultModel
		}
	}

	return &Client{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Name returns the provider name
func (c *Client) Name() string { return "ollama" }

// Complete implements non-streaming chat completion against /api/chat.
func (c *Client) Complete(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	messages := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	apiReq := ollamaChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
	}
	if req.Temperature > 0 {
		apiReq.Options = map[string]interface{}{"temperature": req.Temperature}
	}
	if req.MaxTokens > 0 {
		if apiReq.Options == nil {
			apiReq.Options = map[string]interface{}{}
		}
		apiReq.Options["num_predict"] = req.MaxTokens
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", httpResp.StatusCode, string(body))
	}

	var resp ollamaChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &types.CompletionResponse{
		Content: resp.Message.Content,
		Usage: types.TokenUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

// SetBaseURL overrides the Ollama base URL.  Used in tests.
func (c *Client) SetBaseURL(url string) { c.baseURL = url }
