package types

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`    // user, assistant, system
	Content string `json:"content"` // message text
}

// CompletionRequest represents a request to complete text
type CompletionRequest struct {
	Messages    []Message `json:"messages"`              // conversation history
	MaxTokens   int       `json:"max_tokens,omitempty"`  // response token cap, 0 for provider default
	Temperature float64   `json:"temperature,omitempty"` // sampling temperature
}

// CompletionResponse represents a completion response
type CompletionResponse struct {
	Content string     `json:"content"` // generated text
	Usage   TokenUsage `json:"usage"`   // token usage
}

// TokenUsage tracks token usage
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`     // input tokens
	CompletionTokens int `json:"completion_tokens"` // output tokens
	TotalTokens      int `json:"total_tokens"`      // total tokens
}
