package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/servicepilot/servicepilot-ai/internal/llm/types"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("test-key", "gpt-4o")
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if client.apiKey != "test-key" {
		t.Errorf("Expected API key 'test-key', got '%s'", client.apiKey)
	}
	if client.model != "gpt-4o" {
		t.Errorf("Expected model 'gpt-4o', got '%s'", client.model)
	}
}

func TestNewClientValidation(t *testing.T) {
	os.Unsetenv("OPENAI_API_KEY")
	_, err := NewClient("", "")
	if err == nil {
		t.Error("Expected error for empty API key")
	}
}

func TestComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Inspect the fuse."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 30, "completion_tokens": 5, "total_tokens": 35}
		}`))
	}))
	defer server.Close()

	client, err := NewClient("test-key", "gpt-4o")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.SetBaseURL(server.URL)

	resp, err := client.Complete(context.Background(), &types.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "blown fuse?"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Inspect the fuse." {
		t.Errorf("unexpected content: %s", resp.Content)
	}
	if resp.Usage.TotalTokens != 35 {
		t.Errorf("expected 35 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "chatcmpl-2", "choices": []}`))
	}))
	defer server.Close()

	client, err := NewClient("test-key", "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.SetBaseURL(server.URL)

	_, err = client.Complete(context.Background(), &types.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hello"}},
	})
	if err == nil {
		t.Fatal("Expected error for empty choices")
	}
}
