package prompt

import (
	"context"
	"strings"
	"testing"

	"github.com/servicepilot/servicepilot-ai/internal/llm/types"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot"
)

func TestAnalysisMessagesWithMachine(t *testing.T) {
	m := NewManager()

	machine := &troubleshoot.MachineContext{
		MachineID:     "mach-42",
		Model:         "HydroPress V4.0",
		Category:      "hydraulic_press",
		RecentHistory: []string{"2026-07-01 seal replacement"},
	}

	msgs := m.AnalysisMessages(context.Background(), "press loses pressure under load", machine)

	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("first message should be system, got %s", msgs[0].Role)
	}
	if !strings.Contains(msgs[0].Content, "JSON") {
		t.Error("analysis system prompt must demand JSON output")
	}
	if !strings.Contains(msgs[1].Content, "press loses pressure under load") {
		t.Error("report missing from user message")
	}
	if !strings.Contains(msgs[1].Content, "HydroPress V4.0") {
		t.Error("machine model missing from user message")
	}
	if !strings.Contains(msgs[1].Content, "seal replacement") {
		t.Error("service history missing from user message")
	}
}

func TestAnalysisMessagesWithoutMachine(t *testing.T) {
	m := NewManager()

	msgs := m.AnalysisMessages(context.Background(), "strange noise", nil)

	if !strings.Contains(msgs[1].Content, "No machine record") {
		t.Error("expected no-machine placeholder in prompt")
	}
}

func TestChatMessagesCarriesHistory(t *testing.T) {
	m := NewManager()

	history := []types.Message{
		{Role: "user", Content: "what oil grade for the gearbox?"},
		{Role: "assistant", Content: "ISO VG 220"},
	}

	msgs := m.ChatMessages(context.Background(), "and how often to change it?", history)

	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("first message should be system, got %s", msgs[0].Role)
	}
	if msgs[3].Content != "and how often to change it?" {
		t.Errorf("last message should carry the new text, got %s", msgs[3].Content)
	}
}
