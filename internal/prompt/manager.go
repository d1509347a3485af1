package prompt

// Package prompt renders the message sets handed to the language gateway.
// Two shapes exist: the analysis prompt, which demands a structured JSON
// assessment, and the chat prompt used when no machine context is available
// or when generation falls back to plain conversation.

import (
	"context"
	"strings"

	"github.com/servicepilot/servicepilot-ai/internal/llm/types"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot"
)

// Manager renders prompts for the gateway.
type Manager interface {
	// AnalysisMessages builds the structured-assessment prompt for a problem
	// report, with machine context when available.
	AnalysisMessages(ctx context.Context, report string, machine *troubleshoot.MachineContext) []types.Message

	// ChatMessages builds a plain conversational prompt from the free text
	// and optional prior exchange.
	ChatMessages(ctx context.Context, freeText string, history []types.Message) []types.Message
}

type manager struct{}

// NewManager creates a prompt manager.
func NewManager() Manager {
	return &manager{}
}

func (m *manager) AnalysisMessages(_ context.Context, report string, machine *troubleshoot.MachineContext) []types.Message {
	rendered := strings.ReplaceAll(analysisTemplate, "{{.Report}}", report)
	rendered = strings.ReplaceAll(rendered, "{{.Machine}}", renderMachine(machine))

	return []types.Message{
		{Role: "system", Content: analysisSystemPrompt},
		{Role: "user", Content: rendered},
	}
}

func (m *manager) ChatMessages(_ context.Context, freeText string, history []types.Message) []types.Message {
	messages := make([]types.Message, 0, len(history)+2)
	messages = append(messages, types.Message{Role: "system", Content: chatSystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, types.Message{Role: "user", Content: freeText})
	return messages
}

// renderMachine formats the registry's machine view for the prompt.
func renderMachine(machine *troubleshoot.MachineContext) string {
	if machine == nil {
		return noMachineContext
	}

	history := "  (none on record)"
	if len(machine.RecentHistory) > 0 {
		lines := make([]string, 0, len(machine.RecentHistory))
		for _, h := range machine.RecentHistory {
			lines = append(lines, "  - "+h)
		}
		history = strings.Join(lines, "\n")
	}

	rendered := strings.ReplaceAll(machineContextTemplate, "{{.MachineID}}", machine.MachineID)
	rendered = strings.ReplaceAll(rendered, "{{.Model}}", machine.Model)
	rendered = strings.ReplaceAll(rendered, "{{.Category}}", machine.Category)
	rendered = strings.ReplaceAll(rendered, "{{.History}}", history)
	return rendered
}
