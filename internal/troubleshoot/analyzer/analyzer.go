package analyzer

// Package analyzer turns a free-text problem report into a structured
// Assessment. The gateway output is untrusted: network errors, empty
// responses and malformed JSON all degrade to a generic low-confidence
// assessment with no candidate steps. Analyze never returns an error; the
// step generator owns handling an empty assessment.

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/servicepilot/servicepilot-ai/internal/llm/types"
	"github.com/servicepilot/servicepilot-ai/internal/prompt"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot"
)

// Gateway is the completion boundary the analyzer depends on.
type Gateway interface {
	Complete(ctx context.Context, req *types.CompletionRequest) (string, error)
}

// Analyzer produces assessments from problem reports.
type Analyzer struct {
	gateway Gateway
	prompts prompt.Manager
	logger  *zap.Logger
}

// New creates an analyzer.
func New(gw Gateway, prompts prompt.Manager, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{gateway: gw, prompts: prompts, logger: logger}
}

// assessmentWire is the JSON shape the model is instructed to emit.
type assessmentWire struct {
	Category       string   `json:"category"`
	PossibleCauses []string `json:"possible_causes"`
	CandidateSteps []struct {
		Instruction    string   `json:"instruction"`
		SafetyWarnings []string `json:"safety_warnings"`
		Duration       int      `json:"duration"`
	} `json:"candidate_steps"`
	Confidence        string `json:"confidence"`
	EstimatedDuration int    `json:"estimated_duration"`
}

// Analyze builds the analysis prompt, invokes the gateway, and parses the
// result. Every failure mode resolves to the generic assessment.
func (a *Analyzer) Analyze(ctx context.Context, report string, machine *troubleshoot.MachineContext) *troubleshoot.Assessment {
	messages := a.prompts.AnalysisMessages(ctx, report, machine)

	raw, err := a.gateway.Complete(ctx, &types.CompletionRequest{Messages: messages})
	if err != nil {
		a.logger.Warn("analysis generation failed, using generic assessment", zap.Error(err))
		return troubleshoot.GenericAssessment()
	}

	assessment, ok := parseAssessment(raw)
	if !ok {
		a.logger.Warn("analysis output unparseable, using generic assessment",
			zap.Int("raw_len", len(raw)))
		return troubleshoot.GenericAssessment()
	}
	return assessment
}

// parseAssessment extracts and validates the JSON assessment from raw model
// output. Models wrap JSON in prose or code fences often enough that we cut
// from the first '{' to the last '}' before decoding.
func parseAssessment(raw string) (*troubleshoot.Assessment, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var wire assessmentWire
	if err := json.Unmarshal([]byte(raw[start:end+1]), &wire); err != nil {
		return nil, false
	}

	assessment := &troubleshoot.Assessment{
		Category:          troubleshoot.ParseCategory(wire.Category),
		PossibleCauses:    wire.PossibleCauses,
		Confidence:        parseConfidence(wire.Confidence),
		EstimatedDuration: wire.EstimatedDuration,
	}
	if assessment.EstimatedDuration <= 0 {
		assessment.EstimatedDuration = 30
	}

	for _, cs := range wire.CandidateSteps {
		instruction := strings.TrimSpace(cs.Instruction)
		if instruction == "" {
			continue
		}
		assessment.CandidateSteps = append(assessment.CandidateSteps, troubleshoot.CandidateStep{
			Instruction:    instruction,
			SafetyWarnings: cs.SafetyWarnings,
			Duration:       cs.Duration,
		})
	}

	return assessment, true
}

func parseConfidence(s string) troubleshoot.Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return troubleshoot.ConfidenceHigh
	case "medium":
		return troubleshoot.ConfidenceMedium
	default:
		return troubleshoot.ConfidenceLow
	}
}
