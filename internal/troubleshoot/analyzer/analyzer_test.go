package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/servicepilot/servicepilot-ai/internal/llm/types"
	"github.com/servicepilot/servicepilot-ai/internal/prompt"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot"
)

type fakeGateway struct {
	response string
	err      error
}

func (f *fakeGateway) Complete(_ context.Context, _ *types.CompletionRequest) (string, error) {
	return f.response, f.err
}

func newTestAnalyzer(gw Gateway) *Analyzer {
	return New(gw, prompt.NewManager(), nil)
}

func TestAnalyzeParsesAssessment(t *testing.T) {
	gw := &fakeGateway{response: `Here is my assessment:
{
  "category": "hydraulic",
  "possible_causes": ["worn seal", "low fluid"],
  "candidate_steps": [
    {"instruction": "Check the fluid reservoir level", "safety_warnings": ["Depressurize the line first"], "duration": 10},
    {"instruction": "Inspect the main seal for wear", "duration": 20}
  ],
  "confidence": "high",
  "estimated_duration": 30
}`}

	a := newTestAnalyzer(gw)
	assessment := a.Analyze(context.Background(), "press loses pressure", nil)

	if assessment.Category != troubleshoot.CategoryHydraulic {
		t.Errorf("expected hydraulic, got %s", assessment.Category)
	}
	if assessment.Confidence != troubleshoot.ConfidenceHigh {
		t.Errorf("expected high confidence, got %s", assessment.Confidence)
	}
	if len(assessment.CandidateSteps) != 2 {
		t.Fatalf("expected 2 candidate steps, got %d", len(assessment.CandidateSteps))
	}
	if assessment.CandidateSteps[0].SafetyWarnings[0] != "Depressurize the line first" {
		t.Errorf("safety warnings not carried: %+v", assessment.CandidateSteps[0])
	}
	if assessment.PerStepDuration() != 15 {
		t.Errorf("expected per-step duration 15, got %d", assessment.PerStepDuration())
	}
}

func TestAnalyzeGatewayFailure(t *testing.T) {
	a := newTestAnalyzer(&fakeGateway{err: errors.New("timeout")})

	assessment := a.Analyze(context.Background(), "machine won't start", nil)

	if assessment.Category != troubleshoot.CategoryOther {
		t.Errorf("expected generic category, got %s", assessment.Category)
	}
	if assessment.Confidence != troubleshoot.ConfidenceLow {
		t.Errorf("expected low confidence, got %s", assessment.Confidence)
	}
	if len(assessment.CandidateSteps) != 0 {
		t.Errorf("generic assessment must carry no candidates, got %d", len(assessment.CandidateSteps))
	}
	// The empty-candidate division edge must stay sane.
	if assessment.PerStepDuration() != 30 {
		t.Errorf("expected per-step duration 30, got %d", assessment.PerStepDuration())
	}
}

func TestAnalyzeMalformedOutput(t *testing.T) {
	for _, raw := range []string{
		"",
		"I think it's probably the pump.",
		`{"category": "hydraulic", "candidate_steps": [`,
		"{}}{",
	} {
		a := newTestAnalyzer(&fakeGateway{response: raw})
		assessment := a.Analyze(context.Background(), "report", nil)
		if assessment.Category != troubleshoot.CategoryOther || assessment.Confidence != troubleshoot.ConfidenceLow {
			t.Errorf("raw %q: expected generic assessment, got %+v", raw, assessment)
		}
	}
}

func TestAnalyzeUnknownCategoryDefaultsToOther(t *testing.T) {
	gw := &fakeGateway{response: `{"category": "quantum", "confidence": "medium", "estimated_duration": 20}`}
	a := newTestAnalyzer(gw)

	assessment := a.Analyze(context.Background(), "weird fault", nil)

	if assessment.Category != troubleshoot.CategoryOther {
		t.Errorf("unknown category must map to other, got %s", assessment.Category)
	}
	if assessment.Confidence != troubleshoot.ConfidenceMedium {
		t.Errorf("expected medium confidence, got %s", assessment.Confidence)
	}
}

func TestAnalyzeSkipsEmptyInstructions(t *testing.T) {
	gw := &fakeGateway{response: `{
		"category": "electrical",
		"candidate_steps": [{"instruction": "   "}, {"instruction": "Check the breaker"}],
		"confidence": "medium",
		"estimated_duration": 10
	}`}
	a := newTestAnalyzer(gw)

	assessment := a.Analyze(context.Background(), "no power", nil)

	if len(assessment.CandidateSteps) != 1 {
		t.Fatalf("expected blank instruction dropped, got %d steps", len(assessment.CandidateSteps))
	}
	if assessment.CandidateSteps[0].Instruction != "Check the breaker" {
		t.Errorf("unexpected instruction: %s", assessment.CandidateSteps[0].Instruction)
	}
}
