package stepgen

// Package stepgen chooses the next instruction for a session. Selection
// priority: a learned solution that hasn't been tried yet, then an untried
// assessment candidate, then a per-category generic fallback. The chain
// bottoms out in a fixed instruction list, so a step is always produced even
// when the analyzer and the scorer both return nothing.

import (
	"context"
	"fmt"

	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot/effectiveness"
)

const (
	defaultEscalationThreshold = 3
	genericStepDuration        = 15 // minutes
)

// Ranker supplies learned solutions. Satisfied by effectiveness.Scorer.
type Ranker interface {
	RankSolutions(ctx context.Context, category troubleshoot.ProblemCategory, machineModel string, limit int) ([]effectiveness.RankedSolution, error)
}

// Proposal is the generator's output: either the next step's content, or an
// escalation signal when the session has exhausted its step budget.
type Proposal struct {
	Instruction    string
	SafetyWarnings []string
	Duration       int // minutes
	Source         troubleshoot.StepSource

	Escalate       bool
	EscalateReason string
}

// Generator produces next-step proposals.
type Generator struct {
	ranker    Ranker
	threshold int
}

// New creates a generator. threshold is the number of distinct steps a
// session may present without a worked outcome before escalating.
func New(ranker Ranker, threshold int) *Generator {
	if threshold <= 0 {
		threshold = defaultEscalationThreshold
	}
	return &Generator{ranker: ranker, threshold: threshold}
}

// Next proposes the next step for a session, or signals escalation when the
// session has already presented threshold steps without success. priorSteps
// are all steps already presented, in order.
func (g *Generator) Next(ctx context.Context, assessment *troubleshoot.Assessment, machineModel string, priorSteps []*troubleshoot.Step) (*Proposal, error) {
	if len(priorSteps) >= g.threshold {
		return &Proposal{
			Escalate: true,
			EscalateReason: fmt.Sprintf(
				"%d troubleshooting steps attempted without success; handing over to a human expert",
				len(priorSteps)),
		}, nil
	}

	tried := triedSet(priorSteps)

	// 1. Best untried learned solution.
	if g.ranker != nil {
		ranked, err := g.ranker.RankSolutions(ctx, assessment.Category, machineModel, g.threshold+len(priorSteps))
		if err != nil {
			return nil, fmt.Errorf("rank solutions: %w", err)
		}
		for _, sol := range ranked {
			if tried[sol.SolutionKey] {
				continue
			}
			return &Proposal{
				Instruction: sol.SolutionText,
				Duration:    genericStepDuration,
				Source:      troubleshoot.SourceLearnedSolution,
			}, nil
		}
	}

	// 2. First untried assessment candidate.
	for _, cand := range assessment.CandidateSteps {
		if tried[effectiveness.NormalizeSolution(cand.Instruction)] {
			continue
		}
		duration := cand.Duration
		if duration <= 0 {
			duration = assessment.PerStepDuration()
		}
		return &Proposal{
			Instruction:    cand.Instruction,
			SafetyWarnings: cand.SafetyWarnings,
			Duration:       duration,
			Source:         troubleshoot.SourceAssessmentCandidate,
		}, nil
	}

	// 3. Generic per-category fallback; guaranteed non-empty.
	return g.genericFallback(assessment.Category, tried, len(priorSteps)), nil
}

func triedSet(priorSteps []*troubleshoot.Step) map[string]bool {
	tried := make(map[string]bool, len(priorSteps))
	for _, s := range priorSteps {
		tried[effectiveness.NormalizeSolution(s.Instruction)] = true
	}
	return tried
}

func (g *Generator) genericFallback(category troubleshoot.ProblemCategory, tried map[string]bool, priorCount int) *Proposal {
	fallbacks := genericSteps[category]
	if len(fallbacks) == 0 {
		fallbacks = genericSteps[troubleshoot.CategoryOther]
	}

	for _, fb := range fallbacks {
		if !tried[effectiveness.NormalizeSolution(fb.instruction)] {
			return fb.proposal()
		}
	}
	// All fallbacks already presented: cycle rather than return nothing. The
	// escalation threshold bounds how often this can happen.
	return fallbacks[priorCount%len(fallbacks)].proposal()
}

// genericStep is one fixed fallback instruction.
type genericStep struct {
	instruction string
	warnings    []string
}

func (s genericStep) proposal() *Proposal {
	return &Proposal{
		Instruction:    s.instruction,
		SafetyWarnings: s.warnings,
		Duration:       genericStepDuration,
		Source:         troubleshoot.SourceGenericFallback,
	}
}

// genericSteps are the per-category fallback instructions. Each is a single
// always-actionable physical check a technician can perform with a standard
// field kit.
var genericSteps = map[troubleshoot.ProblemCategory][]genericStep{
	troubleshoot.CategoryStartup: {
		{instruction: "Check all power connections and verify the machine is receiving supply voltage at the main disconnect",
			warnings: []string{"Verify lockout/tagout before opening any electrical enclosure"}},
		{instruction: "Inspect the emergency stop circuit: release all e-stop buttons and confirm the safety relay resets"},
		{instruction: "Check the main control fuses and circuit breakers for a tripped or blown element",
			warnings: []string{"De-energize the panel before handling fuses"}},
	},
	troubleshoot.CategoryMechanical: {
		{instruction: "Perform a visual inspection of moving assemblies for obstructions, misalignment or visible wear"},
		{instruction: "Check drive belts and couplings for tension, cracking and slippage",
			warnings: []string{"Ensure the machine is stopped and locked out before reaching into the drive train"}},
		{instruction: "Verify lubrication points have adequate grease or oil per the service chart"},
	},
	troubleshoot.CategoryElectrical: {
		{instruction: "Inspect wiring terminals and connectors for looseness, corrosion or discoloration",
			warnings: []string{"De-energize and verify zero voltage before touching any conductor"}},
		{instruction: "Measure supply voltage at the machine input and compare against the nameplate rating",
			warnings: []string{"Use a meter rated for the panel voltage category"}},
		{instruction: "Check contactors and relays for signs of chatter, pitting or failure to engage"},
	},
	troubleshoot.CategoryHydraulic: {
		{instruction: "Check the hydraulic fluid level and top up to the sight-glass mark if low"},
		{instruction: "Inspect hoses and fittings for leaks, abrasion or kinks along the full run",
			warnings: []string{"Depressurize the system before tightening or replacing any fitting"}},
		{instruction: "Verify pump output pressure against the specification at the test port",
			warnings: []string{"Never check for pinhole leaks with bare hands"}},
	},
	troubleshoot.CategorySoftware: {
		{instruction: "Power-cycle the controller: shut down cleanly, wait thirty seconds, then restart and watch the boot sequence"},
		{instruction: "Check the controller display or log for active fault codes and note every code shown"},
		{instruction: "Verify all communication cables between the controller and I/O modules are seated"},
	},
	troubleshoot.CategoryCalibration: {
		{instruction: "Run the machine's built-in calibration or homing routine and note where it stops or deviates"},
		{instruction: "Check reference sensors and limit switches for contamination or misalignment"},
		{instruction: "Compare a test measurement against a known reference standard and record the deviation"},
	},
	troubleshoot.CategoryOther: {
		{instruction: "Perform a visual inspection of the machine for anything loose, leaking, discolored or out of place"},
		{instruction: "Power-cycle the machine and observe the exact point in the cycle where the problem appears"},
		{instruction: "Check the operator panel for fault codes or warning indicators and note every message"},
	},
}
