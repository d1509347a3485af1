package troubleshoot

// Package troubleshoot holds the domain types shared by the analyzer, step
// generator, feedback interpreter, effectiveness scorer and orchestrator.
//
// A troubleshooting session ties one technician, one machine and one problem
// report to an ordered sequence of single-action steps. The session advances
// one step per turn: the engine issues an instruction, the technician reports
// back, and the next instruction is chosen from learned solutions, the
// diagnostic assessment, or a generic fallback, in that order.

import "time"

// SessionStatus is the workflow state of a troubleshooting session.
type SessionStatus string

const (
	StatusDiagnosing       SessionStatus = "diagnosing"
	StatusAwaitingFeedback SessionStatus = "awaiting_feedback"
	StatusCompleted        SessionStatus = "completed"
	StatusEscalated        SessionStatus = "escalated"
	StatusAbandoned        SessionStatus = "abandoned"
)

// Terminal reports whether the status ends the session.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusEscalated, StatusAbandoned:
		return true
	}
	return false
}

// ProblemCategory is the closed diagnostic taxonomy.
type ProblemCategory string

const (
	CategoryStartup     ProblemCategory = "startup"
	CategoryMechanical  ProblemCategory = "mechanical"
	CategoryElectrical  ProblemCategory = "electrical"
	CategoryHydraulic   ProblemCategory = "hydraulic"
	CategorySoftware    ProblemCategory = "software"
	CategoryCalibration ProblemCategory = "calibration"
	CategoryOther       ProblemCategory = "other"
)

// Categories lists every valid problem category.
func Categories() []ProblemCategory {
	return []ProblemCategory{
		CategoryStartup, CategoryMechanical, CategoryElectrical,
		CategoryHydraulic, CategorySoftware, CategoryCalibration,
		CategoryOther,
	}
}

// ParseCategory maps free-form category text to the closed taxonomy,
// defaulting to CategoryOther.
func ParseCategory(s string) ProblemCategory {
	for _, c := range Categories() {
		if string(c) == s {
			return c
		}
	}
	return CategoryOther
}

// Confidence is the analyzer's confidence in its assessment.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Outcome is the classified technician reaction to a step.
type Outcome string

const (
	OutcomeWorked          Outcome = "worked"
	OutcomePartiallyWorked Outcome = "partially_worked"
	OutcomeDidntWork       Outcome = "didnt_work"
	OutcomeUnclear         Outcome = "unclear"
)

// StepSource records where a step's instruction came from.
type StepSource string

const (
	SourceLearnedSolution     StepSource = "learned-solution"
	SourceAssessmentCandidate StepSource = "assessment-candidate"
	SourceGenericFallback     StepSource = "generic-fallback"
)

// MachineContext is the host registry's view of the machine under repair.
// Nil means no machine context is available; the engine then answers in
// plain-chat mode instead of starting a session.
type MachineContext struct {
	MachineID     string   `json:"machine_id"`
	Model         string   `json:"model"`
	Category      string   `json:"category"`
	RecentHistory []string `json:"recent_history,omitempty"`
}

// CandidateStep is one remedial action proposed by the analyzer.
type CandidateStep struct {
	Instruction    string   `json:"instruction"`
	SafetyWarnings []string `json:"safety_warnings,omitempty"`
	Duration       int      `json:"duration,omitempty"` // minutes
}

// Assessment is the analyzer's structured judgment for a session. An
// assessment with zero candidate steps is valid; the step generator falls
// back to learned solutions or generic instructions.
type Assessment struct {
	Category          ProblemCategory `json:"category"`
	PossibleCauses    []string        `json:"possible_causes"`
	CandidateSteps    []CandidateStep `json:"candidate_steps"`
	Confidence        Confidence      `json:"confidence"`
	EstimatedDuration int             `json:"estimated_duration"` // minutes, total
}

// PerStepDuration splits the estimated total duration across candidates.
// Guarded against empty candidate lists.
func (a *Assessment) PerStepDuration() int {
	n := len(a.CandidateSteps)
	if n < 1 {
		n = 1
	}
	return a.EstimatedDuration / n
}

// GenericAssessment is the fallback returned when the gateway fails or its
// output cannot be parsed.
func GenericAssessment() *Assessment {
	return &Assessment{
		Category:          CategoryOther,
		Confidence:        ConfidenceLow,
		CandidateSteps:    nil,
		EstimatedDuration: 30,
	}
}

// Session is one troubleshooting attempt.
type Session struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	MachineID   string          `json:"machine_id,omitempty"`
	Category    ProblemCategory `json:"category"`
	Report      string          `json:"report"`
	Status      SessionStatus   `json:"status"`
	CurrentStep int             `json:"current_step"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Step is one emitted instruction. Immutable once created except for the
// terminal Outcome set when feedback arrives.
type Step struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"session_id"`
	Number           int        `json:"number"`
	Instruction      string     `json:"instruction"`
	SafetyWarnings   []string   `json:"safety_warnings,omitempty"`
	Duration         int        `json:"duration"` // minutes
	RequiresFeedback bool       `json:"requires_feedback"`
	Source           StepSource `json:"source"`
	Outcome          Outcome    `json:"outcome,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Feedback is the technician's recorded reaction to a step.
type Feedback struct {
	StepID    string    `json:"step_id"`
	RawInput  string    `json:"raw_input"`
	Outcome   Outcome   `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}
