package types

// Package types defines the public API shapes exchanged with the chat
// transport layer. The transport itself (HTTP framing, auth, org scoping)
// lives in the ServicePilot backend; this service only sees decoded turns.

// TurnRequest is one inbound technician turn: either an initial problem
// report or feedback on the previously issued step.
type TurnRequest struct {
	UserID      string `json:"user_id"`
	MachineID   string `json:"machine_id,omitempty"`
	FreeText    string `json:"free_text"`
	SessionHint string `json:"session_hint,omitempty"`
}

// Turn response kinds.
const (
	KindText      = "text"
	KindStep      = "step"
	KindCompleted = "completed"
	KindEscalated = "escalated"
)

// TurnResponse is the single outbound payload for a turn. Kind selects which
// of the remaining fields are populated.
type TurnResponse struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id,omitempty"`

	// Kind == "text"
	Message string `json:"message,omitempty"`

	// Kind == "step"
	StepNumber        int      `json:"step_number,omitempty"`
	Instruction       string   `json:"instruction,omitempty"`
	SafetyWarnings    []string `json:"safety_warnings,omitempty"`
	EstimatedDuration int      `json:"estimated_duration,omitempty"` // minutes
	RequiresFeedback  bool     `json:"requires_feedback,omitempty"`
	Confidence        string   `json:"confidence,omitempty"`

	// Kind == "completed"
	Summary string `json:"summary,omitempty"`

	// Kind == "escalated"
	Reason string `json:"reason,omitempty"`
}
