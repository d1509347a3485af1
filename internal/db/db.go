package db

import (
	"context"
	"errors"
	"time"
)

// Package db is the fact store for the troubleshooting engine: sessions,
// steps, feedback and solution effectiveness statistics. All durable state
// lives here; the engine keeps no load-bearing in-process state between
// turns.

// Sentinel errors surfaced to callers for local resolution.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("db: not found")

	// ErrActiveSessionExists is returned by CreateSession when another
	// non-terminal session already exists for the (user, machine) pair.
	// Callers re-read the existing session instead of erroring.
	ErrActiveSessionExists = errors.New("db: active session exists")

	// ErrOpenStep is returned by AppendStep when the session already has a
	// step awaiting feedback.
	ErrOpenStep = errors.New("db: session has an open step")

	// ErrDuplicateFeedback is returned by RecordFeedback when the step has
	// already received feedback. Resubmissions are ignored, not reapplied.
	ErrDuplicateFeedback = errors.New("db: feedback already recorded")
)

// Store is the main persistence interface for the troubleshooting engine.
type Store interface {
	SessionStore
	StepStore
	FeedbackStore
	EffectivenessStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Sessions ─────────────────────────────────────────────────────────────────

// SessionRecord is the DB representation of one troubleshooting session.
type SessionRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	MachineID   string    `json:"machine_id"`
	Category    string    `json:"category"`
	Report      string    `json:"report"`
	Assessment  string    `json:"assessment"` // JSON blob, set once after analysis
	Status      string    `json:"status"`
	CurrentStep int       `json:"current_step"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SessionStore persists troubleshooting sessions. At most one non-terminal
// session may exist per (user, machine) pair; the constraint is enforced in
// the database so concurrent writers cannot race past it.
type SessionStore interface {
	// CreateSession inserts a new session. Returns ErrActiveSessionExists
	// when a non-terminal session for (user, machine) already exists.
	CreateSession(ctx context.Context, rec *SessionRecord) error

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, id string) (*SessionRecord, error)

	// GetActiveSession returns the non-terminal session for (user, machine),
	// or ErrNotFound when none is active.
	GetActiveSession(ctx context.Context, userID, machineID string) (*SessionRecord, error)

	// UpdateSessionStatus transitions a session's status (and category, which
	// may be refined after analysis).
	UpdateSessionStatus(ctx context.Context, id, status, category string) error

	// ListSessions returns a user's sessions, newest first. userID may be
	// empty to list all.
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]*SessionRecord, error)
}

// ─── Steps ────────────────────────────────────────────────────────────────────

// StepRecord is one emitted instruction. Immutable once written except for
// the terminal outcome.
type StepRecord struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	Number           int       `json:"number"`
	Instruction      string    `json:"instruction"`
	SafetyWarnings   string    `json:"safety_warnings"` // JSON array
	Duration         int       `json:"duration"`        // minutes
	RequiresFeedback bool      `json:"requires_feedback"`
	Source           string    `json:"source"`
	Outcome          string    `json:"outcome"` // empty while awaiting feedback
	CreatedAt        time.Time `json:"created_at"`
}

// StepStore persists steps. Step numbers are contiguous from 1 within a
// session and a session has at most one step without an outcome.
type StepStore interface {
	// AppendStep atomically inserts the step and advances the session to
	// awaiting_feedback. Returns ErrOpenStep if a step is already awaiting
	// feedback, and ErrNotFound if the session does not exist.
	AppendStep(ctx context.Context, step *StepRecord) error

	// GetSteps returns a session's steps ordered by number.
	GetSteps(ctx context.Context, sessionID string) ([]*StepRecord, error)

	// GetOpenStep returns the session's step awaiting feedback, or
	// ErrNotFound when none is open.
	GetOpenStep(ctx context.Context, sessionID string) (*StepRecord, error)
}

// ─── Feedback ─────────────────────────────────────────────────────────────────

// FeedbackRecord is the technician's recorded reaction to a step.
type FeedbackRecord struct {
	StepID    string    `json:"step_id"`
	SessionID string    `json:"session_id"`
	RawInput  string    `json:"raw_input"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedbackStore persists feedback. Exactly one feedback row may exist per
// step; the terminal step outcome and the session transition are written in
// the same transaction so a crash never leaves a half-applied turn.
type FeedbackStore interface {
	// RecordFeedback atomically inserts the feedback, sets the step outcome
	// and moves the session to newStatus. Returns ErrDuplicateFeedback when
	// the step already has feedback.
	RecordFeedback(ctx context.Context, fb *FeedbackRecord, newStatus string) error

	// GetFeedback returns the feedback for a step, or ErrNotFound.
	GetFeedback(ctx context.Context, stepID string) (*FeedbackRecord, error)
}

// ─── Solution effectiveness ───────────────────────────────────────────────────

// EffectivenessRecord is the aggregated outcome statistic for one
// (category, machine model, normalized solution) key.
type EffectivenessRecord struct {
	Category       string    `json:"category"`
	MachineModel   string    `json:"machine_model"`
	SolutionKey    string    `json:"solution_key"` // normalized text
	SolutionText   string    `json:"solution_text"`
	SuccessCount   int       `json:"success_count"`
	AttemptCount   int       `json:"attempt_count"`
	ExpertVerified bool      `json:"expert_verified"`
	LastObserved   time.Time `json:"last_observed"`
}

// EffectivenessStore persists append-only outcome statistics. Counters are
// incremented with an atomic upsert so concurrent completions for the same
// key never lose an update.
type EffectivenessStore interface {
	// RecordOutcome increments attempt_count (and success_count when
	// succeeded) for the key, creating it on first observation.
	RecordOutcome(ctx context.Context, category, model, solutionKey, solutionText string, succeeded, expertVerified bool) error

	// QueryEffectiveness returns records for (category, model) with at least
	// one attempt, most attempts first. model may be empty to match all.
	QueryEffectiveness(ctx context.Context, category, model string, limit int) ([]*EffectivenessRecord, error)
}
