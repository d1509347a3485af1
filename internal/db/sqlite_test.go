package db

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newSession(id, user, machine string) *SessionRecord {
	now := time.Now().Round(time.Second)
	return &SessionRecord{
		ID:        id,
		UserID:    user,
		MachineID: machine,
		Category:  "startup",
		Report:    "machine won't start",
		Status:    "diagnosing",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newStep(id, sessionID string, number int) *StepRecord {
	return &StepRecord{
		ID:               id,
		SessionID:        sessionID,
		Number:           number,
		Instruction:      fmt.Sprintf("instruction %d", number),
		SafetyWarnings:   "[]",
		Duration:         10,
		RequiresFeedback: true,
		Source:           "generic-fallback",
		CreatedAt:        time.Now(),
	}
}

// ─── Sessions ─────────────────────────────────────────────────────────────────

func TestSessionCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := newSession("sess-1", "tech-1", "mach-1")
	if err := s.CreateSession(ctx, rec); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.UserID != "tech-1" || got.Report != "machine won't start" {
		t.Errorf("unexpected session: %+v", got)
	}

	active, err := s.GetActiveSession(ctx, "tech-1", "mach-1")
	if err != nil {
		t.Fatalf("GetActiveSession: %v", err)
	}
	if active.ID != "sess-1" {
		t.Errorf("expected sess-1, got %s", active.ID)
	}
}

func TestSingleActiveSessionPerUserMachine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, newSession("sess-1", "tech-1", "mach-1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	err := s.CreateSession(ctx, newSession("sess-2", "tech-1", "mach-1"))
	if err != ErrActiveSessionExists {
		t.Fatalf("expected ErrActiveSessionExists, got %v", err)
	}

	// A different machine is fine.
	if err := s.CreateSession(ctx, newSession("sess-3", "tech-1", "mach-2")); err != nil {
		t.Fatalf("CreateSession on other machine: %v", err)
	}

	// Once terminal, a new session may start.
	if err := s.UpdateSessionStatus(ctx, "sess-1", "completed", "startup"); err != nil {
		t.Fatalf("UpdateSessionStatus: %v", err)
	}
	if err := s.CreateSession(ctx, newSession("sess-4", "tech-1", "mach-1")); err != nil {
		t.Fatalf("CreateSession after completion: %v", err)
	}
}

func TestGetActiveSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetActiveSession(context.Background(), "nobody", "nothing")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		rec := newSession(fmt.Sprintf("sess-%d", i), "tech-1", fmt.Sprintf("mach-%d", i))
		rec.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		if err := s.CreateSession(ctx, rec); err != nil {
			t.Fatalf("CreateSession %d: %v", i, err)
		}
	}

	list, err := s.ListSessions(ctx, "tech-1", 3, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("expected 3 sessions, got %d", len(list))
	}
}

// ─── Steps ────────────────────────────────────────────────────────────────────

func TestAppendStepAdvancesSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, newSession("sess-1", "tech-1", "mach-1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.AppendStep(ctx, newStep("step-1", "sess-1", 1)); err != nil {
		t.Fatalf("AppendStep: %v", err)
	}

	sess, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != "awaiting_feedback" {
		t.Errorf("expected awaiting_feedback, got %s", sess.Status)
	}
	if sess.CurrentStep != 1 {
		t.Errorf("expected current_step 1, got %d", sess.CurrentStep)
	}

	open, err := s.GetOpenStep(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetOpenStep: %v", err)
	}
	if open.ID != "step-1" {
		t.Errorf("expected step-1 open, got %s", open.ID)
	}
}

func TestSingleOpenStep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, newSession("sess-1", "tech-1", "mach-1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.AppendStep(ctx, newStep("step-1", "sess-1", 1)); err != nil {
		t.Fatalf("AppendStep 1: %v", err)
	}

	err := s.AppendStep(ctx, newStep("step-2", "sess-1", 2))
	if err != ErrOpenStep {
		t.Fatalf("expected ErrOpenStep, got %v", err)
	}
}

func TestAppendStepMissingSession(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendStep(context.Background(), newStep("step-1", "ghost", 1))
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ─── Feedback ─────────────────────────────────────────────────────────────────

func TestRecordFeedbackClosesStep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, newSession("sess-1", "tech-1", "mach-1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.AppendStep(ctx, newStep("step-1", "sess-1", 1)); err != nil {
		t.Fatalf("AppendStep: %v", err)
	}

	fb := &FeedbackRecord{
		StepID: "step-1", SessionID: "sess-1",
		RawInput: "it worked", Outcome: "worked", CreatedAt: time.Now(),
	}
	if err := s.RecordFeedback(ctx, fb, "completed"); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}

	sess, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != "completed" {
		t.Errorf("expected completed, got %s", sess.Status)
	}

	if _, err := s.GetOpenStep(ctx, "sess-1"); err != ErrNotFound {
		t.Errorf("expected no open step, got %v", err)
	}

	steps, err := s.GetSteps(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSteps: %v", err)
	}
	if len(steps) != 1 || steps[0].Outcome != "worked" {
		t.Errorf("expected step outcome worked, got %+v", steps)
	}
}

func TestDuplicateFeedbackRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, newSession("sess-1", "tech-1", "mach-1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.AppendStep(ctx, newStep("step-1", "sess-1", 1)); err != nil {
		t.Fatalf("AppendStep: %v", err)
	}

	fb := &FeedbackRecord{
		StepID: "step-1", SessionID: "sess-1",
		RawInput: "no luck", Outcome: "didnt_work", CreatedAt: time.Now(),
	}
	if err := s.RecordFeedback(ctx, fb, "awaiting_feedback"); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}

	err := s.RecordFeedback(ctx, fb, "awaiting_feedback")
	if err != ErrDuplicateFeedback {
		t.Fatalf("expected ErrDuplicateFeedback, got %v", err)
	}
}

// ─── Solution effectiveness ───────────────────────────────────────────────────

func TestRecordOutcomeCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.RecordOutcome(ctx, "startup", "V4.0", "check power", "Check power connections", true, false); err != nil {
			t.Fatalf("RecordOutcome success %d: %v", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := s.RecordOutcome(ctx, "startup", "V4.0", "check power", "Check power connections", false, false); err != nil {
			t.Fatalf("RecordOutcome failure %d: %v", i, err)
		}
	}

	recs, err := s.QueryEffectiveness(ctx, "startup", "V4.0", 10)
	if err != nil {
		t.Fatalf("QueryEffectiveness: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].AttemptCount != 5 || recs[0].SuccessCount != 3 {
		t.Errorf("expected 5 attempts / 3 successes, got %d/%d",
			recs[0].AttemptCount, recs[0].SuccessCount)
	}
}

func TestRecordOutcomeConcurrent(t *testing.T) {
	// Monotonic effectiveness: counters must be exact under interleaving.
	s := newTestStore(t)
	ctx := context.Background()

	const successes = 20
	const failures = 15

	var wg sync.WaitGroup
	for i := 0; i < successes+failures; i++ {
		wg.Add(1)
		go func(succeeded bool) {
			defer wg.Done()
			if err := s.RecordOutcome(ctx, "electrical", "X2", "reset breaker", "Reset the breaker", succeeded, false); err != nil {
				t.Errorf("RecordOutcome: %v", err)
			}
		}(i < successes)
	}
	wg.Wait()

	recs, err := s.QueryEffectiveness(ctx, "electrical", "X2", 10)
	if err != nil {
		t.Fatalf("QueryEffectiveness: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].AttemptCount != successes+failures {
		t.Errorf("expected %d attempts, got %d", successes+failures, recs[0].AttemptCount)
	}
	if recs[0].SuccessCount != successes {
		t.Errorf("expected %d successes, got %d", successes, recs[0].SuccessCount)
	}
}

func TestQueryEffectivenessExcludesOtherKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordOutcome(ctx, "startup", "V4.0", "a", "A", true, false); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := s.RecordOutcome(ctx, "startup", "V5.0", "b", "B", true, false); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := s.RecordOutcome(ctx, "hydraulic", "V4.0", "c", "C", true, false); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	recs, err := s.QueryEffectiveness(ctx, "startup", "V4.0", 10)
	if err != nil {
		t.Fatalf("QueryEffectiveness: %v", err)
	}
	if len(recs) != 1 || recs[0].SolutionKey != "a" {
		t.Errorf("expected only key a, got %+v", recs)
	}
}

func TestExpertVerifiedSticky(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordOutcome(ctx, "startup", "V4.0", "a", "A", true, true); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	// A later non-verified observation must not clear the flag.
	if err := s.RecordOutcome(ctx, "startup", "V4.0", "a", "A", false, false); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	recs, err := s.QueryEffectiveness(ctx, "startup", "V4.0", 10)
	if err != nil {
		t.Fatalf("QueryEffectiveness: %v", err)
	}
	if len(recs) != 1 || !recs[0].ExpertVerified {
		t.Errorf("expected expert_verified to remain set, got %+v", recs)
	}
}

// ─── Persistence health ───────────────────────────────────────────────────────

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestIdempotentMigration(t *testing.T) {
	// Running migrations twice should not error
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = s.Close()
}
