package effectiveness

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/servicepilot/servicepilot-ai/internal/config"
	"github.com/servicepilot/servicepilot-ai/internal/db"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot"
)

// fakeStore is an in-memory EffectivenessStore for scoring tests.
type fakeStore struct {
	records []*db.EffectivenessRecord
}

func (f *fakeStore) RecordOutcome(_ context.Context, category, model, solutionKey, solutionText string, succeeded, expertVerified bool) error {
	for _, rec := range f.records {
		if rec.Category == category && rec.MachineModel == model && rec.SolutionKey == solutionKey {
			rec.AttemptCount++
			if succeeded {
				rec.SuccessCount++
			}
			if expertVerified {
				rec.ExpertVerified = true
			}
			rec.LastObserved = time.Now()
			return nil
		}
	}
	succ := 0
	if succeeded {
		succ = 1
	}
	f.records = append(f.records, &db.EffectivenessRecord{
		Category: category, MachineModel: model,
		SolutionKey: solutionKey, SolutionText: solutionText,
		SuccessCount: succ, AttemptCount: 1,
		ExpertVerified: expertVerified, LastObserved: time.Now(),
	})
	return nil
}

func (f *fakeStore) QueryEffectiveness(_ context.Context, category, model string, limit int) ([]*db.EffectivenessRecord, error) {
	var out []*db.EffectivenessRecord
	for _, rec := range f.records {
		if rec.Category == category && (model == "" || rec.MachineModel == model) && rec.AttemptCount > 0 {
			out = append(out, rec)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newTestScorer(store db.EffectivenessStore) *Scorer {
	cfg := &config.Config{}
	cfg.Workflow.RecencyHalfLifeDays = 30
	cfg.Workflow.ExpertBoost = 1.25
	return NewScorer(store, cfg)
}

func TestNormalizeSolution(t *testing.T) {
	tests := map[string]string{
		"Check the power connections.":    "check the power connections",
		"  Check   THE power connections": "check the power connections",
		"Re-seat the I/O board":           "re seat the i o board",
		"":                                "",
	}
	for input, want := range tests {
		if got := NormalizeSolution(input); got != want {
			t.Errorf("NormalizeSolution(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestRankSolutionsOrdersBySuccessRate(t *testing.T) {
	now := time.Now()
	store := &fakeStore{records: []*db.EffectivenessRecord{
		{Category: "startup", MachineModel: "V4.0", SolutionKey: "a", SolutionText: "A",
			SuccessCount: 9, AttemptCount: 10, LastObserved: now},
		{Category: "startup", MachineModel: "V4.0", SolutionKey: "b", SolutionText: "B",
			SuccessCount: 2, AttemptCount: 10, LastObserved: now},
	}}
	s := newTestScorer(store)

	ranked, err := s.RankSolutions(context.Background(), troubleshoot.CategoryStartup, "V4.0", 10)
	if err != nil {
		t.Fatalf("RankSolutions: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 solutions, got %d", len(ranked))
	}
	if ranked[0].SolutionKey != "a" {
		t.Errorf("expected a first, got %s", ranked[0].SolutionKey)
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Errorf("scores not ordered: %f <= %f", ranked[0].Score, ranked[1].Score)
	}
}

func TestRankSolutionsRecencyDecay(t *testing.T) {
	// Same success rate, but one observed two half-lives ago: it must halve
	// twice and lose.
	now := time.Now()
	store := &fakeStore{records: []*db.EffectivenessRecord{
		{Category: "hydraulic", MachineModel: "X", SolutionKey: "stale", SolutionText: "Stale",
			SuccessCount: 5, AttemptCount: 5, LastObserved: now.Add(-60 * 24 * time.Hour)},
		{Category: "hydraulic", MachineModel: "X", SolutionKey: "fresh", SolutionText: "Fresh",
			SuccessCount: 5, AttemptCount: 5, LastObserved: now},
	}}
	s := newTestScorer(store)
	s.now = func() time.Time { return now }

	ranked, err := s.RankSolutions(context.Background(), troubleshoot.CategoryHydraulic, "X", 10)
	if err != nil {
		t.Fatalf("RankSolutions: %v", err)
	}
	if ranked[0].SolutionKey != "fresh" {
		t.Errorf("expected fresh first, got %s", ranked[0].SolutionKey)
	}
	ratio := ranked[1].Score / ranked[0].Score
	if ratio < 0.2 || ratio > 0.3 {
		t.Errorf("expected stale score near a quarter of fresh, ratio=%f", ratio)
	}
}

func TestRankSolutionsExpertBoost(t *testing.T) {
	now := time.Now()
	store := &fakeStore{records: []*db.EffectivenessRecord{
		{Category: "electrical", MachineModel: "X", SolutionKey: "plain", SolutionText: "Plain",
			SuccessCount: 4, AttemptCount: 5, LastObserved: now},
		{Category: "electrical", MachineModel: "X", SolutionKey: "expert", SolutionText: "Expert",
			SuccessCount: 4, AttemptCount: 5, ExpertVerified: true, LastObserved: now},
	}}
	s := newTestScorer(store)
	s.now = func() time.Time { return now }

	ranked, err := s.RankSolutions(context.Background(), troubleshoot.CategoryElectrical, "X", 10)
	if err != nil {
		t.Fatalf("RankSolutions: %v", err)
	}
	if ranked[0].SolutionKey != "expert" {
		t.Errorf("expected expert-verified first, got %s", ranked[0].SolutionKey)
	}
}

func TestRankSolutionsTieBreakOnEvidence(t *testing.T) {
	now := time.Now()
	store := &fakeStore{records: []*db.EffectivenessRecord{
		{Category: "startup", MachineModel: "X", SolutionKey: "thin", SolutionText: "Thin",
			SuccessCount: 1, AttemptCount: 1, LastObserved: now},
		{Category: "startup", MachineModel: "X", SolutionKey: "solid", SolutionText: "Solid",
			SuccessCount: 10, AttemptCount: 10, LastObserved: now},
	}}
	s := newTestScorer(store)
	s.now = func() time.Time { return now }

	ranked, err := s.RankSolutions(context.Background(), troubleshoot.CategoryStartup, "X", 10)
	if err != nil {
		t.Fatalf("RankSolutions: %v", err)
	}
	if ranked[0].SolutionKey != "solid" {
		t.Errorf("equal scores must prefer more evidence, got %s first", ranked[0].SolutionKey)
	}
}

func TestRankSolutionsEmpty(t *testing.T) {
	s := newTestScorer(&fakeStore{})
	ranked, err := s.RankSolutions(context.Background(), troubleshoot.CategoryOther, "X", 10)
	if err != nil {
		t.Fatalf("RankSolutions: %v", err)
	}
	if len(ranked) != 0 {
		t.Errorf("expected no solutions, got %d", len(ranked))
	}
}

func TestRecordOutcomeNormalizesKey(t *testing.T) {
	store := &fakeStore{}
	s := newTestScorer(store)
	ctx := context.Background()

	if err := s.RecordOutcome(ctx, troubleshoot.CategoryStartup, "V4.0", "Check the power connections.", true, false); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	// A cosmetic rewording lands on the same key.
	if err := s.RecordOutcome(ctx, troubleshoot.CategoryStartup, "V4.0", "check THE power connections", false, false); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	if len(store.records) != 1 {
		t.Fatalf("expected 1 aggregated record, got %d", len(store.records))
	}
	if store.records[0].AttemptCount != 2 || store.records[0].SuccessCount != 1 {
		t.Errorf("expected 2 attempts / 1 success, got %d/%d",
			store.records[0].AttemptCount, store.records[0].SuccessCount)
	}
}

func TestRecordOutcomeEmptyText(t *testing.T) {
	s := newTestScorer(&fakeStore{})
	if err := s.RecordOutcome(context.Background(), troubleshoot.CategoryOther, "X", "  ", true, false); err == nil {
		t.Error("expected error for empty solution text")
	}
}

func TestRankSolutionsTieBreakAcrossModels(t *testing.T) {
	// A model-spanning query returns the same solution key once per model.
	// Each entry must tie-break on its own observation time, not a
	// key-shared one.
	now := time.Now()
	store := &fakeStore{records: []*db.EffectivenessRecord{
		{Category: "startup", MachineModel: "V3.0", SolutionKey: "k", SolutionText: "K",
			SuccessCount: 0, AttemptCount: 3, LastObserved: now.Add(-time.Hour)},
		{Category: "startup", MachineModel: "V4.0", SolutionKey: "k", SolutionText: "K",
			SuccessCount: 0, AttemptCount: 3, LastObserved: now},
	}}
	s := newTestScorer(store)
	s.now = func() time.Time { return now }

	ranked, err := s.RankSolutions(context.Background(), troubleshoot.CategoryStartup, "", 10)
	if err != nil {
		t.Fatalf("RankSolutions: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(ranked))
	}
	if !ranked[0].LastObserved.Equal(now) {
		t.Errorf("expected the most recent observation first, got %v", ranked[0].LastObserved)
	}
}

func TestNormalizeSolutionRuneBoundaryCap(t *testing.T) {
	// 199 ASCII bytes followed by a two-byte rune straddling the cap.
	long := strings.Repeat("a", 199) + "é"
	key := NormalizeSolution(long)
	if !utf8.ValidString(key) {
		t.Fatalf("key is not valid UTF-8: %q", key)
	}
	if len(key) > 200 {
		t.Errorf("key over cap: %d bytes", len(key))
	}
	if key != strings.Repeat("a", 199) {
		t.Errorf("expected the straddling rune dropped, got %q", key)
	}
}
