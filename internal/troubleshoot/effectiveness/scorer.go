package effectiveness

// Package effectiveness ranks solutions by observed real-world success.
// Scores combine success rate with a smooth recency decay so a stale lucky
// success cannot permanently dominate, and expert-verified solutions get a
// fixed multiplicative boost.

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/servicepilot/servicepilot-ai/internal/config"
	"github.com/servicepilot/servicepilot-ai/internal/db"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot"
)

const (
	defaultHalfLife    = 30 * 24 * time.Hour
	defaultExpertBoost = 1.25
	maxSolutionKeyLen  = 200
)

// RankedSolution is one scored solution.
type RankedSolution struct {
	SolutionText   string    `json:"solution_text"`
	SolutionKey    string    `json:"solution_key"`
	Score          float64   `json:"score"`
	SuccessCount   int       `json:"success_count"`
	AttemptCount   int       `json:"attempt_count"`
	ExpertVerified bool      `json:"expert_verified"`
	LastObserved   time.Time `json:"last_observed"`
}

// Scorer ranks and records solution outcomes against the fact store.
type Scorer struct {
	store       db.EffectivenessStore
	halfLife    time.Duration
	expertBoost float64
	now         func() time.Time
}

// NewScorer creates a scorer with the configured tunables.
func NewScorer(store db.EffectivenessStore, cfg *config.Config) *Scorer {
	halfLife := time.Duration(cfg.Workflow.RecencyHalfLifeDays) * 24 * time.Hour
	if halfLife <= 0 {
		halfLife = defaultHalfLife
	}
	boost := cfg.Workflow.ExpertBoost
	if boost <= 0 {
		boost = defaultExpertBoost
	}
	return &Scorer{
		store:       store,
		halfLife:    halfLife,
		expertBoost: boost,
		now:         time.Now,
	}
}

// RankSolutions returns solutions for (category, machine model) ordered by
// score, best first. Keys with zero attempts never appear. Equal scores
// break toward more evidence, then more recent observation.
func (s *Scorer) RankSolutions(ctx context.Context, category troubleshoot.ProblemCategory, machineModel string, limit int) ([]RankedSolution, error) {
	if limit <= 0 {
		limit = 10
	}

	// Over-fetch so post-scoring reordering isn't truncated prematurely.
	records, err := s.store.QueryEffectiveness(ctx, string(category), machineModel, limit*5)
	if err != nil {
		return nil, fmt.Errorf("query effectiveness: %w", err)
	}

	now := s.now()
	ranked := make([]RankedSolution, 0, len(records))
	for _, rec := range records {
		if rec.AttemptCount <= 0 {
			continue
		}
		ranked = append(ranked, RankedSolution{
			SolutionText:   rec.SolutionText,
			SolutionKey:    rec.SolutionKey,
			Score:          s.score(rec, now),
			SuccessCount:   rec.SuccessCount,
			AttemptCount:   rec.AttemptCount,
			ExpertVerified: rec.ExpertVerified,
			LastObserved:   rec.LastObserved,
		})
	}

	// Tie-breaks read each entry's own LastObserved: a model-spanning query
	// can return the same solution key once per model.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].AttemptCount != ranked[j].AttemptCount {
			return ranked[i].AttemptCount > ranked[j].AttemptCount
		}
		return ranked[i].LastObserved.After(ranked[j].LastObserved)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// score = success_rate * recency_weight, boosted for expert-verified keys.
// Recency halves every half-life window since last observation.
func (s *Scorer) score(rec *db.EffectivenessRecord, now time.Time) float64 {
	successRate := float64(rec.SuccessCount) / float64(rec.AttemptCount)

	elapsed := now.Sub(rec.LastObserved)
	if elapsed < 0 {
		elapsed = 0
	}
	recency := math.Pow(0.5, elapsed.Hours()/s.halfLife.Hours())

	score := successRate * recency
	if rec.ExpertVerified {
		score *= s.expertBoost
	}
	return score
}

// RecordOutcome appends one observation for a solution. Safe for concurrent
// callers on the same key; increments never lose an update.
func (s *Scorer) RecordOutcome(ctx context.Context, category troubleshoot.ProblemCategory, machineModel, solutionText string, succeeded, expertVerified bool) error {
	key := NormalizeSolution(solutionText)
	if key == "" {
		return fmt.Errorf("effectiveness: empty solution text")
	}
	return s.store.RecordOutcome(ctx, string(category), machineModel, key, solutionText, succeeded, expertVerified)
}

// NormalizeSolution produces the aggregation key for a solution text:
// lowercased, punctuation stripped, whitespace collapsed, length-capped.
// Cosmetic rewording of the same instruction lands on the same key.
func NormalizeSolution(text string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	key := strings.TrimSpace(b.String())
	if len(key) > maxSolutionKeyLen {
		// Cut on a rune boundary; the cap is in bytes but keys must stay
		// valid UTF-8.
		cut := maxSolutionKeyLen
		for cut > 0 && !utf8.RuneStart(key[cut]) {
			cut--
		}
		key = strings.TrimSpace(key[:cut])
	}
	return key
}
