package feedback

// Package feedback classifies the technician's reaction to a step. Matching
// is tokenized and negation-aware: the negative phrase sets are checked
// before the positive ones, so "that did not work at all" can never be read
// as success just because it contains the word "work".

import (
	"strings"
	"unicode"

	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot"
)

// choiceTokens are the fixed-choice inputs the UI may send instead of text.
var choiceTokens = map[string]troubleshoot.Outcome{
	"worked":           troubleshoot.OutcomeWorked,
	"partially_worked": troubleshoot.OutcomePartiallyWorked,
	"didnt_work":       troubleshoot.OutcomeDidntWork,
	"unclear":          troubleshoot.OutcomeUnclear,
}

// contractions are expanded before tokenizing so negations surface as the
// token "not".
var contractions = map[string]string{
	"didn't":   "did not",
	"doesn't":  "does not",
	"don't":    "do not",
	"won't":    "will not",
	"wasn't":   "was not",
	"isn't":    "is not",
	"aren't":   "are not",
	"can't":    "can not",
	"couldn't": "could not",
	"hasn't":   "has not",
	"haven't":  "have not",
	"wouldn't": "would not",
	"ain't":    "is not",
}

// negationTokens start a negation window: a positive keyword within reach of
// one of these reads as failure.
var negationTokens = map[string]bool{
	"not": true, "no": true, "never": true, "nothing": true, "without": true,
}

// negationWindow is how many tokens after a negation a positive keyword is
// still considered negated.
const negationWindow = 3

// Phrase sets, as token sequences. Negative is matched first.
var negativePhrases = [][]string{
	{"did", "not", "work"},
	{"does", "not", "work"},
	{"do", "not", "work"},
	{"did", "not", "help"},
	{"not", "working"},
	{"not", "fixed"},
	{"no", "luck"},
	{"no", "change"},
	{"no", "difference"},
	{"no", "effect"},
	{"nothing", "happened"},
	{"nothing", "changed"},
	{"still", "broken"},
	{"still", "down"},
	{"still", "dead"},
	{"still", "the", "same"},
	{"same", "problem"},
	{"same", "issue"},
	{"made", "it", "worse"},
	{"got", "worse"},
	{"worse"},
	{"failed"},
	{"useless"},
}

var partialPhrases = [][]string{
	{"partially"},
	{"partly"},
	{"somewhat"},
	{"kind", "of", "worked"},
	{"sort", "of", "worked"},
	{"helped", "a", "little"},
	{"helped", "a", "bit"},
	{"a", "little", "better"},
	{"a", "bit", "better"},
	{"slightly", "better"},
	{"better", "but"},
	{"improved", "but"},
	{"helped", "but"},
	{"worked", "but"},
}

var positivePhrases = [][]string{
	{"worked"},
	{"works"},
	{"working", "now"},
	{"fixed"},
	{"solved"},
	{"resolved"},
	{"that", "did", "it"},
	{"problem", "solved"},
	{"all", "good"},
	{"running", "now"},
	{"running", "again"},
	{"back", "up"},
	{"good", "now"},
	{"success"},
	{"sorted"},
}

// positiveKeywords feed the negation-window rule.
var positiveKeywords = map[string]bool{
	"worked": true, "works": true, "working": true, "work": true,
	"fixed": true, "solved": true, "resolved": true, "helped": true,
	"better": true, "good": true, "success": true,
}

// Classify maps raw technician input to an outcome. Fixed-choice tokens map
// directly; free text goes through phrase matching with negative-before-
// positive precedence. Anything unmatched is unclear, never an error.
func Classify(raw string) troubleshoot.Outcome {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	if outcome, ok := choiceTokens[trimmed]; ok {
		return outcome
	}

	tokens := tokenize(raw)
	if len(tokens) == 0 {
		return troubleshoot.OutcomeUnclear
	}

	if matchesAny(tokens, negativePhrases) || negatedPositive(tokens) {
		return troubleshoot.OutcomeDidntWork
	}
	if matchesAny(tokens, partialPhrases) {
		return troubleshoot.OutcomePartiallyWorked
	}
	if matchesAny(tokens, positivePhrases) {
		return troubleshoot.OutcomeWorked
	}
	return troubleshoot.OutcomeUnclear
}

// tokenize lowercases, expands contractions and splits on non-letter runs.
func tokenize(raw string) []string {
	lower := strings.ToLower(raw)

	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if expanded, ok := contractions[f]; ok {
			tokens = append(tokens, strings.Fields(expanded)...)
			continue
		}
		tokens = append(tokens, strings.Trim(f, "'"))
	}
	return tokens
}

// matchesAny reports whether any phrase occurs as a contiguous token
// subsequence.
func matchesAny(tokens []string, phrases [][]string) bool {
	for _, phrase := range phrases {
		if containsSequence(tokens, phrase) {
			return true
		}
	}
	return false
}

func containsSequence(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j, p := range phrase {
			if tokens[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// negatedPositive reports whether a positive keyword falls inside a negation
// window, e.g. "not really working" or "never actually worked".
func negatedPositive(tokens []string) bool {
	for i, tok := range tokens {
		if !negationTokens[tok] {
			continue
		}
		end := i + 1 + negationWindow
		if end > len(tokens) {
			end = len(tokens)
		}
		for _, following := range tokens[i+1 : end] {
			if positiveKeywords[following] {
				return true
			}
		}
	}
	return false
}
