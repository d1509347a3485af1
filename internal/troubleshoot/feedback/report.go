package feedback

// Problem-report detection. A new session only starts when the first message
// actually reads like an equipment problem; greetings and general questions
// stay in plain chat.

var problemPhrases = [][]string{
	{"not", "working"},
	{"will", "not", "start"},
	{"does", "not", "start"},
	{"not", "starting"},
	{"not", "turning", "on"},
	{"keeps", "stopping"},
	{"shut", "down"},
	{"shuts", "down"},
	{"stopped", "working"},
	{"acting", "up"},
	{"out", "of", "order"},
}

// problemKeywords are single tokens that strongly indicate a fault report.
var problemKeywords = map[string]bool{
	"broken": true, "broke": true, "fault": true, "faulty": true,
	"error": true, "errors": true, "alarm": true, "leak": true,
	"leaking": true, "leaks": true, "noise": true, "noisy": true,
	"vibrating": true, "vibration": true, "overheating": true,
	"overheats": true, "stuck": true, "jammed": true, "jamming": true,
	"fails": true, "failing": true, "failure": true, "failed": true,
	"problem": true, "problems": true, "issue": true, "issues": true,
	"trouble": true, "malfunction": true, "malfunctioning": true,
	"smoke": true, "smoking": true, "grinding": true, "tripped": true,
	"tripping": true, "stalls": true, "stalling": true, "dead": true,
}

// IsProblemReport reports whether free text reads like an equipment fault
// report rather than a question or a greeting.
func IsProblemReport(raw string) bool {
	tokens := tokenize(raw)
	if len(tokens) == 0 {
		return false
	}
	if matchesAny(tokens, problemPhrases) {
		return true
	}
	for _, tok := range tokens {
		if problemKeywords[tok] {
			return true
		}
	}
	return false
}
