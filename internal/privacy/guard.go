package privacy

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// RefusalMessage is returned verbatim when a query matches a jailbreak
// signature. The generation backend is never invoked in that case.
const RefusalMessage = "I'm sorry, I cannot process this request as it violates our safety and privacy policies. Please ask a question related to the document context."

// leakageRefusal replaces generated text that echoes the system directive.
const leakageRefusal = "I'm sorry, I cannot provide that information as it involves internal system configuration. I am here to help you with the provided documents."

// jailbreakSignatures is the fixed, ordered signature list. A query
// matching any signature short-circuits before the generation service.
var jailbreakSignatures = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bignore\s+(all\s+)?previous\s+(instructions|prompts|directions)\b`),
	regexp.MustCompile(`(?i)\bdisregard\s+(all\s+)?previous\s+(instructions|prompts|directions)\b`),
	regexp.MustCompile(`(?i)\bforget\s+(all\s+)?(previous\s+)?instructions\b`),
	regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|the)\s+`),
	regexp.MustCompile(`(?i)\bsystem\s+(reset|override)\b`),
	regexp.MustCompile(`(?i)\b(print|output|repeat)\s+(your\s+)?(full\s+)?(system\s+)?prompt\b`),
	regexp.MustCompile(`(?i)\b(bypass|disable)\s+(security|filters|rules|guardrails)\b`),
	regexp.MustCompile(`(?i)\bwhat\s+are\s+your\s+instructions\b`),
	regexp.MustCompile(`(?i)\bnew\s+persona\b`),
	regexp.MustCompile(`(?i)\bdan\s+mode\b`),
}

// leakagePhrases are telltale fragments of the system directive being
// echoed back by the generation service.
var leakagePhrases = []string{
	"Your instructions are",
	"You are a helpful AI",
	"CORE PRIVACY DIRECTIVES",
	"my system prompt",
}

// Guard scans queries for prompt-injection attempts and filters
// generated responses for directive leakage and PII.
type Guard struct {
	redactor *Redactor
	logger   *zap.Logger
}

// NewGuard creates a Guard sharing the given redactor.
func NewGuard(redactor *Redactor, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{redactor: redactor, logger: logger}
}

// CheckQuery scans a query for jailbreak signatures. When unsafe it
// returns ok=false and the fixed refusal; the caller must not invoke
// the generation backend.
func (g *Guard) CheckQuery(query string) (ok bool, refusal string) {
	for _, sig := range jailbreakSignatures {
		if sig.MatchString(query) {
			g.logger.Warn("jailbreak signature matched",
				zap.String("signature", sig.String()))
			return false, RefusalMessage
		}
	}
	return true, ""
}

// FilterResponse scans generated text for directive leakage and, when
// clean, applies redaction to the outgoing text.
func (g *Guard) FilterResponse(text string) string {
	for _, phrase := range leakagePhrases {
		if strings.Contains(text, phrase) {
			g.logger.Warn("generation response echoed system directive")
			return leakageRefusal
		}
	}
	return g.redactor.Redact(text)
}

// RoleDirective returns the advisory scope text attached to generation
// calls for the given role. This is prompt text only: actual data
// scoping is enforced upstream by tenant collection selection, never
// by the directive.
func RoleDirective(role string) string {
	switch role {
	case "admin":
		return "The requester is an administrator and may be shown aggregate placement and departmental information from the retrieved context."
	default:
		return "The requester is a standard user. Answer only from the retrieved context and do not reveal information about other individuals."
	}
}
