// Package privacy provides PII redaction, query hashing, and the
// prompt guard layer for ragd.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// Placeholder tokens carry the PII type but never the matched value,
// so re-applying redaction to already-redacted text changes nothing.
const (
	placeholderEmail   = "[EMAIL]"
	placeholderSSN     = "[SSN]"
	placeholderPhone   = "[PHONE]"
	placeholderAddress = "[ADDRESS]"
	placeholderEntity  = "[ENTITY]"
)

var (
	emailRE = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	ssnRE   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?1[-.\s]?)?(?:\(\d{3}\)|\d{3})[-.\s]?\d{3}[-.\s]?\d{4}(?:x\d+)?\b`)
	// Street number, street, locality, two-letter region, postal code.
	// Case-insensitive so lowercased street text still matches.
	addressRE = regexp.MustCompile(`(?i)\b\d{1,5}\s+[\w .,-]{3,80},\s+[\w ]{2,40},\s+[A-Z]{2}\s+\d{4,5}\b`)
)

// Redactor replaces PII with typed placeholders. The pattern cascade
// runs most-specific-first: email, national id, phone, postal address,
// then the configured named-entity list.
type Redactor struct {
	entityRE *regexp.Regexp
}

// NewRedactor creates a Redactor. entities is an optional list of
// known names (employers, partner organizations) redacted verbatim;
// longer names win over shorter prefixes.
func NewRedactor(entities []string) *Redactor {
	r := &Redactor{}
	if len(entities) > 0 {
		sorted := make([]string, len(entities))
		copy(sorted, entities)
		sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
		quoted := make([]string, len(sorted))
		for i, e := range sorted {
			quoted[i] = regexp.QuoteMeta(e)
		}
		r.entityRE = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return r
}

// Redact replaces all PII matches with typed placeholders.
// Idempotent: placeholders contain nothing the cascade can re-match.
func (r *Redactor) Redact(text string) string {
	if text == "" {
		return text
	}
	out := emailRE.ReplaceAllString(text, placeholderEmail)
	out = ssnRE.ReplaceAllString(out, placeholderSSN)
	out = phoneRE.ReplaceAllString(out, placeholderPhone)
	out = addressRE.ReplaceAllString(out, placeholderAddress)
	if r.entityRE != nil {
		out = r.entityRE.ReplaceAllString(out, placeholderEntity)
	}
	return out
}

// HasPII reports whether Redact would change the text.
func (r *Redactor) HasPII(text string) bool {
	return r.Redact(text) != text
}

// PIITypes returns the PII categories present in text, used for
// tagging audit details.
func (r *Redactor) PIITypes(text string) []string {
	var types []string
	if emailRE.MatchString(text) {
		types = append(types, "email")
	}
	if ssnRE.MatchString(text) {
		types = append(types, "ssn")
	}
	if phoneRE.MatchString(text) {
		types = append(types, "phone")
	}
	if addressRE.MatchString(text) {
		types = append(types, "address")
	}
	if r.entityRE != nil && r.entityRE.MatchString(text) {
		types = append(types, "entity")
	}
	return types
}

// HashQuery returns a salted one-way hash of the query, used to
// correlate audit entries without persisting plaintext.
func HashQuery(salt, text string) string {
	sum := sha256.Sum256([]byte(salt + text))
	return hex.EncodeToString(sum[:])
}
