// Package anonymize replaces student-identifying fields in a parsed
// JSON tree with stable pseudonyms and scrubs PII from free text,
// before any Canvas response crosses the trust boundary to the AI
// host. Every exported function here is pure: no network or disk I/O.
package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Compiled once at package init; these run on every anonymized record.
var (
	emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRegex = regexp.MustCompile(`\b\d{3}[-.]\d{3}[-.]\d{4}\b`)
	ssnRegex   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

const defaultPrefix = "Student"

// Pseudonymizer derives deterministic pseudonyms for real Canvas user
// IDs and caches ones already generated. Clearing the cache never
// changes a future pseudonym: the derivation itself is stateless.
type Pseudonymizer struct {
	mu    sync.Mutex
	cache map[string]string
}

// NewPseudonymizer returns a ready-to-use Pseudonymizer.
func NewPseudonymizer() *Pseudonymizer {
	return &Pseudonymizer{cache: make(map[string]string)}
}

// PseudonymFor returns the deterministic pseudonym for userID under
// the given role prefix (default "Student" when prefix is empty).
func (p *Pseudonymizer) PseudonymFor(userID, prefix string) string {
	if prefix == "" {
		prefix = defaultPrefix
	}
	key := prefix + ":" + userID

	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cache[key]; ok {
		return v
	}

	sum := sha256.Sum256([]byte(userID))
	pseudonym := prefix + "_" + hex.EncodeToString(sum[:])[:8]
	p.cache[key] = pseudonym
	return pseudonym
}

// Len reports how many distinct pseudonyms have been generated so
// far, for debugging and statistics.
func (p *Pseudonymizer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cache)
}

// Clear empties the pseudonym cache. Future pseudonyms are unchanged:
// the derivation is stateless, the cache only exists for statistics.
func (p *Pseudonymizer) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]string)
}

// PseudonymFor is the stateless, package-level form used when no
// shared cache is warranted; the value is identical to any
// Pseudonymizer's output for the same inputs.
func PseudonymFor(userID, prefix string) string {
	if prefix == "" {
		prefix = defaultPrefix
	}
	sum := sha256.Sum256([]byte(userID))
	return prefix + "_" + hex.EncodeToString(sum[:])[:8]
}

var studentBearingMarkers = []string{"/users", "/discussion", "/submissions", "/enrollments", "/groups", "/analytics"}

// nonStudentBearingRoots are endpoints that carry no student data on
// their own (course settings, the caller's own profile, account
// config, term lists). They stay excluded unless the path also
// contains /users.
var nonStudentBearingRoots = []string{"/courses", "/self", "/accounts", "/terms"}

// IsStudentBearing classifies a Canvas endpoint path: true if the path
// contains any student-bearing marker. A path whose only match is one
// of nonStudentBearingRoots is excluded unless it also contains
// /users.
func IsStudentBearing(path string) bool {
	for _, marker := range studentBearingMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	for _, root := range nonStudentBearingRoots {
		if strings.Contains(path, root) {
			return strings.Contains(path, "/users")
		}
	}
	return false
}

// Anonymize walks a parsed JSON-like value (map[string]any, []any, or
// scalar) and returns a deep copy with student-identifying fields
// replaced. It is idempotent: Anonymize(Anonymize(x)) == Anonymize(x).
//
// Anonymization failure on a student-bearing endpoint is fatal, not
// swallowed: Anonymize recovers any panic from the walk (the only way
// this otherwise-pure function could fail) and reports it as an error
// instead of letting it escape or silently returning raw, unredacted
// data to the caller.
func Anonymize(v any, p *Pseudonymizer) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("anonymization failed: %v", r)
		}
	}()
	return anonymizeValue(v, p), nil
}

func anonymizeValue(v any, p *Pseudonymizer) any {
	switch val := v.(type) {
	case map[string]any:
		return anonymizeRecord(val, p)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = anonymizeValue(item, p)
		}
		return out
	default:
		return v
	}
}

func anonymizeRecord(m map[string]any, p *Pseudonymizer) map[string]any {
	switch {
	case hasKeys(m, "name", "email"):
		return anonymizeUser(m, p)
	case hasKeys(m, "message"):
		return anonymizeDiscussionEntry(m, p)
	case hasKeys(m, "submitted_at"):
		return anonymizeSubmission(m, p)
	case hasKeys(m, "due_at"):
		return anonymizeAssignment(m)
	default:
		return anonymizeGeneric(m, p)
	}
}

func hasKeys(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

func idString(m map[string]any) string {
	return numericString(m["id"])
}

func userIDString(m map[string]any) string {
	return numericString(m["user_id"])
}

func numericString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int64(v))
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}

func anonymizeGeneric(m map[string]any, p *Pseudonymizer) map[string]any {
	out := make(map[string]any, len(m))
	id := idString(m)

	for k, v := range m {
		switch k {
		case "name", "email", "login_id", "sis_user_id":
			if id != "" {
				out[k] = p.PseudonymFor(id, defaultPrefix)
			} else {
				out[k] = "[REDACTED]"
			}
		default:
			out[k] = anonymizeValue(v, p)
		}
	}
	return out
}

func anonymizeUser(m map[string]any, p *Pseudonymizer) map[string]any {
	out := make(map[string]any, len(m))
	id := idString(m)
	pseudonym := p.PseudonymFor(id, defaultPrefix)

	for k, v := range m {
		switch k {
		case "name", "display_name", "short_name", "sortable_name":
			out[k] = pseudonym
		case "email", "login_id":
			out[k] = strings.ToLower(pseudonym) + "@example.edu"
		case "sis_user_id", "integration_id", "avatar_url", "bio", "time_zone", "locale":
			out[k] = nil
		case "id", "enrollments", "role", "created_at", "updated_at":
			out[k] = anonymizeValue(v, p)
		default:
			if s, ok := v.(string); ok && len(s) > 50 {
				out[k] = "[REDACTED]"
			} else {
				out[k] = anonymizeValue(v, p)
			}
		}
	}
	return out
}

func anonymizeDiscussionEntry(m map[string]any, p *Pseudonymizer) map[string]any {
	out := make(map[string]any, len(m))
	id := userIDString(m)
	for k, v := range m {
		switch k {
		case "user_name", "display_name":
			if id != "" {
				out[k] = p.PseudonymFor(id, defaultPrefix)
			} else {
				out[k] = "[REDACTED]"
			}
		case "author", "editor":
			if nested, ok := v.(map[string]any); ok {
				out[k] = anonymizeRecord(nested, p)
			} else {
				out[k] = v
			}
		case "message":
			if s, ok := v.(string); ok {
				out[k] = ScrubPII(s)
			} else {
				out[k] = v
			}
		case "recent_replies":
			out[k] = anonymizeValue(v, p)
		default:
			out[k] = anonymizeValue(v, p)
		}
	}
	return out
}

func anonymizeSubmission(m map[string]any, p *Pseudonymizer) map[string]any {
	out := make(map[string]any, len(m))
	// The redaction marker names the submitting student, so the
	// pseudonym derives from user_id, not the submission's own id.
	id := userIDString(m)
	if id == "" {
		id = idString(m)
	}
	pseudonym := p.PseudonymFor(id, defaultPrefix)

	for k, v := range m {
		switch k {
		case "user":
			if nested, ok := v.(map[string]any); ok {
				out[k] = anonymizeRecord(nested, p)
			} else {
				out[k] = v
			}
		case "body", "url":
			if v == nil {
				out[k] = nil
			} else {
				out[k] = fmt.Sprintf("[CONTENT_REDACTED_FOR_%s]", pseudonym)
			}
		case "attachments":
			out[k] = "[CONTENT_REDACTED]"
		default:
			out[k] = anonymizeValue(v, p)
		}
	}
	return out
}

func anonymizeAssignment(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == "description" {
			if s, ok := v.(string); ok && len(s) > 1000 {
				out[k] = "[LONG_DESCRIPTION_REDACTED_FOR_PRIVACY]"
				continue
			}
		}
		out[k] = v
	}
	return out
}

// ScrubPII redacts emails, phone numbers, and SSNs from free text.
func ScrubPII(s string) string {
	s = emailRegex.ReplaceAllString(s, "[EMAIL_REDACTED]")
	s = phoneRegex.ReplaceAllString(s, "[PHONE_REDACTED]")
	s = ssnRegex.ReplaceAllString(s, "[SSN_REDACTED]")
	return s
}
