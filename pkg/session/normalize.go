package session

import (
	"regexp"
	"strings"
)

// Normalization is pure, total, and idempotent: normalizing an already
// normalized value returns it unchanged, and no input panics.

var (
	replyMarker    = regexp.MustCompile(`(?i)^(re|fwd|fw)\s*:\s*`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
	slugDisallowed = regexp.MustCompile(`[^a-z0-9\s-]`)
	hyphenRun      = regexp.MustCompile(`-+`)
	displayAddr    = regexp.MustCompile(`<([^<>]+)>\s*$`)
)

// maxSlugLen caps id segments derived from free-form text.
const maxSlugLen = 50

// NormalizePhone canonicalizes a raw phone number into a comparable key
// segment. It strips the WhatsApp channel prefix, whitespace, parentheses,
// hyphens, and the leading plus sign, then lowercases. The result contains
// no characters the query API's id grammar forbids.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.ToLower(s), "whatsapp:")
	s = strings.NewReplacer(" ", "", "\t", "", "(", "", ")", "", "-", "").Replace(s)
	s = strings.TrimPrefix(s, "+")
	return strings.ToLower(s)
}

// NormalizeSubject canonicalizes an email subject for identity comparison.
// Reply and forward markers are stripped repeatedly so "Re: Fwd: x" and "x"
// collapse to the same key, internal whitespace runs become single spaces,
// and the result is lowercased.
func NormalizeSubject(raw string) string {
	s := strings.TrimSpace(raw)
	for {
		stripped := replyMarker.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = strings.TrimSpace(stripped)
	}
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail canonicalizes a sender address. Display-name forms like
// "Jane Doe <jane@x.com>" are unwrapped to the bare address first.
// Local-part case sensitivity is ignored by policy.
func NormalizeEmail(raw string) string {
	s := strings.TrimSpace(raw)
	if m := displayAddr.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	return strings.ToLower(s)
}

// SlugForID reduces free-form text to a segment safe to embed in a session
// id: lowercase, anything outside [a-z0-9 -] replaced with a hyphen,
// whitespace collapsed to hyphens, hyphen runs collapsed, trimmed, and
// truncated to 50 characters. Used only inside generated ids, never inside
// lookup keys.
func SlugForID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugDisallowed.ReplaceAllString(s, "-")
	s = whitespaceRun.ReplaceAllString(s, "-")
	s = hyphenRun.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	return s
}

// idDisallowed matches anything outside the query API's id grammar.
var idDisallowed = regexp.MustCompile(`[^0-9a-zA-Z._:-]+`)

// idSegment makes an arbitrary normalized identifier safe to embed in a
// session id. Runs of disallowed characters become a single hyphen.
func idSegment(s string) string {
	s = idDisallowed.ReplaceAllString(s, "-")
	s = hyphenRun.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Redact masks an identifier for logging, keeping only the last four
// characters. Full phone numbers and addresses stay out of logs.
func Redact(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return "****" + id[len(id)-4:]
}
